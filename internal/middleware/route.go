package middleware

import "github.com/labstack/echo/v4"

// Route kinds recorded per request. Every request ends up with exactly one.
const (
	RouteDispatch  = "dispatch"
	RouteRewrite   = "rewrite"
	RoutePreflight = "preflight"
	RouteLocal     = "local"
)

const routeKey = "gateway.route"

// SetRoute records how the gateway served the request.
func SetRoute(c echo.Context, route string) {
	c.Set(routeKey, route)
}

// RouteOf returns the route kind recorded for the request, or RouteLocal
// when no forwarding component claimed it.
func RouteOf(c echo.Context) string {
	if r, ok := c.Get(routeKey).(string); ok {
		return r
	}
	return RouteLocal
}
