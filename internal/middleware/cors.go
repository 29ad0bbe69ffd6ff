package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const (
	corsAllowMethods = "GET, POST, PUT, DELETE, PATCH, OPTIONS"
	corsAllowHeaders = "Content-Type, Authorization, Cookie"
	corsMaxAge       = "86400"
)

// CORS returns an Echo middleware that adds credential-aware CORS headers to
// every response and answers OPTIONS preflights itself with 204.
//
// The request Origin is reflected (or "*" without one) while credentials are
// allowed, so any origin that can reach the gateway is trusted.
func CORS(skipper echomw.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = echomw.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}

			h := c.Response().Header()
			origin := c.Request().Header.Get(echo.HeaderOrigin)
			if origin == "" {
				origin = "*"
			}
			h.Set(echo.HeaderAccessControlAllowCredentials, "true")
			h.Set(echo.HeaderAccessControlAllowOrigin, origin)
			h.Set(echo.HeaderAccessControlAllowMethods, corsAllowMethods)
			h.Set(echo.HeaderAccessControlAllowHeaders, corsAllowHeaders)

			if c.Request().Method == http.MethodOptions {
				h.Set(echo.HeaderAccessControlMaxAge, corsMaxAge)
				SetRoute(c, RoutePreflight)
				return c.NoContent(http.StatusNoContent)
			}

			return next(c)
		}
	}
}

// OutsideMount returns a Skipper that skips every path not under prefix.
func OutsideMount(prefix string) echomw.Skipper {
	return func(c echo.Context) bool {
		return !underPrefix(c.Request().URL.Path, prefix)
	}
}

// underPrefix reports whether path equals prefix or lies below it.
func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
