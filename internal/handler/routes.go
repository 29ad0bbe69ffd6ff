package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"posters-gateway/internal/config"
	"posters-gateway/internal/metrics"
)

// dispatchMethods are the methods the explicit dispatch route accepts.
var dispatchMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodOptions,
}

// RegisterRoutes wires all route handlers onto the Echo instance. The
// dispatch route is only mounted in dispatch mode; in rewrite mode the
// rewrite filter handles the mount prefix before routing.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/gateway/status", health.Status)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	if cfg.Gateway.Mode != config.ModeRewrite {
		e.Match(dispatchMethods, config.MountPrefix+"/*", proxy.Handle)
	}
}
