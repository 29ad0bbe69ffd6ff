package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"posters-gateway/internal/model"
)

// RewriteConfig configures the early rewrite filter.
type RewriteConfig struct {
	// Target is the backend origin requests are rewritten to.
	Target *url.URL
	// Mount is the path prefix the filter acts on.
	Mount string
	// Reserved prefixes under Mount that are left to local routes.
	Reserved []string
	// Timeout bounds each upstream exchange; zero disables it.
	Timeout time.Duration
	// Transport is used for upstream calls; nil means http.DefaultTransport.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// Rewrite returns an Echo middleware that sends requests under Mount straight
// to the backend host with their path and query unchanged. Requests it acts
// on never reach the router's handlers.
func Rewrite(cfg RewriteConfig) echo.MiddlewareFunc {
	logger := cfg.Logger.With("component", "rewrite_filter")

	skip := func(c echo.Context) bool {
		return !Rewritable(c.Request().URL.Path, cfg.Mount, cfg.Reserved)
	}

	proxy := echomw.ProxyWithConfig(echomw.ProxyConfig{
		Skipper: skip,
		Balancer: echomw.NewRoundRobinBalancer([]*echomw.ProxyTarget{
			{Name: "backend", URL: cfg.Target},
		}),
		Transport:      cfg.Transport,
		ModifyResponse: stripUpstreamCORS,
		ErrorHandler: func(c echo.Context, err error) error {
			logger.Error("rewrite upstream error",
				"err", err,
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
			)
			return c.JSON(http.StatusInternalServerError, model.TransportFailure(upstreamCause(err)))
		},
	})

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		h := proxy(next)
		return func(c echo.Context) error {
			if skip(c) {
				return next(c)
			}

			SetRoute(c, RouteRewrite)
			req := c.Request()
			req.Header.Set(echo.HeaderXForwardedProto, c.Scheme())
			req.Header.Set("X-Forwarded-Host", req.Host)
			req.Host = cfg.Target.Host

			if cfg.Timeout > 0 {
				ctx, cancel := context.WithTimeout(req.Context(), cfg.Timeout)
				defer cancel()
				c.SetRequest(req.WithContext(ctx))
			}

			logger.Debug("rewriting request",
				"method", req.Method,
				"url", cfg.Target.String()+req.URL.RequestURI(),
			)
			return h(c)
		}
	}
}

// Rewritable reports whether path is strictly below mount and outside every
// reserved prefix. The bare mount itself is not rewritten.
func Rewritable(path, mount string, reserved []string) bool {
	if !strings.HasPrefix(path, mount+"/") {
		return false
	}
	for _, r := range reserved {
		if underPrefix(path, r) {
			return false
		}
	}
	return true
}

// stripUpstreamCORS drops CORS headers set by the backend so the gateway's
// own headers are the only ones the browser sees.
func stripUpstreamCORS(resp *http.Response) error {
	for key := range resp.Header {
		if strings.HasPrefix(key, "Access-Control-") {
			resp.Header.Del(key)
		}
	}
	return nil
}

// upstreamCause unwraps the proxy's HTTP error to the underlying transport error.
func upstreamCause(err error) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Internal != nil {
			return he.Internal
		}
		return fmt.Errorf("%v", he.Message)
	}
	return err
}
