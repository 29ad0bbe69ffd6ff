package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"posters-gateway/internal/config"
	"posters-gateway/internal/metrics"
	"posters-gateway/internal/middleware"
	"posters-gateway/internal/model"
	"posters-gateway/internal/service"
)

// ProxyHandler forwards requests under the mount prefix to the backend.
type ProxyHandler struct {
	service *service.ProxyService
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, m *metrics.Metrics, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		metrics: m,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle dispatches the request to the backend and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	middleware.SetRoute(c, middleware.RouteDispatch)
	req := c.Request()
	suffix := strings.TrimPrefix(req.URL.EscapedPath(), config.MountPrefix+"/")

	pr := &model.InboundRequest{
		Ctx:      req.Context(),
		Method:   req.Method,
		Segments: service.SplitSegments(suffix),
		RawQuery: req.URL.RawQuery,
		Header:   req.Header,
		Body:     req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// The status is already on the wire; a failed copy leaves the client
	// with a truncated body, which is logged.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"path", req.URL.Path,
		)
	}

	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	// Limits enforced by echo middleware (e.g. BodyLimit) keep their own status.
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}

	if errors.Is(err, service.ErrRequestBody) {
		h.logger.Warn("reading request body",
			"err", err,
			"path", c.Request().URL.Path,
		)
		return c.JSON(http.StatusBadRequest, model.ErrorEnvelope{
			Error:   "Failed to read request body",
			Details: err.Error(),
		})
	}

	cause := failureCause(err)
	h.logger.Error("proxy error",
		"err", err,
		"cause", cause,
		"method", c.Request().Method,
		"path", c.Request().URL.Path,
	)
	if h.metrics != nil {
		h.metrics.UpstreamFailures.WithLabelValues(cause).Inc()
	}

	return c.JSON(http.StatusInternalServerError, model.TransportFailure(err))
}

// failureCause returns a bounded label describing why the upstream call failed.
func failureCause(err error) string {
	if errors.Is(err, service.ErrMalformedResponse) {
		return "malformed_response"
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}

	if errors.Is(err, context.Canceled) {
		return "client_canceled"
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return "connection"
	}

	return "unknown"
}
