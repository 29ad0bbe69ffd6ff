// Package client provides the upstream HTTP client for the backend API.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"posters-gateway/internal/config"
	"posters-gateway/internal/metrics"
	"posters-gateway/internal/model"
)

// BackendClient sends requests to the upstream backend.
type BackendClient struct {
	httpClient *http.Client
	transport  *http.Transport
	timeout    time.Duration
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and a
// bounded per-request timeout. The metrics parameter is optional; pass nil
// to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *BackendClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DisableCompression:  true,
		MaxIdleConns:        cfg.Backend.IdleConnections,
		MaxIdleConnsPerHost: cfg.Backend.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	timeout := time.Duration(cfg.Backend.TimeoutSeconds) * time.Second

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		transport: transport,
		timeout:   timeout,
		logger:    logger.With("component", "backend_client"),
		metrics:   m,
	}
}

// Transport returns the pooled transport, instrumented with the same upstream
// metrics as Do. The rewrite filter sends its requests through it.
func (c *BackendClient) Transport() http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := c.transport.RoundTrip(req)
		c.observe(req.Method, resp, time.Since(start))
		return resp, err
	})
}

// Timeout returns the bound applied to every upstream call.
func (c *BackendClient) Timeout() time.Duration {
	return c.timeout
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
func (c *BackendClient) Do(req *http.Request) (*model.UpstreamResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"url", req.URL.String(),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	c.observe(req.Method, resp, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// Send builds and executes a request. The provided context controls the
// lifetime of the upstream request: when it is canceled (e.g. the client
// disconnects), the upstream request is canceled too.
func (c *BackendClient) Send(ctx context.Context, method, url string, header http.Header, body io.Reader) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	if header == nil {
		header = make(http.Header)
	}
	// Only policy-approved headers go upstream: a present-but-nil User-Agent
	// stops net/http from adding its default.
	if _, ok := header["User-Agent"]; !ok {
		header["User-Agent"] = nil
	}
	req.Header = header

	return c.Do(req)
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

// observe records upstream latency and, when a response was received, its status.
func (c *BackendClient) observe(method string, resp *http.Response, d time.Duration) {
	if c.metrics == nil {
		return
	}
	m := metrics.NormalizeMethod(method)
	c.metrics.UpstreamDuration.WithLabelValues(m).Observe(d.Seconds())
	if resp != nil {
		c.metrics.UpstreamResponses.WithLabelValues(m, strconv.Itoa(resp.StatusCode)).Inc()
	}
}
