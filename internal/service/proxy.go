// Package service implements the core dispatch logic: one inbound request in,
// one upstream call, one outbound response.
package service

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"posters-gateway/internal/client"
	"posters-gateway/internal/config"
	"posters-gateway/internal/headers"
	"posters-gateway/internal/model"
)

// ErrMalformedResponse is returned when a successful upstream response cannot
// be relayed in JSON mode.
var ErrMalformedResponse = errors.New("malformed upstream response")

// ErrRequestBody wraps failures reading the inbound body.
var ErrRequestBody = errors.New("read request body")

// mutatingMethods carry a request body upstream. Every other method is sent without one.
var mutatingMethods = map[string]bool{
	http.MethodPost:  true,
	http.MethodPut:   true,
	http.MethodPatch: true,
}

var emptyObject = []byte("{}")

const jsonContentType = "application/json"

// ProxyService handles the forwarding logic for gateway requests.
type ProxyService struct {
	client  *client.BackendClient
	policy  *headers.Policy
	baseURL string
	relay   string
	logger  *slog.Logger
}

// NewProxyService creates a ProxyService bound to the resolved backend URL.
func NewProxyService(c *client.BackendClient, p *headers.Policy, cfg *config.Config, logger *slog.Logger) *ProxyService {
	relay := cfg.Gateway.Relay
	if relay == "" {
		relay = config.RelayJSON
	}
	return &ProxyService{
		client:  c,
		policy:  p,
		baseURL: config.ResolveBackendURL(cfg.Backend.BaseURL),
		relay:   relay,
		logger:  logger.With("component", "proxy_service"),
	}
}

// Forward sends an InboundRequest upstream and returns the response to relay.
// The caller is responsible for closing the response body.
//
// A non-nil error means no usable upstream response was obtained: the call
// failed in transport, or a successful response could not be relayed.
// Upstream error statuses are not errors.
func (s *ProxyService) Forward(pr *model.InboundRequest) (*model.OutboundResponse, error) {
	target := TargetURL(s.baseURL, pr.Segments, pr.RawQuery)
	header := s.policy.ForwardRequest(pr.Header)

	body, err := requestBody(pr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestBody, err)
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"url", target,
	)

	start := time.Now()
	resp, err := s.client.Send(pr.Ctx, pr.Method, target, header, body)
	if err != nil {
		return nil, fmt.Errorf("forward %s %s: %w", pr.Method, target, err)
	}

	out, err := s.buildResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("relay %s %s: %w", pr.Method, target, err)
	}

	s.logger.Info("upstream response",
		"method", pr.Method,
		"url", target,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// requestBody returns the inbound body for mutating methods, or nil when the
// method carries no body or the body is empty.
func requestBody(pr *model.InboundRequest) (io.Reader, error) {
	if !mutatingMethods[pr.Method] || pr.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(pr.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return bytes.NewReader(data), nil
}

func (s *ProxyService) buildResponse(resp *model.UpstreamResponse) (*model.OutboundResponse, error) {
	header := s.policy.ForwardResponse(resp.Header)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300

	if ok && s.relay == config.RelayRaw {
		return &model.OutboundResponse{
			StatusCode: resp.StatusCode,
			Header:     header,
			Body:       resp.Body,
		}, nil
	}

	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrMalformedResponse, err)
	}

	switch {
	case ok && len(raw) == 0:
		// Nothing to decide on; relay as is (e.g. 204 No Content).
	case ok:
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("%w: body is not valid JSON", ErrMalformedResponse)
		}
		setDefaultContentType(header)
	default:
		var valid bool
		raw, valid = jsonOrEmpty(raw)
		if !valid {
			s.logger.Warn("upstream error body is not valid JSON; relaying empty object",
				"status", resp.StatusCode,
			)
			header.Set("Content-Type", jsonContentType)
		}
		setDefaultContentType(header)
	}

	return &model.OutboundResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(raw)),
	}, nil
}

// jsonOrEmpty returns body unchanged when it is valid JSON and an empty
// object otherwise. The second result reports which branch was taken.
func jsonOrEmpty(body []byte) ([]byte, bool) {
	if gjson.ValidBytes(body) {
		return body, true
	}
	return emptyObject, false
}

func setDefaultContentType(h http.Header) {
	if h.Get("Content-Type") == "" {
		h.Set("Content-Type", jsonContentType)
	}
}
