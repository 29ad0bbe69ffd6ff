// Package model defines the per-request value types passed between the
// gateway's layers.
package model

import (
	"context"
	"io"
	"net/http"
)

// TransportFailureMessage is the fixed "error" text of the envelope returned
// when the upstream call fails before a response is obtained.
const TransportFailureMessage = "Failed to fetch from external API"

// InboundRequest is a client request to be forwarded upstream.
// Segments hold the escaped path after the mount prefix, split on "/".
type InboundRequest struct {
	Ctx      context.Context
	Method   string
	Segments []string
	RawQuery string
	Header   http.Header
	Body     io.Reader
}

// UpstreamResponse is the raw response obtained from the backend.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// OutboundResponse is what the gateway writes back to the client.
// Header holds only allow-listed upstream headers.
type OutboundResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// ErrorEnvelope is the JSON body synthesized on transport failure.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// TransportFailure builds the envelope returned when no usable upstream
// response was obtained.
func TransportFailure(err error) ErrorEnvelope {
	details := "upstream request failed"
	if err != nil && err.Error() != "" {
		details = err.Error()
	}
	return ErrorEnvelope{
		Error:   TransportFailureMessage,
		Details: details,
	}
}
