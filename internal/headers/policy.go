// Package headers implements the allow-list policy applied to headers
// crossing the gateway in either direction.
package headers

import (
	"fmt"
	"net/http"
	"strings"

	"posters-gateway/internal/config"
)

// Default request headers forwarded upstream in the allowlist profile.
var defaultRequestHeaders = []string{
	"Content-Type",
	"Authorization",
	"Cookie",
	"Accept",
	"Accept-Language",
	"User-Agent",
}

// Default response headers forwarded to the client in the allowlist profile.
var defaultResponseHeaders = []string{
	"Content-Type",
	"Set-Cookie",
	"Cache-Control",
	"Expires",
	"Etag",
}

const defaultContentType = "application/json"

// Policy decides which headers cross the gateway. Anything not listed is
// dropped in both directions.
type Policy struct {
	request  []string
	response []string

	// forceAuthorization makes Content-Type and Authorization always present
	// on the upstream call, even when the client sent neither.
	forceAuthorization bool
}

// NewPolicy returns the policy for a header profile name.
func NewPolicy(profile string) (*Policy, error) {
	switch profile {
	case config.ProfileAllowList, "":
		return &Policy{
			request:  canonical(defaultRequestHeaders),
			response: canonical(defaultResponseHeaders),
		}, nil
	case config.ProfileAuthorization:
		return &Policy{
			request:            canonical([]string{"Content-Type", "Authorization"}),
			response:           canonical([]string{"Content-Type"}),
			forceAuthorization: true,
		}, nil
	default:
		return nil, fmt.Errorf("unknown header profile %q", profile)
	}
}

// NewPolicyFromConfig is the fx constructor for the configured profile.
func NewPolicyFromConfig(cfg *config.Config) (*Policy, error) {
	return NewPolicy(cfg.Gateway.Profile)
}

// ForwardRequest returns the headers to send upstream.
func (p *Policy) ForwardRequest(src http.Header) http.Header {
	dst := copyAllowed(src, p.request)
	if p.forceAuthorization {
		if dst.Get("Content-Type") == "" {
			dst.Set("Content-Type", defaultContentType)
		}
		if _, ok := dst["Authorization"]; !ok {
			dst["Authorization"] = []string{""}
		}
	}
	return dst
}

// ForwardResponse returns the upstream headers to relay to the client.
func (p *Policy) ForwardResponse(src http.Header) http.Header {
	return copyAllowed(src, p.response)
}

// copyAllowed copies the non-empty values of each allowed key. Keys are
// matched case-insensitively and written in canonical form.
func copyAllowed(src http.Header, allowed []string) http.Header {
	dst := make(http.Header, len(allowed))
	for key, vals := range src {
		name, ok := lookup(allowed, key)
		if !ok {
			continue
		}
		for _, v := range vals {
			if v != "" {
				dst[name] = append(dst[name], v)
			}
		}
	}
	return dst
}

func lookup(allowed []string, key string) (string, bool) {
	for _, name := range allowed {
		if strings.EqualFold(name, key) {
			return name, true
		}
	}
	return "", false
}

func canonical(keys []string) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = http.CanonicalHeaderKey(k)
	}
	return out
}
