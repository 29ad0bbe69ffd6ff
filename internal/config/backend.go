package config

import "strings"

// DefaultBackendURL is the upstream origin used when no override is configured.
const DefaultBackendURL = "https://posters.aiml.cgify.com"

// ResolveBackendURL returns override when it is non-empty after trimming
// whitespace, and DefaultBackendURL otherwise. It never fails.
func ResolveBackendURL(override string) string {
	if v := strings.TrimSpace(override); v != "" {
		return v
	}
	return DefaultBackendURL
}
