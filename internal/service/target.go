package service

import (
	"strings"

	"posters-gateway/internal/config"
)

// TargetURL joins base, the mount prefix and the path segments, then appends
// rawQuery unmodified when it is non-empty. Segments are expected in the
// escaped form delivered by the server and are not re-encoded.
func TargetURL(base string, segments []string, rawQuery string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	b.WriteString(config.MountPrefix)
	b.WriteByte('/')
	b.WriteString(strings.Join(segments, "/"))
	if rawQuery != "" {
		b.WriteByte('?')
		b.WriteString(rawQuery)
	}
	return b.String()
}

// SplitSegments splits an escaped path suffix (the part after "/api/") into
// segments. An empty suffix yields no segments.
func SplitSegments(suffix string) []string {
	if suffix == "" {
		return nil
	}
	return strings.Split(suffix, "/")
}
