package gateway

import (
	"strings"

	"github.com/google/uuid"
)

// NormalizeRoute collapses numeric and UUID path segments to {id} so the
// result is safe as a metric label or limiter key. "/v1/users/42/chart"
// becomes "/v1/users/{id}/chart".
func NormalizeRoute(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if isNumeric(segment) {
			segments[i] = "{id}"
			continue
		}
		if _, err := uuid.Parse(segment); err == nil {
			segments[i] = "{id}"
		}
	}
	normalized := strings.Join(segments, "/")
	if len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
