// Package tenancy canonicalizes tenant identifiers used as partition keys
// for rate limits, quotas and retrieval isolation.
package tenancy

import (
	"regexp"
	"strings"
)

// DefaultTenant is the bucket for requests that carry no usable tenant.
const DefaultTenant = "default"

var tenantPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Normalize lowercases and validates a raw tenant identifier. Anything that
// does not match the allowed shape collapses to the fallback so a malformed
// header can never mint a new partition key.
func Normalize(raw, fallback string) string {
	candidate := strings.ToLower(strings.TrimSpace(raw))
	if tenantPattern.MatchString(candidate) {
		return candidate
	}
	return fallback
}

// Valid reports whether the identifier is already in canonical form.
func Valid(tenant string) bool {
	return tenantPattern.MatchString(tenant)
}
