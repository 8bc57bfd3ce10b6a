// Package ratelimit provides per-tenant sliding-window request limiting with
// interchangeable in-process and Redis-backed stores.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Result is the outcome of a single limiter check.
type Result struct {
	Allowed   bool
	Remaining int
	// ResetTime is the unix epoch second at which the window fully clears.
	ResetTime float64
	// RetryAfter is set (seconds, >= 1) only when Allowed is false.
	RetryAfter int
}

// Store is the limiter contract. Check never returns an error: stores that
// depend on external infrastructure fail open internally so an outage can
// not take down the product.
type Store interface {
	Check(ctx context.Context, route, tenant string) Result
}

// Key derives the storage key for a (route, tenant) pair. The tenant is
// hashed so raw identifiers never appear in the store.
func Key(route, tenant string) string {
	digest := sha256.Sum256([]byte(tenant))
	return fmt.Sprintf("rl:%s:%s", route, hex.EncodeToString(digest[:])[:16])
}

// clampLimit coerces invalid limits; zero or negative limits are a
// misconfiguration, not a block-everything switch.
func clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	return limit
}

func clampWindow(window int) int {
	if window < 1 {
		return 1
	}
	return window
}
