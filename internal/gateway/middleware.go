// Package gateway holds the HTTP middleware chain: tracing, rate limiting,
// quotas, retries, idempotency and the legacy route shims.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/astroline/platform/gateway/internal/ratelimit"
	"github.com/astroline/platform/gateway/internal/trust"
)

// TenantResolver is satisfied by trust.Resolver.
type TenantResolver interface {
	Resolve(*http.Request) trust.Decision
}

const ctxKeyTenant ctxKey = "tenant_decision"

// Tenant returns the trust decision recorded by the rate limit middleware,
// or a default-tenant decision outside the middleware chain.
func Tenant(ctx context.Context) trust.Decision {
	if decision, ok := ctx.Value(ctxKeyTenant).(trust.Decision); ok {
		return decision
	}
	return trust.Decision{Tenant: "default", Source: trust.SourceDefault}
}

// Paths the limiter never touches.
var allowlistPrefixes = []string{"/health", "/metrics", "/docs", "/openapi.json"}

func allowlisted(path string) bool {
	for _, prefix := range allowlistPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// RateLimit resolves the tenant, consults the sliding-window store and
// either forwards the request with X-RateLimit headers or answers 429.
func RateLimit(resolver TenantResolver, store ratelimit.Store, limit int, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowlisted(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			decision := resolver.Resolve(r)
			ctx := context.WithValue(r.Context(), ctxKeyTenant, decision)
			r = r.WithContext(ctx)

			route := NormalizeRoute(r.URL.Path)
			result := store.Check(ctx, route, decision.Tenant)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetTime), 10))

			if !result.Allowed {
				metrics.RateLimitDecisions.WithLabelValues(route, "blocked").Inc()
				w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
				WriteError(w, r, http.StatusTooManyRequests, CodeRateLimited,
					"rate limit exceeded", map[string]any{"retry_after": result.RetryAfter})
				return
			}

			metrics.RateLimitDecisions.WithLabelValues(route, "allowed").Inc()
			if limit > 0 && float64(result.Remaining)/float64(limit) < 0.1 {
				metrics.RateLimitNearLimit.WithLabelValues(route).Inc()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// quotaResources maps path prefixes to the quota resource they consume.
var quotaResources = []struct {
	prefix   string
	resource string
}{
	{"/v1/chat/", "chat"},
	{"/v1/retrieval/", "retrieval"},
}

// Quota applies the coarse hourly caps to the chat and retrieval prefixes.
// Quota windows are hour-sized, so blocked callers are told to come back in
// an hour rather than being given a precise reset.
func Quota(quotas *ratelimit.QuotaManager, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			resource := ""
			for _, entry := range quotaResources {
				if strings.HasPrefix(r.URL.Path, entry.prefix) {
					resource = entry.resource
					break
				}
			}
			if resource == "" {
				next.ServeHTTP(w, r)
				return
			}

			decision := Tenant(r.Context())
			if !quotas.Allow(decision.Tenant, resource) {
				metrics.QuotaBlocked.WithLabelValues(resource).Inc()
				w.Header().Set("Retry-After", "3600")
				WriteError(w, r, http.StatusTooManyRequests, CodeQuotaExceeded,
					"hourly quota exceeded for "+resource, map[string]any{"retry_after": 3600})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
