package trust

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jwtSecret = []byte("token-secret")

func bearerFor(t *testing.T, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	require.NoError(t, err)
	return "Bearer " + token
}

func newTestResolver(t *testing.T) (*Resolver, *prometheus.CounterVec) {
	t.Helper()
	spoof := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_tenant_spoof"}, []string{"route"})
	resolver := NewResolver(ResolverConfig{
		Verifier:  newTestVerifier(t),
		JWTSecret: jwtSecret,
		Spoof:     spoof,
		Logger:    zerolog.Nop(),
	})
	return resolver, spoof
}

func TestResolveJWTWins(t *testing.T) {
	resolver, _ := newTestResolver(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/answer", nil)
	r.Header.Set("Authorization", bearerFor(t, Claims{TenantID: "acme"}))

	decision := resolver.Resolve(r)
	assert.Equal(t, Decision{Tenant: "acme", Source: SourceJWT}, decision)
}

func TestResolveClaimsWinOverTenantAttribute(t *testing.T) {
	resolver, _ := newTestResolver(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/answer", nil)
	r.Header.Set("Authorization", bearerFor(t, Claims{TenantID: "acme", Tenant: "legacy"}))

	assert.Equal(t, "acme", resolver.Resolve(r).Tenant)
}

func TestResolveSpoofDetected(t *testing.T) {
	resolver, spoof := newTestResolver(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/answer", nil)
	r.Header.Set("Authorization", bearerFor(t, Claims{TenantID: "acme"}))
	r.Header.Set(HeaderTenant, "evil")

	decision := resolver.Resolve(r)
	assert.Equal(t, Decision{Tenant: "acme", Source: SourceJWT, Spoof: true}, decision)
	assert.Equal(t, 1.0, testutil.ToFloat64(spoof.WithLabelValues("/v1/chat/answer")))
}

func TestResolveMatchingHeaderIsNotSpoof(t *testing.T) {
	resolver, spoof := newTestResolver(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/answer", nil)
	r.Header.Set("Authorization", bearerFor(t, Claims{TenantID: "acme"}))
	r.Header.Set(HeaderTenant, "acme")

	decision := resolver.Resolve(r)
	assert.False(t, decision.Spoof)
	assert.Equal(t, 0.0, testutil.ToFloat64(spoof.WithLabelValues("/v1/chat/answer")))
}

func TestResolveCaseDifferingHeaderIsFlagged(t *testing.T) {
	// Header comparison is raw: "ACME" against token tenant "acme" is
	// flagged even though normalization would equate them. The resolved
	// tenant still comes from the token.
	resolver, spoof := newTestResolver(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/answer", nil)
	r.Header.Set("Authorization", bearerFor(t, Claims{TenantID: "acme"}))
	r.Header.Set(HeaderTenant, "ACME")

	decision := resolver.Resolve(r)
	assert.True(t, decision.Spoof)
	assert.Equal(t, "acme", decision.Tenant)
	assert.Equal(t, SourceJWT, decision.Source)
	assert.Equal(t, 1.0, testutil.ToFloat64(spoof.WithLabelValues("/v1/chat/answer")))
}

func TestResolveInternalContradictionIsNotSpoof(t *testing.T) {
	resolver, spoof := newTestResolver(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/answer", nil)
	r.Header.Set("Authorization", bearerFor(t, Claims{TenantID: "acme"}))
	r.Header.Set(HeaderTenant, "ops")
	r.Header.Set(HeaderServiceMesh, "internal")

	decision := resolver.Resolve(r)
	assert.Equal(t, Decision{Tenant: "acme", Source: SourceJWT}, decision)
	assert.Equal(t, 0.0, testutil.ToFloat64(spoof.WithLabelValues("/v1/chat/answer")))
}

func TestResolveHeaderOnlyTrustedWhenInternal(t *testing.T) {
	resolver, _ := newTestResolver(t)

	r := httptest.NewRequest(http.MethodGet, "/v1/retrieval/search", nil)
	r.Header.Set(HeaderTenant, "Acme")
	r.Header.Set(HeaderServiceMesh, "internal")
	assert.Equal(t, Decision{Tenant: "acme", Source: SourceHeader}, resolver.Resolve(r))

	r = httptest.NewRequest(http.MethodGet, "/v1/retrieval/search", nil)
	r.Header.Set(HeaderTenant, "acme")
	assert.Equal(t, Decision{Tenant: "default", Source: SourceDefault}, resolver.Resolve(r))
}

func TestResolveMalformedTokenDegradesToDefault(t *testing.T) {
	resolver, _ := newTestResolver(t)
	r := httptest.NewRequest(http.MethodGet, "/v1/chat/answer", nil)
	r.Header.Set("Authorization", "Bearer not.a.token")

	assert.Equal(t, Decision{Tenant: "default", Source: SourceDefault}, resolver.Resolve(r))
}
