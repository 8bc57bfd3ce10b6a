package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroline/platform/gateway/internal/gateway"
	"github.com/astroline/platform/gateway/internal/pii"
	"github.com/astroline/platform/gateway/internal/ratelimit"
	"github.com/astroline/platform/gateway/internal/retrieval"
	"github.com/astroline/platform/gateway/internal/trust"
)

var testJWTSecret = []byte("server-test-secret")

func bearerFor(t *testing.T, tenant string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, trust.Claims{TenantID: tenant})
	signed, err := token.SignedString(testJWTSecret)
	require.NoError(t, err)
	return "Bearer " + signed
}

type serverOptions struct {
	limit   int
	scanner pii.Scanner
}

func newTestServer(t *testing.T, opts serverOptions) *Server {
	t.Helper()
	if opts.limit == 0 {
		opts.limit = 1000
	}
	registry := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(registry)

	resolver := trust.NewResolver(trust.ResolverConfig{
		JWTSecret: testJWTSecret,
		Spoof:     metrics.TenantSpoof,
		Logger:    zerolog.Nop(),
		Route:     gateway.NormalizeRoute,
	})

	return New(Config{
		Resolver:    resolver,
		Limiter:     ratelimit.NewMemoryStore(60, opts.limit),
		Limit:       opts.limit,
		Quotas:      ratelimit.NewQuotaManager(),
		Idempotency: gateway.NewMemoryIdempotencyStore(0),
		Metrics:     metrics,
		Registry:    registry,
		Primary:     retrieval.NewMemoryIndex(),
		Scanner:     opts.scanner,
		Logger:      zerolog.Nop(),
	})
}

func doJSON(t *testing.T, srv *Server, method, path, auth string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(payload))
	}
	req := httptest.NewRequest(method, path, &body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestIngestThenSearch(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	auth := bearerFor(t, "acme")

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieval/ingest", auth, map[string]any{
		"id":   "doc-1",
		"text": "mercury retrograde survival guide",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/retrieval/search", auth, map[string]any{
		"query": "mercury retrograde",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "acme", resp.Tenant)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-1", resp.Results[0].ID)
}

func TestSearchIsTenantIsolated(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieval/ingest", bearerFor(t, "acme"), map[string]any{
		"id":   "doc-1",
		"text": "private natal chart notes",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/retrieval/search", bearerFor(t, "rival"), map[string]any{
		"query": "natal chart",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Results)
}

func TestSearchValidation(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieval/search", bearerFor(t, "acme"), map[string]any{
		"query": "   ",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var envelope gateway.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, gateway.CodeValidationError, envelope.Code)
	assert.NotEmpty(t, envelope.TraceID)
}

func TestRateLimitBlocksOverLimit(t *testing.T) {
	srv := newTestServer(t, serverOptions{limit: 2})
	auth := bearerFor(t, "acme")

	for i := 0; i < 2; i++ {
		rec := doJSON(t, srv, http.MethodPost, "/v1/retrieval/search", auth, map[string]any{"query": "sun"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieval/search", auth, map[string]any{"query": "sun"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	var envelope gateway.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, gateway.CodeRateLimited, envelope.Code)
}

func TestHealthBypassesRateLimit(t *testing.T) {
	srv := newTestServer(t, serverOptions{limit: 1})

	for i := 0; i < 5; i++ {
		rec := doJSON(t, srv, http.MethodGet, "/health", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := doJSON(t, srv, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLegacyRouteRedirects(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	req := httptest.NewRequest(http.MethodGet, "/horoscope/today?sign=leo", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "/v1/horoscope/today?sign=leo", rec.Header().Get("Location"))
	assert.Equal(t, "true", rec.Header().Get("Deprecation"))
	assert.NotEmpty(t, rec.Header().Get("Sunset"))
}

func TestHoroscopeToday(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := doJSON(t, srv, http.MethodGet, "/v1/horoscope/today?sign=leo", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "leo", resp["sign"])
	assert.NotEmpty(t, resp["horoscope"])

	rec = doJSON(t, srv, http.MethodGet, "/v1/horoscope/today?sign=ophiuchus", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestChatAnswerWithoutDocuments(t *testing.T) {
	srv := newTestServer(t, serverOptions{})

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/answer", bearerFor(t, "acme"), map[string]any{
		"prompt": "what does my week look like",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Answer)
	assert.Empty(t, resp.Sources)
}

func TestIngestBlockedByContentPolicy(t *testing.T) {
	t.Setenv("SCAN_BLOCKED_TERMS", "api_key")
	srv := newTestServer(t, serverOptions{scanner: pii.NewRuleScannerFromEnv()})

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieval/ingest", bearerFor(t, "acme"), map[string]any{
		"id":   "doc-1",
		"text": "here is my api_key: sk-123",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope gateway.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, gateway.CodeBadRequest, envelope.Code)
	assert.Equal(t, "blocked_term", envelope.Details["rule"])
}

func TestIngestAllowedInMonitorMode(t *testing.T) {
	t.Setenv("SCAN_BLOCKED_TERMS", "api_key")
	t.Setenv("SCAN_MODE", "monitor")
	srv := newTestServer(t, serverOptions{scanner: pii.NewRuleScannerFromEnv()})

	rec := doJSON(t, srv, http.MethodPost, "/v1/retrieval/ingest", bearerFor(t, "acme"), map[string]any{
		"id":   "doc-1",
		"text": "here is my api_key: sk-123",
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestIdempotentIngestReplays(t *testing.T) {
	srv := newTestServer(t, serverOptions{})
	auth := bearerFor(t, "acme")
	body := map[string]any{"id": "doc-1", "text": "venus transit"}

	send := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		req := httptest.NewRequest(http.MethodPost, "/v1/retrieval/ingest", &buf)
		req.Header.Set("Authorization", auth)
		req.Header.Set(gateway.IdempotencyHeader, "key-1")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusAccepted, first.Code)
	second := send()
	require.Equal(t, http.StatusAccepted, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
}
