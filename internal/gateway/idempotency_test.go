package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingHandler() (http.Handler, *int) {
	calls := 0
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		WriteJSON(w, http.StatusCreated, map[string]int{"call": calls})
	}), &calls
}

func TestIdempotencyReplaysResponse(t *testing.T) {
	metrics := newTestMetrics()
	store := NewMemoryIdempotencyStore(time.Hour)
	handler, calls := countingHandler()
	wrapped := Idempotency(store, metrics, zerolog.Nop())(handler)

	post := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/retrieval/ingest", strings.NewReader(`{"text":"mars"}`))
		r.Header.Set(IdempotencyHeader, "key-1")
		wrapped.ServeHTTP(rec, r)
		return rec
	}

	first := post()
	require.Equal(t, http.StatusCreated, first.Code)
	second := post()
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, 1, *calls, "second request is served from the cache")
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IdempotencyHits.WithLabelValues("replay")))
}

func TestIdempotencyKeyReuseWithDifferentBodyConflicts(t *testing.T) {
	metrics := newTestMetrics()
	store := NewMemoryIdempotencyStore(time.Hour)
	handler, calls := countingHandler()
	wrapped := Idempotency(store, metrics, zerolog.Nop())(handler)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/retrieval/ingest", strings.NewReader(`{"text":"mars"}`))
	r.Header.Set(IdempotencyHeader, "key-1")
	wrapped.ServeHTTP(rec, r)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/v1/retrieval/ingest", strings.NewReader(`{"text":"venus"}`))
	r.Header.Set(IdempotencyHeader, "key-1")
	wrapped.ServeHTTP(rec, r)

	require.Equal(t, http.StatusConflict, rec.Code)
	var envelope ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, CodeIdempotencyConflict, envelope.Code)
	assert.Equal(t, 1, *calls)
}

func TestIdempotencyIgnoresNonPostAndMissingKey(t *testing.T) {
	metrics := newTestMetrics()
	store := NewMemoryIdempotencyStore(time.Hour)
	handler, calls := countingHandler()
	wrapped := Idempotency(store, metrics, zerolog.Nop())(handler)

	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/retrieval/search", nil)
	r.Header.Set(IdempotencyHeader, "key-1")
	wrapped.ServeHTTP(rec, r)

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/retrieval/ingest", strings.NewReader("{}")))

	assert.Equal(t, 2, *calls, "both requests executed, nothing cached")
}

func TestIdempotencyDoesNotCacheServerErrors(t *testing.T) {
	metrics := newTestMetrics()
	store := NewMemoryIdempotencyStore(time.Hour)
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]string{"status": "stored"})
	})
	wrapped := Idempotency(store, metrics, zerolog.Nop())(handler)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/v1/retrieval/ingest", strings.NewReader("{}"))
		r.Header.Set(IdempotencyHeader, "key-1")
		wrapped.ServeHTTP(rec, r)
		if i == 1 {
			assert.Equal(t, http.StatusCreated, rec.Code, "a failed attempt may be retried with the same key")
		}
	}
	assert.Equal(t, 2, calls)
}

func TestMemoryIdempotencyStoreTTL(t *testing.T) {
	store := NewMemoryIdempotencyStore(time.Minute)
	base := time.Now()
	store.now = func() time.Time { return base }

	require.NoError(t, store.Put(t.Context(), "k", IdempotencyRecord{RequestHash: "h", Status: 200, StoredAt: base}))
	_, found, err := store.Get(t.Context(), "k")
	require.NoError(t, err)
	require.True(t, found)

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, found, err = store.Get(t.Context(), "k")
	require.NoError(t, err)
	assert.False(t, found, "expired records are misses")
}

func TestRequestHash(t *testing.T) {
	a := RequestHash(http.MethodPost, "/v1/x", "a=1", []byte("body"))
	assert.Equal(t, a, RequestHash(http.MethodPost, "/v1/x", "a=1", []byte("body")))
	assert.NotEqual(t, a, RequestHash(http.MethodPost, "/v1/x", "a=1", []byte("other")))
	assert.NotEqual(t, a, RequestHash(http.MethodPost, "/v1/x", "a=2", []byte("body")))
	assert.NotEqual(t, a, RequestHash(http.MethodPost, "/v1/y", "a=1", []byte("body")))
}
