package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyRedirect(t *testing.T) {
	metrics := newTestMetrics()
	handler := LegacyRedirect(metrics)(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/horoscope/today?sign=aries", nil))

	require.Equal(t, http.StatusPermanentRedirect, rec.Code)
	assert.Equal(t, "/v1/horoscope/today?sign=aries", rec.Header().Get("Location"))
	assert.Equal(t, "true", rec.Header().Get("Deprecation"))
	assert.NotEmpty(t, rec.Header().Get("Sunset"))
	assert.Equal(t, `</v1/horoscope/today>; rel="successor-version"`, rec.Header().Get("Link"))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.LegacyHits.WithLabelValues("/horoscope")))
}

func TestLegacyRedirectLeavesVersionedRoutesAlone(t *testing.T) {
	metrics := newTestMetrics()
	handler := LegacyRedirect(metrics)(okHandler())

	for _, path := range []string{"/v1/chat/answer", "/health", "/chatter"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, "%s must not redirect", path)
	}
}
