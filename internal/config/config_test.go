package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPBind)
	assert.Equal(t, 60*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 100, cfg.RateLimitMax)
	assert.Equal(t, 3, cfg.BreakerThreshold)
	assert.Equal(t, 30*time.Second, cfg.BreakerWindow)
	assert.Equal(t, 1000, cfg.OutboxMax)
	assert.Equal(t, 24*time.Hour, cfg.OutboxTTL)
	assert.Equal(t, 0.10, cfg.ShadowSampleRate)
	assert.Equal(t, retrieval.BackendMemory, cfg.TargetBackend)
	assert.False(t, cfg.DualWriteEnabled)
	assert.False(t, cfg.ShadowReadEnabled)
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("RETRIEVAL_TARGET_BACKEND", "vectordb9000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown retrieval backend")
}

func TestLoadHTTPBackendRequiresURL(t *testing.T) {
	t.Setenv("RETRIEVAL_TARGET_BACKEND", "http")
	t.Setenv("RETRIEVAL_TARGET_URL", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("RETRIEVAL_TARGET_URL", "http://target.internal:9200")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, retrieval.BackendHTTP, cfg.TargetBackend)
}

func TestLoadRejectsOutOfRangeSampleRate(t *testing.T) {
	t.Setenv("FF_RETRIEVAL_SHADOW_SAMPLE_RATE", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FF_RETRIEVAL_SHADOW_SAMPLE_RATE")
}

func TestLoadRejectsMalformedInt(t *testing.T) {
	t.Setenv("RL_MAX_REQ_PER_WINDOW", "plenty")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RL_MAX_REQ_PER_WINDOW")
}

func TestLoadSanitizesListenAddr(t *testing.T) {
	t.Setenv("GATEWAY_HTTP_BIND", " :9090 :: staging note")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPBind)
}

func TestBoolEnvForms(t *testing.T) {
	t.Setenv("FF_RETRIEVAL_DUAL_WRITE", "TRUE")
	t.Setenv("FF_RETRIEVAL_SHADOW_READ", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.DualWriteEnabled)
	assert.True(t, cfg.ShadowReadEnabled)
}
