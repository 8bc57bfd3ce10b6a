// Package config loads and validates the gateway's environment surface.
// Misconfiguration is rejected at startup, not discovered on first request.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

// Config is the fully validated runtime configuration.
type Config struct {
	HTTPBind    string
	PostgresDSN string
	RedisAddr   string

	JWTSecret        string
	InternalAuthKey  string
	InternalAuthKey2 string

	RateLimitWindow     time.Duration
	RateLimitMax        int
	RedisConnectTimeout time.Duration
	RedisReadTimeout    time.Duration

	// Hourly per-tenant quotas; 0 means unlimited.
	QuotaChatHourly      int
	QuotaRetrievalHourly int

	DualWriteEnabled   bool
	BreakerThreshold   int
	BreakerWindow      time.Duration
	OutboxMax          int
	OutboxTTL          time.Duration
	ShadowReadEnabled  bool
	ShadowSampleRate   float64
	TargetBackend      retrieval.BackendKind
	TargetBackendURL   string
	RetryBudgetPercent float64
}

// Load reads the environment and fails loudly on invalid values.
func Load() (Config, error) {
	cfg := Config{
		HTTPBind:    sanitizeListenAddr(env("GATEWAY_HTTP_BIND", ":8080")),
		PostgresDSN: env("POSTGRES_DSN", ""),
		RedisAddr:   env("REDIS_ADDR", ""),

		JWTSecret:        env("JWT_SECRET", ""),
		InternalAuthKey:  env("INTERNAL_AUTH_KEY", ""),
		InternalAuthKey2: env("INTERNAL_AUTH_KEY_V2", ""),

		TargetBackendURL: env("RETRIEVAL_TARGET_URL", ""),
	}

	window, err := intEnv("RL_WINDOW_SECONDS", 60)
	if err != nil {
		return cfg, err
	}
	cfg.RateLimitWindow = time.Duration(window) * time.Second

	if cfg.RateLimitMax, err = intEnv("RL_MAX_REQ_PER_WINDOW", 100); err != nil {
		return cfg, err
	}

	connectMS, err := intEnv("RL_CONNECT_TIMEOUT_MS", 500)
	if err != nil {
		return cfg, err
	}
	cfg.RedisConnectTimeout = time.Duration(connectMS) * time.Millisecond

	readMS, err := intEnv("RL_READ_TIMEOUT_MS", 200)
	if err != nil {
		return cfg, err
	}
	cfg.RedisReadTimeout = time.Duration(readMS) * time.Millisecond

	if cfg.QuotaChatHourly, err = intEnv("QUOTA_CHAT_HOURLY", 0); err != nil {
		return cfg, err
	}
	if cfg.QuotaRetrievalHourly, err = intEnv("QUOTA_RETRIEVAL_HOURLY", 0); err != nil {
		return cfg, err
	}

	cfg.DualWriteEnabled = boolEnv("FF_RETRIEVAL_DUAL_WRITE", false)
	cfg.ShadowReadEnabled = boolEnv("FF_RETRIEVAL_SHADOW_READ", false)

	if cfg.BreakerThreshold, err = intEnv("RETRIEVAL_DUAL_WRITE_CB_THRESHOLD", 3); err != nil {
		return cfg, err
	}
	breakerS, err := intEnv("RETRIEVAL_DUAL_WRITE_CB_WINDOW_S", 30)
	if err != nil {
		return cfg, err
	}
	cfg.BreakerWindow = time.Duration(breakerS) * time.Second

	if cfg.OutboxMax, err = intEnv("RETRIEVAL_DUAL_WRITE_OUTBOX_MAX", 1000); err != nil {
		return cfg, err
	}
	ttlS, err := intEnv("RETRIEVAL_DUAL_WRITE_OUTBOX_TTL_S", 86400)
	if err != nil {
		return cfg, err
	}
	cfg.OutboxTTL = time.Duration(ttlS) * time.Second

	rate, err := floatEnv("FF_RETRIEVAL_SHADOW_SAMPLE_RATE", 0.10)
	if err != nil {
		return cfg, err
	}
	if rate < 0 || rate > 1 {
		return cfg, fmt.Errorf("FF_RETRIEVAL_SHADOW_SAMPLE_RATE %v outside [0, 1]", rate)
	}
	cfg.ShadowSampleRate = rate

	if cfg.RetryBudgetPercent, err = floatEnv("RETRY_BUDGET_PERCENT", 0.2); err != nil {
		return cfg, err
	}

	kind, err := retrieval.ParseBackendKind(env("RETRIEVAL_TARGET_BACKEND", "memory"))
	if err != nil {
		return cfg, err
	}
	cfg.TargetBackend = kind
	if kind == retrieval.BackendHTTP && cfg.TargetBackendURL == "" {
		return cfg, fmt.Errorf("RETRIEVAL_TARGET_URL required for http target backend")
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func floatEnv(key string, def float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	return strings.EqualFold(raw, "true") || raw == "1"
}

// sanitizeListenAddr trims whitespace/comments so malformed env values
// (e.g. ":8080 :: note") do not break net.Listen.
func sanitizeListenAddr(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}
	fields := strings.Fields(trimmed)
	if len(fields) > 0 {
		trimmed = fields[0]
	}
	trimmed = strings.Trim(trimmed, "\"'")
	return trimmed
}
