package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/astroline/platform/gateway/internal/archive"
	"github.com/astroline/platform/gateway/internal/config"
	"github.com/astroline/platform/gateway/internal/gateway"
	"github.com/astroline/platform/gateway/internal/migrate"
	"github.com/astroline/platform/gateway/internal/pii"
	"github.com/astroline/platform/gateway/internal/ratelimit"
	"github.com/astroline/platform/gateway/internal/retrieval"
	"github.com/astroline/platform/gateway/internal/server"
	"github.com/astroline/platform/gateway/internal/trust"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited")
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	metrics := gateway.NewMetrics(registry)

	var verifier *trust.InternalVerifier
	if cfg.InternalAuthKey != "" {
		secrets := map[string][]byte{"v1": []byte(cfg.InternalAuthKey)}
		if cfg.InternalAuthKey2 != "" {
			secrets["v2"] = []byte(cfg.InternalAuthKey2)
		}
		verifier = trust.NewInternalVerifier(trust.VerifierConfig{
			Secrets:  secrets,
			Logger:   log.With().Str("component", "internal_auth").Logger(),
			Failures: metrics.InternalAuthFail,
		})
	} else {
		log.Warn().Msg("INTERNAL_AUTH_KEY unset, internal traffic cannot be verified")
	}

	resolver := trust.NewResolver(trust.ResolverConfig{
		Verifier:  verifier,
		JWTSecret: []byte(cfg.JWTSecret),
		Spoof:     metrics.TenantSpoof,
		Logger:    log.With().Str("component", "tenant_resolver").Logger(),
		Route:     gateway.NormalizeRoute,
	})

	var (
		limiter     ratelimit.Store
		idempotency gateway.IdempotencyStore
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:        cfg.RedisAddr,
			DialTimeout: cfg.RedisConnectTimeout,
			ReadTimeout: cfg.RedisReadTimeout,
		})
		defer redisClient.Close()
		limiter = ratelimit.NewRedisStore(ratelimit.RedisStoreConfig{
			Client:        redisClient,
			WindowSeconds: int(cfg.RateLimitWindow.Seconds()),
			MaxRequests:   cfg.RateLimitMax,
			Errors:        metrics.RateLimitErrors,
			Logger:        log.With().Str("component", "rate_limit").Logger(),
		})
		idempotency = gateway.NewRedisIdempotencyStore(redisClient, 24*time.Hour)
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis rate limiter")
	} else {
		limiter = ratelimit.NewMemoryStore(int(cfg.RateLimitWindow.Seconds()), cfg.RateLimitMax)
		idempotency = gateway.NewMemoryIdempotencyStore(24 * time.Hour)
		log.Info().Msg("REDIS_ADDR unset, using in-process rate limiter")
	}

	quotas := ratelimit.NewQuotaManager()
	quotas.SetLimit("chat", cfg.QuotaChatHourly)
	quotas.SetLimit("retrieval", cfg.QuotaRetrievalHourly)

	retryMW := gateway.NewRetry(gateway.RetryConfig{
		Table:         gateway.DefaultTimeoutTable(),
		BudgetPercent: cfg.RetryBudgetPercent,
		Metrics:       metrics,
		Logger:        log.With().Str("component", "retry").Logger(),
	})

	primary := retrieval.NewMemoryIndex()
	var target retrieval.Backend
	switch cfg.TargetBackend {
	case retrieval.BackendHTTP:
		target = retrieval.NewHTTPBackend(cfg.TargetBackendURL, 5*time.Second)
	default:
		target = retrieval.NewMemoryIndex()
	}

	var dual *migrate.DualWriter
	if cfg.DualWriteEnabled {
		outbox := migrate.NewOutbox(cfg.OutboxMax, metrics.OutboxDropped, metrics.OutboxSize)
		dual = migrate.NewDualWriter(migrate.DualWriterConfig{
			Write:     target.Ingest,
			Threshold: cfg.BreakerThreshold,
			Window:    cfg.BreakerWindow,
			Outbox:    outbox,
			OutboxTTL: cfg.OutboxTTL,
			Skipped:   metrics.DualWriteSkipped,
			Logger:    log.With().Str("component", "dual_write").Logger(),
		})
		go replayLoop(ctx, dual)
	}

	var shadow *migrate.ShadowSampler
	if cfg.ShadowReadEnabled {
		shadow = migrate.NewShadowSampler(migrate.ShadowConfig{
			Target:     target,
			SampleRate: cfg.ShadowSampleRate,
			Agreement:  metrics.ShadowAgreement,
			Dropped:    metrics.ShadowDropped,
			Logger:     log.With().Str("component", "shadow_read").Logger(),
		})
		defer shadow.Close()
	}

	if cfg.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := migrate.NewTruthRepo(pool).EnsureSchema(ctx); err != nil {
			return err
		}
	}

	srv := server.New(server.Config{
		Resolver:    resolver,
		Limiter:     limiter,
		Limit:       cfg.RateLimitMax,
		Quotas:      quotas,
		Idempotency: idempotency,
		Retry:       retryMW,
		Metrics:     metrics,
		Registry:    registry,
		Primary:     primary,
		DualWriter:  dual,
		Shadow:      shadow,
		Scanner:     pii.NewRuleScannerFromEnv(),
		Sinks:       archive.LoadFromEnv(ctx, log.Logger),
		Logger:      log.With().Str("component", "http").Logger(),
	})

	httpServer := &http.Server{
		Addr:              cfg.HTTPBind,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPBind).Msg("gateway listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("gateway stopped")
	return nil
}

// replayLoop drains the dual-write outbox in the background.
func replayLoop(ctx context.Context, dual *migrate.DualWriter) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dual.CircuitOpen() {
				continue
			}
			flushed, dropped := dual.ReplayOutbox(ctx, 100)
			if flushed > 0 || dropped > 0 {
				log.Info().Int("flushed", flushed).Int("dropped", dropped).Msg("outbox replay")
			}
		}
	}
}
