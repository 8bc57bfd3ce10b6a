// Package server wires the trust, traffic-shaping and retrieval layers
// into the public HTTP surface.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/astroline/platform/gateway/internal/archive"
	"github.com/astroline/platform/gateway/internal/gateway"
	"github.com/astroline/platform/gateway/internal/migrate"
	"github.com/astroline/platform/gateway/internal/pii"
	"github.com/astroline/platform/gateway/internal/ratelimit"
	"github.com/astroline/platform/gateway/internal/retrieval"
	"github.com/astroline/platform/gateway/internal/trust"
)

// Server is the assembled gateway.
type Server struct {
	router  chi.Router
	logger  zerolog.Logger
	metrics *gateway.Metrics

	primary retrieval.Backend
	dual    *migrate.DualWriter
	shadow  *migrate.ShadowSampler
	scanner pii.Scanner
	sinks   []archive.Sink
}

// Config carries every dependency the server needs. Nil optional fields
// (DualWriter, Shadow, Scanner, Sinks) disable the corresponding stage.
type Config struct {
	Resolver    *trust.Resolver
	Limiter     ratelimit.Store
	Limit       int
	Quotas      *ratelimit.QuotaManager
	Idempotency gateway.IdempotencyStore
	Retry       *gateway.RetryMiddleware
	Metrics     *gateway.Metrics
	Registry    *prometheus.Registry

	Primary    retrieval.Backend
	DualWriter *migrate.DualWriter
	Shadow     *migrate.ShadowSampler
	Scanner    pii.Scanner
	Sinks      []archive.Sink

	Logger zerolog.Logger
}

func New(cfg Config) *Server {
	s := &Server{
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		primary: cfg.Primary,
		dual:    cfg.DualWriter,
		shadow:  cfg.Shadow,
		scanner: cfg.Scanner,
		sinks:   cfg.Sinks,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(gateway.Trace)
	r.Use(s.instrument)
	r.Use(gateway.LegacyRedirect(cfg.Metrics))
	r.Use(gateway.RateLimit(cfg.Resolver, cfg.Limiter, cfg.Limit, cfg.Metrics))
	r.Use(gateway.Quota(cfg.Quotas, cfg.Metrics))
	r.Use(gateway.Idempotency(cfg.Idempotency, cfg.Metrics, cfg.Logger))
	if cfg.Retry != nil {
		r.Use(cfg.Retry.Handler)
	}

	r.Get("/health", s.handleHealth)
	if cfg.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/retrieval/search", s.handleSearch)
		r.Post("/retrieval/ingest", s.handleIngest)
		r.Post("/chat/answer", s.handleChatAnswer)
		r.Get("/horoscope/today", s.handleHoroscopeToday)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// instrument records request latency by normalized route and status class.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := gateway.NormalizeRoute(r.URL.Path)
		status := strconv.Itoa(ww.Status())
		s.metrics.RequestDuration.WithLabelValues(route, status).Observe(time.Since(start).Seconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	gateway.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
