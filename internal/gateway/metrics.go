package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every gateway collector. All route labels must be passed
// through NormalizeRoute first so cardinality stays bounded.
type Metrics struct {
	TenantSpoof      *prometheus.CounterVec
	InternalAuthFail *prometheus.CounterVec

	RateLimitDecisions *prometheus.CounterVec
	RateLimitNearLimit *prometheus.CounterVec
	RateLimitErrors    *prometheus.CounterVec
	QuotaBlocked       *prometheus.CounterVec

	RetryAttempts   *prometheus.CounterVec
	BudgetExhausted *prometheus.CounterVec

	DualWriteSkipped *prometheus.CounterVec
	OutboxDropped    prometheus.Counter
	OutboxSize       prometheus.Gauge
	ShadowDropped    *prometheus.CounterVec
	ShadowAgreement  *prometheus.HistogramVec

	IdempotencyHits *prometheus.CounterVec
	LegacyHits      *prometheus.CounterVec

	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers all gateway collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TenantSpoof: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_tenant_spoof_total",
			Help: "Tenant header contradicting the JWT tenant on external traffic.",
		}, []string{"route"}),
		InternalAuthFail: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_internal_auth_failures_total",
			Help: "Internal HMAC verification rejections by reason.",
		}, []string{"reason"}),
		RateLimitDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_decisions_total",
			Help: "Rate limit middleware decisions by route.",
		}, []string{"route", "decision"}),
		RateLimitNearLimit: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_near_limit_total",
			Help: "Allowed requests with less than 10% of the window remaining.",
		}, []string{"route"}),
		RateLimitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_rate_limit_store_errors_total",
			Help: "Distributed limiter failures that resulted in fail-open.",
		}, []string{"error_type"}),
		QuotaBlocked: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_quota_blocked_total",
			Help: "Requests blocked by the hourly quota.",
		}, []string{"resource"}),
		RetryAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_attempts_total",
			Help: "Retry decisions by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		BudgetExhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_retry_budget_exhausted_total",
			Help: "Retries blocked because the endpoint budget was spent.",
		}, []string{"endpoint"}),
		DualWriteSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_dual_write_skipped_total",
			Help: "Target writes skipped, by reason.",
		}, []string{"reason"}),
		OutboxDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gateway_dual_write_outbox_dropped_total",
			Help: "Outbox entries evicted by the capacity bound or replay TTL.",
		}),
		OutboxSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_dual_write_outbox_size",
			Help: "Current number of queued outbox entries.",
		}),
		ShadowDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_shadow_read_dropped_total",
			Help: "Shadow comparisons dropped, by reason.",
		}, []string{"reason"}),
		ShadowAgreement: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_shadow_agreement_at_5",
			Help:    "Agreement@5 between primary and shadow result sets.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"backend"}),
		IdempotencyHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_idempotency_total",
			Help: "Idempotency key lookups by result.",
		}, []string{"result"}),
		LegacyHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_legacy_route_hits_total",
			Help: "Requests hitting deprecated unversioned route prefixes.",
		}, []string{"prefix"}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Request latency by normalized route and status class.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
}
