package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Strategy selects how retry delays grow across attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFixed       Strategy = "fixed"
)

// TimeoutConfig is the per-endpoint retry and timeout policy.
type TimeoutConfig struct {
	// Read bounds a single attempt; Total bounds the whole request and
	// sizes the retry budget.
	Read       time.Duration
	Total      time.Duration
	MaxRetries int
	Strategy   Strategy
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Jitter     bool
}

// TimeoutTable maps request paths to their policy: exact matches first,
// then longest-prefix, then the fallback.
type TimeoutTable struct {
	exact    map[string]TimeoutConfig
	prefixes []prefixPolicy
	fallback TimeoutConfig
}

type prefixPolicy struct {
	prefix string
	config TimeoutConfig
}

func NewTimeoutTable(fallback TimeoutConfig) *TimeoutTable {
	return &TimeoutTable{
		exact:    make(map[string]TimeoutConfig),
		fallback: fallback,
	}
}

func (t *TimeoutTable) SetExact(path string, cfg TimeoutConfig) {
	t.exact[path] = cfg
}

func (t *TimeoutTable) SetPrefix(prefix string, cfg TimeoutConfig) {
	t.prefixes = append(t.prefixes, prefixPolicy{prefix: prefix, config: cfg})
}

// ConfigFor resolves the policy for a request path.
func (t *TimeoutTable) ConfigFor(path string) TimeoutConfig {
	if cfg, ok := t.exact[path]; ok {
		return cfg
	}
	best := -1
	cfg := t.fallback
	for _, entry := range t.prefixes {
		if strings.HasPrefix(path, entry.prefix) && len(entry.prefix) > best {
			best = len(entry.prefix)
			cfg = entry.config
		}
	}
	return cfg
}

// DefaultTimeoutTable mirrors the production endpoint policies: the chat
// path tolerates slow model calls, retrieval is tighter, health probes get
// no retries at all.
func DefaultTimeoutTable() *TimeoutTable {
	table := NewTimeoutTable(TimeoutConfig{
		Read:       10 * time.Second,
		Total:      30 * time.Second,
		MaxRetries: 2,
		Strategy:   StrategyExponential,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
		Jitter:     true,
	})
	table.SetExact("/v1/chat/answer", TimeoutConfig{
		Read:       25 * time.Second,
		Total:      60 * time.Second,
		MaxRetries: 2,
		Strategy:   StrategyExponential,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   8 * time.Second,
		Jitter:     true,
	})
	table.SetExact("/v1/retrieval/search", TimeoutConfig{
		Read:       5 * time.Second,
		Total:      15 * time.Second,
		MaxRetries: 3,
		Strategy:   StrategyExponential,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Jitter:     true,
	})
	table.SetPrefix("/v1/horoscope", TimeoutConfig{
		Read:       8 * time.Second,
		Total:      20 * time.Second,
		MaxRetries: 1,
		Strategy:   StrategyLinear,
		BaseDelay:  250 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		Jitter:     true,
	})
	table.SetExact("/health", TimeoutConfig{
		Read:       2 * time.Second,
		Total:      2 * time.Second,
		MaxRetries: 0,
		Strategy:   StrategyFixed,
		BaseDelay:  0,
		MaxDelay:   0,
	})
	return table
}

// RetryDelay computes the backoff before retry attempt n (0-based), capped
// at MaxDelay. With Jitter a uniform multiplier in [0.5, 1.5] is applied
// before capping.
func RetryDelay(cfg TimeoutConfig, attempt int) time.Duration {
	var delay time.Duration
	switch cfg.Strategy {
	case StrategyLinear:
		delay = cfg.BaseDelay * time.Duration(attempt+1)
	case StrategyFixed:
		delay = cfg.BaseDelay
	default:
		delay = cfg.BaseDelay * (1 << attempt)
	}
	if cfg.Jitter {
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	}
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	return delay
}

// RetryBudget is a time-based allowance on cumulative backoff delay. It
// leaks on wall clock, not on outcomes: once per reset interval the used
// amount drops back to zero.
type RetryBudget struct {
	mu        sync.Mutex
	total     time.Duration
	used      time.Duration
	lastReset time.Time
	interval  time.Duration
	now       func() time.Time
}

func NewRetryBudget(total, resetInterval time.Duration) *RetryBudget {
	if resetInterval <= 0 {
		resetInterval = time.Minute
	}
	return &RetryBudget{
		total:    total,
		interval: resetInterval,
		now:      time.Now,
	}
}

func (b *RetryBudget) maybeReset() {
	now := b.now()
	if now.Sub(b.lastReset) >= b.interval {
		b.used = 0
		b.lastReset = now
	}
}

// CanRetry reports whether the budget still covers the estimated delay.
func (b *RetryBudget) CanRetry(delay time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeReset()
	return b.used+delay <= b.total
}

// Consume charges a spent delay against the budget.
func (b *RetryBudget) Consume(delay time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeReset()
	b.used += delay
}

// Used reports the budget consumed in the current interval.
func (b *RetryBudget) Used() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeReset()
	return b.used
}

// RetryMiddleware retries downstream 5xx responses and attempt timeouts
// with backoff, under a per-endpoint time budget. Client errors (429
// included) and non-timeout failures terminate immediately: retrying those
// would amplify client mistakes or mask bugs as transience.
type RetryMiddleware struct {
	table *TimeoutTable
	// BudgetPercent of an endpoint's Total timeout becomes its budget.
	percent float64
	metrics *Metrics
	logger  zerolog.Logger
	sleep   func(time.Duration)
	now     func() time.Time

	mu      sync.Mutex
	budgets map[string]*RetryBudget
}

// RetryConfig carries the explicit dependencies of the retry middleware.
type RetryConfig struct {
	Table         *TimeoutTable
	BudgetPercent float64
	Metrics       *Metrics
	Logger        zerolog.Logger
}

func NewRetry(cfg RetryConfig) *RetryMiddleware {
	if cfg.Table == nil {
		cfg.Table = DefaultTimeoutTable()
	}
	if cfg.BudgetPercent <= 0 || cfg.BudgetPercent > 1 {
		cfg.BudgetPercent = 0.2
	}
	return &RetryMiddleware{
		table:   cfg.Table,
		percent: cfg.BudgetPercent,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		sleep:   time.Sleep,
		now:     time.Now,
		budgets: make(map[string]*RetryBudget),
	}
}

func (m *RetryMiddleware) budgetFor(endpoint string, cfg TimeoutConfig) *RetryBudget {
	m.mu.Lock()
	defer m.mu.Unlock()
	budget, ok := m.budgets[endpoint]
	if !ok {
		budget = NewRetryBudget(time.Duration(float64(cfg.Total)*m.percent), time.Minute)
		m.budgets[endpoint] = budget
	}
	return budget
}

// Handler wraps the downstream handler with the retry loop.
func (m *RetryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cfg := m.table.ConfigFor(r.URL.Path)
		endpoint := NormalizeRoute(r.URL.Path)
		budget := m.budgetFor(endpoint, cfg)

		w.Header().Set("X-Timeout-Read", formatSeconds(cfg.Read))
		w.Header().Set("X-Timeout-Total", formatSeconds(cfg.Total))
		w.Header().Set("X-Max-Retries", strconv.Itoa(cfg.MaxRetries))

		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			if err != nil {
				WriteError(w, r, http.StatusBadRequest, CodeBadRequest, "unreadable request body", nil)
				return
			}
			_ = r.Body.Close()
		}

		// The advertised total timeout is a hard wall clock deadline for
		// the whole attempt loop, not just a budget input.
		deadline := m.now().Add(cfg.Total)

		var lastErr string
		for attempt := 0; ; attempt++ {
			remaining := deadline.Sub(m.now())
			if attempt > 0 && remaining <= 0 {
				if lastErr == "" {
					lastErr = "total deadline exceeded after " + cfg.Total.String()
				}
				m.exhausted(w, r, endpoint, cfg, budget, lastErr)
				return
			}
			attemptTimeout := cfg.Read
			if remaining > 0 && remaining < attemptTimeout {
				attemptTimeout = remaining
			}

			recorder := newResponseRecorder()
			attemptCtx, cancel := context.WithTimeout(r.Context(), attemptTimeout)
			attemptReq := r.WithContext(attemptCtx)
			if body != nil {
				attemptReq.Body = io.NopCloser(bytes.NewReader(body))
			}

			next.ServeHTTP(recorder, attemptReq)
			timedOut := errors.Is(attemptCtx.Err(), context.DeadlineExceeded)
			cancel()

			switch {
			case timedOut:
				lastErr = "attempt timeout after " + cfg.Read.String()
			case recorder.status >= 500:
				lastErr = fmt.Sprintf("upstream status %d", recorder.status)
			default:
				// Success or a terminal client error: surface as-is.
				if attempt > 0 {
					w.Header().Set("X-Retry-Count", strconv.Itoa(attempt))
				}
				recorder.flush(w)
				return
			}

			if attempt >= cfg.MaxRetries {
				m.exhausted(w, r, endpoint, cfg, budget, lastErr)
				return
			}

			delay := RetryDelay(cfg, attempt)
			if !budget.CanRetry(delay) {
				m.metrics.BudgetExhausted.WithLabelValues(endpoint).Inc()
				m.exhausted(w, r, endpoint, cfg, budget, lastErr)
				return
			}
			m.sleep(delay)
			budget.Consume(delay)
			m.metrics.RetryAttempts.WithLabelValues(endpoint, "allowed").Inc()
			m.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Str("cause", lastErr).
				Str("trace_id", TraceID(r.Context())).
				Msg("retrying request")
		}
	})
}

func (m *RetryMiddleware) exhausted(w http.ResponseWriter, r *http.Request, endpoint string, cfg TimeoutConfig, budget *RetryBudget, lastErr string) {
	m.metrics.RetryAttempts.WithLabelValues(endpoint, "exhausted").Inc()
	WriteError(w, r, http.StatusGatewayTimeout, CodeGatewayTimeout,
		"request failed after retries", map[string]any{
			"max_retries": cfg.MaxRetries,
			"budget_used": budget.Used().Seconds(),
			"last_error":  lastErr,
		})
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
}

// responseRecorder buffers an attempt so failed attempts can be discarded.
type responseRecorder struct {
	status int
	header http.Header
	body   bytes.Buffer
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{status: http.StatusOK, header: make(http.Header)}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) WriteHeader(status int) { r.status = status }

func (r *responseRecorder) Write(p []byte) (int, error) { return r.body.Write(p) }

func (r *responseRecorder) flush(w http.ResponseWriter) {
	for key, values := range r.header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body.Bytes())
}
