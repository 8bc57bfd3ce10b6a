package migrate

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

const (
	defaultBreakerThreshold = 3
	defaultBreakerWindow    = 30 * time.Second
	defaultOutboxTTL        = 24 * time.Hour
)

// WriteFunc performs one write against the migration target.
type WriteFunc func(ctx context.Context, doc retrieval.Document) error

// DualWriter mirrors primary ingests to the target backend behind a circuit
// breaker. Target failures never surface to the caller: when the circuit is
// open the write is queued to the outbox instead.
type DualWriter struct {
	write     WriteFunc
	threshold int
	window    time.Duration
	outboxTTL time.Duration
	outbox    *Outbox
	skipped   *prometheus.CounterVec
	logger    zerolog.Logger
	now       func() time.Time

	mu        sync.Mutex
	failCount int
	openUntil time.Time
}

// DualWriterConfig carries the explicit dependencies of a DualWriter.
type DualWriterConfig struct {
	Write     WriteFunc
	Threshold int
	Window    time.Duration
	Outbox    *Outbox
	OutboxTTL time.Duration
	Skipped   *prometheus.CounterVec
	Logger    zerolog.Logger
}

func NewDualWriter(cfg DualWriterConfig) *DualWriter {
	if cfg.Threshold < 1 {
		cfg.Threshold = defaultBreakerThreshold
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultBreakerWindow
	}
	if cfg.OutboxTTL <= 0 {
		cfg.OutboxTTL = defaultOutboxTTL
	}
	return &DualWriter{
		write:     cfg.Write,
		threshold: cfg.Threshold,
		window:    cfg.Window,
		outboxTTL: cfg.OutboxTTL,
		outbox:    cfg.Outbox,
		skipped:   cfg.Skipped,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Write attempts the target write unless the circuit is open. It never
// returns an error to the ingest path.
func (d *DualWriter) Write(ctx context.Context, doc retrieval.Document) {
	now := d.now()

	d.mu.Lock()
	open := now.Before(d.openUntil)
	d.mu.Unlock()

	if open {
		if d.skipped != nil {
			d.skipped.WithLabelValues("circuit_open").Inc()
		}
		d.outbox.Enqueue(OutboxEntry{Doc: doc, EnqueuedAt: now})
		return
	}

	if err := d.write(ctx, doc); err != nil {
		d.recordFailure(now)
		d.outbox.Enqueue(OutboxEntry{Doc: doc, EnqueuedAt: now})
		d.logger.Warn().
			Err(err).
			Str("doc_id", doc.ID).
			Str("tenant", doc.Tenant).
			Msg("target write failed, queued for replay")
		return
	}
	d.recordSuccess()
}

func (d *DualWriter) recordFailure(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCount++
	if d.failCount >= d.threshold {
		d.openUntil = now.Add(d.window)
		d.logger.Warn().
			Int("failures", d.failCount).
			Time("open_until", d.openUntil).
			Msg("dual write circuit opened")
	}
}

// A single success fully resets the breaker, there is no gradual half-open.
func (d *DualWriter) recordSuccess() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failCount = 0
}

// ReplayOutbox flushes up to limit queued writes in FIFO order. Every entry
// gets a write attempt, however old; entries that fail again are requeued
// unless they aged past the TTL, in which case they are dropped and counted.
func (d *DualWriter) ReplayOutbox(ctx context.Context, limit int) (flushed, dropped int) {
	now := d.now()
	for _, entry := range d.outbox.Dequeue(limit) {
		if err := d.write(ctx, entry.Doc); err != nil {
			if now.Sub(entry.EnqueuedAt) > d.outboxTTL {
				d.outbox.DropExpired()
				dropped++
				continue
			}
			d.outbox.Enqueue(entry)
			continue
		}
		flushed++
	}
	if flushed > 0 {
		d.recordSuccess()
	}
	return flushed, dropped
}

// CircuitOpen reports whether writes are currently being skipped.
func (d *DualWriter) CircuitOpen() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.openUntil)
}
