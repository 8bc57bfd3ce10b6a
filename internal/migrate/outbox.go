// Package migrate holds the retrieval-backend cutover machinery: the
// dual-write safety net, sampled shadow reads and the metrics gating the
// final switch.
package migrate

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

// OutboxEntry is a target write awaiting replay.
type OutboxEntry struct {
	Doc        retrieval.Document
	EnqueuedAt time.Time
}

// Outbox is a bounded FIFO of failed or skipped target writes. When full,
// the oldest entry is evicted and counted; nothing ever blocks.
type Outbox struct {
	capacity int
	dropped  prometheus.Counter
	size     prometheus.Gauge

	mu      sync.Mutex
	entries []OutboxEntry
}

func NewOutbox(capacity int, dropped prometheus.Counter, size prometheus.Gauge) *Outbox {
	if capacity < 1 {
		capacity = 1000
	}
	return &Outbox{capacity: capacity, dropped: dropped, size: size}
}

// Enqueue appends an entry, evicting the oldest when the bound is hit.
func (o *Outbox) Enqueue(entry OutboxEntry) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.entries) >= o.capacity {
		o.entries = o.entries[1:]
		if o.dropped != nil {
			o.dropped.Inc()
		}
	}
	o.entries = append(o.entries, entry)
	o.updateGauge()
}

// Dequeue removes and returns up to limit entries in FIFO order.
func (o *Outbox) Dequeue(limit int) []OutboxEntry {
	o.mu.Lock()
	defer o.mu.Unlock()
	if limit <= 0 || limit > len(o.entries) {
		limit = len(o.entries)
	}
	batch := make([]OutboxEntry, limit)
	copy(batch, o.entries[:limit])
	o.entries = o.entries[limit:]
	o.updateGauge()
	return batch
}

// Len reports the queued entry count.
func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

// DropExpired counts an entry abandoned because it aged past the TTL.
func (o *Outbox) DropExpired() {
	if o.dropped != nil {
		o.dropped.Inc()
	}
}

func (o *Outbox) updateGauge() {
	if o.size != nil {
		o.size.Set(float64(len(o.entries)))
	}
}
