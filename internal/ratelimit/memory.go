package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process sliding window: a timestamp list per
// (route, tenant) key, pruned on every check. Limits enforced by a single
// MemoryStore are per process; a fleet of processes only enforces them
// approximately. The Redis store is the production path.
type MemoryStore struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	windows map[string][]time.Time
}

func NewMemoryStore(windowSeconds, maxRequests int) *MemoryStore {
	return &MemoryStore{
		window:  time.Duration(clampWindow(windowSeconds)) * time.Second,
		limit:   clampLimit(maxRequests),
		now:     time.Now,
		windows: make(map[string][]time.Time),
	}
}

func (s *MemoryStore) Check(_ context.Context, route, tenant string) Result {
	key := Key(route, tenant)
	now := s.now()
	cutoff := now.Add(-s.window)

	s.mu.Lock()
	defer s.mu.Unlock()

	window := s.windows[key]
	pruned := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}

	if len(pruned) < s.limit {
		pruned = append(pruned, now)
		s.windows[key] = pruned
		return Result{
			Allowed:   true,
			Remaining: s.limit - len(pruned),
			ResetTime: float64(now.Add(s.window).Unix()),
		}
	}

	// Blocked: the window is left untouched, no request is recorded.
	s.windows[key] = pruned
	retryAfter := int(s.window.Seconds())
	if len(pruned) > 0 {
		elapsed := now.Sub(pruned[0])
		retryAfter = int((s.window - elapsed).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
	}
	return Result{
		Allowed:    false,
		Remaining:  0,
		ResetTime:  float64(now.Add(s.window).Unix()),
		RetryAfter: retryAfter,
	}
}
