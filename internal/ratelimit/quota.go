package ratelimit

import (
	"sync"
	"time"
)

type quotaWindow struct {
	start time.Time
	used  int
}

// QuotaManager applies coarse per-tenant hourly caps per resource. A limit
// of zero means unlimited. Usage is tracked in fixed hourly windows that
// reset when the next window begins.
type QuotaManager struct {
	mu     sync.Mutex
	limits map[string]int
	usage  map[string]*quotaWindow
	now    func() time.Time
}

func NewQuotaManager() *QuotaManager {
	return &QuotaManager{
		limits: make(map[string]int),
		usage:  make(map[string]*quotaWindow),
		now:    time.Now,
	}
}

// SetLimit configures the hourly cap for a resource.
func (q *QuotaManager) SetLimit(resource string, limit int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if limit < 0 {
		limit = 0
	}
	q.limits[resource] = limit
}

// Allow consumes one unit of the tenant's hourly quota for the resource.
// Blocked calls do not consume.
func (q *QuotaManager) Allow(tenant, resource string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	limit := q.limits[resource]
	if limit == 0 {
		return true
	}

	key := tenant + "|" + resource
	now := q.now()
	window, ok := q.usage[key]
	if !ok || now.Sub(window.start) >= time.Hour {
		window = &quotaWindow{start: now}
		q.usage[key] = window
	}
	if window.used >= limit {
		return false
	}
	window.used++
	return true
}

// Usage reports the units consumed in the tenant's current hourly window.
func (q *QuotaManager) Usage(tenant, resource string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	window, ok := q.usage[tenant+"|"+resource]
	if !ok || q.now().Sub(window.start) >= time.Hour {
		return 0
	}
	return window.used
}
