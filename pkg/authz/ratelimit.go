package authz

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// MemoryRateLimiter keeps one token bucket per key. The bucket capacity
// equals the configured threshold and refills at threshold/window, which
// approximates the sliding window without per-request timestamp lists.
// Idle buckets are evicted after two windows to bound memory.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucketEntry
}

type bucketEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	window   time.Duration
}

// NewMemoryRateLimiter creates an empty in-process limiter.
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{buckets: make(map[string]*bucketEntry)}
}

// Allow implements RateLimiter.
func (m *MemoryRateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	if window <= 0 {
		window = time.Minute
	}

	m.mu.Lock()
	entry, ok := m.buckets[key]
	if !ok {
		entry = &bucketEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(limit)/window.Seconds()), limit),
			window:  window,
		}
		m.buckets[key] = entry
	}
	entry.lastSeen = time.Now()
	m.evictStaleLocked()
	m.mu.Unlock()

	return entry.limiter.Allow()
}

// evictStaleLocked drops buckets idle for more than two windows.
// Caller holds mu.
func (m *MemoryRateLimiter) evictStaleLocked() {
	now := time.Now()
	for k, e := range m.buckets {
		if now.Sub(e.lastSeen) > 2*e.window {
			delete(m.buckets, k)
		}
	}
}
