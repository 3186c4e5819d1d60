// ABOUTME: Per-source rate limiting for authentication attempts
// ABOUTME: Keeps one token bucket per client address and evicts idle buckets

package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiters caps tracked sources so a flood of addresses cannot exhaust memory.
const maxLimiters = 10000

// RateLimiter provides per-source rate limiting.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rps      rate.Limit
	burst    int
	entryTTL time.Duration
	stop     chan struct{}
	stopped  bool
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewRateLimiter creates a limiter allowing rps attempts per second with the
// given burst for each source.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*limiterEntry),
		rps:      rate.Limit(rps),
		burst:    burst,
		entryTTL: 10 * time.Minute,
		stop:     make(chan struct{}),
	}
	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

// Allow reports whether source may make another attempt now.
func (rl *RateLimiter) Allow(source string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[source]
	if !ok {
		if len(rl.limiters) >= maxLimiters {
			rl.evictOldestLocked()
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[source] = entry
	}
	entry.lastAccess = time.Now()
	return entry.limiter.Allow()
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldest string
	var oldestAt time.Time
	for src, e := range rl.limiters {
		if oldest == "" || e.lastAccess.Before(oldestAt) {
			oldest, oldestAt = src, e.lastAccess
		}
	}
	delete(rl.limiters, oldest)
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.entryTTL)
	for src, e := range rl.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(rl.limiters, src)
		}
	}
}

// Count returns the number of tracked sources.
func (rl *RateLimiter) Count() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Stop ends the cleanup goroutine. Safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if !rl.stopped {
		close(rl.stop)
		rl.stopped = true
	}
}
