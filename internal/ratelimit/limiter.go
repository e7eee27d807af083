// Package ratelimit provides a keyed fixed-window limiter. The transport
// uses it to throttle websocket handshakes per origin so a client stuck
// in a reconnect loop cannot starve the connection cap.
package ratelimit

import (
	"sync"
	"time"

	"grimm.is/tether/internal/clock"
)

// pruneThreshold is the bucket count above which Allow drops stale buckets.
const pruneThreshold = 256

// Limiter allows up to limit events per key per interval.
type Limiter struct {
	limit    int
	interval time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	tokens   int
	lastFill time.Time
}

// NewLimiter creates a limiter. A nil clock uses the process clock.
func NewLimiter(limit int, interval time.Duration, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.Default()
	}
	return &Limiter{
		limit:    limit,
		interval: interval,
		clock:    c,
		buckets:  make(map[string]*bucket),
	}
}

// Allow reports whether one more event for key fits in the current window.
func (l *Limiter) Allow(key string) bool {
	return l.AllowN(key, 1)
}

// AllowN reports whether n more events for key fit in the current window,
// consuming them if so.
func (l *Limiter) AllowN(key string, n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if len(l.buckets) > pruneThreshold {
		l.pruneLocked(now, l.interval)
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.limit, lastFill: now}
		l.buckets[key] = b
	}
	if now.Sub(b.lastFill) >= l.interval {
		b.tokens = l.limit
		b.lastFill = now
	}
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Reset clears the window for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

// CleanupExpired drops buckets whose window started more than maxAge ago.
func (l *Limiter) CleanupExpired(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.clock.Now(), maxAge)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) pruneLocked(now time.Time, maxAge time.Duration) {
	for key, b := range l.buckets {
		if now.Sub(b.lastFill) > maxAge {
			delete(l.buckets, key)
		}
	}
}
