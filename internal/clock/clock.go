// Package clock lets idle sweeps, task schedules and certificate checks
// run against a controllable time source in tests.
package clock

import (
	"sync"
	"sync/atomic"
	"time"
)

// Clock reads the current time.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock reads the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time                  { return time.Now() }
func (RealClock) Since(t time.Time) time.Duration { return time.Since(t) }

// MockClock only moves when told to.
type MockClock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewMockClock returns a clock frozen at start.
func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

func (c *MockClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

// Set jumps to t, which may be in the past.
func (c *MockClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *MockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type holder struct{ Clock }

var process atomic.Pointer[holder]

func init() { process.Store(&holder{RealClock{}}) }

// Default returns the process clock used by the package-level helpers.
func Default() Clock { return process.Load().Clock }

// SetDefault swaps the process clock and returns a func restoring the
// previous one. Tests only.
func SetDefault(c Clock) (restore func()) {
	prev := process.Swap(&holder{c})
	return func() { process.Store(prev) }
}

// Now reads the process clock.
func Now() time.Time { return Default().Now() }

// Since measures from t on the process clock.
func Since(t time.Time) time.Duration { return Default().Since(t) }
