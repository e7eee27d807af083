// Package health aggregates component checks into one report served on
// the diagnostic /health route.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"grimm.is/tether/internal/clock"
)

// Status is a component or overall health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Worse returns the more severe of s and other.
func (s Status) Worse(other Status) Status {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Check is one component's result.
type Check struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// Report is the aggregate served on /health.
type Report struct {
	Status    Status           `json:"status"`
	Checks    map[string]Check `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// Names returns the check names in sorted order.
func (r Report) Names() []string {
	names := make([]string, 0, len(r.Checks))
	for name := range r.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckFunc computes one component's status. Name, LastChecked and
// Duration are filled in by the Checker.
type CheckFunc func(ctx context.Context) Check

// Checker runs registered checks and caches the report for a short TTL so
// a polling UI does not hammer the filesystem probe.
type Checker struct {
	ttl   time.Duration
	clock clock.Clock

	mu     sync.RWMutex
	checks map[string]CheckFunc
	cached *Report
}

// NewChecker creates a checker that caches reports for ttl.
func NewChecker(ttl time.Duration) *Checker {
	return &Checker{
		ttl:    ttl,
		clock:  clock.Default(),
		checks: make(map[string]CheckFunc),
	}
}

// SetClock replaces the time source used for caching and timings.
func (c *Checker) SetClock(clk clock.Clock) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if clk != nil {
		c.clock = clk
		c.cached = nil
	}
}

// Register adds or replaces a named check and drops the cached report.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
	c.cached = nil
}

// Check returns the cached report if it is fresh, otherwise runs every
// check concurrently.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	clk := c.clock
	if c.cached != nil && clk.Since(c.cached.Timestamp) < c.ttl {
		report := *c.cached
		c.mu.RUnlock()
		return report
	}
	funcs := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		funcs[name] = fn
	}
	c.mu.RUnlock()

	report := Report{
		Status: StatusHealthy,
		Checks: make(map[string]Check, len(funcs)),
	}
	var mu sync.Mutex
	var g errgroup.Group
	for name, fn := range funcs {
		g.Go(func() error {
			start := clk.Now()
			check := fn(ctx)
			check.Name = name
			check.LastChecked = start
			check.Duration = clk.Since(start)

			mu.Lock()
			report.Checks[name] = check
			report.Status = report.Status.Worse(check.Status)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	report.Timestamp = clk.Now()

	c.mu.Lock()
	c.cached = &report
	c.mu.Unlock()
	return report
}

// Handler serves the report as JSON. Unhealthy reports get 503.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := c.Check(ctx)
		code := http.StatusOK
		if report.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(report)
	}
}
