// Package scheduler runs the host's periodic jobs (liveness sweeps, status
// publishing) and owns one-shot delayed tasks such as listener restarts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/logging"
)

// DefaultResolution is how often due tasks are checked.
const DefaultResolution = time.Second

// TaskFunc performs one run of a task. ctx is cancelled when the run
// exceeds the task timeout or the scheduler stops.
type TaskFunc func(ctx context.Context) error

// Task is a job run every Interval.
type Task struct {
	ID         string
	Name       string
	Interval   time.Duration
	Func       TaskFunc
	RunOnStart bool
	// Timeout bounds one run; zero means Interval.
	Timeout time.Duration
}

// TaskStatus reports one task.
type TaskStatus struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Interval     time.Duration `json:"interval"`
	LastRun      time.Time     `json:"last_run,omitempty"`
	LastDuration time.Duration `json:"last_duration,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	NextRun      time.Time     `json:"next_run,omitempty"`
	RunCount     int64         `json:"run_count"`
	ErrorCount   int64         `json:"error_count"`
}

// Scheduler runs interval tasks. A task never overlaps itself: a run that
// is still in flight when the task comes due again is skipped.
type Scheduler struct {
	logger     *logging.Logger
	clock      clock.Clock
	resolution time.Duration

	mu      sync.Mutex
	tasks   map[string]*taskEntry
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	// stopping blocks new runs while Stop waits for in-flight ones.
	stopping bool
	wg       sync.WaitGroup
}

type taskEntry struct {
	task     Task
	status   TaskStatus
	inFlight bool
}

// New creates a stopped scheduler. A nil clock uses the process clock.
func New(logger *logging.Logger, c clock.Clock) *Scheduler {
	if logger == nil {
		logger = logging.Default()
	}
	if c == nil {
		c = clock.Default()
	}
	return &Scheduler{
		logger:     logger.WithComponent("scheduler"),
		clock:      c,
		resolution: DefaultResolution,
		tasks:      make(map[string]*taskEntry),
	}
}

// SetResolution changes how often due tasks are checked. Call before Start.
func (s *Scheduler) SetResolution(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d > 0 {
		s.resolution = d
	}
}

// AddTask registers a task. Its first run is one interval from now, or
// at Start when RunOnStart is set.
func (s *Scheduler) AddTask(task *Task) error {
	switch {
	case task == nil || task.ID == "":
		return errors.New("task ID is required")
	case task.Interval <= 0:
		return fmt.Errorf("task %s: interval must be positive", task.ID)
	case task.Func == nil:
		return fmt.Errorf("task %s: function is required", task.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	s.tasks[task.ID] = &taskEntry{
		task: *task,
		status: TaskStatus{
			ID:       task.ID,
			Name:     task.Name,
			Interval: task.Interval,
			NextRun:  s.clock.Now().Add(task.Interval),
		},
	}
	s.logger.Debug("task added", "id", task.ID, "interval", task.Interval)
	return nil
}

// RunTask runs a task now, unless a run is already in flight.
func (s *Scheduler) RunTask(id string) error {
	s.mu.Lock()
	entry, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("task %s not found", id)
	}
	started := s.claimLocked(entry)
	s.mu.Unlock()

	if started {
		go s.execute(entry)
	}
	return nil
}

// Status returns every task, sorted by ID.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, entry := range s.tasks {
		out = append(out, entry.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TaskStatus returns one task's status.
func (s *Scheduler) TaskStatus(id string) (TaskStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[id]
	if !ok {
		return TaskStatus{}, false
	}
	return entry.status, true
}

// Start begins running due tasks.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.stopping = false

	var onStart []*taskEntry
	for _, entry := range s.tasks {
		if entry.task.RunOnStart && s.claimLocked(entry) {
			onStart = append(onStart, entry)
		}
	}
	ctx, resolution := s.ctx, s.resolution
	s.mu.Unlock()

	s.logger.Info("scheduler started", "tasks", len(s.Status()))
	for _, entry := range onStart {
		go s.execute(entry)
	}
	go s.loop(ctx, resolution)
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.stopping = true
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether Start has been called without Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, resolution time.Duration) {
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runDue(s.clock.Now())
		}
	}
}

// runDue starts every task whose next run is not after now.
func (s *Scheduler) runDue(now time.Time) {
	s.mu.Lock()
	var due []*taskEntry
	for _, entry := range s.tasks {
		if !now.Before(entry.status.NextRun) && s.claimLocked(entry) {
			due = append(due, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range due {
		go s.execute(entry)
	}
}

// claimLocked marks entry in flight. It reports false if a run is
// already in progress or the scheduler is stopping.
func (s *Scheduler) claimLocked(entry *taskEntry) bool {
	if entry.inFlight || s.stopping {
		return false
	}
	entry.inFlight = true
	s.wg.Add(1)
	return true
}

func (s *Scheduler) execute(entry *taskEntry) {
	defer s.wg.Done()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	timeout := entry.task.Timeout
	if timeout <= 0 {
		timeout = entry.task.Interval
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := s.clock.Now()
	err := entry.task.Func(ctx)
	duration := s.clock.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()
	entry.inFlight = false
	st := &entry.status
	st.LastRun = start
	st.LastDuration = duration
	st.RunCount++
	st.NextRun = s.clock.Now().Add(entry.task.Interval)
	if err != nil {
		st.LastError = err.Error()
		st.ErrorCount++
		s.logger.Warn("task failed", "id", entry.task.ID, "error", err, "duration", duration)
		return
	}
	st.LastError = ""
	s.logger.Debug("task completed", "id", entry.task.ID, "duration", duration)
}
