package scheduler

import (
	"context"
	"sync"
	"time"
)

// Handle is a one-shot delayed task owned by whoever scheduled it.
// Cancelling the handle (or the parent context) before the delay elapses
// guarantees the function never runs.
type Handle struct {
	name   string
	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	fired bool
}

// After schedules fn to run once after d. fn receives a context that is
// cancelled when the handle is cancelled.
func After(parent context.Context, d time.Duration, name string, fn func(ctx context.Context)) *Handle {
	ctx, cancel := context.WithCancel(parent)
	h := &Handle{
		name:   name,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	h.timer = time.AfterFunc(d, func() {
		defer close(h.done)
		h.mu.Lock()
		if ctx.Err() != nil {
			h.mu.Unlock()
			return
		}
		h.fired = true
		h.mu.Unlock()
		fn(ctx)
	})

	// Parent cancellation stops a pending timer.
	go func() {
		select {
		case <-ctx.Done():
			if h.timer.Stop() {
				close(h.done)
			}
		case <-h.done:
		}
	}()

	return h
}

// Name returns the label given at scheduling time.
func (h *Handle) Name() string { return h.name }

// Cancel prevents a pending run. It is a no-op once the task has fired,
// apart from cancelling the context passed to fn.
func (h *Handle) Cancel() {
	h.cancel()
}

// Fired reports whether fn started.
func (h *Handle) Fired() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

// Done is closed once fn returns or the handle is cancelled before firing.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}
