package scheduler

import (
	"context"
	"errors"
	"time"
)

// Sweeper evicts idle connections. Implemented by the client registry.
type Sweeper interface {
	SweepIdle() []string
}

// NewLivenessSweepTask creates the periodic idle-connection sweep.
func NewLivenessSweepTask(sweeper Sweeper, interval time.Duration) *Task {
	return &Task{
		ID:       "liveness-sweep",
		Name:     "Close connections idle past the threshold",
		Interval: interval,
		Func: func(ctx context.Context) error {
			if sweeper == nil {
				return errors.New("sweeper not configured")
			}
			sweeper.SweepIdle()
			return nil
		},
	}
}

// NewStatusPublishTask creates a task that periodically republishes the
// connection summary so the owning application's display never goes stale.
func NewStatusPublishTask(publish func(ctx context.Context) error, interval time.Duration) *Task {
	return &Task{
		ID:         "status-publish",
		Name:       "Publish connection summary",
		Interval:   interval,
		RunOnStart: true,
		Func: func(ctx context.Context) error {
			if publish == nil {
				return errors.New("publish function not configured")
			}
			return publish(ctx)
		},
	}
}
