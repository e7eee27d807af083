package recording

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrCaptureUnavailable is returned by UnavailableCapture.
var ErrCaptureUnavailable = errors.New("screen capture is not available on this host")

// Descriptor describes the page a recording session starts on.
type Descriptor struct {
	URL     string          `json:"url,omitempty"`
	Title   string          `json:"title,omitempty"`
	TabID   int64           `json:"tabId,omitempty"`
	Options json.RawMessage `json:"options,omitempty"`
}

// Capture is the native capture subsystem. Implementations may block and
// may prompt the OS for permissions, so they are only called once the
// feature flag has been checked.
type Capture interface {
	Start(ctx context.Context, sessionID string, d Descriptor) error
	Stop(ctx context.Context, sessionID string) error
	SyncState(ctx context.Context, sessionID string, state json.RawMessage) error
}

// UnavailableCapture is used when no capture subsystem is linked in.
type UnavailableCapture struct{}

func (UnavailableCapture) Start(context.Context, string, Descriptor) error {
	return ErrCaptureUnavailable
}
func (UnavailableCapture) Stop(context.Context, string) error { return ErrCaptureUnavailable }
func (UnavailableCapture) SyncState(context.Context, string, json.RawMessage) error {
	return ErrCaptureUnavailable
}
