// Package recording relays screen-recording requests between extension
// clients and the native capture subsystem, gated by the recording
// feature flag.
package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"grimm.is/tether/internal/events"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/protocol"
)

// Replier is the connection a status is relayed back to.
type Replier interface {
	SendMessage(msg any) error
}

// Broadcaster fans a message out to every ready client.
type Broadcaster interface {
	BroadcastMessage(ctx context.Context, msgType protocol.MessageType, msg any) (int, error)
}

// Status is the outcome of a start or stop request.
type Status struct {
	RecordingID string
	Status      protocol.RecordingStatus
	Error       string
}

// Options configures a Coordinator.
type Options struct {
	Capture     Capture
	Broadcaster Broadcaster
	Events      *events.Hub
	Metrics     *metrics.Registry
	Logger      *logging.Logger
}

// Coordinator holds the feature flag and hotkey; it keeps no session state
// of its own.
type Coordinator struct {
	capture     Capture
	broadcaster Broadcaster
	events      *events.Hub
	metrics     *metrics.Registry
	logger      *logging.Logger

	enabled atomic.Bool

	hotkeyMu      sync.RWMutex
	hotkey        string
	hotkeyEnabled bool
}

// New creates a coordinator with recording disabled.
func New(opts Options) *Coordinator {
	if opts.Capture == nil {
		opts.Capture = UnavailableCapture{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	return &Coordinator{
		capture:     opts.Capture,
		broadcaster: opts.Broadcaster,
		events:      opts.Events,
		metrics:     opts.Metrics,
		logger:      opts.Logger.WithComponent("recording"),
	}
}

// Enabled reports the feature flag.
func (c *Coordinator) Enabled() bool {
	return c.enabled.Load()
}

// Hotkey returns the configured hotkey.
func (c *Coordinator) Hotkey() (string, bool) {
	c.hotkeyMu.RLock()
	defer c.hotkeyMu.RUnlock()
	return c.hotkey, c.hotkeyEnabled
}

// SetEnabled updates the feature flag and notifies every ready client.
func (c *Coordinator) SetEnabled(ctx context.Context, enabled bool) error {
	if c.enabled.Swap(enabled) == enabled {
		return nil
	}
	c.logger.Info("recording feature flag changed", "enabled", enabled)
	return c.broadcast(ctx, protocol.MsgVideoRecordingStateChanged, protocol.NewVideoRecordingStateChanged(enabled))
}

// SetHotkey updates the hotkey and notifies every ready client.
func (c *Coordinator) SetHotkey(ctx context.Context, hotkey string, enabled bool) error {
	c.hotkeyMu.Lock()
	changed := c.hotkey != hotkey || c.hotkeyEnabled != enabled
	c.hotkey, c.hotkeyEnabled = hotkey, enabled
	c.hotkeyMu.Unlock()
	if !changed {
		return nil
	}
	return c.broadcast(ctx, protocol.MsgRecordingHotkeyChanged, protocol.NewRecordingHotkeyChanged(hotkey, enabled))
}

func (c *Coordinator) broadcast(ctx context.Context, t protocol.MessageType, msg any) error {
	if c.broadcaster == nil {
		return nil
	}
	_, err := c.broadcaster.BroadcastMessage(ctx, t, msg)
	return err
}

// SendState writes the feature flag and hotkey to one client.
func (c *Coordinator) SendState(_ context.Context, to Replier) error {
	if err := to.SendMessage(protocol.NewVideoRecordingStateChanged(c.Enabled())); err != nil {
		return err
	}
	return c.SendHotkey(to)
}

// SendEnabled writes the feature flag to one client.
func (c *Coordinator) SendEnabled(to Replier) error {
	return to.SendMessage(protocol.NewVideoRecordingStateChanged(c.Enabled()))
}

// SendHotkey writes the hotkey to one client.
func (c *Coordinator) SendHotkey(to Replier) error {
	hotkey, enabled := c.Hotkey()
	return to.SendMessage(protocol.NewRecordingHotkeyChanged(hotkey, enabled))
}

// Start asks the capture subsystem to begin a session and relays the
// result to the requester. With the feature off it answers disabled
// without touching the capture subsystem.
func (c *Coordinator) Start(ctx context.Context, from Replier, sessionID string, d Descriptor) Status {
	if !c.Enabled() {
		return c.relay(from, "start", Status{RecordingID: sessionID, Status: protocol.RecordingDisabled})
	}

	st := Status{RecordingID: sessionID, Status: protocol.RecordingStarted}
	if err := c.capture.Start(ctx, sessionID, d); err != nil {
		c.logger.Warn("capture start failed", "session", sessionID, "error", err)
		st = Status{RecordingID: sessionID, Status: protocol.RecordingError, Error: err.Error()}
	}
	return c.relay(from, "start", st)
}

// Stop asks the capture subsystem to end a session and relays the result.
func (c *Coordinator) Stop(ctx context.Context, from Replier, sessionID string) Status {
	st := Status{RecordingID: sessionID, Status: protocol.RecordingStopped}
	if err := c.capture.Stop(ctx, sessionID); err != nil {
		c.logger.Warn("capture stop failed", "session", sessionID, "error", err)
		st = Status{RecordingID: sessionID, Status: protocol.RecordingError, Error: err.Error()}
	}
	return c.relay(from, "stop", st)
}

// SyncState passes extension-side session state to the capture subsystem.
func (c *Coordinator) SyncState(ctx context.Context, sessionID string, state json.RawMessage) error {
	if err := c.capture.SyncState(ctx, sessionID, state); err != nil {
		c.logger.Debug("capture state sync failed", "session", sessionID, "error", err)
		return fmt.Errorf("sync recording %s: %w", sessionID, err)
	}
	return nil
}

func (c *Coordinator) relay(to Replier, op string, st Status) Status {
	if c.metrics != nil {
		c.metrics.RecordRecording(op, string(st.Status))
	}
	c.events.EmitRecordingStatus(connID(to), events.RecordingStatusData{
		RecordingID: st.RecordingID,
		Op:          op,
		Status:      string(st.Status),
		Error:       st.Error,
	})
	if to == nil {
		return st
	}
	if err := to.SendMessage(protocol.NewVideoRecordingStatus(st.RecordingID, st.Status, st.Error)); err != nil {
		c.logger.Debug("recording status not delivered", "session", st.RecordingID, "error", err)
	}
	return st
}

type identified interface {
	ConnID() string
}

func connID(r Replier) string {
	if id, ok := r.(identified); ok {
		return id.ConnID()
	}
	return ""
}
