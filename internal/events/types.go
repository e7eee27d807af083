// Package events provides the pub/sub bus through which the host reports
// to its owning application: connection status, listener state,
// recording status and pass-through client actions.
package events

import (
	"encoding/json"
	"time"
)

// EventType identifies the category of event.
type EventType string

const (
	// Connection events
	EventConnectionOpened  EventType = "connection.opened"
	EventConnectionReady   EventType = "connection.ready"
	EventConnectionClosed  EventType = "connection.closed"
	EventConnectionSummary EventType = "connection.summary"

	// Transport events
	EventListenerState EventType = "transport.listener"

	// Recording events
	EventRecordingStatus EventType = "recording.status"

	// Pass-through client actions, handled by the owning application
	EventToggleRule     EventType = "action.toggle_rule"
	EventToggleAllRules EventType = "action.toggle_all_rules"
	EventFocusApp       EventType = "action.focus_app"
	EventSaveRecording  EventType = "action.save_recording"
	EventSaveWorkflow   EventType = "action.save_workflow"
)

// Event is the core message passed through the event bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // Component that emitted: "registry", "transport", ...
	ConnID    string    `json:"conn_id,omitempty"`
	Data      any       `json:"data"`
}

// ConnectionData is the payload for connection lifecycle events.
type ConnectionData struct {
	ID        string `json:"id"`
	Transport string `json:"transport"`
	Client    string `json:"client,omitempty"`
	Version   string `json:"version,omitempty"`
	Platform  string `json:"platform,omitempty"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
}

// SummaryData is the payload for EventConnectionSummary.
type SummaryData struct {
	Total       int              `json:"total"`
	Ready       int              `json:"ready"`
	ByTransport map[string]int   `json:"by_transport"`
	Clients     []ConnectionData `json:"clients"`
}

// ListenerData is the payload for EventListenerState.
type ListenerData struct {
	Transport string `json:"transport"`
	State     string `json:"state"`
	Addr      string `json:"addr,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RecordingStatusData is the payload for EventRecordingStatus.
type RecordingStatusData struct {
	RecordingID string `json:"recording_id"`
	Op          string `json:"op"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
}

// ToggleRuleData is the payload for EventToggleRule and EventToggleAllRules.
type ToggleRuleData struct {
	RuleIDs []string `json:"rule_ids"`
	Enabled bool     `json:"enabled"`
}

// FocusAppData is the payload for EventFocusApp.
type FocusAppData struct {
	Navigation json.RawMessage `json:"navigation,omitempty"`
}

// SaveRecordingData is the payload for EventSaveRecording and EventSaveWorkflow.
type SaveRecordingData struct {
	Recording json.RawMessage `json:"recording"`
}
