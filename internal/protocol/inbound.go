package protocol

import (
	"encoding/json"
	"errors"
)

// RequestSources asks for the current source list.
type RequestSources struct {
	Type MessageType `json:"type"`
}

func (*RequestSources) Kind() MessageType { return MsgRequestSources }
func (*RequestSources) Validate() error   { return nil }
func (*RequestSources) inbound()          {}

// RequestRules asks for the current resolved rule set.
type RequestRules struct {
	Type MessageType `json:"type"`
}

func (*RequestRules) Kind() MessageType { return MsgRequestRules }
func (*RequestRules) Validate() error   { return nil }
func (*RequestRules) inbound()          {}

// GetVideoRecordingState asks for the recording feature flag.
type GetVideoRecordingState struct {
	Type MessageType `json:"type"`
}

func (*GetVideoRecordingState) Kind() MessageType { return MsgGetVideoRecordingState }
func (*GetVideoRecordingState) Validate() error   { return nil }
func (*GetVideoRecordingState) inbound()          {}

// GetRecordingHotkey asks for the configured recording hotkey.
type GetRecordingHotkey struct {
	Type MessageType `json:"type"`
}

func (*GetRecordingHotkey) Kind() MessageType { return MsgGetRecordingHotkey }
func (*GetRecordingHotkey) Validate() error   { return nil }
func (*GetRecordingHotkey) inbound()          {}

// ToggleRule requests enabling or disabling one rule.
type ToggleRule struct {
	Type    MessageType `json:"type"`
	RuleID  string      `json:"ruleId"`
	Enabled *bool       `json:"enabled"`
}

func (*ToggleRule) Kind() MessageType { return MsgToggleRule }
func (*ToggleRule) inbound()          {}

func (m *ToggleRule) Validate() error {
	if m.RuleID == "" {
		return errors.New("ruleId is required")
	}
	if m.Enabled == nil {
		return errors.New("enabled is required")
	}
	return nil
}

// ToggleAllRules requests enabling or disabling a group of rules.
type ToggleAllRules struct {
	Type    MessageType `json:"type"`
	RuleIDs []string    `json:"ruleIds"`
	Enabled *bool       `json:"enabled"`
}

func (*ToggleAllRules) Kind() MessageType { return MsgToggleAllRules }
func (*ToggleAllRules) inbound()          {}

func (m *ToggleAllRules) Validate() error {
	if len(m.RuleIDs) == 0 {
		return errors.New("ruleIds must not be empty")
	}
	for _, id := range m.RuleIDs {
		if id == "" {
			return errors.New("ruleIds must not contain empty ids")
		}
	}
	if m.Enabled == nil {
		return errors.New("enabled is required")
	}
	return nil
}

// SaveRecording carries a finished recording or workflow. Both wire
// types decode here; Type tells them apart.
type SaveRecording struct {
	Type      MessageType     `json:"type"`
	Recording json.RawMessage `json:"recording"`
}

func (m *SaveRecording) Kind() MessageType { return m.Type }
func (*SaveRecording) inbound()            {}

func (m *SaveRecording) Validate() error {
	if len(m.Recording) == 0 || string(m.Recording) == "null" {
		return errors.New("recording is required")
	}
	return nil
}

// FocusApp asks the owning application to come to the foreground.
type FocusApp struct {
	Type       MessageType     `json:"type"`
	Navigation json.RawMessage `json:"navigation,omitempty"`
}

func (*FocusApp) Kind() MessageType { return MsgFocusApp }
func (*FocusApp) Validate() error   { return nil }
func (*FocusApp) inbound()          {}

// StartSyncRecording asks the capture subsystem to start recording.
type StartSyncRecording struct {
	Type        MessageType     `json:"type"`
	RecordingID string          `json:"recordingId"`
	URL         string          `json:"url,omitempty"`
	Title       string          `json:"title,omitempty"`
	TabID       int64           `json:"tabId,omitempty"`
	Options     json.RawMessage `json:"options,omitempty"`
}

func (*StartSyncRecording) Kind() MessageType { return MsgStartSyncRecording }
func (*StartSyncRecording) inbound()          {}

func (m *StartSyncRecording) Validate() error {
	if m.RecordingID == "" {
		return errors.New("recordingId is required")
	}
	return nil
}

// StopSyncRecording asks the capture subsystem to stop recording.
type StopSyncRecording struct {
	Type        MessageType `json:"type"`
	RecordingID string      `json:"recordingId"`
}

func (*StopSyncRecording) Kind() MessageType { return MsgStopSyncRecording }
func (*StopSyncRecording) inbound()          {}

func (m *StopSyncRecording) Validate() error {
	if m.RecordingID == "" {
		return errors.New("recordingId is required")
	}
	return nil
}

// RecordingStateSync relays extension-side session state to the capture subsystem.
type RecordingStateSync struct {
	Type        MessageType     `json:"type"`
	RecordingID string          `json:"recordingId"`
	State       json.RawMessage `json:"state"`
}

func (*RecordingStateSync) Kind() MessageType { return MsgRecordingStateSync }
func (*RecordingStateSync) inbound()          {}

func (m *RecordingStateSync) Validate() error {
	if m.RecordingID == "" {
		return errors.New("recordingId is required")
	}
	if len(m.State) == 0 || string(m.State) == "null" {
		return errors.New("state is required")
	}
	return nil
}
