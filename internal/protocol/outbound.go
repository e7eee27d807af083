package protocol

// SourcesMessage is sourcesInitial or sourcesUpdated.
type SourcesMessage struct {
	Type    MessageType `json:"type"`
	Sources []Source    `json:"sources"`
}

// NewSourcesMessage builds a sources frame; initial selects the type.
func NewSourcesMessage(sources []Source, initial bool) SourcesMessage {
	t := MsgSourcesUpdated
	if initial {
		t = MsgSourcesInitial
	}
	if sources == nil {
		sources = []Source{}
	}
	return SourcesMessage{Type: t, Sources: sources}
}

// RulesUpdate carries the resolved rule set.
type RulesUpdate struct {
	Type    MessageType `json:"type"`
	Rules   RuleSet     `json:"rules"`
	Version string      `json:"version"`
}

// NewRulesUpdate builds a rules-update frame.
func NewRulesUpdate(rules RuleSet, version string) RulesUpdate {
	return RulesUpdate{Type: MsgRulesUpdate, Rules: rules, Version: version}
}

// VideoRecordingStateChanged carries the recording feature flag.
type VideoRecordingStateChanged struct {
	Type    MessageType `json:"type"`
	Enabled bool        `json:"enabled"`
}

// NewVideoRecordingStateChanged builds the flag frame.
func NewVideoRecordingStateChanged(enabled bool) VideoRecordingStateChanged {
	return VideoRecordingStateChanged{Type: MsgVideoRecordingStateChanged, Enabled: enabled}
}

// RecordingHotkeyChanged carries the recording hotkey.
type RecordingHotkeyChanged struct {
	Type    MessageType `json:"type"`
	Hotkey  string      `json:"hotkey"`
	Enabled bool        `json:"enabled"`
}

// NewRecordingHotkeyChanged builds the hotkey frame.
func NewRecordingHotkeyChanged(hotkey string, enabled bool) RecordingHotkeyChanged {
	return RecordingHotkeyChanged{Type: MsgRecordingHotkeyChanged, Hotkey: hotkey, Enabled: enabled}
}

// VideoRecordingStatus reports the outcome of a start/stop request.
type VideoRecordingStatus struct {
	Type        MessageType     `json:"type"`
	RecordingID string          `json:"recordingId"`
	Status      RecordingStatus `json:"status"`
	Error       string          `json:"error,omitempty"`
}

// NewVideoRecordingStatus builds a status frame.
func NewVideoRecordingStatus(recordingID string, status RecordingStatus, errMsg string) VideoRecordingStatus {
	return VideoRecordingStatus{
		Type:        MsgVideoRecordingStatus,
		RecordingID: recordingID,
		Status:      status,
		Error:       errMsg,
	}
}

// NetworkStateMessage is network-state-initial or network-state-update.
type NetworkStateMessage struct {
	Type         MessageType  `json:"type"`
	NetworkState NetworkState `json:"networkState"`
}

// NewNetworkStateMessage builds a network state frame.
func NewNetworkStateMessage(state NetworkState, initial bool) NetworkStateMessage {
	t := MsgNetworkStateUpdate
	if initial {
		t = MsgNetworkStateInitial
	}
	return NetworkStateMessage{Type: t, NetworkState: state}
}
