// Package protocol defines the JSON messages exchanged with extension
// clients. Every frame is one JSON object whose "type" field selects the
// variant; inbound frames decode into a closed set of Inbound types.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType is the discriminator carried in the "type" field.
type MessageType string

// Host -> client
const (
	MsgSourcesInitial             MessageType = "sourcesInitial"
	MsgSourcesUpdated             MessageType = "sourcesUpdated"
	MsgRulesUpdate                MessageType = "rules-update"
	MsgVideoRecordingStateChanged MessageType = "videoRecordingStateChanged"
	MsgRecordingHotkeyChanged     MessageType = "recordingHotkeyChanged"
	MsgVideoRecordingStatus       MessageType = "videoRecordingStatus"
	MsgNetworkStateInitial        MessageType = "network-state-initial"
	MsgNetworkStateUpdate         MessageType = "network-state-update"
)

// Client -> host
const (
	MsgRequestSources         MessageType = "requestSources"
	MsgRequestRules           MessageType = "requestRules"
	MsgGetVideoRecordingState MessageType = "getVideoRecordingState"
	MsgGetRecordingHotkey     MessageType = "getRecordingHotkey"
	MsgToggleRule             MessageType = "toggleRule"
	MsgToggleAllRules         MessageType = "toggleAllRules"
	MsgSaveRecording          MessageType = "saveRecording"
	MsgSaveWorkflow           MessageType = "saveWorkflow"
	MsgFocusApp               MessageType = "focusApp"
	MsgStartSyncRecording     MessageType = "startSyncRecording"
	MsgStopSyncRecording      MessageType = "stopSyncRecording"
	MsgRecordingStateSync     MessageType = "recordingStateSync"
)

var (
	// ErrMalformed means the frame is not a JSON object with a string type.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownMessage means the type is not one the host accepts.
	ErrUnknownMessage = errors.New("unknown message type")
	// ErrInvalidPayload means the variant failed validation.
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Error describes why an inbound frame was rejected.
type Error struct {
	Type MessageType
	Err  error
}

func (e *Error) Error() string {
	if e.Type == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Inbound is implemented by every client -> host variant.
type Inbound interface {
	Kind() MessageType
	Validate() error
	inbound()
}

type envelope struct {
	Type MessageType `json:"type"`
}

// Decode parses and validates one inbound frame.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &Error{Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if env.Type == "" {
		return nil, &Error{Err: fmt.Errorf("%w: missing type", ErrMalformed)}
	}

	msg := newInbound(env.Type)
	if msg == nil {
		return nil, &Error{Type: env.Type, Err: ErrUnknownMessage}
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &Error{Type: env.Type, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	if err := msg.Validate(); err != nil {
		return nil, &Error{Type: env.Type, Err: fmt.Errorf("%w: %v", ErrInvalidPayload, err)}
	}
	return msg, nil
}

func newInbound(t MessageType) Inbound {
	switch t {
	case MsgRequestSources:
		return &RequestSources{}
	case MsgRequestRules:
		return &RequestRules{}
	case MsgGetVideoRecordingState:
		return &GetVideoRecordingState{}
	case MsgGetRecordingHotkey:
		return &GetRecordingHotkey{}
	case MsgToggleRule:
		return &ToggleRule{}
	case MsgToggleAllRules:
		return &ToggleAllRules{}
	case MsgSaveRecording, MsgSaveWorkflow:
		return &SaveRecording{}
	case MsgFocusApp:
		return &FocusApp{}
	case MsgStartSyncRecording:
		return &StartSyncRecording{}
	case MsgStopSyncRecording:
		return &StopSyncRecording{}
	case MsgRecordingStateSync:
		return &RecordingStateSync{}
	}
	return nil
}

// Encode marshals an outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
