package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_Variants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want MessageType
	}{
		{"request sources", `{"type":"requestSources"}`, MsgRequestSources},
		{"request rules", `{"type":"requestRules"}`, MsgRequestRules},
		{"recording state", `{"type":"getVideoRecordingState"}`, MsgGetVideoRecordingState},
		{"hotkey", `{"type":"getRecordingHotkey"}`, MsgGetRecordingHotkey},
		{"toggle rule", `{"type":"toggleRule","ruleId":"r1","enabled":false}`, MsgToggleRule},
		{"toggle all", `{"type":"toggleAllRules","ruleIds":["a","b"],"enabled":true}`, MsgToggleAllRules},
		{"save recording", `{"type":"saveRecording","recording":{"events":[]}}`, MsgSaveRecording},
		{"save workflow", `{"type":"saveWorkflow","recording":{"steps":[1]}}`, MsgSaveWorkflow},
		{"focus app", `{"type":"focusApp","navigation":{"tab":"rules"}}`, MsgFocusApp},
		{"focus app bare", `{"type":"focusApp"}`, MsgFocusApp},
		{"start", `{"type":"startSyncRecording","recordingId":"s1","url":"https://example.test"}`, MsgStartSyncRecording},
		{"stop", `{"type":"stopSyncRecording","recordingId":"s1"}`, MsgStopSyncRecording},
		{"sync", `{"type":"recordingStateSync","recordingId":"s1","state":{"paused":true}}`, MsgRecordingStateSync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind())
		})
	}
}

func TestDecode_ToggleRuleFields(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"toggleRule","ruleId":"r1","enabled":false}`))
	require.NoError(t, err)

	toggle, ok := msg.(*ToggleRule)
	require.True(t, ok)
	assert.Equal(t, "r1", toggle.RuleID)
	require.NotNil(t, toggle.Enabled)
	assert.False(t, *toggle.Enabled)
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrMalformed},
		{"array", `[1,2]`, ErrMalformed},
		{"missing type", `{"ruleId":"x"}`, ErrMalformed},
		{"non-string type", `{"type":5}`, ErrMalformed},
		{"unknown", `{"type":"rules-update"}`, ErrUnknownMessage},
		{"toggle without id", `{"type":"toggleRule","enabled":true}`, ErrInvalidPayload},
		{"toggle without enabled", `{"type":"toggleRule","ruleId":"r"}`, ErrInvalidPayload},
		{"toggle all empty", `{"type":"toggleAllRules","ruleIds":[],"enabled":true}`, ErrInvalidPayload},
		{"toggle all blank id", `{"type":"toggleAllRules","ruleIds":[""],"enabled":true}`, ErrInvalidPayload},
		{"save without recording", `{"type":"saveRecording"}`, ErrInvalidPayload},
		{"save null recording", `{"type":"saveWorkflow","recording":null}`, ErrInvalidPayload},
		{"start without id", `{"type":"startSyncRecording"}`, ErrInvalidPayload},
		{"wrong field type", `{"type":"toggleRule","ruleId":7,"enabled":true}`, ErrInvalidPayload},
		{"sync without state", `{"type":"recordingStateSync","recordingId":"s"}`, ErrInvalidPayload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			var perr *Error
			assert.True(t, errors.As(err, &perr))
		})
	}
}

func TestOutbound_WireShape(t *testing.T) {
	data, err := Encode(NewSourcesMessage(nil, true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sourcesInitial","sources":[]}`, string(data))

	data, err = Encode(NewVideoRecordingStatus("s1", RecordingDisabled, ""))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"videoRecordingStatus","recordingId":"s1","status":"disabled"}`, string(data))

	data, err = Encode(NewNetworkStateMessage(NetworkState{IsOnline: true, Timestamp: 10}, false))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"network-state-update","networkState":{"isOnline":true,"vpnActive":false,"timestamp":10}}`, string(data))

	data, err = Encode(NewRecordingHotkeyChanged("CommandOrControl+Shift+R", true))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"recordingHotkeyChanged","hotkey":"CommandOrControl+Shift+R","enabled":true}`, string(data))
}

func TestRuleSet_CloneIsDeep(t *testing.T) {
	rs := RuleSet{Header: []Rule{{ID: "a", Domains: []string{"x.test"}}}}
	cp := rs.Clone()
	cp.Header[0].Domains[0] = "changed"

	assert.Equal(t, "x.test", rs.Header[0].Domains[0])
	assert.NotNil(t, cp.Request)

	data, err := json.Marshal(cp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"request":[]`)
}
