package host

import (
	"context"

	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/recording"
	"grimm.is/tether/internal/registry"
)

// dispatch routes one decoded client message. Requests for state are
// answered on the requesting connection only; actions owned by the
// application are published as events.
func (h *Host) dispatch(ctx context.Context, conn *registry.Connection, msg protocol.Inbound) {
	var err error
	switch m := msg.(type) {
	case *protocol.RequestSources:
		err = h.broadcaster.SendSources(ctx, conn, false)
	case *protocol.RequestRules:
		err = h.broadcaster.SendRules(ctx, conn)
	case *protocol.GetVideoRecordingState:
		err = h.recording.SendEnabled(conn)
	case *protocol.GetRecordingHotkey:
		err = h.recording.SendHotkey(conn)
	case *protocol.ToggleRule:
		h.events.EmitToggle(conn.ID, []string{m.RuleID}, *m.Enabled, false)
	case *protocol.ToggleAllRules:
		h.events.EmitToggle(conn.ID, m.RuleIDs, *m.Enabled, true)
	case *protocol.SaveRecording:
		h.events.EmitSave(conn.ID, m.Recording, m.Type == protocol.MsgSaveWorkflow)
	case *protocol.FocusApp:
		h.events.EmitFocusApp(conn.ID, m.Navigation)
	case *protocol.StartSyncRecording:
		// Capture calls may block on OS prompts; keep the read loop moving.
		go h.recording.Start(ctx, conn, m.RecordingID, recording.Descriptor{
			URL:     m.URL,
			Title:   m.Title,
			TabID:   m.TabID,
			Options: m.Options,
		})
	case *protocol.StopSyncRecording:
		go h.recording.Stop(ctx, conn, m.RecordingID)
	case *protocol.RecordingStateSync:
		err = h.recording.SyncState(ctx, m.RecordingID, m.State)
	default:
		h.logger.Warn("unhandled client message", "conn", conn.ID, "type", msg.Kind())
		return
	}
	if err != nil {
		h.logger.Debug("client request failed", "conn", conn.ID, "type", msg.Kind(), "error", err)
	}
}
