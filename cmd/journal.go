package cmd

import (
	"context"

	"grimm.is/tether/internal/events"
	"grimm.is/tether/internal/logging"
)

// journalEvents logs hub traffic until ctx is done or sub is closed.
// Standalone, the CLI is the owning application, so client actions that
// would normally be handled upstream end up in the log.
func journalEvents(ctx context.Context, sub *events.Subscription, logger *logging.Logger) {
	logger = logger.WithComponent("journal")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			logEvent(logger, e)
		}
	}
}

func logEvent(logger *logging.Logger, e events.Event) {
	switch d := e.Data.(type) {
	case events.ToggleRuleData:
		logger.Info("rule toggle requested", "conn", e.ConnID, "rules", d.RuleIDs, "enabled", d.Enabled, "all", e.Type == events.EventToggleAllRules)
	case events.SaveRecordingData:
		logger.Info("recording submitted", "conn", e.ConnID, "workflow", e.Type == events.EventSaveWorkflow, "bytes", len(d.Recording))
	case events.FocusAppData:
		logger.Info("focus requested", "conn", e.ConnID, "navigation", string(d.Navigation))
	case events.RecordingStatusData:
		logger.Info("capture "+d.Op, "conn", e.ConnID, "recording", d.RecordingID, "status", d.Status, "error", d.Error)
	case events.ListenerData:
		logger.Debug("listener "+d.State, "transport", d.Transport, "addr", d.Addr, "error", d.Error)
	case events.SummaryData:
		logger.Debug("clients", "total", d.Total, "ready", d.Ready)
	case events.ConnectionData:
		logger.Debug(string(e.Type), "conn", d.ID, "transport", d.Transport, "client", d.Client, "reason", d.Reason)
	default:
		logger.Debug("event", "type", e.Type, "source", e.Source)
	}
}
