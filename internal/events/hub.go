package events

import (
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the subscription buffer used when none is given.
const DefaultBuffer = 256

// Hub fans events out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses events; the loss is counted.
// A nil *Hub accepts and discards every publish.
type Hub struct {
	mu   sync.RWMutex
	subs []*Subscription

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Subscription is one consumer's view of the hub.
type Subscription struct {
	// C delivers matching events. It is closed by Close.
	C <-chan Event

	ch      chan Event
	types   []EventType
	hub     *Hub
	closed  bool
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe registers a consumer for the given types, or every type when
// none are given.
func (h *Hub) Subscribe(buffer int, types ...EventType) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, types: slices.Clone(types), hub: h}

	h.mu.Lock()
	h.subs = append(h.subs, sub)
	h.mu.Unlock()
	return sub
}

// Publish stamps e if needed and offers it to every matching subscriber.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	h.published.Add(1)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if !sub.wants(e.Type) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
			h.dropped.Add(1)
		}
	}
}

// Stats reports how many events were published and how many deliveries
// were dropped on full subscribers.
func (h *Hub) Stats() (published, dropped uint64) {
	return h.published.Load(), h.dropped.Load()
}

func (s *Subscription) wants(t EventType) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Dropped counts events this subscriber missed.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close detaches the subscription and closes C. It is safe to call twice.
func (s *Subscription) Close() {
	h := s.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	h.subs = slices.DeleteFunc(h.subs, func(other *Subscription) bool { return other == s })
	close(s.ch)
}

// EmitConnection publishes a connection lifecycle event.
func (h *Hub) EmitConnection(t EventType, data ConnectionData) {
	h.Publish(Event{Type: t, Source: "registry", ConnID: data.ID, Data: data})
}

// EmitSummary publishes the connection-count summary.
func (h *Hub) EmitSummary(data SummaryData) {
	h.Publish(Event{Type: EventConnectionSummary, Source: "registry", Data: data})
}

// EmitListener publishes a listener state change.
func (h *Hub) EmitListener(data ListenerData) {
	h.Publish(Event{Type: EventListenerState, Source: "transport", Data: data})
}

// EmitRecordingStatus publishes a capture session outcome.
func (h *Hub) EmitRecordingStatus(connID string, data RecordingStatusData) {
	h.Publish(Event{Type: EventRecordingStatus, Source: "recording", ConnID: connID, Data: data})
}

// EmitToggle publishes a rule toggle request. all selects the toggle-all
// variant.
func (h *Hub) EmitToggle(connID string, ruleIDs []string, enabled, all bool) {
	t := EventToggleRule
	if all {
		t = EventToggleAllRules
	}
	h.Publish(Event{
		Type:   t,
		Source: "client",
		ConnID: connID,
		Data:   ToggleRuleData{RuleIDs: slices.Clone(ruleIDs), Enabled: enabled},
	})
}

// EmitFocusApp publishes a focus-application request.
func (h *Hub) EmitFocusApp(connID string, navigation json.RawMessage) {
	h.Publish(Event{Type: EventFocusApp, Source: "client", ConnID: connID, Data: FocusAppData{Navigation: navigation}})
}

// EmitSave publishes a submitted recording. workflow selects EventSaveWorkflow.
func (h *Hub) EmitSave(connID string, recording json.RawMessage, workflow bool) {
	t := EventSaveRecording
	if workflow {
		t = EventSaveWorkflow
	}
	h.Publish(Event{Type: t, Source: "client", ConnID: connID, Data: SaveRecordingData{Recording: recording}})
}
