// Package broadcast holds the authoritative configuration snapshot,
// resolves it into the deliverable rule set and fans it out to every
// ready connection.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/registry"
)

// snapshot is immutable once published; every Apply builds a new one.
type snapshot struct {
	rules     protocol.RuleSet
	sources   []protocol.Source
	sourceIdx map[string]string
	variables protocol.VariableSnapshot
	network   *protocol.NetworkState

	resolveOnce sync.Once
	resolved    *Deliverable

	sourcesOnce    sync.Once
	sourcesPayload [2][]byte
	sourcesErr     error
}

func (s *snapshot) sourceValue(id string) string {
	return s.sourceIdx[id]
}

// with returns a copy of s sharing unchanged fields. Cached encodings are
// not carried over.
func (s *snapshot) with(fn func(*snapshot)) *snapshot {
	next := &snapshot{
		rules:     s.rules,
		sources:   s.sources,
		sourceIdx: s.sourceIdx,
		variables: s.variables,
		network:   s.network,
	}
	fn(next)
	return next
}

// Deliverable is a fully resolved rule set ready for delivery.
type Deliverable struct {
	Rules   protocol.RuleSet
	Waiting []WaitingRule
	Version string
	// Payload is the encoded rules-update message.
	Payload []byte
	Err     error
}

// Recipients is the set of connections a broadcast targets.
type Recipients interface {
	Ready() []*registry.Connection
}

// Broadcaster owns the configuration snapshot.
type Broadcaster struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex

	// delivered holds, per connection, the snapshot its initial state was
	// read from until Resync has caught it up.
	delivered sync.Map

	recipients Recipients
	logger     *logging.Logger
	metrics    *metrics.Registry
}

type delivery struct {
	snap *snapshot
	stop func() bool
}

// New creates a broadcaster with an empty configuration.
func New(recipients Recipients, logger *logging.Logger, m *metrics.Registry) *Broadcaster {
	if logger == nil {
		logger = logging.Default()
	}
	b := &Broadcaster{
		recipients: recipients,
		logger:     logger.WithComponent("broadcast"),
		metrics:    m,
	}
	b.current.Store(&snapshot{
		rules:     protocol.RuleSet{}.Clone(),
		sources:   []protocol.Source{},
		sourceIdx: map[string]string{},
		variables: protocol.VariableSnapshot{},
	})
	return b
}

func (b *Broadcaster) replace(fn func(*snapshot)) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.current.Store(b.current.Load().with(fn))
}

// Apply replaces both rules and sources in one step.
func (b *Broadcaster) Apply(rules protocol.RuleSet, sources []protocol.Source) {
	rs := rules.Clone()
	src, idx := cloneSources(sources)
	b.replace(func(s *snapshot) {
		s.rules = rs
		s.sources = src
		s.sourceIdx = idx
	})
}

// ApplyRules replaces the rule set.
func (b *Broadcaster) ApplyRules(rules protocol.RuleSet) {
	rs := rules.Clone()
	b.replace(func(s *snapshot) { s.rules = rs })
}

// ApplySources replaces the source list.
func (b *Broadcaster) ApplySources(sources []protocol.Source) {
	src, idx := cloneSources(sources)
	b.replace(func(s *snapshot) {
		s.sources = src
		s.sourceIdx = idx
	})
}

// ApplyVariables replaces the variable snapshot.
func (b *Broadcaster) ApplyVariables(vars protocol.VariableSnapshot) {
	v := vars.Clone()
	b.replace(func(s *snapshot) { s.variables = v })
}

// ApplyNetworkState replaces the network state.
func (b *Broadcaster) ApplyNetworkState(state protocol.NetworkState) {
	ns := state
	b.replace(func(s *snapshot) { s.network = &ns })
}

// Sources returns a copy of the current source list.
func (b *Broadcaster) Sources() []protocol.Source {
	src, _ := cloneSources(b.current.Load().sources)
	return src
}

// Variables returns a copy of the current variable snapshot.
func (b *Broadcaster) Variables() protocol.VariableSnapshot {
	return b.current.Load().variables.Clone()
}

// NetworkState returns the last applied network state.
func (b *Broadcaster) NetworkState() (protocol.NetworkState, bool) {
	ns := b.current.Load().network
	if ns == nil {
		return protocol.NetworkState{}, false
	}
	return *ns, true
}

// Resolve returns the deliverable rule set for the current snapshot.
// The result is computed once per snapshot, so repeated calls without an
// intervening Apply return identical bytes.
func (b *Broadcaster) Resolve() *Deliverable {
	return b.current.Load().resolve()
}

// Waiting lists rules withheld on missing variables.
func (b *Broadcaster) Waiting() []WaitingRule {
	return append([]WaitingRule(nil), b.Resolve().Waiting...)
}

func (s *snapshot) resolve() *Deliverable {
	s.resolveOnce.Do(func() {
		rules, waiting := resolveRules(s)
		d := &Deliverable{Rules: rules, Waiting: waiting}

		encoded, err := json.Marshal(rules)
		if err != nil {
			d.Err = fmt.Errorf("encode rules: %w", err)
			s.resolved = d
			return
		}
		d.Version = strconv.FormatUint(xxhash.Sum64(encoded), 16)
		d.Payload, d.Err = protocol.Encode(protocol.NewRulesUpdate(rules, d.Version))
		s.resolved = d
	})
	return s.resolved
}

func (s *snapshot) sourcesMessage(initial bool) ([]byte, error) {
	s.sourcesOnce.Do(func() {
		for i, init := range []bool{false, true} {
			s.sourcesPayload[i], s.sourcesErr = protocol.Encode(protocol.NewSourcesMessage(s.sources, init))
			if s.sourcesErr != nil {
				return
			}
		}
	})
	if initial {
		return s.sourcesPayload[1], s.sourcesErr
	}
	return s.sourcesPayload[0], s.sourcesErr
}

// Broadcast writes the resolved rules to every ready connection. The
// payload is encoded once and the same bytes go to every recipient. It
// returns the number of connections written.
func (b *Broadcaster) Broadcast(ctx context.Context) (int, error) {
	d := b.Resolve()
	if d.Err != nil {
		return 0, d.Err
	}
	if b.metrics != nil {
		b.metrics.RulesDelivered.Set(float64(d.Rules.Len()))
		b.metrics.RulesWaiting.Set(float64(len(d.Waiting)))
	}
	return b.fanOut(ctx, protocol.MsgRulesUpdate, d.Payload), nil
}

// BroadcastSources writes sourcesUpdated to every ready connection.
func (b *Broadcaster) BroadcastSources(ctx context.Context) (int, error) {
	payload, err := b.current.Load().sourcesMessage(false)
	if err != nil {
		return 0, err
	}
	return b.fanOut(ctx, protocol.MsgSourcesUpdated, payload), nil
}

// BroadcastNetworkState writes network-state-update to every ready
// connection. It is a no-op until a network state has been applied.
func (b *Broadcaster) BroadcastNetworkState(ctx context.Context) (int, error) {
	ns, ok := b.NetworkState()
	if !ok {
		return 0, nil
	}
	payload, err := protocol.Encode(protocol.NewNetworkStateMessage(ns, false))
	if err != nil {
		return 0, err
	}
	return b.fanOut(ctx, protocol.MsgNetworkStateUpdate, payload), nil
}

// BroadcastMessage encodes msg once and writes it to every ready connection.
func (b *Broadcaster) BroadcastMessage(ctx context.Context, msgType protocol.MessageType, msg any) (int, error) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return 0, err
	}
	return b.fanOut(ctx, msgType, payload), nil
}

func (b *Broadcaster) fanOut(ctx context.Context, msgType protocol.MessageType, payload []byte) int {
	if b.recipients == nil {
		return 0
	}
	sent := 0
	for _, conn := range b.recipients.Ready() {
		if ctx.Err() != nil {
			break
		}
		if err := conn.Send(payload); err != nil {
			b.logger.Warn("broadcast send failed", "conn", conn.ID, "type", msgType, "error", err)
			continue
		}
		sent++
	}
	b.metrics.RecordBroadcast(string(msgType), len(payload), sent)
	b.logger.Debug("broadcast", "type", msgType, "recipients", sent, "bytes", len(payload))
	return sent
}

// SendRules writes the resolved rules to one connection.
func (b *Broadcaster) SendRules(_ context.Context, conn *registry.Connection) error {
	d := b.Resolve()
	if d.Err != nil {
		return d.Err
	}
	return conn.Send(d.Payload)
}

// SendSources writes the source list to one connection.
func (b *Broadcaster) SendSources(_ context.Context, conn *registry.Connection, initial bool) error {
	payload, err := b.current.Load().sourcesMessage(initial)
	if err != nil {
		return err
	}
	return conn.Send(payload)
}

// SendNetworkState writes the network state to one connection, if known.
func (b *Broadcaster) SendNetworkState(_ context.Context, conn *registry.Connection, initial bool) error {
	ns, ok := b.NetworkState()
	if !ok {
		return nil
	}
	return conn.SendMessage(protocol.NewNetworkStateMessage(ns, initial))
}

// SendInitial delivers the configuration part of the initial state to a
// newly connected client: sources, rules and network state, all read from
// one snapshot.
func (b *Broadcaster) SendInitial(_ context.Context, conn *registry.Connection) error {
	s := b.current.Load()
	b.remember(conn, s)

	payload, err := s.sourcesMessage(true)
	if err != nil {
		return err
	}
	if err := conn.Send(payload); err != nil {
		return fmt.Errorf("send sources: %w", err)
	}

	d := s.resolve()
	if d.Err != nil {
		return d.Err
	}
	if err := conn.Send(d.Payload); err != nil {
		return fmt.Errorf("send rules: %w", err)
	}

	if s.network != nil {
		if err := conn.SendMessage(protocol.NewNetworkStateMessage(*s.network, true)); err != nil {
			return fmt.Errorf("send network state: %w", err)
		}
	}
	return nil
}

func cloneSources(sources []protocol.Source) ([]protocol.Source, map[string]string) {
	out := make([]protocol.Source, len(sources))
	copy(out, sources)
	idx := make(map[string]string, len(out))
	for _, s := range out {
		idx[s.ID] = s.Content
	}
	return out, idx
}

func (b *Broadcaster) remember(conn *registry.Connection, s *snapshot) {
	id := conn.ID
	stop := context.AfterFunc(conn.Context(), func() { b.delivered.Delete(id) })
	if prev, ok := b.delivered.Swap(id, delivery{snap: s, stop: stop}); ok {
		prev.(delivery).stop()
	}
}

// Resync brings a newly ready connection up to date with anything applied
// after SendInitial read its snapshot. Broadcasts in that window skipped
// the connection because it was not yet ready. Only the parts that changed
// are resent, as update messages. It is meant to run as a registry ready
// hook.
func (b *Broadcaster) Resync(_ context.Context, conn *registry.Connection) error {
	v, ok := b.delivered.LoadAndDelete(conn.ID)
	if !ok {
		return nil
	}
	d := v.(delivery)
	d.stop()

	sent := d.snap
	for {
		cur := b.current.Load()
		if cur == sent {
			return nil
		}
		if err := b.sendChanged(conn, sent, cur); err != nil {
			return err
		}
		b.logger.Debug("resynced connection", "conn", conn.ID)
		sent = cur
	}
}

func (b *Broadcaster) sendChanged(conn *registry.Connection, prev, next *snapshot) error {
	prevSources, _ := prev.sourcesMessage(false)
	nextSources, err := next.sourcesMessage(false)
	if err != nil {
		return err
	}
	if !bytes.Equal(prevSources, nextSources) {
		if err := conn.Send(nextSources); err != nil {
			return fmt.Errorf("send sources: %w", err)
		}
	}

	pd, nd := prev.resolve(), next.resolve()
	if nd.Err != nil {
		return nd.Err
	}
	if !bytes.Equal(pd.Payload, nd.Payload) {
		if err := conn.Send(nd.Payload); err != nil {
			return fmt.Errorf("send rules: %w", err)
		}
	}

	if next.network != nil && (prev.network == nil || *prev.network != *next.network) {
		if err := conn.SendMessage(protocol.NewNetworkStateMessage(*next.network, false)); err != nil {
			return fmt.Errorf("send network state: %w", err)
		}
	}
	return nil
}
