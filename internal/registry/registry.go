// Package registry tracks client connections: their lifecycle, the
// single-flight initial snapshot, inbound dispatch and idle reaping.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/events"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/transport"
)

// Close reasons reported in events and metrics.
const (
	ReasonDisconnected = "disconnected"
	ReasonIdle         = "idle"
	ReasonShutdown     = "shutdown"
)

// DefaultIdleTimeout is the inactivity threshold used by Sweep.
const DefaultIdleTimeout = 5 * time.Minute

// InitialSnapshot delivers one part of the initial state to a connection.
// All registered snapshots run in parallel during initialization.
type InitialSnapshot func(ctx context.Context, conn *Connection) error

// ReadyHook runs once a connection has reached StateReady, before
// Initialize returns to its callers.
type ReadyHook func(ctx context.Context, conn *Connection) error

// Dispatcher handles decoded inbound messages.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Connection, msg protocol.Inbound)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, conn *Connection, msg protocol.Inbound)

func (f DispatcherFunc) Dispatch(ctx context.Context, conn *Connection, msg protocol.Inbound) {
	f(ctx, conn, msg)
}

// Summary is the connection-count report published to the owning application.
type Summary = events.SummaryData

// Options configures a Registry. Zero values take defaults.
type Options struct {
	IdleTimeout time.Duration
	Peer        PeerOptions
	Logger      *logging.Logger
	Metrics     *metrics.Registry
	Events      *events.Hub
	Clock       clock.Clock
}

// Registry holds one record per open connection.
type Registry struct {
	idleTimeout time.Duration
	peerOpts    PeerOptions
	logger      *logging.Logger
	metrics     *metrics.Registry
	events      *events.Hub
	clock       clock.Clock

	mu    sync.RWMutex
	conns map[string]*Connection

	summaryMu sync.Mutex

	initMu sync.Mutex
	inits  map[string]*initTask

	hookMu     sync.RWMutex
	snapshots  []InitialSnapshot
	readyHooks []ReadyHook
	dispatcher Dispatcher
}

// New creates an empty registry.
func New(opts Options) *Registry {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	def := DefaultPeerOptions()
	if opts.Peer.QueueSize <= 0 {
		opts.Peer.QueueSize = def.QueueSize
	}
	if opts.Peer.PingInterval <= 0 {
		opts.Peer.PingInterval = def.PingInterval
	}
	if opts.Peer.PongTimeout <= 0 {
		opts.Peer.PongTimeout = def.PongTimeout
	}
	if opts.Peer.WriteTimeout <= 0 {
		opts.Peer.WriteTimeout = def.WriteTimeout
	}
	if opts.Peer.MaxMessageSize <= 0 {
		opts.Peer.MaxMessageSize = def.MaxMessageSize
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Default()
	}

	return &Registry{
		idleTimeout: opts.IdleTimeout,
		peerOpts:    opts.Peer,
		logger:      opts.Logger.WithComponent("registry"),
		metrics:     opts.Metrics,
		events:      opts.Events,
		clock:       opts.Clock,
		conns:       make(map[string]*Connection),
		inits:       make(map[string]*initTask),
	}
}

// AddInitialSnapshot registers a part of the initial state.
func (r *Registry) AddInitialSnapshot(fn InitialSnapshot) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.snapshots = append(r.snapshots, fn)
}

// AddReadyHook registers fn to run after each successful initialization.
func (r *Registry) AddReadyHook(fn ReadyHook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.readyHooks = append(r.readyHooks, fn)
}

// SetDispatcher sets the inbound message handler.
func (r *Registry) SetDispatcher(d Dispatcher) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.dispatcher = d
}

// ServeConn implements transport.ConnectionHandler.
func (r *Registry) ServeConn(ws *websocket.Conn, kind transport.Kind, client protocol.ClientInfo) {
	peer := newWSPeer(ws, r.peerOpts)
	conn := r.OnConnect(peer, kind, client)

	go peer.writePump()
	go func() {
		peer.readPump(func(data []byte) { r.HandleMessage(conn, data) })
		r.Close(conn.ID, ReasonDisconnected)
	}()
}

// OnConnect records a new connection and starts its initialization.
func (r *Registry) OnConnect(peer Peer, kind transport.Kind, client protocol.ClientInfo) *Connection {
	now := r.clock.Now()
	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{
		ID:           uuid.NewString(),
		Transport:    kind,
		Client:       client,
		ConnectedAt:  now,
		peer:         peer,
		ctx:          ctx,
		cancel:       cancel,
		clock:        r.clock,
		metrics:      r.metrics,
		state:        StateUninitialized,
		lastActivity: now,
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ConnectionsTotal.WithLabelValues(kind.String()).Inc()
	}
	r.logger.Info("client connected",
		"conn", conn.ID, "transport", kind, "client", client.Name, "version", client.Version)
	r.events.EmitConnection(events.EventConnectionOpened, conn.eventData(""))
	r.publishSummary()

	r.initAsync(conn)
	return conn
}

// initAsync starts initialization in the background, logging failures.
// Losing the race to another attempt is not a failure.
func (r *Registry) initAsync(conn *Connection) {
	go func() {
		_, err := r.Initialize(conn.Context(), conn.ID)
		switch {
		case err == nil, errors.Is(err, ErrConnectionClosed), errors.Is(err, ErrUnknownConnection),
			errors.Is(err, ErrInvalidTransition):
		default:
			r.logger.Warn("initialization failed", "conn", conn.ID, "error", err)
		}
	}()
}

// Get returns the connection with id, or nil.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Touch records activity on a connection.
func (r *Registry) Touch(id string) {
	if conn := r.Get(id); conn != nil {
		conn.Touch()
	}
}

// Send queues payload on one connection.
func (r *Registry) Send(id string, payload []byte) error {
	conn := r.Get(id)
	if conn == nil {
		return ErrUnknownConnection
	}
	return conn.Send(payload)
}

// Ready returns every connection in StateReady on both transports,
// oldest first.
func (r *Registry) Ready() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if c.State() == StateReady {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	sortConnections(out)
	return out
}

// All returns every open connection, oldest first.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()

	sortConnections(out)
	return out
}

// Len returns the number of open connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// HandleMessage decodes and dispatches one inbound frame. Rejected frames
// are logged; the connection stays open. Any frame on a connection whose
// initialization failed starts a fresh attempt.
func (r *Registry) HandleMessage(conn *Connection, data []byte) {
	conn.Touch()
	if conn.State() == StateUninitialized {
		r.initAsync(conn)
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		r.logger.Warn("rejected client message", "conn", conn.ID, "error", err)
		if r.metrics != nil {
			r.metrics.ProtocolErrors.WithLabelValues(protocolReason(err)).Inc()
		}
		return
	}
	if r.metrics != nil {
		r.metrics.InboundMessages.WithLabelValues(string(msg.Kind())).Inc()
	}

	r.hookMu.RLock()
	d := r.dispatcher
	r.hookMu.RUnlock()
	if d == nil {
		r.logger.Debug("no dispatcher for message", "conn", conn.ID, "type", msg.Kind())
		return
	}
	d.Dispatch(conn.Context(), conn, msg)
}

// Close removes a connection and closes its channel. It reports whether
// the connection was open.
func (r *Registry) Close(id, reason string) bool {
	r.mu.Lock()
	conn, ok := r.conns[id]
	delete(r.conns, id)
	r.mu.Unlock()
	if !ok {
		return false
	}

	r.initMu.Lock()
	delete(r.inits, id)
	r.initMu.Unlock()

	if !conn.close() {
		return false
	}

	if r.metrics != nil {
		r.metrics.Disconnects.WithLabelValues(reason).Inc()
	}
	r.logger.Info("client disconnected", "conn", id, "reason", reason)
	r.events.EmitConnection(events.EventConnectionClosed, conn.eventData(reason))
	r.publishSummary()
	return true
}

// CloseAll closes every connection.
func (r *Registry) CloseAll(reason string) {
	for _, c := range r.All() {
		r.Close(c.ID, reason)
	}
}

// Sweep closes every connection idle for longer than the threshold at now
// and returns their ids.
func (r *Registry) Sweep(now time.Time) []string {
	var stale []string
	for _, c := range r.All() {
		if now.Sub(c.LastActivity()) > r.idleTimeout {
			stale = append(stale, c.ID)
		}
	}

	evicted := stale[:0]
	for _, id := range stale {
		if r.Close(id, ReasonIdle) {
			evicted = append(evicted, id)
		}
	}
	if len(evicted) > 0 {
		if r.metrics != nil {
			r.metrics.IdleEvictions.Add(float64(len(evicted)))
		}
		r.logger.Info("liveness sweep evicted idle connections", "count", len(evicted))
	}
	return evicted
}

// SweepIdle runs Sweep at the current time. It implements scheduler.Sweeper.
func (r *Registry) SweepIdle() []string {
	return r.Sweep(r.clock.Now())
}

// Summary reports connection counts for the owning application.
func (r *Registry) Summary() Summary {
	conns := r.All()
	s := Summary{
		Total:       len(conns),
		ByTransport: map[string]int{},
		Clients:     make([]events.ConnectionData, 0, len(conns)),
	}
	for _, c := range conns {
		if c.State() == StateReady {
			s.Ready++
		}
		s.ByTransport[c.Transport.String()]++
		s.Clients = append(s.Clients, c.eventData(""))
	}
	return s
}

// PublishSummary emits the current summary on the event hub.
func (r *Registry) PublishSummary(context.Context) error {
	r.publishSummary()
	return nil
}

func (r *Registry) publishSummary() {
	if r.events == nil && r.metrics == nil {
		return
	}
	r.summaryMu.Lock()
	defer r.summaryMu.Unlock()

	s := r.Summary()
	if r.metrics != nil {
		r.metrics.Connections.Reset()
		for _, c := range s.Clients {
			r.metrics.Connections.WithLabelValues(c.Transport, c.State).Inc()
		}
	}
	r.events.EmitSummary(s)
}

// ──────────────────────────────────────────────────────────────────────────────
// Initialization
// ──────────────────────────────────────────────────────────────────────────────

type taskState int

const (
	taskPending taskState = iota
	taskDone
	taskFailed
)

// initTask is the single in-flight initialization for a connection.
// Fields other than done are written once, before done is closed.
type initTask struct {
	done   chan struct{}
	state  taskState
	result State
	err    error
}

func (t *initTask) finish(result State, err error) {
	t.result = result
	t.err = err
	t.state = taskDone
	if err != nil {
		t.state = taskFailed
	}
	close(t.done)
}

func (t *initTask) wait(ctx context.Context) (State, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		return StateInitializing, ctx.Err()
	}
}

// Initialize delivers the initial snapshot to a connection and marks it
// ready. Concurrent calls for the same id share one in-flight task; a
// failed task is discarded so a later call starts afresh. ctx bounds only
// the caller's wait, the work itself is bound to the connection.
func (r *Registry) Initialize(ctx context.Context, id string) (State, error) {
	r.initMu.Lock()
	task, ok := r.inits[id]
	if !ok {
		conn := r.Get(id)
		if conn == nil {
			r.initMu.Unlock()
			return StateClosed, ErrUnknownConnection
		}
		if err := conn.transition(StateInitializing); err != nil {
			r.initMu.Unlock()
			return conn.State(), err
		}
		task = &initTask{done: make(chan struct{})}
		r.inits[id] = task
		r.initMu.Unlock()

		go r.runInit(conn, task)
	} else {
		r.initMu.Unlock()
	}

	return task.wait(ctx)
}

func (r *Registry) runInit(conn *Connection, task *initTask) {
	start := r.clock.Now()

	r.hookMu.RLock()
	snapshots := append([]InitialSnapshot(nil), r.snapshots...)
	r.hookMu.RUnlock()

	g, gctx := errgroup.WithContext(conn.Context())
	for _, snap := range snapshots {
		g.Go(func() error { return snap(gctx, conn) })
	}
	err := g.Wait()
	if err == nil {
		err = conn.transition(StateReady)
	}
	r.metrics.RecordInit(r.clock.Since(start), err)

	if err == nil {
		r.runReadyHooks(conn)
		task.finish(StateReady, nil)
		r.logger.Debug("connection ready", "conn", conn.ID, "duration", r.clock.Since(start))
		r.events.EmitConnection(events.EventConnectionReady, conn.eventData(""))
		r.publishSummary()
		return
	}

	r.initMu.Lock()
	if r.inits[conn.ID] == task {
		delete(r.inits, conn.ID)
	}
	r.initMu.Unlock()

	if conn.State() == StateClosed {
		// Closed mid-initialization: pending sends are simply dropped.
		task.finish(StateClosed, ErrConnectionClosed)
		return
	}
	_ = conn.transition(StateUninitialized)
	task.finish(StateUninitialized, err)
}

func (r *Registry) runReadyHooks(conn *Connection) {
	r.hookMu.RLock()
	hooks := append([]ReadyHook(nil), r.readyHooks...)
	r.hookMu.RUnlock()

	for _, hook := range hooks {
		if err := hook(conn.Context(), conn); err != nil {
			r.logger.Warn("ready hook failed", "conn", conn.ID, "error", err)
		}
	}
}

func sortConnections(conns []*Connection) {
	sort.Slice(conns, func(i, j int) bool {
		if conns[i].ConnectedAt.Equal(conns[j].ConnectedAt) {
			return conns[i].ID < conns[j].ID
		}
		return conns[i].ConnectedAt.Before(conns[j].ConnectedAt)
	})
}

func protocolReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrMalformed):
		return "malformed"
	case errors.Is(err, protocol.ErrUnknownMessage):
		return "unknown"
	case errors.Is(err, protocol.ErrInvalidPayload):
		return "invalid"
	}
	return "other"
}
