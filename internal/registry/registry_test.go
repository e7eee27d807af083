package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/events"
	"grimm.is/tether/internal/logging"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/transport"
)

type fakePeer struct {
	mu      sync.Mutex
	sent    [][]byte
	closed  bool
	sendErr error
}

func (p *fakePeer) Send(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, data)
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func newTestRegistry(t *testing.T, clk clock.Clock) *Registry {
	t.Helper()
	return New(Options{
		IdleTimeout: 5 * time.Minute,
		Logger:      logging.Discard(),
		Metrics:     metrics.NewIsolated(),
		Events:      events.NewHub(),
		Clock:       clk,
	})
}

func waitState(t *testing.T, conn *Connection, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return conn.State() == want },
		time.Second, 5*time.Millisecond, "state %s never reached, have %s", want, conn.State())
}

func TestOnConnect_InitializesToReady(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		return c.Send([]byte(`{"type":"rules-update"}`))
	})

	peer := &fakePeer{}
	conn := r.OnConnect(peer, transport.KindPlain, protocol.ClientInfo{Name: "chrome", Version: "1.2.0"})

	require.NotEmpty(t, conn.ID)
	assert.Equal(t, transport.KindPlain, conn.Transport)
	assert.Equal(t, "chrome", conn.Client.Name)

	waitState(t, conn, StateReady)
	assert.Len(t, peer.Sent(), 1)
	assert.Equal(t, []*Connection{conn}, r.Ready())
}

func TestInitialize_SingleFlight(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})

	var calls atomic.Int32
	release := make(chan struct{})
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		calls.Add(1)
		<-release
		return c.Send([]byte(`{"type":"sourcesInitial","sources":[]}`))
	})

	peer := &fakePeer{}
	conn := r.OnConnect(peer, transport.KindSecure, protocol.ClientInfo{Name: "firefox"})

	const n = 50
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := r.Initialize(context.Background(), conn.ID)
			if err == nil && state != StateReady {
				err = errors.New("not ready: " + state.String())
			}
			results <- err
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()
	close(results)

	for err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Len(t, peer.Sent(), 1)
	assert.Equal(t, StateReady, conn.State())
}

func TestInitialize_FailureIsRetryable(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})

	var attempts atomic.Int32
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		if attempts.Add(1) == 1 {
			return errors.New("settings not loaded")
		}
		return nil
	})

	conn := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{})

	require.Eventually(t, func() bool {
		return attempts.Load() == 1 && conn.State() == StateUninitialized
	}, time.Second, time.Millisecond)

	state, err := r.Initialize(context.Background(), conn.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestHandleMessage_RetriesFailedInitialization(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})

	var attempts atomic.Int32
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		if attempts.Add(1) == 1 {
			return errors.New("settings not loaded")
		}
		return nil
	})
	var dispatched atomic.Int32
	r.SetDispatcher(DispatcherFunc(func(ctx context.Context, c *Connection, msg protocol.Inbound) {
		dispatched.Add(1)
	}))

	conn := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{})
	require.Eventually(t, func() bool {
		return attempts.Load() == 1 && conn.State() == StateUninitialized
	}, time.Second, time.Millisecond)
	assert.Empty(t, r.Ready())

	r.HandleMessage(conn, []byte(`{"type":"requestRules"}`))

	waitState(t, conn, StateReady)
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int32(1), dispatched.Load())
	ready := r.Ready()
	require.Len(t, ready, 1)
	assert.Equal(t, conn.ID, ready[0].ID)

	r.HandleMessage(conn, []byte(`{"type":"requestRules"}`))
	assert.Equal(t, int32(2), attempts.Load(), "a ready connection is not reinitialized")
}

func TestInitialize_ReadyHooksRunBeforeReturn(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})

	var seen []State
	var mu sync.Mutex
	r.AddReadyHook(func(ctx context.Context, c *Connection) error {
		mu.Lock()
		seen = append(seen, c.State())
		mu.Unlock()
		return errors.New("ignored")
	})

	conn := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{})
	state, err := r.Initialize(context.Background(), conn.ID)
	require.NoError(t, err, "hook failures do not fail initialization")
	assert.Equal(t, StateReady, state)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateReady}, seen)
}

func TestInitialize_ParallelSnapshots(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})

	// Each snapshot waits for the other; sequential execution would deadlock.
	var started sync.WaitGroup
	started.Add(2)
	for i := 0; i < 2; i++ {
		r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
			started.Done()
			started.Wait()
			return nil
		})
	}

	conn := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{})
	waitState(t, conn, StateReady)
}

func TestInitialize_CloseMidway(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})

	entered := make(chan struct{})
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		close(entered)
		<-ctx.Done()
		return c.Send([]byte("late"))
	})

	peer := &fakePeer{}
	conn := r.OnConnect(peer, transport.KindPlain, protocol.ClientInfo{})
	<-entered

	errCh := make(chan error, 1)
	go func() {
		_, err := r.Initialize(context.Background(), conn.ID)
		errCh <- err
	}()

	// Give the waiter a chance to attach to the in-flight task.
	time.Sleep(20 * time.Millisecond)
	require.True(t, r.Close(conn.ID, ReasonDisconnected))

	select {
	case err := <-errCh:
		// The waiter either attached to the abandoned task or arrived after
		// the record was removed.
		assert.True(t, errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrUnknownConnection), "got %v", err)
	case <-time.After(time.Second):
		t.Fatal("initialize did not return after close")
	}

	assert.True(t, peer.Closed())
	assert.Empty(t, peer.Sent())
	assert.Equal(t, StateClosed, conn.State())
	assert.Nil(t, r.Get(conn.ID))
}

func TestInitialize_UnknownConnection(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})
	_, err := r.Initialize(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownConnection)
}

func TestInitialize_WaiterContext(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})
	release := make(chan struct{})
	defer close(release)
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		<-release
		return nil
	})

	conn := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{})
	waitState(t, conn, StateInitializing)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Initialize(ctx, conn.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReady_SkipsInitializing(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})
	release := make(chan struct{})
	var first atomic.Bool
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		if first.CompareAndSwap(false, true) {
			<-release
		}
		return nil
	})

	slow := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{Name: "slow"})
	waitState(t, slow, StateInitializing)
	fast := r.OnConnect(&fakePeer{}, transport.KindSecure, protocol.ClientInfo{Name: "fast"})
	waitState(t, fast, StateReady)

	assert.Equal(t, []*Connection{fast}, r.Ready())

	s := r.Summary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Ready)
	assert.Equal(t, map[string]int{"plain": 1, "secure": 1}, s.ByTransport)

	close(release)
	waitState(t, slow, StateReady)
	assert.Len(t, r.Ready(), 2)
}

func TestSweep_EvictsIdle(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	r := newTestRegistry(t, clk)

	stalePeer := &fakePeer{}
	stale := r.OnConnect(stalePeer, transport.KindPlain, protocol.ClientInfo{Name: "stale"})
	clk.Advance(3 * time.Minute)
	fresh := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{Name: "fresh"})
	clk.Advance(3 * time.Minute)

	evicted := r.SweepIdle()
	assert.Equal(t, []string{stale.ID}, evicted)
	assert.True(t, stalePeer.Closed())
	assert.Nil(t, r.Get(stale.ID))
	assert.NotNil(t, r.Get(fresh.ID))

	// Activity resets the idle clock.
	clk.Advance(time.Minute)
	r.Touch(fresh.ID)
	clk.Advance(4 * time.Minute)
	assert.Empty(t, r.SweepIdle())

	clk.Advance(2 * time.Minute)
	assert.Equal(t, []string{fresh.ID}, r.Sweep(clk.Now()))
	assert.Zero(t, r.Len())
}

func TestSend_TouchesAndReportsErrors(t *testing.T) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newTestRegistry(t, clk)

	peer := &fakePeer{}
	conn := r.OnConnect(peer, transport.KindPlain, protocol.ClientInfo{})
	clk.Advance(time.Minute)

	require.NoError(t, r.Send(conn.ID, []byte("x")))
	assert.Equal(t, clk.Now(), conn.LastActivity())

	assert.ErrorIs(t, r.Send("nope", []byte("x")), ErrUnknownConnection)

	peer.sendErr = ErrQueueFull
	assert.ErrorIs(t, conn.Send([]byte("y")), ErrQueueFull)

	r.Close(conn.ID, ReasonShutdown)
	assert.ErrorIs(t, conn.Send([]byte("z")), ErrConnectionClosed)
}

func TestHandleMessage_Dispatch(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})

	var got []protocol.MessageType
	var mu sync.Mutex
	r.SetDispatcher(DispatcherFunc(func(ctx context.Context, c *Connection, msg protocol.Inbound) {
		mu.Lock()
		got = append(got, msg.Kind())
		mu.Unlock()
	}))

	conn := r.OnConnect(&fakePeer{}, transport.KindPlain, protocol.ClientInfo{})

	r.HandleMessage(conn, []byte(`not json`))
	r.HandleMessage(conn, []byte(`{"type":"launchMissiles"}`))
	r.HandleMessage(conn, []byte(`{"type":"requestRules"}`))
	r.HandleMessage(conn, []byte(`{"type":"toggleRule","ruleId":"a","enabled":true}`))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []protocol.MessageType{protocol.MsgRequestRules, protocol.MsgToggleRule}, got)
	assert.NotNil(t, r.Get(conn.ID), "protocol errors must not close the connection")
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{StateUninitialized, StateInitializing, true},
		{StateUninitialized, StateReady, false},
		{StateInitializing, StateReady, true},
		{StateInitializing, StateUninitialized, true},
		{StateReady, StateInitializing, false},
		{StateReady, StateClosed, true},
		{StateClosed, StateUninitialized, false},
		{StateClosed, StateReady, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			c := &Connection{state: tt.from}
			err := c.transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, c.state)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, tt.from, c.state)
		})
	}
}

func TestEvents_ConnectionLifecycle(t *testing.T) {
	hub := events.NewHub()
	sub := hub.Subscribe(32, events.EventConnectionOpened, events.EventConnectionReady, events.EventConnectionClosed)
	r := New(Options{Logger: logging.Discard(), Events: hub})

	conn := r.OnConnect(&fakePeer{}, transport.KindSecure, protocol.ClientInfo{Name: "edge"})
	waitState(t, conn, StateReady)
	r.Close(conn.ID, ReasonDisconnected)

	var types []events.EventType
	for len(types) < 3 {
		select {
		case e := <-sub.C:
			types = append(types, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("missing events, have %v", types)
		}
	}
	assert.Equal(t, []events.EventType{events.EventConnectionOpened, events.EventConnectionReady, events.EventConnectionClosed}, types)
}
