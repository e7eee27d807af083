package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/transport"
)

func serveRegistry(t *testing.T, r *Registry) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ws, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.ServeConn(ws, transport.KindPlain, protocol.ClientInfo{Name: req.URL.Query().Get("clientName")})
	}))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestServeConn_RoundTrip(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})
	r.AddInitialSnapshot(func(ctx context.Context, c *Connection) error {
		return c.SendMessage(protocol.NewSourcesMessage(nil, true))
	})

	received := make(chan protocol.MessageType, 1)
	r.SetDispatcher(DispatcherFunc(func(ctx context.Context, c *Connection, msg protocol.Inbound) {
		received <- msg.Kind()
	}))

	url := serveRegistry(t, r)
	client, _, err := websocket.DefaultDialer.Dial(url+"?clientName=chrome", nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"sourcesInitial","sources":[]}`, string(data))

	require.NoError(t, client.WriteMessage(websocket.TextMessage, []byte(`{"type":"requestRules"}`)))
	select {
	case kind := <-received:
		assert.Equal(t, protocol.MsgRequestRules, kind)
	case <-time.After(2 * time.Second):
		t.Fatal("message not dispatched")
	}

	summary := r.Summary()
	require.Len(t, summary.Clients, 1)
	assert.Equal(t, "chrome", summary.Clients[0].Client)

	client.Close()
	require.Eventually(t, func() bool { return r.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServeConn_FIFO(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})
	url := serveRegistry(t, r)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return len(r.Ready()) == 1 }, 2*time.Second, 5*time.Millisecond)
	conn := r.Ready()[0]

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, conn.Send([]byte{byte(i)}))
	}

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for i := 0; i < n; i++ {
		_, data, err := client.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, []byte{byte(i)}, data)
	}
}

func TestServeConn_ServerCloseClosesSocket(t *testing.T) {
	r := newTestRegistry(t, clock.RealClock{})
	url := serveRegistry(t, r)

	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer client.Close()

	require.Eventually(t, func() bool { return r.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	r.CloseAll(ReasonShutdown)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = client.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWSPeer_QueueOverflowCloses(t *testing.T) {
	p := newWSPeer(nil, PeerOptions{QueueSize: 2})

	require.NoError(t, p.Send([]byte("a")))
	require.NoError(t, p.Send([]byte("b")))
	assert.ErrorIs(t, p.Send([]byte("c")), ErrQueueFull)
	assert.ErrorIs(t, p.Send([]byte("d")), ErrPeerClosed)
}

func TestWSPeer_ConcurrentSendClose(t *testing.T) {
	p := newWSPeer(nil, PeerOptions{QueueSize: 1024})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = p.Send([]byte("x"))
			}
		}()
	}
	p.Close()
	wg.Wait()
	assert.ErrorIs(t, p.Send([]byte("y")), ErrPeerClosed)
}
