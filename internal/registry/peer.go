package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrPeerClosed = errors.New("peer closed")
	ErrQueueFull  = errors.New("send queue full")
)

// Peer is the registry's view of a duplex channel. Send must not block;
// frames sent on one peer are written in order.
type Peer interface {
	Send(data []byte) error
	Close() error
}

// PeerOptions tunes websocket peers.
type PeerOptions struct {
	QueueSize      int
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultPeerOptions returns the defaults used by Registry.
func DefaultPeerOptions() PeerOptions {
	return PeerOptions{
		QueueSize:      256,
		PingInterval:   30 * time.Second,
		PongTimeout:    30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 16 << 20,
	}
}

// wsPeer owns a websocket with one writer goroutine draining a buffered
// queue, so every frame for a socket leaves in the order it was queued.
type wsPeer struct {
	conn *websocket.Conn
	opts PeerOptions

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newWSPeer(conn *websocket.Conn, opts PeerOptions) *wsPeer {
	return &wsPeer{
		conn:   conn,
		opts:   opts,
		send:   make(chan []byte, opts.QueueSize),
		closed: make(chan struct{}),
	}
}

// Send queues data. A full queue closes the peer rather than dropping
// frames from the middle of the stream.
func (p *wsPeer) Send(data []byte) error {
	select {
	case <-p.closed:
		return ErrPeerClosed
	default:
	}

	select {
	case p.send <- data:
		return nil
	default:
		p.Close()
		return ErrQueueFull
	}
}

// Close stops the writer; queued frames are abandoned.
func (p *wsPeer) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// writePump sends queued messages and pings to the client.
func (p *wsPeer) writePump() {
	ticker := time.NewTicker(p.opts.PingInterval)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case <-p.closed:
			_ = p.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-p.send:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.opts.WriteTimeout))
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				p.Close()
				return
			}
		case <-ticker.C:
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.opts.WriteTimeout)); err != nil {
				p.Close()
				return
			}
		}
	}
}

// readPump delivers inbound frames until the socket fails or the client
// misses a pong for longer than PingInterval + PongTimeout.
func (p *wsPeer) readPump(onMessage func([]byte)) {
	defer p.Close()

	window := p.opts.PingInterval + p.opts.PongTimeout
	p.conn.SetReadLimit(p.opts.MaxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(window))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(window))
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(window))
		onMessage(data)
	}
}
