package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"grimm.is/tether/internal/clock"
	"grimm.is/tether/internal/events"
	"grimm.is/tether/internal/metrics"
	"grimm.is/tether/internal/protocol"
	"grimm.is/tether/internal/transport"
)

// Connection is the registry's record of one client channel.
type Connection struct {
	ID          string
	Transport   transport.Kind
	Client      protocol.ClientInfo
	ConnectedAt time.Time

	peer    Peer
	ctx     context.Context
	cancel  context.CancelFunc
	clock   clock.Clock
	metrics *metrics.Registry

	mu           sync.Mutex
	state        State
	lastActivity time.Time
}

// ConnID returns the connection id.
func (c *Connection) ConnID() string { return c.ID }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastActivity returns the time of the most recent inbound or outbound traffic.
func (c *Connection) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Context is cancelled when the connection closes.
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Touch records activity now.
func (c *Connection) Touch() {
	now := c.clock.Now()
	c.mu.Lock()
	if now.After(c.lastActivity) {
		c.lastActivity = now
	}
	c.mu.Unlock()
}

// Send queues one frame on the connection's FIFO.
func (c *Connection) Send(data []byte) error {
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}
	if err := c.peer.Send(data); err != nil {
		if errors.Is(err, ErrQueueFull) && c.metrics != nil {
			c.metrics.SendQueueOverflow.Inc()
		}
		return err
	}
	c.Touch()
	return nil
}

// SendMessage encodes msg and queues it.
func (c *Connection) SendMessage(msg any) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return c.Send(data)
}

func (c *Connection) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !canTransition(c.state, to) {
		return &TransitionError{From: c.state, To: to}
	}
	c.state = to
	return nil
}

// close moves the connection to its terminal state. It reports false if
// the connection was already closed.
func (c *Connection) close() bool {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return false
	}
	c.state = StateClosed
	c.mu.Unlock()

	c.cancel()
	_ = c.peer.Close()
	return true
}

func (c *Connection) eventData(reason string) events.ConnectionData {
	return events.ConnectionData{
		ID:        c.ID,
		Transport: c.Transport.String(),
		Client:    c.Client.Name,
		Version:   c.Client.Version,
		Platform:  c.Client.Platform,
		State:     c.State().String(),
		Reason:    reason,
	}
}
