package transport

import (
	"github.com/gorilla/websocket"

	"grimm.is/tether/internal/protocol"
)

// Kind identifies one of the two listeners.
type Kind string

const (
	KindPlain  Kind = "plain"
	KindSecure Kind = "secure"
)

func (k Kind) String() string { return string(k) }

// Scheme returns the websocket URL scheme for the transport.
func (k Kind) Scheme() string {
	if k == KindSecure {
		return "wss"
	}
	return "ws"
}

// ConnectionHandler takes ownership of upgraded connections.
type ConnectionHandler interface {
	ServeConn(ws *websocket.Conn, kind Kind, client protocol.ClientInfo)
}
