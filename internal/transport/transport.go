// Package transport defines the server-side connection abstraction the
// gateway speaks through. Every concrete variant (WebSocket, SSE, unix
// socket, Socket.IO, in-process) carries the same JSON frame schema over
// its own framing.
package transport

import "context"

// Close codes shared by all transports.
const (
	// CloseAuthFailed rejects a client that failed first-frame auth.
	CloseAuthFailed = 4001

	// CloseOverflow evicts a client whose event buffer overflowed.
	CloseOverflow = 4008

	// CloseGoingAway signals server shutdown.
	CloseGoingAway = 1001
)

// State is the lifecycle state of a transport client.
type State string

// Client states.
const (
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// Client is one remote peer on a transport.
type Client interface {
	// ID returns the client id. Server-assigned until the connect frame
	// carries a clientId, which replaces it.
	ID() string

	// SetID replaces the client id (the connect frame's clientId wins).
	SetID(id string)

	// State returns the lifecycle state.
	State() State

	// IsConnected reports whether Send can reach the peer.
	IsConnected() bool

	// IsPressured reports transport-level backpressure. Transports
	// without a pressure signal return false.
	IsPressured() bool

	// Send writes one frame to the peer.
	Send(f Frame) error

	// Close terminates the connection with a close code and reason.
	Close(code int, reason string) error
}

// Transport is a server-side listener producing Clients. Handlers must be
// registered before Start; inbound frames may arrive on any goroutine.
type Transport interface {
	// Type identifies the variant ("websocket", "sse", "unix", ...).
	Type() string

	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes the listener and all clients with CloseGoingAway.
	Stop(ctx context.Context) error

	// OnConnection registers the new-client handler.
	OnConnection(fn func(c Client))

	// OnMessage registers the inbound-frame handler. Raw bytes are
	// passed through: the gateway owns schema validation.
	OnMessage(fn func(c Client, data []byte))

	// OnDisconnect registers the client-gone handler.
	OnDisconnect(fn func(c Client, err error))

	// OnError registers the transport-level error handler.
	OnError(fn func(err error))
}

// Handlers is the callback set concrete transports embed. All fields are
// optional; nil handlers are skipped.
type Handlers struct {
	connection func(c Client)
	message    func(c Client, data []byte)
	disconnect func(c Client, err error)
	errFn      func(err error)
}

// OnConnection implements Transport.
func (h *Handlers) OnConnection(fn func(c Client)) { h.connection = fn }

// OnMessage implements Transport.
func (h *Handlers) OnMessage(fn func(c Client, data []byte)) { h.message = fn }

// OnDisconnect implements Transport.
func (h *Handlers) OnDisconnect(fn func(c Client, err error)) { h.disconnect = fn }

// OnError implements Transport.
func (h *Handlers) OnError(fn func(err error)) { h.errFn = fn }

// EmitConnection invokes the connection handler.
func (h *Handlers) EmitConnection(c Client) {
	if h.connection != nil {
		h.connection(c)
	}
}

// EmitMessage invokes the message handler.
func (h *Handlers) EmitMessage(c Client, data []byte) {
	if h.message != nil {
		h.message(c, data)
	}
}

// EmitDisconnect invokes the disconnect handler.
func (h *Handlers) EmitDisconnect(c Client, err error) {
	if h.disconnect != nil {
		h.disconnect(c, err)
	}
}

// EmitError invokes the error handler.
func (h *Handlers) EmitError(err error) {
	if h.errFn != nil {
		h.errFn(err)
	}
}
