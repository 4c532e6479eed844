package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Inproc is the in-process transport: direct function calls with the
// same frame schema, used by tests and embedded integrations.
type Inproc struct {
	Handlers

	mu      sync.Mutex
	clients map[string]*InprocClient
	started bool
	nextID  atomic.Int64
}

// Compile-time interface guard.
var _ Transport = (*Inproc)(nil)

// NewInproc creates an in-process transport.
func NewInproc() *Inproc {
	return &Inproc{clients: make(map[string]*InprocClient)}
}

// Type implements Transport.
func (t *Inproc) Type() string { return "inproc" }

// Start implements Transport.
func (t *Inproc) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	return nil
}

// Stop implements Transport. All clients are closed with CloseGoingAway.
func (t *Inproc) Stop(ctx context.Context) error {
	t.mu.Lock()
	clients := make([]*InprocClient, 0, len(t.clients))
	for _, c := range t.clients {
		clients = append(clients, c)
	}
	t.started = false
	t.mu.Unlock()

	for _, c := range clients {
		c.Close(CloseGoingAway, "server shutting down")
	}
	return nil
}

// Connect attaches a new client and fires the connection handler.
func (t *Inproc) Connect() (*InprocClient, error) {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil, fmt.Errorf("transport: inproc not started")
	}
	c := &InprocClient{
		t:     t,
		id:    fmt.Sprintf("inproc-%d", t.nextID.Add(1)),
		state: StateConnected,
	}
	t.clients[c.id] = c
	t.mu.Unlock()

	t.EmitConnection(c)
	return c, nil
}

func (t *Inproc) drop(c *InprocClient, err error) {
	t.mu.Lock()
	delete(t.clients, c.id)
	t.mu.Unlock()
	t.EmitDisconnect(c, err)
}

// InprocClient is the test-facing peer: frames sent by the server are
// recorded; tests inject inbound traffic via Receive.
type InprocClient struct {
	t *Inproc

	mu        sync.Mutex
	id        string
	state     State
	pressured bool
	sent      []Frame
	closeCode int
	closeWhy  string
}

// Compile-time interface guard.
var _ Client = (*InprocClient)(nil)

// ID implements Client.
func (c *InprocClient) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// SetID implements Client. The transport's index follows the rename.
func (c *InprocClient) SetID(id string) {
	c.mu.Lock()
	old := c.id
	c.id = id
	c.mu.Unlock()

	c.t.mu.Lock()
	if _, ok := c.t.clients[old]; ok {
		delete(c.t.clients, old)
		c.t.clients[id] = c
	}
	c.t.mu.Unlock()
}

// State implements Client.
func (c *InprocClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected implements Client.
func (c *InprocClient) IsConnected() bool {
	return c.State() == StateConnected
}

// IsPressured implements Client.
func (c *InprocClient) IsPressured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pressured
}

// SetPressured toggles simulated backpressure.
func (c *InprocClient) SetPressured(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pressured = v
}

// Send implements Client by recording the frame.
func (c *InprocClient) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return fmt.Errorf("transport: client %s not connected", c.id)
	}
	c.sent = append(c.sent, f)
	return nil
}

// Close implements Client.
func (c *InprocClient) Close(code int, reason string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnected
	c.closeCode = code
	c.closeWhy = reason
	c.mu.Unlock()

	c.t.drop(c, nil)
	return nil
}

// Receive injects one inbound frame, as if the peer sent it.
func (c *InprocClient) Receive(f Frame) {
	c.t.EmitMessage(c, f.Encode())
}

// ReceiveRaw injects raw inbound bytes.
func (c *InprocClient) ReceiveRaw(data []byte) {
	c.t.EmitMessage(c, data)
}

// Sent returns a copy of all frames the server sent to this client.
func (c *InprocClient) Sent() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]Frame, len(c.sent))
	copy(cp, c.sent)
	return cp
}

// LastSent returns the most recent frame, or false when none were sent.
func (c *InprocClient) LastSent() (Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return Frame{}, false
	}
	return c.sent[len(c.sent)-1], true
}

// CloseReason returns the close code and reason after disconnect.
func (c *InprocClient) CloseReason() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeWhy
}
