// Package wsocket is the WebSocket transport: bidirectional JSON frames
// over a single HTTP endpoint. Authentication is the gateway's
// first-frame connect handshake.
package wsocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/agenticklabs/agentick/internal/transport"
)

const writeTimeout = 10 * time.Second

// Config holds the listener settings.
type Config struct {
	// Addr is the host:port to bind.
	Addr string

	// Path is the upgrade endpoint. Default "/ws".
	Path string

	// OriginPatterns relaxes the same-origin check for browser clients.
	OriginPatterns []string

	Logger *slog.Logger
}

// Transport is the WebSocket server transport.
type Transport struct {
	transport.Handlers

	cfg    Config
	logger *slog.Logger
	server *http.Server
	ln     net.Listener

	mu      sync.Mutex
	clients map[*client]struct{}
	nextID  atomic.Int64
}

// Compile-time interface guard.
var _ transport.Transport = (*Transport)(nil)

// New creates a WebSocket transport.
func New(cfg Config) *Transport {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "transport.websocket"),
		clients: make(map[*client]struct{}),
	}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "websocket" }

// Addr returns the bound listen address. Valid after Start; with an
// ":0" config this is where the ephemeral port shows up.
func (t *Transport) Addr() string {
	if t.ln == nil {
		return t.cfg.Addr
	}
	return t.ln.Addr().String()
}

// Start implements transport.Transport.
func (t *Transport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.Path, t.handle)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("wsocket: listen %s: %w", t.cfg.Addr, err)
	}

	t.ln = ln
	t.server = &http.Server{Handler: mux}
	go func() {
		t.logger.Info("websocket listening", "addr", ln.Addr().String(), "path", t.cfg.Path)
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.EmitError(fmt.Errorf("wsocket: serve: %w", err))
		}
	}()
	return nil
}

// Stop implements transport.Transport.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	clients := make([]*client, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()

	for _, c := range clients {
		c.Close(transport.CloseGoingAway, "server shutting down")
	}

	if t.server == nil {
		return nil
	}
	return t.server.Shutdown(ctx)
}

func (t *Transport) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: t.cfg.OriginPatterns,
	})
	if err != nil {
		t.EmitError(fmt.Errorf("wsocket: accept: %w", err))
		return
	}

	c := &client{
		t:     t,
		id:    fmt.Sprintf("ws-%d", t.nextID.Add(1)),
		conn:  conn,
		state: transport.StateConnected,
	}
	t.mu.Lock()
	t.clients[c] = struct{}{}
	t.mu.Unlock()

	t.EmitConnection(c)
	t.readLoop(r.Context(), c)
}

func (t *Transport) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			t.drop(c, err)
			return
		}
		t.EmitMessage(c, data)
	}
}

func (t *Transport) drop(c *client, err error) {
	c.mu.Lock()
	already := c.state != transport.StateConnected
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	t.mu.Lock()
	delete(t.clients, c)
	t.mu.Unlock()

	if !already {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			err = nil
		}
		t.EmitDisconnect(c, err)
	}
}

// client is one WebSocket peer.
type client struct {
	t    *Transport
	conn *websocket.Conn

	mu    sync.Mutex
	id    string
	state transport.State
}

// Compile-time interface guard.
var _ transport.Client = (*client)(nil)

func (c *client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *client) SetID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

func (c *client) State() transport.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *client) IsConnected() bool {
	return c.State() == transport.StateConnected
}

// IsPressured always reports false: coder/websocket applies its own
// flow control on Write.
func (c *client) IsPressured() bool { return false }

func (c *client) Send(f transport.Frame) error {
	if !c.IsConnected() {
		return fmt.Errorf("wsocket: client %s not connected", c.ID())
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, f.Encode())
}

func (c *client) Close(code int, reason string) error {
	c.mu.Lock()
	if c.state != transport.StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	err := c.conn.Close(websocket.StatusCode(code), reason)

	c.t.mu.Lock()
	delete(c.t.clients, c)
	c.t.mu.Unlock()
	c.t.EmitDisconnect(c, nil)
	return err
}
