// Package unixsock is the unix domain socket transport: newline-delimited
// JSON frames, one connection per client. Frames from one client are
// dispatched strictly in arrival order, so the connect handshake always
// completes before later requests from the same chunk are handled.
package unixsock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/agenticklabs/agentick/internal/transport"
)

// maxLine bounds one NDJSON frame.
const maxLine = 4 << 20

// Config holds the listener settings.
type Config struct {
	// Path is the socket file. A stale file from a previous run is
	// removed before binding.
	Path string

	Logger *slog.Logger
}

// Transport is the unix socket server transport.
type Transport struct {
	transport.Handlers

	cfg      Config
	logger   *slog.Logger
	listener net.Listener
	cancel   context.CancelFunc

	mu      sync.Mutex
	clients map[*client]struct{}
	nextID  atomic.Int64
}

// Compile-time interface guard.
var _ transport.Transport = (*Transport)(nil)

// New creates a unix socket transport.
func New(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "transport.unix"),
		clients: make(map[*client]struct{}),
	}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "unix" }

// Start implements transport.Transport.
func (t *Transport) Start(ctx context.Context) error {
	if err := os.Remove(t.cfg.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("unixsock: removing stale socket: %w", err)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", t.cfg.Path)
	if err != nil {
		return fmt.Errorf("unixsock: listen %s: %w", t.cfg.Path, err)
	}
	t.listener = ln

	acceptCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.acceptLoop(acceptCtx)

	t.logger.Info("unix socket listening", "path", t.cfg.Path)
	return nil
}

// Stop implements transport.Transport.
func (t *Transport) Stop(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	var err error
	if t.listener != nil {
		err = t.listener.Close()
	}

	t.mu.Lock()
	clients := make([]*client, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()
	for _, c := range clients {
		c.Close(transport.CloseGoingAway, "server shutting down")
	}

	os.Remove(t.cfg.Path)
	return err
}

func (t *Transport) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			t.EmitError(fmt.Errorf("unixsock: accept: %w", err))
			continue
		}
		c := &client{
			t:     t,
			id:    fmt.Sprintf("unix-%d", t.nextID.Add(1)),
			conn:  conn,
			state: transport.StateConnected,
		}
		t.mu.Lock()
		t.clients[c] = struct{}{}
		t.mu.Unlock()

		t.EmitConnection(c)
		go t.readLoop(c)
	}
}

// readLoop reads and dispatches NDJSON lines one at a time. Handling is
// synchronous per client, which is what serializes auth before any
// requests that arrived in the same chunk.
func (t *Transport) readLoop(c *client) {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		data := make([]byte, len(line))
		copy(data, line)
		t.EmitMessage(c, data)
	}
	t.drop(c, scanner.Err())
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
		c.conn.Close()
		t.EmitDisconnect(c, err)
	}
}

// client is one unix socket peer.
type client struct {
	t    *Transport
	conn net.Conn

	mu    sync.Mutex
	id    string
	state transport.State
	wmu   sync.Mutex
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

// IsPressured always reports false; writes block on the socket buffer.
func (c *client) IsPressured() bool { return false }

func (c *client) Send(f transport.Frame) error {
	if !c.IsConnected() {
		return fmt.Errorf("unixsock: client %s not connected", c.ID())
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.conn.Write(append(f.Encode(), '\n')); err != nil {
		return fmt.Errorf("unixsock: write: %w", err)
	}
	return nil
}

// Close terminates the connection. NDJSON has no close-code framing; the
// code and reason go out as a final error frame.
func (c *client) Close(code int, reason string) error {
	c.mu.Lock()
	if c.state != transport.StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.Send(transport.NewErrorFrame(fmt.Sprintf("CLOSE_%d", code), reason))

	c.mu.Lock()
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	err := c.conn.Close()
	c.t.mu.Lock()
	delete(c.t.clients, c)
	c.t.mu.Unlock()
	c.t.EmitDisconnect(c, nil)
	return err
}
