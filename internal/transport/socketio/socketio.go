// Package socketio adapts the gateway to Socket.IO clients. Exactly two
// event names are used: "<ns>:event" carries ChannelEvents in both
// directions and "<ns>:join" subscribes a socket to a session. Session
// rooms are "session:<id>".
package socketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	socketio "github.com/googollee/go-socket.io"

	"github.com/agenticklabs/agentick/internal/transport"
)

// Config holds the listener settings.
type Config struct {
	// Addr is the host:port to bind.
	Addr string

	// Namespace prefixes the two event names. Default "agentick".
	Namespace string

	Logger *slog.Logger
}

// Transport is the Socket.IO server transport.
type Transport struct {
	transport.Handlers

	cfg    Config
	logger *slog.Logger
	server *socketio.Server
	httpd  *http.Server

	mu      sync.Mutex
	clients map[string]*client
}

// Compile-time interface guard.
var _ transport.Transport = (*Transport)(nil)

// New creates a Socket.IO transport.
func New(cfg Config) *Transport {
	if cfg.Namespace == "" {
		cfg.Namespace = "agentick"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "transport.socketio"),
		clients: make(map[string]*client),
	}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "socketio" }

func (t *Transport) eventName() string { return t.cfg.Namespace + ":event" }
func (t *Transport) joinName() string  { return t.cfg.Namespace + ":join" }

// Start implements transport.Transport.
func (t *Transport) Start(ctx context.Context) error {
	srv := socketio.NewServer(nil)
	t.server = srv

	srv.OnConnect("/", func(s socketio.Conn) error {
		c := &client{t: t, conn: s, id: s.ID(), state: transport.StateConnected}
		t.mu.Lock()
		t.clients[s.ID()] = c
		t.mu.Unlock()
		t.EmitConnection(c)
		return nil
	})

	srv.OnEvent("/", t.eventName(), func(s socketio.Conn, msg string) {
		c := t.lookup(s.ID())
		if c == nil {
			return
		}
		ev, err := transport.ParseChannelEvent([]byte(msg))
		if err != nil {
			c.Send(transport.NewErrorFrame("INVALID_MESSAGE", "malformed channel event"))
			return
		}
		ev.Stamp(time.Now())
		f, err := transport.ChannelEventToFrame(ev)
		if err != nil {
			c.Send(transport.NewErrorFrame("INVALID_MESSAGE", err.Error()))
			return
		}
		t.EmitMessage(c, f.Encode())
	})

	srv.OnEvent("/", t.joinName(), func(s socketio.Conn, msg string) {
		c := t.lookup(s.ID())
		if c == nil {
			return
		}
		var join struct {
			SessionID string         `json:"sessionId"`
			Metadata  map[string]any `json:"metadata"`
		}
		if err := json.Unmarshal([]byte(msg), &join); err != nil || join.SessionID == "" {
			c.Send(transport.NewErrorFrame("INVALID_MESSAGE", "join needs a sessionId"))
			return
		}
		s.Join("session:" + join.SessionID)

		sub := transport.Frame{
			Type:   transport.FrameReq,
			ID:     s.ID() + "-join-" + join.SessionID,
			Method: "subscribe",
			Params: json.RawMessage(fmt.Sprintf(`{"sessionId":%q}`, join.SessionID)),
		}
		t.EmitMessage(c, sub.Encode())
	})

	srv.OnError("/", func(s socketio.Conn, err error) {
		t.EmitError(fmt.Errorf("socketio: %w", err))
	})

	srv.OnDisconnect("/", func(s socketio.Conn, reason string) {
		t.mu.Lock()
		c, ok := t.clients[s.ID()]
		delete(t.clients, s.ID())
		t.mu.Unlock()
		if !ok {
			return
		}
		c.mu.Lock()
		c.state = transport.StateDisconnected
		c.mu.Unlock()
		t.EmitDisconnect(c, nil)
	})

	go func() {
		if err := srv.Serve(); err != nil {
			t.EmitError(fmt.Errorf("socketio: serve: %w", err))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", srv)

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("socketio: listen %s: %w", t.cfg.Addr, err)
	}
	t.httpd = &http.Server{Handler: mux}
	go func() {
		t.logger.Info("socket.io listening", "addr", t.cfg.Addr, "namespace", t.cfg.Namespace)
		if err := t.httpd.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.EmitError(fmt.Errorf("socketio: serve http: %w", err))
		}
	}()
	return nil
}

// Stop implements transport.Transport.
func (t *Transport) Stop(ctx context.Context) error {
	var firstErr error
	if t.server != nil {
		if err := t.server.Close(); err != nil {
			firstErr = err
		}
	}
	if t.httpd != nil {
		if err := t.httpd.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Broadcast emits a frame to everyone in a session's room.
func (t *Transport) Broadcast(sessionID string, f transport.Frame) {
	if t.server == nil {
		return
	}
	ev := transport.FrameToChannelEvent(f)
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	t.server.BroadcastToRoom("/", "session:"+sessionID, t.eventName(), string(data))
}

func (t *Transport) lookup(id string) *client {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.clients[id]
}

// client is one Socket.IO peer.
type client struct {
	t    *Transport
	conn socketio.Conn

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

// IsPressured always reports false; go-socket.io buffers internally.
func (c *client) IsPressured() bool { return false }

func (c *client) Send(f transport.Frame) error {
	if !c.IsConnected() {
		return fmt.Errorf("socketio: client %s not connected", c.ID())
	}
	ev := transport.FrameToChannelEvent(f)
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("socketio: encode: %w", err)
	}
	c.conn.Emit(c.t.eventName(), string(data))
	return nil
}

func (c *client) Close(code int, reason string) error {
	c.mu.Lock()
	if c.state != transport.StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = transport.StateDisconnected
	c.mu.Unlock()
	return c.conn.Close()
}
