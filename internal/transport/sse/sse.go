// Package sse is the HTTP transport: GET /events streams ChannelEvents
// as server-sent events; POST /events carries inbound ChannelEvents.
// Responses to POSTed requests flow out on the client's event stream.
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/agenticklabs/agentick/internal/transport"
)

// sendBuffer is the per-client outbound channel depth; above
// pressureMark the client reports backpressure.
const (
	sendBuffer   = 64
	pressureMark = 48
)

// Config holds the listener settings.
type Config struct {
	// Addr is the host:port to bind.
	Addr string

	// PathPrefix prefixes the /events routes.
	PathPrefix string

	// CorsOrigin, when set, is returned as Access-Control-Allow-Origin.
	CorsOrigin string

	// Token, when set, gates POST /events at the HTTP layer. The
	// Authorization header takes precedence over the token query
	// parameter.
	Token string

	// MetricsHandler, when set, is mounted at /metrics.
	MetricsHandler http.Handler

	Logger *slog.Logger
}

// Transport is the HTTP/SSE server transport.
type Transport struct {
	transport.Handlers

	cfg    Config
	logger *slog.Logger
	server *http.Server
	ln     net.Listener

	mu      sync.Mutex
	clients map[string]*client
	nextID  atomic.Int64
}

// Compile-time interface guard.
var _ transport.Transport = (*Transport)(nil)

// New creates an SSE transport.
func New(cfg Config) *Transport {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "transport.sse"),
		clients: make(map[string]*client),
	}
}

// Type implements transport.Transport.
func (t *Transport) Type() string { return "sse" }

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
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	prefix := strings.TrimSuffix(t.cfg.PathPrefix, "/")
	r.Get(prefix+"/events", t.handleStream)
	r.Post(prefix+"/events", t.handlePost)
	if t.cfg.MetricsHandler != nil {
		r.Handle("/metrics", t.cfg.MetricsHandler)
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("sse: listen %s: %w", t.cfg.Addr, err)
	}

	t.ln = ln
	t.server = &http.Server{Handler: r}
	go func() {
		t.logger.Info("sse listening", "addr", ln.Addr().String(), "prefix", prefix)
		if err := t.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.EmitError(fmt.Errorf("sse: serve: %w", err))
		}
	}()
	return nil
}

// Stop implements transport.Transport.
func (t *Transport) Stop(ctx context.Context) error {
	t.mu.Lock()
	clients := make([]*client, 0, len(t.clients))
	for _, c := range t.clients {
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

// bearerToken extracts the request token: Authorization header first,
// then the token query parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return after
		}
		return auth
	}
	return r.URL.Query().Get("token")
}

func (t *Transport) writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}

func (t *Transport) clientKey(sessionID, userID string) string {
	return sessionID + "\x00" + userID
}

func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("sessionId")
	if sessionID == "" {
		t.writeError(w, http.StatusBadRequest, "INVALID_MESSAGE", "sessionId is required")
		return
	}
	userID := q.Get("userId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		t.writeError(w, http.StatusInternalServerError, "INTERNAL", "streaming unsupported")
		return
	}

	c := &client{
		t:         t,
		id:        fmt.Sprintf("sse-%d", t.nextID.Add(1)),
		key:       t.clientKey(sessionID, userID),
		sessionID: sessionID,
		state:     transport.StateConnected,
		send:      make(chan transport.ChannelEvent, sendBuffer),
		done:      make(chan struct{}),
	}

	t.mu.Lock()
	if prev, exists := t.clients[c.key]; exists {
		// One stream per (session, user): the newer stream wins.
		t.mu.Unlock()
		prev.Close(transport.CloseGoingAway, "superseded by a newer stream")
		t.mu.Lock()
	}
	t.clients[c.key] = c
	t.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	if t.cfg.CorsOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", t.cfg.CorsOrigin)
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	t.EmitConnection(c)

	// The SSE handshake is implicit: synthesize the connect frame and a
	// subscription for the requested session.
	connect := transport.Frame{Type: transport.FrameConnect, Token: bearerToken(r)}
	t.EmitMessage(c, connect.Encode())
	sub := transport.Frame{
		Type:   transport.FrameReq,
		ID:     c.id + "-subscribe",
		Method: "subscribe",
		Params: json.RawMessage(fmt.Sprintf(`{"sessionId":%q}`, sessionID)),
	}
	t.EmitMessage(c, sub.Encode())

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			t.drop(c, nil)
			return
		case <-c.done:
			return
		case ev := <-c.send:
			if _, err := fmt.Fprint(w, "data: "); err != nil {
				t.drop(c, err)
				return
			}
			if err := enc.Encode(ev); err != nil {
				t.drop(c, err)
				return
			}
			fmt.Fprint(w, "\n")
			flusher.Flush()
		}
	}
}

func (t *Transport) handlePost(w http.ResponseWriter, r *http.Request) {
	if t.cfg.Token != "" && bearerToken(r) != t.cfg.Token {
		t.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
		return
	}

	body := http.MaxBytesReader(w, r.Body, 4<<20)
	var ev transport.ChannelEvent
	if err := json.NewDecoder(body).Decode(&ev); err != nil || ev.Type == "" {
		t.writeError(w, http.StatusBadRequest, "INVALID_MESSAGE", "body is not a channel event")
		return
	}
	ev.Stamp(time.Now())

	sessionID := ev.SessionID
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}
	t.mu.Lock()
	c, ok := t.clients[t.clientKey(sessionID, ev.UserID)]
	t.mu.Unlock()
	if !ok {
		t.writeError(w, http.StatusBadGateway, "INTERNAL", "no active stream for session")
		return
	}

	f, err := transport.ChannelEventToFrame(ev)
	if err != nil {
		t.writeError(w, http.StatusBadRequest, "INVALID_MESSAGE", err.Error())
		return
	}
	t.EmitMessage(c, f.Encode())
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) drop(c *client, err error) {
	c.mu.Lock()
	already := c.state != transport.StateConnected
	c.state = transport.StateDisconnected
	c.mu.Unlock()

	t.mu.Lock()
	if t.clients[c.key] == c {
		delete(t.clients, c.key)
	}
	t.mu.Unlock()

	if !already {
		close(c.done)
		t.EmitDisconnect(c, err)
	}
}

// client is one SSE stream.
type client struct {
	t         *Transport
	key       string
	sessionID string
	send      chan transport.ChannelEvent
	done      chan struct{}

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

// IsPressured reports a nearly full outbound channel.
func (c *client) IsPressured() bool {
	return len(c.send) >= pressureMark
}

func (c *client) Send(f transport.Frame) error {
	if !c.IsConnected() {
		return fmt.Errorf("sse: client %s not connected", c.ID())
	}
	select {
	case c.send <- transport.FrameToChannelEvent(f):
		return nil
	default:
		return fmt.Errorf("sse: client %s send buffer full", c.ID())
	}
}

func (c *client) Close(code int, reason string) error {
	c.t.drop(c, nil)
	return nil
}
