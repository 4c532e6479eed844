// Package gateway is the transport-agnostic front-end: it authenticates
// clients, dispatches RPC requests, and fans session events out to
// subscribed clients through per-client bounded buffers.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agenticklabs/agentick/internal/app"
	"github.com/agenticklabs/agentick/internal/guard"
	"github.com/agenticklabs/agentick/internal/session"
	"github.com/agenticklabs/agentick/internal/transport"
	"github.com/agenticklabs/agentick/pkg/stream"
)

// clientConn is the gateway's view of one transport client.
type clientConn struct {
	tc  transport.Client
	buf *ClientEventBuffer

	mu       sync.Mutex
	authed   bool
	user     string
	metadata map[string]any
	subs     map[string]struct{}
}

func (cc *clientConn) authenticated() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.authed
}

func (cc *clientConn) subscribedTo(key string) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	_, ok := cc.subs[key]
	return ok
}

// Gateway multiplexes RPC and event fan-out over any number of
// transports.
type Gateway struct {
	id       string
	cfg      Config
	registry *app.Registry
	auth     Authenticator
	custom   *MethodRegistry
	metrics  *Metrics
	logger   *slog.Logger

	transports []transport.Transport

	mu       sync.Mutex
	clients  map[transport.Client]*clientConn
	watchers map[string]*watchEntry
}

// watchEntry tracks the fan-out subscription for one session instance.
// A key can be re-bound when the session is recreated after reset,
// close, or hibernation.
type watchEntry struct {
	sess  *session.Session
	unsub func()
}

// New creates a Gateway over the session registry. The authenticator is
// built from cfg.Auth; install a custom one with SetAuthenticator before
// Start.
func New(cfg Config, registry *app.Registry, logger *slog.Logger) (*Gateway, error) {
	cfg.defaults()
	auth, err := NewAuthenticator(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		id:       uuid.NewString(),
		cfg:      cfg,
		registry: registry,
		auth:     auth,
		custom:   NewMethodRegistry(),
		logger:   logger.With("component", "gateway"),
		clients:  make(map[transport.Client]*clientConn),
		watchers: make(map[string]*watchEntry),
	}, nil
}

// ID returns the gateway's instance id.
func (g *Gateway) ID() string { return g.id }

// Methods returns the custom method registry.
func (g *Gateway) Methods() *MethodRegistry { return g.custom }

// SetAuthenticator replaces the configured authenticator (the custom
// variant). Call before Start.
func (g *Gateway) SetAuthenticator(a Authenticator) { g.auth = a }

// UseMetrics installs Prometheus collectors. Optional.
func (g *Gateway) UseMetrics(m *Metrics) { g.metrics = m }

// AddTransport wires a transport's handlers into the gateway. Call
// before the transport starts.
func (g *Gateway) AddTransport(t transport.Transport) {
	t.OnConnection(g.handleConnection)
	t.OnMessage(g.handleMessage)
	t.OnDisconnect(g.handleDisconnect)
	t.OnError(func(err error) {
		g.logger.Warn("transport error", "transport", t.Type(), "error", err)
	})
	g.transports = append(g.transports, t)
}

// Start starts all transports.
func (g *Gateway) Start(ctx context.Context) error {
	for _, t := range g.transports {
		if err := t.Start(ctx); err != nil {
			return err
		}
		g.logger.Info("transport started", "transport", t.Type())
	}
	return nil
}

// Stop stops all transports and detaches session watchers. Transports
// close their clients with CloseGoingAway.
func (g *Gateway) Stop(ctx context.Context) error {
	var firstErr error
	for _, t := range g.transports {
		if err := t.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	g.mu.Lock()
	for _, w := range g.watchers {
		w.unsub()
	}
	g.watchers = make(map[string]*watchEntry)
	g.mu.Unlock()
	return firstErr
}

func (g *Gateway) handleConnection(c transport.Client) {
	cc := &clientConn{
		tc:   c,
		subs: make(map[string]struct{}),
	}
	var onDrop func(int)
	if g.metrics != nil {
		onDrop = func(n int) { g.metrics.FanoutDrops.Add(float64(n)) }
	}
	cc.buf = NewClientEventBuffer(c, g.cfg.BufferMax, g.cfg.Overflow, onDrop)

	g.mu.Lock()
	g.clients[c] = cc
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.ActiveClients.Inc()
	}
	g.logger.Debug("client connected", "client_id", c.ID())
}

func (g *Gateway) handleDisconnect(c transport.Client, err error) {
	g.mu.Lock()
	_, ok := g.clients[c]
	delete(g.clients, c)
	g.mu.Unlock()
	if !ok {
		return
	}

	// The buffer is not touched here: Close may be invoked from inside a
	// buffer push (overflow), and pushes after disconnect are no-ops
	// anyway.
	if g.metrics != nil {
		g.metrics.ActiveClients.Dec()
	}
	g.logger.Debug("client disconnected", "client_id", c.ID(), "error", err)
}

func (g *Gateway) handleMessage(c transport.Client, data []byte) {
	g.mu.Lock()
	cc, ok := g.clients[c]
	g.mu.Unlock()
	if !ok {
		return
	}

	f, err := transport.ParseFrame(data)
	if err != nil {
		c.Send(transport.NewErrorFrame(CodeInvalidMessage, "malformed frame"))
		return
	}

	switch f.Type {
	case transport.FramePing:
		c.Send(transport.NewPong(f.Timestamp))

	case transport.FrameConnect:
		g.handleConnect(cc, f)

	case transport.FrameReq:
		if !cc.authenticated() {
			c.Send(transport.NewErrorFrame(CodeUnauthorized, "not authenticated"))
			return
		}
		g.dispatch(cc, f)

	default:
		if !cc.authenticated() {
			c.Send(transport.NewErrorFrame(CodeUnauthorized, "not authenticated"))
			return
		}
		c.Send(transport.NewErrorFrame(CodeInvalidMessage, "unexpected frame type "+string(f.Type)))
	}
}

func (g *Gateway) handleConnect(cc *clientConn, f transport.Frame) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()

	res := g.auth.Authenticate(ctx, f.Token)
	if !res.OK {
		reason := res.Reason
		if reason == "" {
			reason = "authentication failed"
		}
		cc.tc.Send(transport.NewErrorFrame(CodeAuthFailed, reason))
		cc.tc.Close(transport.CloseAuthFailed, "authentication failed")
		g.logger.Info("client auth failed", "client_id", cc.tc.ID())
		return
	}

	// The connect frame's clientId expresses client intent and replaces
	// the server-assigned id.
	if f.ClientID != "" {
		cc.tc.SetID(f.ClientID)
	}

	cc.mu.Lock()
	cc.authed = true
	cc.user = res.User
	cc.metadata = f.Metadata
	cc.mu.Unlock()

	cc.tc.Send(transport.NewConnected(g.id, g.appInfos(), g.sessionKeys()))
	g.logger.Info("client authenticated", "client_id", cc.tc.ID(), "user", res.User)
}

func (g *Gateway) appInfos() []transport.AppInfo {
	names := g.registry.Apps()
	infos := make([]transport.AppInfo, 0, len(names))
	for _, name := range names {
		info := transport.AppInfo{ID: name, Name: name, IsDefault: name == g.defaultApp()}
		if a, ok := g.registry.App(name); ok {
			info.Description = a.Description
		}
		infos = append(infos, info)
	}
	return infos
}

func (g *Gateway) sessionKeys() []string {
	keys := g.registry.Sessions()
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.String())
	}
	return out
}

func (g *Gateway) defaultApp() string {
	if g.cfg.DefaultApp != "" {
		return g.cfg.DefaultApp
	}
	return app.DefaultApp
}

// parseKey resolves a wire session id to a registry key, honoring the
// configured default app for bare names.
func (g *Gateway) parseKey(sid string) app.SessionKey {
	if !strings.Contains(sid, ":") {
		return app.SessionKey{App: g.defaultApp(), ID: sid}
	}
	return app.ParseKey(sid)
}

func (g *Gateway) dispatch(cc *clientConn, f transport.Frame) {
	if f.Method == "" {
		cc.tc.Send(transport.NewResultError(f.ID, CodeInvalidMessage, "req frame missing method"))
		return
	}

	start := time.Now()
	if g.metrics != nil {
		g.metrics.Requests.WithLabelValues(f.Method).Inc()
	}

	payload, err := g.call(cc, f)

	if g.metrics != nil {
		g.metrics.Latency.WithLabelValues(f.Method).Observe(time.Since(start).Seconds())
	}

	if err != nil {
		code, msg := errorCode(err)
		if g.metrics != nil {
			g.metrics.RequestErrors.WithLabelValues(code).Inc()
		}
		if code == CodeInternal {
			g.logger.Error("request failed", "method", f.Method, "error", err)
		}
		cc.tc.Send(transport.NewResultError(f.ID, code, msg))
		return
	}
	cc.tc.Send(transport.NewResult(f.ID, payload))
}

// call runs the handler under the request timeout. Expiry cancels the
// handler's context and reports TIMEOUT.
func (g *Gateway) call(cc *clientConn, f transport.Frame) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.RequestTimeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.invoke(ctx, cc, f.Method, f.Params)
		done <- outcome{res, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if out.result == nil {
			return nil, nil
		}
		payload, err := json.Marshal(out.result)
		if err != nil {
			return nil, Errorf(CodeInternal, "encoding result: %v", err)
		}
		return payload, nil
	case <-ctx.Done():
		return nil, Errorf(CodeTimeout, "method %s timed out", f.Method)
	}
}

func (g *Gateway) invoke(ctx context.Context, cc *clientConn, method string, params json.RawMessage) (any, error) {
	if h, ok := builtins[method]; ok {
		return h(ctx, g, cc, params)
	}

	if m, ok := g.custom.Lookup(method); ok {
		if err := m.validate(params); err != nil {
			return nil, err
		}
		cc.mu.Lock()
		inv := &Invocation{
			ClientID: cc.tc.ID(),
			User:     cc.user,
			Metadata: cc.metadata,
			Params:   params,
			Registry: g.registry,
		}
		cc.mu.Unlock()
		return m.handler(ctx, inv)
	}

	return nil, Errorf(CodeUnknownMethod, "unknown method %q", method)
}

// ensureWatch attaches a wildcard fan-out handler to a session's bus.
// When the key is already watched on the same instance this is a no-op;
// a recreated session re-binds the watch.
func (g *Gateway) ensureWatch(key string, sess *session.Session) {
	g.mu.Lock()
	if w, ok := g.watchers[key]; ok {
		if w.sess == sess {
			g.mu.Unlock()
			return
		}
		w.unsub()
	}
	unsub := sess.Events().On(stream.Wildcard, func(ev stream.Event) {
		g.fanout(key, ev)
	})
	g.watchers[key] = &watchEntry{sess: sess, unsub: unsub}
	g.mu.Unlock()
}

// unwatch detaches the fan-out handler for a key, if any.
func (g *Gateway) unwatch(key string) {
	g.mu.Lock()
	if w, ok := g.watchers[key]; ok {
		w.unsub()
		delete(g.watchers, key)
	}
	g.mu.Unlock()
}

// fanout routes one session event to every authenticated client
// subscribed to the session, through its event buffer.
func (g *Gateway) fanout(key string, ev stream.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		g.logger.Error("event encode failed", "session", key, "error", err)
		return
	}
	frame := transport.NewEventFrame(string(ev.Type), key, data)

	g.mu.Lock()
	targets := make([]*clientConn, 0, len(g.clients))
	for _, cc := range g.clients {
		if cc.authenticated() && cc.subscribedTo(key) {
			targets = append(targets, cc)
		}
	}
	g.mu.Unlock()

	for _, cc := range targets {
		if err := cc.buf.Push(frame); err != nil {
			if g.metrics != nil {
				g.metrics.FanoutDrops.Inc()
			}
			g.logger.Warn("client evicted on overflow", "client_id", cc.tc.ID(), "session", key)
		} else if g.metrics != nil {
			g.metrics.FanoutEvents.Inc()
		}
	}
}

// errorCode maps a handler error to its wire code and message.
func errorCode(err error) (string, string) {
	var rpc *RPCError
	if errors.As(err, &rpc) {
		return rpc.Code, rpc.Message
	}
	if errors.Is(err, app.ErrSessionNotFound) {
		return CodeSessionNotFound, err.Error()
	}
	if errors.Is(err, app.ErrUnknownApp) {
		return CodeInvalidParams, err.Error()
	}
	if reason, ok := guard.IsDenial(err); ok {
		return CodeGuardDenied, reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, "request timed out"
	}
	return CodeInternal, err.Error()
}
