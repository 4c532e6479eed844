package mux

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Upstream is the physical gateway connection a leader owns.
type Upstream interface {
	// Connect establishes the connection.
	Connect(ctx context.Context) error

	// Close tears the connection down.
	Close() error

	// Request performs one RPC on the connection.
	Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)

	// Subscribe adds a session subscription on the connection.
	Subscribe(ctx context.Context, sessionID string) error

	// OnEvent registers the inbound stream-event handler.
	OnEvent(fn func(sessionID string, event json.RawMessage))
}

// StreamingUpstream additionally streams per-request events, used for
// send so the originating tab sees deltas as they arrive.
type StreamingUpstream interface {
	Upstream

	// Stream performs an RPC and forwards its intermediate events to
	// emit before returning the final result.
	Stream(ctx context.Context, method string, params json.RawMessage, emit func(event json.RawMessage)) (json.RawMessage, error)
}

// Role is a tab's position in the election.
type Role string

// Roles.
const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

// Config wires a Tab.
type Config struct {
	// TabID identifies this tab on the bus. Required, unique per origin.
	TabID string

	Bus      Bus
	Upstream Upstream

	// CollectTimeout bounds the announce-collection window after a new
	// leader broadcasts collecting. Default 200ms.
	CollectTimeout time.Duration

	// PingInterval is the leader-liveness probe period. Default 2s.
	PingInterval time.Duration

	// PingTimeout is how long a probe waits for pong before the tab
	// considers the leader gone. Default 500ms.
	PingTimeout time.Duration

	// ElectionDelay returns the candidate's racing-timer delay. The
	// default is uniform in [10ms, 150ms).
	ElectionDelay func() time.Duration

	// RequestTimeout bounds forwarded requests. Default 5s.
	RequestTimeout time.Duration

	// OnEvent receives broadcast stream events on every tab.
	OnEvent func(sessionID string, event json.RawMessage)

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = 200 * time.Millisecond
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 2 * time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 500 * time.Millisecond
	}
	if c.ElectionDelay == nil {
		c.ElectionDelay = func() time.Duration {
			return 10*time.Millisecond + time.Duration(rand.Int63n(int64(140*time.Millisecond)))
		}
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Tab is one participant: at most one tab per origin is the ready
// leader owning the upstream; the rest forward through it.
type Tab struct {
	cfg    Config
	id     string
	bus    Bus
	logger *slog.Logger

	mu            sync.Mutex
	role          Role
	ready         bool
	leaderID      string
	lastPong      time.Time
	subs          map[string]struct{}
	collected     map[string]struct{}
	collecting    bool
	electionEpoch int
	electionTimer *time.Timer

	pending        map[string]chan Message
	pendingStreams map[string]func(Message)

	seq    atomic.Int64
	unsub  func()
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTab creates a tab. Call Start to join the bus.
func NewTab(cfg Config) *Tab {
	cfg.defaults()
	return &Tab{
		cfg:            cfg,
		id:             cfg.TabID,
		bus:            cfg.Bus,
		logger:         cfg.Logger.With("component", "mux", "tab_id", cfg.TabID),
		role:           RoleFollower,
		subs:           make(map[string]struct{}),
		pending:        make(map[string]chan Message),
		pendingStreams: make(map[string]func(Message)),
	}
}

// ID returns the tab id.
func (t *Tab) ID() string { return t.id }

// Role returns the current role.
func (t *Tab) Role() Role {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.role
}

// IsReadyLeader reports whether this tab is the leader with transport
// ready.
func (t *Tab) IsReadyLeader() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.role == RoleLeader && t.ready
}

// LeaderID returns the id of the last-seen ready leader.
func (t *Tab) LeaderID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaderID
}

// Start joins the bus, probes for a leader, and begins liveness
// monitoring. If no leader answers, the tab stands for election.
func (t *Tab) Start() {
	t.unsub = t.bus.Subscribe(t.handle)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.wg.Add(1)
	go t.monitor(ctx)
}

// Stop leaves the bus. A leader closes its upstream; followers just
// detach. No failover announcement is made: the next probe timeout
// triggers the election, same as a crash.
func (t *Tab) Stop() {
	t.Kill()
	t.mu.Lock()
	wasLeader := t.role == RoleLeader && t.ready
	t.mu.Unlock()
	if wasLeader {
		t.cfg.Upstream.Close()
	}
}

// Kill detaches the tab abruptly, simulating a crash: no cleanup, no
// upstream close, no bus messages.
func (t *Tab) Kill() {
	if t.cancel != nil {
		t.cancel()
	}
	if t.unsub != nil {
		t.unsub()
		t.unsub = nil
	}
	t.mu.Lock()
	if t.electionTimer != nil {
		t.electionTimer.Stop()
		t.electionTimer = nil
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// Subscribe records a session subscription and establishes it through
// the current leader (or directly when this tab leads).
func (t *Tab) Subscribe(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	t.subs[sessionID] = struct{}{}
	leader := t.role == RoleLeader && t.ready
	t.mu.Unlock()

	if leader {
		return t.cfg.Upstream.Subscribe(ctx, sessionID)
	}
	params, _ := json.Marshal(map[string]string{"sessionId": sessionID})
	_, err := t.Request(ctx, "subscribe", params)
	return err
}

// Subscriptions returns this tab's session subscriptions, sorted.
func (t *Tab) Subscriptions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.subs))
	for s := range t.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Request performs an RPC: directly on the upstream when leading,
// otherwise forwarded over the bus and matched by requestId.
func (t *Tab) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	if t.IsReadyLeader() {
		return t.cfg.Upstream.Request(ctx, method, params)
	}

	id := t.nextRequestID()
	ch := make(chan Message, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	t.bus.Publish(Message{Type: RequestType(method), TabID: t.id, RequestID: id, Params: params})

	timeout := t.cfg.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		if !msg.OK {
			if msg.Err != nil {
				return nil, fmt.Errorf("mux: %s: %s", msg.Err.Code, msg.Err.Message)
			}
			return nil, fmt.Errorf("mux: request %s failed", id)
		}
		return msg.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("mux: request %s timed out", id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// nextRequestID produces "<tabId>-<n>": globally unique within the
// origin because tab ids are.
func (t *Tab) nextRequestID() string {
	return fmt.Sprintf("%s-%d", t.id, t.seq.Add(1))
}

func (t *Tab) monitor(ctx context.Context) {
	defer t.wg.Done()

	// Initial probe: a ready leader answers the ping; silence starts an
	// election.
	t.mu.Lock()
	t.lastPong = time.Now()
	t.mu.Unlock()
	t.bus.Publish(Message{Type: TypePingLeader, TabID: t.id})

	probe := time.NewTicker(t.cfg.PingInterval)
	defer probe.Stop()
	check := time.NewTicker(t.cfg.PingTimeout)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-probe.C:
			t.bus.Publish(Message{Type: TypePingLeader, TabID: t.id})
		case <-check.C:
			t.mu.Lock()
			stale := time.Since(t.lastPong) > t.cfg.PingInterval+t.cfg.PingTimeout
			follower := t.role == RoleFollower
			t.mu.Unlock()
			if stale && follower {
				t.elect()
			}
		}
	}
}

// elect stands for leadership with a racing timer: the candidate whose
// delay fires first proceeds; seeing another tab's collecting or ready
// first means yielding.
func (t *Tab) elect() {
	t.mu.Lock()
	if t.role != RoleFollower {
		t.mu.Unlock()
		return
	}
	t.role = RoleCandidate
	t.electionEpoch++
	epoch := t.electionEpoch
	delay := t.cfg.ElectionDelay()
	t.electionTimer = time.AfterFunc(delay, func() { t.becomeLeader(epoch) })
	t.mu.Unlock()

	t.logger.Debug("standing for election", "delay", delay)
}

func (t *Tab) becomeLeader(epoch int) {
	t.mu.Lock()
	if t.role != RoleCandidate || t.electionEpoch != epoch {
		t.mu.Unlock()
		return
	}
	t.role = RoleLeader
	t.ready = false
	t.leaderID = t.id
	t.collecting = true
	t.collected = make(map[string]struct{})
	for s := range t.subs {
		t.collected[s] = struct{}{}
	}
	t.mu.Unlock()

	t.logger.Info("collecting subscriptions")
	t.bus.Publish(Message{Type: TypeCollecting, TabID: t.id})
	time.AfterFunc(t.cfg.CollectTimeout, t.finishCollect)
}

func (t *Tab) finishCollect() {
	t.mu.Lock()
	if t.role != RoleLeader {
		t.mu.Unlock()
		return
	}
	t.collecting = false
	sessions := make([]string, 0, len(t.collected))
	for s := range t.collected {
		sessions = append(sessions, s)
	}
	sort.Strings(sessions)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	defer cancel()

	up := t.cfg.Upstream
	if err := up.Connect(ctx); err != nil {
		t.logger.Error("upstream connect failed, yielding", "error", err)
		t.mu.Lock()
		t.role = RoleFollower
		t.mu.Unlock()
		return
	}
	up.OnEvent(func(sessionID string, event json.RawMessage) {
		t.bus.Publish(Message{Type: TypeEvent, TabID: t.id, SessionID: sessionID, Event: event})
	})
	for _, s := range sessions {
		if err := up.Subscribe(ctx, s); err != nil {
			t.logger.Warn("resubscribe failed", "session", s, "error", err)
		}
	}

	t.mu.Lock()
	t.ready = true
	t.lastPong = time.Now()
	t.mu.Unlock()

	t.logger.Info("transport ready", "sessions", len(sessions))
	t.bus.Publish(Message{Type: TypeReady, TabID: t.id})
}

// yield abandons a candidacy or un-ready leadership in favor of tabID.
func (t *Tab) yield(tabID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.role == RoleLeader && t.ready {
		// An established leader does not step down on a rival's
		// announcement; the newest transport_ready wins for followers.
		return
	}
	if t.electionTimer != nil {
		t.electionTimer.Stop()
		t.electionTimer = nil
	}
	t.electionEpoch++
	t.role = RoleFollower
	t.leaderID = tabID
	t.lastPong = time.Now()
}

func (t *Tab) handle(msg Message) {
	switch msg.Type {
	case TypeCollecting:
		if msg.TabID != t.id {
			t.yield(msg.TabID)
		}
		t.bus.Publish(Message{
			Type:     TypeAnnounce,
			TabID:    t.id,
			Sessions: t.Subscriptions(),
		})

	case TypeReady:
		if msg.TabID != t.id {
			t.yield(msg.TabID)
		}
		t.mu.Lock()
		t.leaderID = msg.TabID
		t.lastPong = time.Now()
		t.mu.Unlock()

	case TypePingLeader:
		if t.IsReadyLeader() {
			t.bus.Publish(Message{Type: TypePongLeader, TabID: t.id})
		}

	case TypePongLeader:
		t.mu.Lock()
		t.leaderID = msg.TabID
		t.lastPong = time.Now()
		t.mu.Unlock()

	case TypeAnnounce:
		t.mu.Lock()
		if t.collecting {
			for _, s := range msg.Sessions {
				t.collected[s] = struct{}{}
			}
		}
		t.mu.Unlock()

	case TypeResponse:
		t.mu.Lock()
		ch, ok := t.pending[msg.RequestID]
		t.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}

	case TypeEvent:
		if t.cfg.OnEvent != nil {
			t.cfg.OnEvent(msg.SessionID, msg.Event)
		}

	case TypeStreamEvent, TypeStreamEnd, TypeStreamError:
		t.mu.Lock()
		fn, ok := t.pendingStreams[msg.RequestID]
		t.mu.Unlock()
		if ok {
			fn(msg)
		}

	default:
		if method, ok := RequestMethod(msg.Type); ok && t.IsReadyLeader() {
			go t.serveRequest(method, msg)
		}
	}
}

// serveRequest executes one forwarded request on the upstream and
// answers on the bus. Leaders track followers' subscriptions so a later
// failover collection stays accurate.
func (t *Tab) serveRequest(method string, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.RequestTimeout)
	defer cancel()

	if method == "subscribe" {
		var p struct {
			SessionID string `json:"sessionId"`
		}
		if json.Unmarshal(msg.Params, &p) == nil && p.SessionID != "" {
			if err := t.cfg.Upstream.Subscribe(ctx, p.SessionID); err != nil {
				t.respondErr(msg.RequestID, "INTERNAL", err.Error())
				return
			}
			t.respond(msg.RequestID, json.RawMessage(`{"subscribed":true}`))
			return
		}
		t.respondErr(msg.RequestID, "INVALID_PARAMS", "sessionId is required")
		return
	}

	if su, ok := t.cfg.Upstream.(StreamingUpstream); ok && method == "send" {
		result, err := su.Stream(ctx, method, msg.Params, func(event json.RawMessage) {
			t.bus.Publish(Message{Type: TypeStreamEvent, TabID: t.id, RequestID: msg.RequestID, Event: event})
		})
		if err != nil {
			t.bus.Publish(Message{Type: TypeStreamError, TabID: t.id, RequestID: msg.RequestID,
				Err: &Error{Code: "INTERNAL", Message: err.Error()}})
			t.respondErr(msg.RequestID, "INTERNAL", err.Error())
			return
		}
		t.bus.Publish(Message{Type: TypeStreamEnd, TabID: t.id, RequestID: msg.RequestID})
		t.respond(msg.RequestID, result)
		return
	}

	result, err := t.cfg.Upstream.Request(ctx, method, msg.Params)
	if err != nil {
		t.respondErr(msg.RequestID, "INTERNAL", err.Error())
		return
	}
	t.respond(msg.RequestID, result)
}

func (t *Tab) respond(requestID string, result json.RawMessage) {
	t.bus.Publish(Message{Type: TypeResponse, TabID: t.id, RequestID: requestID, OK: true, Result: result})
}

func (t *Tab) respondErr(requestID, code, message string) {
	t.bus.Publish(Message{Type: TypeResponse, TabID: t.id, RequestID: requestID,
		Err: &Error{Code: code, Message: message}})
}

// RequestStream performs a send whose intermediate events are delivered
// to onEvent; only this tab sees them. The final result returns as from
// Request.
func (t *Tab) RequestStream(ctx context.Context, method string, params json.RawMessage, onEvent func(event json.RawMessage)) (json.RawMessage, error) {
	if t.IsReadyLeader() {
		if su, ok := t.cfg.Upstream.(StreamingUpstream); ok {
			return su.Stream(ctx, method, params, onEvent)
		}
		return t.cfg.Upstream.Request(ctx, method, params)
	}

	id := t.nextRequestID()
	ch := make(chan Message, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.pendingStreams[id] = func(msg Message) {
		if msg.Type == TypeStreamEvent && onEvent != nil {
			onEvent(msg.Event)
		}
	}
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		delete(t.pendingStreams, id)
		t.mu.Unlock()
	}()

	t.bus.Publish(Message{Type: RequestType(method), TabID: t.id, RequestID: id, Params: params})

	timer := time.NewTimer(t.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case msg := <-ch:
		if !msg.OK {
			if msg.Err != nil {
				return nil, fmt.Errorf("mux: %s: %s", msg.Err.Code, msg.Err.Message)
			}
			return nil, fmt.Errorf("mux: request %s failed", id)
		}
		return msg.Result, nil
	case <-timer.C:
		return nil, fmt.Errorf("mux: request %s timed out", id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
