// Package session implements the tick-based session engine: one Session per
// conversation, advanced by executions that render the agent, stream a model
// response, run tools, and loop until the model yields.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/internal/guard"
	"github.com/agenticklabs/agentick/internal/render"
	"github.com/agenticklabs/agentick/internal/tool"
	"github.com/agenticklabs/agentick/pkg/message"
	"github.com/agenticklabs/agentick/pkg/stream"
)

// Status is the session lifecycle state.
type Status string

// Session states. At most one execution is running per session.
const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// SendMode controls how a message submitted to a running session behaves.
type SendMode string

// Send modes.
const (
	// ModeSteer makes the message available at the next tick boundary of
	// the in-flight execution.
	ModeSteer SendMode = "steer"

	// ModeQueue holds the message until the current execution ends.
	ModeQueue SendMode = "queue"
)

// Config wires a session's collaborators.
type Config struct {
	Adapter  adapter.Adapter
	Renderer render.Renderer
	Tools    *tool.Registry
	Guards   *guard.Chain

	// MaxToolConcurrency bounds the per-tick tool fan-out. Default 8.
	MaxToolConcurrency int

	// MaxTicks bounds one execution. Default 50.
	MaxTicks int

	// EventRetain bounds the session bus event log; events no live
	// subscriber can still reach are dropped past this mark. Zero means
	// stream.DefaultRetain.
	EventRetain int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxToolConcurrency <= 0 {
		c.MaxToolConcurrency = 8
	}
	if c.MaxTicks <= 0 {
		c.MaxTicks = 50
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tools == nil {
		c.Tools = tool.NewRegistry()
	}
	if c.Guards == nil {
		c.Guards = &guard.Chain{}
	}
	if c.Renderer == nil {
		c.Renderer = &render.Passthrough{}
	}
}

// Session is a named long-lived conversation. All mutation during an
// execution happens on the engine goroutine; the mutex guards the
// idle-state surface (queueing, snapshots, status reads).
type Session struct {
	id  string
	cfg Config

	mu       sync.Mutex
	status   Status
	tick     int
	timeline []message.TimelineEntry
	queue    []message.Message
	usage    message.Usage
	state    *render.State
	current  *Handle

	confirmations *tool.ConfirmationManager
	bus           *stream.Buffer
	logger        *slog.Logger
}

// New creates an idle session with the given id.
func New(id string, cfg Config) *Session {
	cfg.defaults()
	bus := stream.NewBuffer(cfg.Logger)
	if cfg.EventRetain > 0 {
		bus.SetRetain(cfg.EventRetain)
	}
	return &Session{
		id:            id,
		cfg:           cfg,
		status:        StatusIdle,
		state:         render.NewState(),
		confirmations: tool.NewConfirmationManager(),
		bus:           bus,
		logger:        cfg.Logger.With("component", "session", "session_id", id),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Tick returns the current tick counter.
func (s *Session) Tick() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Events returns the session-level event bus. It stays open across
// executions; the gateway fans it out to subscribed clients.
func (s *Session) Events() *stream.Buffer { return s.bus }

// Timeline returns a snapshot of the message history.
func (s *Session) Timeline() []message.TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]message.TimelineEntry, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// Usage returns the cumulative token usage.
func (s *Session) Usage() message.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// State returns the component state shared with the renderer.
func (s *Session) State() *render.State { return s.state }

// Send enqueues a user message and starts an execution if the session is
// idle. With ModeSteer the message becomes visible at the next tick
// boundary of a running execution; with ModeQueue it waits for the current
// execution to end. The returned handle is the running execution's.
func (s *Session) Send(msg message.Message, mode SendMode) (*Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusCompleted {
		return nil, ErrSessionClosed
	}

	s.queue = append(s.queue, msg)

	if s.status == StatusRunning {
		// ModeQueue relies on the run loop re-checking the queue after
		// execution_end; ModeSteer is picked up at the next tick boundary.
		return s.current, nil
	}
	return s.startLocked(), nil
}

// Run is Send for programmatic single-shot use: it starts an execution
// from the queued input and returns its handle.
func (s *Session) Run(msg message.Message) (*Handle, error) {
	return s.Send(msg, ModeQueue)
}

// Interrupt aborts any in-flight execution, then enqueues the message and
// starts a fresh execution.
func (s *Session) Interrupt(msg message.Message, reason string) (*Handle, error) {
	s.Abort(reason)
	return s.Send(msg, ModeSteer)
}

// Abort cancels the in-flight execution, if any. Queued messages are
// preserved. The aborted execution emits execution_end{other}.
func (s *Session) Abort(reason string) {
	s.mu.Lock()
	h := s.current
	s.mu.Unlock()

	if h != nil {
		h.abort(reason)
	}
}

// RespondToConfirmation resolves an outstanding tool confirmation.
func (s *Session) RespondToConfirmation(resp tool.ConfirmationResponse) bool {
	return s.confirmations.Resolve(resp)
}

// Close transitions the session to completed and closes the event bus.
// In-flight executions are aborted first.
func (s *Session) Close() {
	s.Abort("session closed")

	s.mu.Lock()
	s.status = StatusCompleted
	s.mu.Unlock()

	s.bus.Close()
}

// startLocked claims the execution lock and launches the engine goroutine.
// Callers must hold s.mu.
func (s *Session) startLocked() *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		SessionID:   s.id,
		ExecutionID: uuid.NewString(),
		events:      stream.NewBuffer(s.logger),
		result:      make(chan Result, 1),
		cancel:      cancel,
	}
	s.status = StatusRunning
	s.current = h

	go s.run(ctx, h)
	return h
}

// finish releases the execution lock and delivers the result.
func (s *Session) finish(h *Handle, res Result) {
	s.mu.Lock()
	if s.current == h {
		s.current = nil
	}
	restart := len(s.queue) > 0 && s.status == StatusRunning && res.Err == nil && res.StopReason != message.StopError
	if s.status == StatusRunning {
		s.status = StatusIdle
	}
	s.mu.Unlock()

	h.deliver(res)

	// A queue that filled during the final tick starts a fresh execution.
	if restart {
		s.mu.Lock()
		if s.status == StatusIdle && len(s.queue) > 0 {
			s.startLocked()
		}
		s.mu.Unlock()
	}
}
