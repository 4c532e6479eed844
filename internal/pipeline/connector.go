package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/agenticklabs/agentick/internal/session"
	"github.com/agenticklabs/agentick/pkg/message"
	"github.com/agenticklabs/agentick/pkg/stream"
)

// ErrRateLimited is returned by Submit when the inbound limiter blocks a
// send. Any throttle reply has already gone through the delivery path.
var ErrRateLimited = errors.New("pipeline: rate limited")

// Connector wires one session to an external destination: assistant
// output flows through the policy filter and delivery buffer; inbound
// user sends pass the rate limiter first.
type Connector struct {
	policy   Policy
	buffer   *DeliveryBuffer
	limiter  *RateLimiter
	delivery *Delivery
	logger   *slog.Logger

	detach func()
}

// ConnectorConfig assembles a Connector.
type ConnectorConfig struct {
	Policy Policy

	// Mode and Debounce configure the delivery buffer.
	Mode     DeliveryMode
	Debounce time.Duration

	// Limiter throttles inbound sends. Optional.
	Limiter *RateLimiter

	// Delivery dispatches flushed batches. Required.
	Delivery *Delivery

	Logger *slog.Logger
}

// NewConnector creates a detached Connector; call Attach to bind it to a
// session's event bus.
func NewConnector(cfg ConnectorConfig) *Connector {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Connector{
		policy:   cfg.Policy,
		limiter:  cfg.Limiter,
		delivery: cfg.Delivery,
		logger:   cfg.Logger.With("component", "connector"),
	}
	c.buffer = NewDeliveryBuffer(cfg.Mode, cfg.Debounce, func(msgs []message.Message, idle bool) {
		c.delivery.Dispatch(context.Background(), Output{Messages: msgs, IsComplete: idle})
	})
	return c
}

// Attach subscribes the connector to a session. Assistant and tool
// output is filtered and buffered as each message completes, so the
// delivery mode governs outbound timing; the buffer goes idle at
// execution_end.
func (c *Connector) Attach(s *session.Session) {
	offMsg := s.Events().On(stream.EventMessageEnd, func(ev stream.Event) {
		for _, entry := range ev.NewEntries {
			if entry.Kind != message.EntryMessage {
				continue
			}
			msg := entry.Message
			if msg.Role == message.RoleUser {
				// Inbound messages are never echoed back out.
				continue
			}
			if filtered, keep := c.policy.Apply(msg); keep {
				c.buffer.Push(filtered)
			}
		}
	})
	offEnd := s.Events().On(stream.EventExecutionEnd, func(stream.Event) {
		c.buffer.MarkIdle()
	})
	c.detach = func() {
		offMsg()
		offEnd()
	}
}

// Submit gates an inbound user message through the rate limiter and
// sends it to the session. Blocked sends produce no execution; the
// optional throttle reply is delivered as a synthetic assistant message.
func (c *Connector) Submit(s *session.Session, msg message.Message, mode session.SendMode) (*session.Handle, error) {
	if c.limiter != nil {
		res := c.limiter.Check()
		if !res.Allowed {
			if res.Reply != "" {
				c.delivery.Dispatch(context.Background(), Output{
					Messages:   []message.Message{message.NewAssistantMessage(res.Reply)},
					IsComplete: true,
				})
			}
			return nil, ErrRateLimited
		}
	}
	return s.Send(msg, mode)
}

// Detach unsubscribes from the session and destroys the buffer.
func (c *Connector) Detach() {
	if c.detach != nil {
		c.detach()
		c.detach = nil
	}
	c.buffer.Destroy()
}
