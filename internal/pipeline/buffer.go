package pipeline

import (
	"sync"
	"time"

	"github.com/agenticklabs/agentick/pkg/message"
)

// DeliveryMode controls when buffered messages are handed to the
// delivery function.
type DeliveryMode string

// Delivery modes.
const (
	// DeliverImmediate flushes on every push.
	DeliverImmediate DeliveryMode = "immediate"

	// DeliverOnIdle flushes only on MarkIdle.
	DeliverOnIdle DeliveryMode = "on-idle"

	// DeliverDebounced flushes after a quiet period with no pushes;
	// MarkIdle flushes immediately and cancels the timer.
	DeliverDebounced DeliveryMode = "debounced"
)

// Flush reasons passed to the deliver function.
const (
	flushPush  = "push"
	flushIdle  = "idle"
	flushTimer = "timer"
)

// DeliveryBuffer batches outbound messages per the configured mode.
type DeliveryBuffer struct {
	mode     DeliveryMode
	debounce time.Duration
	deliver  func(msgs []message.Message, idle bool)

	mu        sync.Mutex
	pending   []message.Message
	timer     *time.Timer
	destroyed bool
}

// NewDeliveryBuffer creates a buffer. deliver receives the flushed batch
// and whether the flush was triggered at idle (execution end). debounce
// applies only under DeliverDebounced.
func NewDeliveryBuffer(mode DeliveryMode, debounce time.Duration, deliver func(msgs []message.Message, idle bool)) *DeliveryBuffer {
	if mode == "" {
		mode = DeliverImmediate
	}
	return &DeliveryBuffer{mode: mode, debounce: debounce, deliver: deliver}
}

// Push adds a message and applies the mode's timing.
func (b *DeliveryBuffer) Push(msg message.Message) {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, msg)

	switch b.mode {
	case DeliverImmediate:
		b.flushLocked(flushPush)
		return
	case DeliverDebounced:
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(b.debounce, func() {
			b.mu.Lock()
			b.flushLocked(flushTimer)
		})
	}
	b.mu.Unlock()
}

// MarkIdle flushes pending messages, cancelling any debounce timer.
// Called at execution_end.
func (b *DeliveryBuffer) MarkIdle() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.flushLocked(flushIdle)
}

// Flush forces delivery of any pending messages.
func (b *DeliveryBuffer) Flush() {
	b.mu.Lock()
	b.flushLocked(flushPush)
}

// Pending returns the number of buffered messages.
func (b *DeliveryBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Destroy cancels the timer and drops pending messages.
func (b *DeliveryBuffer) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.destroyed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.pending = nil
}

// flushLocked delivers outside the lock and releases it. Callers hold
// b.mu on entry.
func (b *DeliveryBuffer) flushLocked(reason string) {
	if len(b.pending) == 0 || b.destroyed {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if b.deliver != nil {
		b.deliver(batch, reason == flushIdle)
	}
}
