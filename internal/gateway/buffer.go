package gateway

import (
	"errors"
	"sync"

	"github.com/agenticklabs/agentick/internal/transport"
)

// ErrBufferOverflow is returned by Push when the disconnect strategy
// fires. The client has already been closed with CloseOverflow.
var ErrBufferOverflow = errors.New("gateway: event buffer overflow")

// OverflowStrategy picks what happens when the queue exceeds max.
type OverflowStrategy string

// Overflow strategies.
const (
	// OverflowDisconnect closes the client with code 4008.
	OverflowDisconnect OverflowStrategy = "disconnect"

	// OverflowDropOldest evicts from the head until within max.
	OverflowDropOldest OverflowStrategy = "drop-oldest"
)

// ClientEventBuffer is the per-client bounded queue between the session
// event bus and a transport client. When the client is not pressured,
// frames go straight through; under pressure they queue, draining FIFO
// once pressure clears so order is preserved across both paths.
type ClientEventBuffer struct {
	client   transport.Client
	max      int
	strategy OverflowStrategy
	onDrop   func(n int)

	mu    sync.Mutex
	queue []transport.Frame
}

// NewClientEventBuffer creates a buffer. max <= 0 means unbounded.
// onDrop, if set, observes evictions under drop-oldest.
func NewClientEventBuffer(c transport.Client, max int, strategy OverflowStrategy, onDrop func(n int)) *ClientEventBuffer {
	if strategy == "" {
		strategy = OverflowDisconnect
	}
	return &ClientEventBuffer{client: c, max: max, strategy: strategy, onDrop: onDrop}
}

// Push delivers or queues one frame. Pushes to a disconnected client are
// a no-op: nothing buffers after close.
func (b *ClientEventBuffer) Push(f transport.Frame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.client.IsConnected() {
		return nil
	}

	if !b.client.IsPressured() {
		b.drainLocked()
		// Fast path only once the backlog is gone, so queued frames
		// never jump behind this one.
		if len(b.queue) == 0 && b.client.IsConnected() && !b.client.IsPressured() {
			return b.client.Send(f)
		}
		if !b.client.IsConnected() {
			return nil
		}
	}

	b.queue = append(b.queue, f)
	return b.overflowLocked()
}

// Drain flushes queued frames while the client stays connected and
// unpressured.
func (b *ClientEventBuffer) Drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.drainLocked()
}

// Clear drops all queued frames.
func (b *ClientEventBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = nil
}

// Pending returns the queued frame count.
func (b *ClientEventBuffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *ClientEventBuffer) drainLocked() {
	for len(b.queue) > 0 {
		// A disconnect mid-drain stops the loop; leftover frames are
		// moot once the client is gone.
		if !b.client.IsConnected() || b.client.IsPressured() {
			return
		}
		head := b.queue[0]
		b.queue = b.queue[1:]
		if err := b.client.Send(head); err != nil {
			return
		}
	}
}

func (b *ClientEventBuffer) overflowLocked() error {
	if b.max <= 0 || len(b.queue) <= b.max {
		return nil
	}
	switch b.strategy {
	case OverflowDropOldest:
		n := len(b.queue) - b.max
		b.queue = append([]transport.Frame(nil), b.queue[n:]...)
		if b.onDrop != nil {
			b.onDrop(n)
		}
		return nil
	default:
		b.queue = nil
		b.client.Close(transport.CloseOverflow, "Event buffer overflow")
		return ErrBufferOverflow
	}
}
