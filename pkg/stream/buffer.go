package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Wait when the buffer reached a terminal state
// without a stored error.
var ErrClosed = errors.New("stream: buffer closed")

// Handler receives one event. Handlers run synchronously on the pushing
// goroutine in registration order; a panicking handler is logged and does
// not prevent later handlers from running.
type Handler func(Event)

type registration struct {
	id      int
	eventTy EventType
	fn      Handler
	once    bool
}

// DefaultRetain is the event log high-water mark: once the log grows past
// it, events no live subscriber still needs are dropped.
const DefaultRetain = 1024

// hardFactor bounds how far a stalled subscriber can pin the log. Past
// hardFactor times the retain mark the log is cut regardless and the
// subscriber resumes at the oldest retained event.
const hardFactor = 4

// Buffer is a typed, replayable, multi-consumer event stream. Pushed events
// are appended to an in-memory log trimmed to a high-water mark; subscribers
// replay the retained log and then follow the tail. Push never blocks.
type Buffer struct {
	mu       sync.Mutex
	events   []Event
	base     int // absolute sequence number of events[0]
	retain   int
	readers  map[*reader]struct{}
	handlers []*registration
	nextID   int
	closed   bool
	err      error
	wake     chan struct{}
	logger   *slog.Logger
}

// reader tracks one Subscribe goroutine's position in the log as an
// absolute sequence number, so trimming never outruns a live consumer.
type reader struct {
	cursor int
}

// NewBuffer creates an open event buffer. A nil logger falls back to
// slog.Default.
func NewBuffer(logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		retain:  DefaultRetain,
		readers: make(map[*reader]struct{}),
		wake:    make(chan struct{}),
		logger:  logger.With("component", "stream"),
	}
}

// SetRetain sets the log high-water mark. Zero or negative disables
// trimming. Call before the buffer is shared.
func (b *Buffer) SetRetain(n int) {
	b.mu.Lock()
	b.retain = n
	b.mu.Unlock()
}

// Push appends an event, notifies handlers subscribed to its type and to the
// wildcard, and wakes blocked readers. Push after Close or Fail is a no-op.
func (b *Buffer) Push(ev Event) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.events = append(b.events, ev)
	b.trimLocked()

	matched := b.matchingLocked(ev.Type)
	close(b.wake)
	b.wake = make(chan struct{})
	b.mu.Unlock()

	for _, reg := range matched {
		b.invoke(reg, ev)
	}
}

// trimLocked drops log entries below every live subscriber cursor once the
// log exceeds the retain mark. A subscriber that stops draining pins at
// most hardFactor*retain entries; past that the log is cut anyway.
func (b *Buffer) trimLocked() {
	if b.retain <= 0 || len(b.events) <= b.retain {
		return
	}
	keepFrom := b.base + len(b.events) - b.retain
	if len(b.events) < b.retain*hardFactor {
		for r := range b.readers {
			if r.cursor < keepFrom {
				keepFrom = r.cursor
			}
		}
	}
	if n := keepFrom - b.base; n > 0 {
		b.events = append([]Event(nil), b.events[n:]...)
		b.base = keepFrom
	}
}

// Emit is the ergonomic Push variant: it stamps the type onto the event.
func (b *Buffer) Emit(ty EventType, ev Event) {
	ev.Type = ty
	b.Push(ev)
}

// matchingLocked snapshots the handlers for ty (plus wildcard) in
// registration order and removes fired once-handlers.
func (b *Buffer) matchingLocked(ty EventType) []*registration {
	var matched []*registration
	remaining := b.handlers[:0]
	for _, reg := range b.handlers {
		hit := reg.eventTy == ty || reg.eventTy == Wildcard
		if hit {
			matched = append(matched, reg)
		}
		if !hit || !reg.once {
			remaining = append(remaining, reg)
		}
	}
	b.handlers = remaining
	return matched
}

func (b *Buffer) invoke(reg *registration, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "type", string(ev.Type), "panic", r)
		}
	}()
	reg.fn(ev)
}

// On registers a handler for the given event type (Wildcard for all).
// It returns an unsubscribe closure.
func (b *Buffer) On(ty EventType, fn Handler) func() {
	return b.register(ty, fn, false)
}

// Once registers a handler that fires at most once.
func (b *Buffer) Once(ty EventType, fn Handler) func() {
	return b.register(ty, fn, true)
}

// OnReplay replays the retained history of the given type synchronously to
// fn, then attaches it for future events. Replay happens on the calling
// goroutine before OnReplay returns.
func (b *Buffer) OnReplay(ty EventType, fn Handler) func() {
	b.mu.Lock()
	history := make([]Event, 0, len(b.events))
	for _, ev := range b.events {
		if ty == Wildcard || ev.Type == ty {
			history = append(history, ev)
		}
	}
	b.mu.Unlock()

	for _, ev := range history {
		fn(ev)
	}
	return b.register(ty, fn, false)
}

func (b *Buffer) register(ty EventType, fn Handler, once bool) func() {
	b.mu.Lock()
	reg := &registration{id: b.nextID, eventTy: ty, fn: fn, once: once}
	b.nextID++
	b.handlers = append(b.handlers, reg)
	b.mu.Unlock()

	return func() { b.off(reg) }
}

func (b *Buffer) off(target *registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, reg := range b.handlers {
		if reg == target {
			b.handlers = append(b.handlers[:i], b.handlers[i+1:]...)
			return
		}
	}
}

// Subscribe returns a channel that yields the retained history and then
// follows future pushes. The channel closes when the buffer closes or ctx
// is done. Multiple subscribers are independent; a subscriber trimmed past
// under the hard bound resumes at the oldest retained event.
func (b *Buffer) Subscribe(ctx context.Context) <-chan Event {
	out := make(chan Event)

	b.mu.Lock()
	r := &reader{cursor: b.base}
	b.readers[r] = struct{}{}
	b.mu.Unlock()

	go func() {
		defer close(out)
		defer func() {
			b.mu.Lock()
			delete(b.readers, r)
			b.mu.Unlock()
		}()
		for {
			b.mu.Lock()
			if r.cursor < b.base {
				r.cursor = b.base
			}
			for r.cursor < b.base+len(b.events) {
				ev := b.events[r.cursor-b.base]
				r.cursor++
				b.mu.Unlock()
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				b.mu.Lock()
				if r.cursor < b.base {
					r.cursor = b.base
				}
			}
			if b.closed {
				b.mu.Unlock()
				return
			}
			wake := b.wake
			b.mu.Unlock()

			select {
			case <-wake:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// History returns a snapshot of the retained events.
func (b *Buffer) History() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Len returns the number of retained events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Close transitions the buffer to its terminal state. Blocked readers drain
// the remaining history and complete.
func (b *Buffer) Close() {
	b.terminate(nil)
}

// Fail closes the buffer storing err; Wait returns it to consumers.
func (b *Buffer) Fail(err error) {
	b.terminate(err)
}

func (b *Buffer) terminate(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.err = err
	close(b.wake)
}

// Closed reports whether the buffer reached a terminal state.
func (b *Buffer) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Err returns the stored terminal error, if any.
func (b *Buffer) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Wait blocks until the buffer closes or ctx is done, returning the stored
// error, ErrClosed on a clean close, or ctx.Err().
func (b *Buffer) Wait(ctx context.Context) error {
	for {
		b.mu.Lock()
		if b.closed {
			err := b.err
			b.mu.Unlock()
			if err != nil {
				return err
			}
			return ErrClosed
		}
		wake := b.wake
		b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
