// Package mux is the tab multiplexer: many local tabs share one
// physical gateway connection. A leader-elected tab owns the upstream;
// followers forward requests over a broadcast bus and receive events
// back on it.
package mux

import "sync"

// Bus is a reliable, in-order broadcast among local tabs. Delivery
// order is the same for every subscriber.
type Bus interface {
	// Publish broadcasts one message to all subscribers, including the
	// publisher.
	Publish(msg Message)

	// Subscribe registers a handler and returns its unsubscribe.
	// Handlers run on the bus's dispatch goroutine: they must not block.
	Subscribe(fn func(Message)) func()
}

// MemBus is the in-process Bus: a single dispatch goroutine preserves
// FIFO order across subscribers.
type MemBus struct {
	mu     sync.Mutex
	subs   map[int]func(Message)
	nextID int
	queue  chan Message
	done   chan struct{}
}

// Compile-time interface guard.
var _ Bus = (*MemBus)(nil)

// NewMemBus creates a bus and starts its dispatcher.
func NewMemBus() *MemBus {
	b := &MemBus{
		subs:  make(map[int]func(Message)),
		queue: make(chan Message, 256),
		done:  make(chan struct{}),
	}
	go b.dispatch()
	return b
}

func (b *MemBus) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case msg := <-b.queue:
			b.mu.Lock()
			fns := make([]func(Message), 0, len(b.subs))
			for _, fn := range b.subs {
				fns = append(fns, fn)
			}
			b.mu.Unlock()
			for _, fn := range fns {
				fn(msg)
			}
		}
	}
}

// Publish implements Bus.
func (b *MemBus) Publish(msg Message) {
	select {
	case b.queue <- msg:
	case <-b.done:
	}
}

// Subscribe implements Bus.
func (b *MemBus) Subscribe(fn func(Message)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Close stops the dispatcher.
func (b *MemBus) Close() {
	close(b.done)
}
