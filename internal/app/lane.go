package app

import "sync"

// laneLock serializes per-session registry operations: create-or-get,
// hibernate, and resume for the same key run one at a time, while
// different sessions proceed concurrently. A global mutex protects the
// lane map; each lane carries its own mutex.
type laneLock struct {
	mu    sync.Mutex
	lanes map[SessionKey]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func newLaneLock() *laneLock {
	return &laneLock{lanes: make(map[SessionKey]*lane)}
}

func (l *laneLock) acquire(key SessionKey) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		ln = &lane{}
		l.lanes[key] = ln
	}
	ln.refs++
	l.mu.Unlock()

	// Lock outside the global mutex so other sessions are not blocked.
	ln.mu.Lock()
}

func (l *laneLock) release(key SessionKey) {
	l.mu.Lock()
	ln, ok := l.lanes[key]
	if !ok {
		l.mu.Unlock()
		return
	}
	ln.refs--
	if ln.refs == 0 {
		delete(l.lanes, key)
	}
	l.mu.Unlock()

	ln.mu.Unlock()
}
