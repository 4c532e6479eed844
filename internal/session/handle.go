package session

import (
	"context"
	"sync"

	"github.com/agenticklabs/agentick/pkg/message"
	"github.com/agenticklabs/agentick/pkg/stream"
)

// Result is the outcome of one execution.
type Result struct {
	ExecutionID string
	StopReason  message.StopReason
	NewEntries  []message.TimelineEntry
	Output      string
	Usage       message.Usage
	Err         error
}

// Handle is one live async run of a session. It owns a per-execution event
// buffer; the same events are mirrored onto the session bus.
type Handle struct {
	SessionID   string
	ExecutionID string
	TraceID     string

	events *stream.Buffer
	result chan Result
	cancel context.CancelFunc

	mu          sync.Mutex
	abortReason string
	aborted     bool
	done        bool
}

// Events returns the execution's event buffer. It closes when the
// execution ends.
func (h *Handle) Events() *stream.Buffer { return h.events }

// Result blocks until the execution completes or ctx is done.
func (h *Handle) Result(ctx context.Context) (Result, error) {
	select {
	case res := <-h.result:
		// Re-buffer so later callers observe the same result.
		h.result <- res
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Aborted reports whether the execution was cancelled, and why.
func (h *Handle) Aborted() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.abortReason, h.aborted
}

func (h *Handle) abort(reason string) {
	h.mu.Lock()
	if h.done || h.aborted {
		h.mu.Unlock()
		return
	}
	h.aborted = true
	h.abortReason = reason
	h.mu.Unlock()

	h.cancel()
}

func (h *Handle) deliver(res Result) {
	h.mu.Lock()
	if h.done {
		h.mu.Unlock()
		return
	}
	h.done = true
	h.mu.Unlock()

	res.ExecutionID = h.ExecutionID
	h.result <- res
	h.events.Close()
	h.cancel()
}
