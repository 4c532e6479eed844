package tool

import (
	"context"
	"encoding/json"
	"sync"
)

// ConfirmationRequest is surfaced to clients when a tool requires user
// confirmation before executing.
type ConfirmationRequest struct {
	ToolUseID string          `json:"tool_use_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Message   string          `json:"message,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// ConfirmationResponse is the user's answer to a confirmation request.
type ConfirmationResponse struct {
	ToolUseID string `json:"tool_use_id"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

// PendingConfirmation is a single-use waiter for one confirmation request.
type PendingConfirmation struct {
	req  ConfirmationRequest
	ch   chan ConfirmationResponse
	once sync.Once
}

// NewPendingConfirmation creates a waiter for the given request.
func NewPendingConfirmation(req ConfirmationRequest) *PendingConfirmation {
	return &PendingConfirmation{req: req, ch: make(chan ConfirmationResponse, 1)}
}

// Request returns the originating request.
func (p *PendingConfirmation) Request() ConfirmationRequest { return p.req }

// Respond delivers the response. It reports false if the waiter was already
// resolved.
func (p *PendingConfirmation) Respond(resp ConfirmationResponse) bool {
	delivered := false
	p.once.Do(func() {
		p.ch <- resp
		delivered = true
	})
	return delivered
}

// Await blocks until a response arrives or ctx is done.
func (p *PendingConfirmation) Await(ctx context.Context) (ConfirmationResponse, error) {
	select {
	case resp := <-p.ch:
		return resp, nil
	case <-ctx.Done():
		return ConfirmationResponse{}, ctx.Err()
	}
}

// ConfirmationManager tracks outstanding confirmations by tool use id.
// Responses bypass the engine's mailbox and resolve the waiter directly.
type ConfirmationManager struct {
	mu      sync.Mutex
	pending map[string]*PendingConfirmation
}

// NewConfirmationManager creates an empty manager.
func NewConfirmationManager() *ConfirmationManager {
	return &ConfirmationManager{pending: make(map[string]*PendingConfirmation)}
}

// Register stores a pending confirmation for later resolution.
func (m *ConfirmationManager) Register(p *PendingConfirmation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[p.req.ToolUseID] = p
}

// Resolve answers the pending confirmation for resp.ToolUseID. It reports
// false when no such confirmation is outstanding.
func (m *ConfirmationManager) Resolve(resp ConfirmationResponse) bool {
	m.mu.Lock()
	p, ok := m.pending[resp.ToolUseID]
	if ok {
		delete(m.pending, resp.ToolUseID)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	return p.Respond(resp)
}

// Remove cleans up a pending entry, e.g. after an abort.
func (m *ConfirmationManager) Remove(toolUseID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, toolUseID)
}

// Len returns the number of outstanding confirmations.
func (m *ConfirmationManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
