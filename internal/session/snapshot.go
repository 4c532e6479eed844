package session

import (
	"encoding/json"
	"time"

	"github.com/agenticklabs/agentick/pkg/message"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Snapshot is the serializable idle state of a session: everything needed
// to hibernate it and resume later, on this process or another.
type Snapshot struct {
	Version        int                        `json:"version"`
	SessionID      string                     `json:"session_id"`
	Tick           int                        `json:"tick"`
	Timeline       []message.TimelineEntry    `json:"timeline"`
	ComponentState map[string]json.RawMessage `json:"component_state,omitempty"`
	Usage          message.Usage              `json:"usage"`
	CreatedAt      time.Time                  `json:"created_at"`
}

// Snapshot captures the session's durable state. Only idle sessions can be
// snapshotted; a running execution holds in-flight state that has no
// serialized form.
func (s *Session) Snapshot() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		return nil, ErrSessionRunning
	}

	timeline := make([]message.TimelineEntry, len(s.timeline))
	for i, entry := range s.timeline {
		timeline[i] = entry
		timeline[i].Message = entry.Message.Clone()
	}

	return &Snapshot{
		Version:        SnapshotVersion,
		SessionID:      s.id,
		Tick:           s.tick,
		Timeline:       timeline,
		ComponentState: s.state.Snapshot(),
		Usage:          s.usage,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

// Hydrate restores a session from a snapshot. The session must be idle;
// its timeline, tick counter, usage, and component state are replaced.
func (s *Session) Hydrate(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == StatusRunning {
		return ErrSessionRunning
	}

	s.tick = snap.Tick
	s.usage = snap.Usage
	s.timeline = make([]message.TimelineEntry, len(snap.Timeline))
	for i, entry := range snap.Timeline {
		s.timeline[i] = entry
		s.timeline[i].Message = entry.Message.Clone()
	}
	s.state.Restore(snap.ComponentState)
	s.status = StatusIdle
	return nil
}
