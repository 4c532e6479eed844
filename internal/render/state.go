package render

import (
	"encoding/json"
	"sync"
)

// State is the component state map keyed by component path. It is shared
// between the session and the renderer for the duration of a tick and is
// serialized into session snapshots.
type State struct {
	mu     sync.RWMutex
	values map[string]json.RawMessage
}

// NewState creates an empty component state.
func NewState() *State {
	return &State{values: make(map[string]json.RawMessage)}
}

// Get decodes the value stored under key into out. It reports false when
// the key is absent.
func (s *State) Get(key string, out any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.values[key]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, out)
}

// Set stores value under key.
func (s *State) Set(key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.values[key] = raw
	s.mu.Unlock()
	return nil
}

// Delete removes key.
func (s *State) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

// Len returns the number of stored keys.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Snapshot returns a copy of the raw state map.
func (s *State) Snapshot() map[string]json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(s.values))
	for k, v := range s.values {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Restore replaces the state with the given map.
func (s *State) Restore(values map[string]json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		s.values[k] = append(json.RawMessage(nil), v...)
	}
}
