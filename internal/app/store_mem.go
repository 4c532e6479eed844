package app

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/agenticklabs/agentick/internal/session"
)

// MemStore is an in-memory SnapshotStore. Snapshots do not survive a
// process restart; use the sqlite store for durable hibernation.
type MemStore struct {
	mu    sync.Mutex
	snaps map[string]*session.Snapshot
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{snaps: make(map[string]*session.Snapshot)}
}

func memKey(app, sessionID string) string {
	return app + "\x00" + sessionID
}

// Save implements SnapshotStore.
func (s *MemStore) Save(_ context.Context, app string, snap *session.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[memKey(app, snap.SessionID)] = snap
	return nil
}

// Load implements SnapshotStore.
func (s *MemStore) Load(_ context.Context, app, sessionID string) (*session.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[memKey(app, sessionID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s:%s", ErrSessionNotFound, app, sessionID)
	}
	return snap, nil
}

// Delete implements SnapshotStore.
func (s *MemStore) Delete(_ context.Context, app, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, memKey(app, sessionID))
	return nil
}

// List implements SnapshotStore.
func (s *MemStore) List(_ context.Context, app string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := app + "\x00"
	var ids []string
	for key, snap := range s.snaps {
		if strings.HasPrefix(key, prefix) {
			ids = append(ids, snap.SessionID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}
