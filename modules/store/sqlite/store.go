package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/agenticklabs/agentick/internal/app"
	"github.com/agenticklabs/agentick/internal/session"
)

// createdAtFormat matches the strftime expression in the schema's
// created_at default, so retention cutoffs compare lexicographically.
const createdAtFormat = "2006-01-02T15:04:05.000Z"

// snapshotStore implements app.SnapshotStore backed by SQLite. The whole
// snapshot is stored as a JSON payload; app, session id, schema version,
// and tick are lifted into columns for listing and inspection.
type snapshotStore struct {
	db        *sql.DB
	retention time.Duration
}

// Save implements app.SnapshotStore.
func (s *snapshotStore) Save(ctx context.Context, appName string, snap *session.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("sqlite: marshal snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO snapshots (app, session_id, version, tick, payload)
		VALUES (?, ?, ?, ?, ?)`,
		appName, snap.SessionID, snap.Version, snap.Tick, string(payload),
	)
	if err != nil {
		return fmt.Errorf("sqlite: save snapshot: %w", err)
	}
	return s.prune(ctx)
}

// prune drops snapshots past the retention window. INSERT OR REPLACE
// refreshes created_at, so any session saved within the window survives.
func (s *snapshotStore) prune(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-s.retention).Format(createdAtFormat)
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE created_at < ?`, cutoff,
	); err != nil {
		return fmt.Errorf("sqlite: prune snapshots: %w", err)
	}
	return nil
}

// Load implements app.SnapshotStore.
func (s *snapshotStore) Load(ctx context.Context, appName, sessionID string) (*session.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM snapshots WHERE app = ? AND session_id = ?`,
		appName, sessionID,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s:%s", app.ErrSessionNotFound, appName, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load snapshot: %w", err)
	}

	var snap session.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("sqlite: decode snapshot %s:%s: %w", appName, sessionID, err)
	}
	return &snap, nil
}

// Delete implements app.SnapshotStore.
func (s *snapshotStore) Delete(ctx context.Context, appName, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots WHERE app = ? AND session_id = ?`,
		appName, sessionID,
	); err != nil {
		return fmt.Errorf("sqlite: delete snapshot: %w", err)
	}
	return nil
}

// List implements app.SnapshotStore.
func (s *snapshotStore) List(ctx context.Context, appName string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id FROM snapshots WHERE app = ? ORDER BY session_id`,
		appName,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan snapshot row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
