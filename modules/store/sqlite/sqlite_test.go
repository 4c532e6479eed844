package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agenticklabs/agentick/internal/app"
	"github.com/agenticklabs/agentick/internal/session"
	"github.com/agenticklabs/agentick/pkg/message"
)

func openTestStore(t *testing.T) app.SnapshotStore {
	t.Helper()
	store, db, err := Open(Config{Path: filepath.Join(t.TempDir(), "sessions.db")})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return store
}

func testSnapshot(sessionID string, tick int) *session.Snapshot {
	return &session.Snapshot{
		Version:   session.SnapshotVersion,
		SessionID: sessionID,
		Tick:      tick,
		Timeline: []message.TimelineEntry{
			message.NewEntry(message.NewUserMessage("hello")),
			message.NewEntry(message.NewAssistantMessage("hi")),
		},
		Usage:     message.Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14},
		CreatedAt: time.Now().UTC(),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "support", testSnapshot("s1", 3)); err != nil {
		t.Fatalf("save: %v", err)
	}

	snap, err := store.Load(ctx, "support", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.SessionID != "s1" || snap.Tick != 3 {
		t.Errorf("snapshot = %+v", snap)
	}
	if len(snap.Timeline) != 2 {
		t.Errorf("timeline entries = %d, want 2", len(snap.Timeline))
	}
	if snap.Timeline[0].Message.TextContent() != "hello" {
		t.Errorf("first message = %q", snap.Timeline[0].Message.TextContent())
	}
	if snap.Usage.TotalTokens != 14 {
		t.Errorf("usage = %+v", snap.Usage)
	}
}

func TestSaveReplacesExisting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "support", testSnapshot("s1", 1)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, "support", testSnapshot("s1", 5)); err != nil {
		t.Fatalf("save again: %v", err)
	}

	snap, err := store.Load(ctx, "support", "s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.Tick != 5 {
		t.Errorf("tick = %d, want 5", snap.Tick)
	}
}

func TestLoadMissingSession(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Load(context.Background(), "support", "nope")
	if !errors.Is(err, app.ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestRetentionPrunesStaleSnapshots(t *testing.T) {
	store, db, err := Open(Config{
		Path:      filepath.Join(t.TempDir(), "sessions.db"),
		Retention: time.Hour,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	if err := store.Save(ctx, "support", testSnapshot("stale", 1)); err != nil {
		t.Fatalf("save stale: %v", err)
	}
	// Age the snapshot past the retention window.
	backdated := time.Now().UTC().Add(-2 * time.Hour).Format(createdAtFormat)
	if _, err := db.ExecContext(ctx, `UPDATE snapshots SET created_at = ? WHERE session_id = ?`, backdated, "stale"); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	// The next save triggers pruning.
	if err := store.Save(ctx, "support", testSnapshot("fresh", 1)); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	if _, err := store.Load(ctx, "support", "stale"); !errors.Is(err, app.ErrSessionNotFound) {
		t.Errorf("stale snapshot not pruned: err = %v", err)
	}
	if _, err := store.Load(ctx, "support", "fresh"); err != nil {
		t.Errorf("fresh snapshot pruned: %v", err)
	}
}

func TestDeleteAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"b", "a", "c"} {
		if err := store.Save(ctx, "support", testSnapshot(id, 1)); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := store.Save(ctx, "other", testSnapshot("x", 1)); err != nil {
		t.Fatalf("save other: %v", err)
	}

	ids, err := store.List(ctx, "support")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[2] != "c" {
		t.Errorf("list = %v, want [a b c]", ids)
	}

	if err := store.Delete(ctx, "support", "b"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Deleting a missing snapshot is not an error.
	if err := store.Delete(ctx, "support", "b"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	ids, err = store.List(ctx, "support")
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(ids) != 2 {
		t.Errorf("list after delete = %v", ids)
	}
}
