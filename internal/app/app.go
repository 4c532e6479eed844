// Package app manages named agent definitions and their sessions: a
// registry resolving "[app:]session" keys to live sessions, creating them
// on demand, and hibernating idle ones through a snapshot store.
package app

import (
	"context"
	"errors"
	"strings"

	"github.com/agenticklabs/agentick/internal/session"
)

// DefaultApp is the app used when a session key carries no app prefix.
const DefaultApp = "default"

// App is a named agent definition. NewConfig is invoked once per session;
// it returns the collaborators the session engine runs with.
type App struct {
	Name        string
	Description string

	// NewConfig builds the session configuration for a new session id.
	NewConfig func(sessionID string) (session.Config, error)

	// OnSessionCreate runs after a session is created or resumed from
	// hibernation. Optional.
	OnSessionCreate func(s *session.Session)

	// OnSessionClose runs before a session is closed or hibernated.
	// Optional.
	OnSessionClose func(s *session.Session)
}

// Sentinel errors for registry operations.
var (
	ErrUnknownApp      = errors.New("app: unknown app")
	ErrDuplicateApp    = errors.New("app: duplicate app")
	ErrSessionNotFound = errors.New("app: session not found")
)

// SnapshotStore persists idle-session snapshots across hibernation, on
// this process or another.
type SnapshotStore interface {
	// Save stores a snapshot, replacing any previous one for the session.
	Save(ctx context.Context, app string, snap *session.Snapshot) error

	// Load returns the stored snapshot, or ErrSessionNotFound.
	Load(ctx context.Context, app, sessionID string) (*session.Snapshot, error)

	// Delete removes a stored snapshot. Deleting a missing snapshot is
	// not an error.
	Delete(ctx context.Context, app, sessionID string) error

	// List returns the session ids with stored snapshots for an app.
	List(ctx context.Context, app string) ([]string, error)
}

// SessionKey addresses a session as "[app:]id". An empty app means the
// default app.
type SessionKey struct {
	App string
	ID  string
}

// ParseKey splits a "[app:]id" session key.
func ParseKey(raw string) SessionKey {
	if app, id, ok := strings.Cut(raw, ":"); ok {
		return SessionKey{App: app, ID: id}
	}
	return SessionKey{App: DefaultApp, ID: raw}
}

// String renders the key in "app:id" form.
func (k SessionKey) String() string {
	app := k.App
	if app == "" {
		app = DefaultApp
	}
	return app + ":" + k.ID
}
