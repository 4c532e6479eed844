package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/agenticklabs/agentick/internal/session"
)

// managed pairs a live session with its bookkeeping.
type managed struct {
	sess *session.Session
	key  SessionKey

	mu         sync.Mutex
	lastActive time.Time
}

func (m *managed) touch(now time.Time) {
	m.mu.Lock()
	m.lastActive = now
	m.mu.Unlock()
}

func (m *managed) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastActive
}

// Registry owns the app definitions and every live session. Sessions are
// created on first access and resumed transparently from the snapshot
// store when a hibernated one is addressed again.
type Registry struct {
	store  SnapshotStore
	logger *slog.Logger
	now    func() time.Time

	appsMu sync.RWMutex
	apps   map[string]*App

	mu       sync.Mutex
	sessions map[SessionKey]*managed

	lanes *laneLock
}

// RegistryConfig wires a Registry.
type RegistryConfig struct {
	// Store persists hibernated sessions. Optional; without it
	// hibernation is unavailable.
	Store SnapshotStore

	Logger *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Registry{
		store:    cfg.Store,
		logger:   cfg.Logger.With("component", "app"),
		now:      cfg.Now,
		apps:     make(map[string]*App),
		sessions: make(map[SessionKey]*managed),
		lanes:    newLaneLock(),
	}
}

// RegisterApp adds an app definition.
func (r *Registry) RegisterApp(a *App) error {
	if a.Name == "" {
		return fmt.Errorf("app: empty app name")
	}
	if a.NewConfig == nil {
		return fmt.Errorf("app %s: nil NewConfig", a.Name)
	}
	r.appsMu.Lock()
	defer r.appsMu.Unlock()
	if _, exists := r.apps[a.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateApp, a.Name)
	}
	r.apps[a.Name] = a
	return nil
}

// App returns the named app definition.
func (r *Registry) App(name string) (*App, bool) {
	if name == "" {
		name = DefaultApp
	}
	r.appsMu.RLock()
	defer r.appsMu.RUnlock()
	a, ok := r.apps[name]
	return a, ok
}

// Apps returns the registered app names, sorted.
func (r *Registry) Apps() []string {
	r.appsMu.RLock()
	defer r.appsMu.RUnlock()
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Session returns the live session for key, creating it (or resuming it
// from the snapshot store) on first access.
func (r *Registry) Session(ctx context.Context, key SessionKey) (*session.Session, error) {
	if key.App == "" {
		key.App = DefaultApp
	}

	r.lanes.acquire(key)
	defer r.lanes.release(key)

	r.mu.Lock()
	if m, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		m.touch(r.now())
		return m.sess, nil
	}
	r.mu.Unlock()

	a, ok := r.App(key.App)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownApp, key.App)
	}

	cfg, err := a.NewConfig(key.ID)
	if err != nil {
		return nil, fmt.Errorf("app %s: session config: %w", key.App, err)
	}
	s := session.New(key.ID, cfg)

	if r.store != nil {
		snap, err := r.store.Load(ctx, key.App, key.ID)
		switch {
		case err == nil:
			if err := s.Hydrate(snap); err != nil {
				return nil, fmt.Errorf("app %s: resume %s: %w", key.App, key.ID, err)
			}
			if err := r.store.Delete(ctx, key.App, key.ID); err != nil {
				r.logger.Warn("snapshot cleanup failed", "app", key.App, "session_id", key.ID, "error", err)
			}
			r.logger.Info("session resumed", "app", key.App, "session_id", key.ID, "tick", s.Tick())
		case errors.Is(err, ErrSessionNotFound):
		default:
			return nil, fmt.Errorf("app %s: load snapshot %s: %w", key.App, key.ID, err)
		}
	}

	m := &managed{sess: s, key: key, lastActive: r.now()}
	r.mu.Lock()
	r.sessions[key] = m
	r.mu.Unlock()

	if a.OnSessionCreate != nil {
		a.OnSessionCreate(s)
	}
	return s, nil
}

// Lookup returns the live session for key without creating one.
func (r *Registry) Lookup(key SessionKey) (*session.Session, bool) {
	if key.App == "" {
		key.App = DefaultApp
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	return m.sess, true
}

// Touch records activity on a live session, deferring hibernation.
func (r *Registry) Touch(key SessionKey) {
	if key.App == "" {
		key.App = DefaultApp
	}
	r.mu.Lock()
	m, ok := r.sessions[key]
	r.mu.Unlock()
	if ok {
		m.touch(r.now())
	}
}

// Sessions returns the keys of all live sessions, sorted.
func (r *Registry) Sessions() []SessionKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]SessionKey, 0, len(r.sessions))
	for key := range r.sessions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Hibernate snapshots an idle session into the store and evicts it from
// memory. Running sessions return session.ErrSessionRunning and stay live.
func (r *Registry) Hibernate(ctx context.Context, key SessionKey) error {
	if key.App == "" {
		key.App = DefaultApp
	}
	if r.store == nil {
		return fmt.Errorf("app: no snapshot store configured")
	}

	r.lanes.acquire(key)
	defer r.lanes.release(key)

	r.mu.Lock()
	m, ok := r.sessions[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}

	snap, err := m.sess.Snapshot()
	if err != nil {
		return err
	}
	if err := r.store.Save(ctx, key.App, snap); err != nil {
		return fmt.Errorf("app: save snapshot %s: %w", key, err)
	}

	if a, ok := r.App(key.App); ok && a.OnSessionClose != nil {
		a.OnSessionClose(m.sess)
	}
	m.sess.Close()

	r.mu.Lock()
	delete(r.sessions, key)
	r.mu.Unlock()

	r.logger.Info("session hibernated", "app", key.App, "session_id", key.ID, "tick", snap.Tick)
	return nil
}

// IsHibernated reports whether a snapshot exists for key and no live
// session does.
func (r *Registry) IsHibernated(ctx context.Context, key SessionKey) (bool, error) {
	if key.App == "" {
		key.App = DefaultApp
	}
	if _, live := r.Lookup(key); live {
		return false, nil
	}
	if r.store == nil {
		return false, nil
	}
	_, err := r.store.Load(ctx, key.App, key.ID)
	if errors.Is(err, ErrSessionNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// HibernatedSessions returns the session ids with stored snapshots for an
// app.
func (r *Registry) HibernatedSessions(ctx context.Context, appName string) ([]string, error) {
	if r.store == nil {
		return nil, nil
	}
	if appName == "" {
		appName = DefaultApp
	}
	return r.store.List(ctx, appName)
}

// Reset discards a session entirely: a live instance is aborted, closed,
// and evicted; any stored snapshot is deleted. The next Session call for
// the key starts fresh. Returns ErrSessionNotFound when neither a live
// session nor a snapshot exists.
func (r *Registry) Reset(ctx context.Context, key SessionKey) error {
	if key.App == "" {
		key.App = DefaultApp
	}

	r.lanes.acquire(key)
	defer r.lanes.release(key)

	r.mu.Lock()
	m, live := r.sessions[key]
	if live {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if live {
		m.sess.Abort("session reset")
		if a, ok := r.App(key.App); ok && a.OnSessionClose != nil {
			a.OnSessionClose(m.sess)
		}
		m.sess.Close()
	}

	stored := false
	if r.store != nil {
		if _, err := r.store.Load(ctx, key.App, key.ID); err == nil {
			stored = true
			if err := r.store.Delete(ctx, key.App, key.ID); err != nil {
				return fmt.Errorf("app: delete snapshot %s: %w", key, err)
			}
		}
	}

	if !live && !stored {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}
	r.logger.Info("session reset", "app", key.App, "session_id", key.ID)
	return nil
}

// CloseSession closes and evicts a live session. Its snapshot, if any, is
// left in the store.
func (r *Registry) CloseSession(key SessionKey) error {
	if key.App == "" {
		key.App = DefaultApp
	}

	r.lanes.acquire(key)
	defer r.lanes.release(key)

	r.mu.Lock()
	m, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, key)
	}

	if a, appOK := r.App(key.App); appOK && a.OnSessionClose != nil {
		a.OnSessionClose(m.sess)
	}
	m.sess.Close()
	return nil
}

// idle returns the live sessions whose last activity predates cutoff and
// that are not mid-execution.
func (r *Registry) idle(cutoff time.Time) []SessionKey {
	r.mu.Lock()
	snapshot := make([]*managed, 0, len(r.sessions))
	for _, m := range r.sessions {
		snapshot = append(snapshot, m)
	}
	r.mu.Unlock()

	var keys []SessionKey
	for _, m := range snapshot {
		if m.sess.Status() != session.StatusIdle {
			continue
		}
		if m.idleSince().Before(cutoff) {
			keys = append(keys, m.key)
		}
	}
	return keys
}

// Close closes every live session.
func (r *Registry) Close() {
	for _, key := range r.Sessions() {
		if err := r.CloseSession(key); err != nil {
			r.logger.Warn("session close failed", "key", key.String(), "error", err)
		}
	}
}
