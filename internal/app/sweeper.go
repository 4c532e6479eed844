package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper hibernates sessions that have been idle past a threshold. It
// runs on a cron schedule; a TryLock skips a sweep when the previous one
// is still in flight.
type Sweeper struct {
	registry *Registry
	logger   *slog.Logger

	schedule  string
	idleAfter time.Duration

	mu      sync.Mutex
	running sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
}

// SweeperConfig tunes a Sweeper.
type SweeperConfig struct {
	// Schedule is a five-field cron expression. Default "*/5 * * * *".
	Schedule string

	// IdleAfter is the inactivity threshold. Default 30m.
	IdleAfter time.Duration

	Logger *slog.Logger
}

// NewSweeper creates a sweeper over the registry.
func NewSweeper(registry *Registry, cfg SweeperConfig) *Sweeper {
	if cfg.Schedule == "" {
		cfg.Schedule = "*/5 * * * *"
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sweeper{
		registry:  registry,
		logger:    cfg.Logger.With("component", "sweeper"),
		schedule:  cfg.Schedule,
		idleAfter: cfg.IdleAfter,
	}
}

// Start begins the sweep schedule.
func (w *Sweeper) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	w.cron = cron.New(cron.WithParser(parser))

	if _, err := w.cron.AddFunc(w.schedule, func() {
		if !w.running.TryLock() {
			w.logger.Warn("sweep still running, skipping")
			return
		}
		defer w.running.Unlock()
		w.Sweep(ctx)
	}); err != nil {
		cancel()
		return fmt.Errorf("sweeper: invalid schedule %q: %w", w.schedule, err)
	}

	w.cron.Start()
	w.logger.Info("sweeper started", "schedule", w.schedule, "idle_after", w.idleAfter)
	return nil
}

// Sweep hibernates every idle session past the threshold once. It is
// called on schedule and usable directly in tests.
func (w *Sweeper) Sweep(ctx context.Context) {
	cutoff := w.registry.now().Add(-w.idleAfter)
	for _, key := range w.registry.idle(cutoff) {
		if err := w.registry.Hibernate(ctx, key); err != nil {
			// A session that began executing between the scan and the
			// snapshot stays live; the next sweep retries.
			w.logger.Debug("hibernation skipped", "key", key.String(), "error", err)
		}
	}
}

// Stop halts the schedule, waiting for an in-flight sweep.
func (w *Sweeper) Stop(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}
	if w.cron != nil {
		<-w.cron.Stop().Done()
		w.logger.Info("sweeper stopped")
	}
	return nil
}
