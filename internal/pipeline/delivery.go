package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/agenticklabs/agentick/pkg/message"
)

// Output is one delivery batch handed to listeners.
type Output struct {
	Messages []message.Message

	// IsComplete marks the batch flushed at execution end.
	IsComplete bool
}

// Listener receives delivery batches. A returned error triggers retry.
type Listener func(ctx context.Context, out Output) error

// Delivery invokes listeners with exponential-backoff retry: attempt n
// waits min(base * 2^n, max) before retrying, up to MaxAttempts, then
// OnExhausted is called and the batch is dropped.
type Delivery struct {
	listeners   []Listener
	base        time.Duration
	max         time.Duration
	maxAttempts int
	onExhausted func(err error, out Output)
	sleep       func(ctx context.Context, d time.Duration) error
	logger      *slog.Logger
}

// DeliveryConfig tunes a Delivery.
type DeliveryConfig struct {
	// Base is the first backoff delay. Default 500ms.
	Base time.Duration

	// Max caps the backoff delay. Default 30s.
	Max time.Duration

	// MaxAttempts bounds tries per listener per batch. Default 5.
	MaxAttempts int

	// OnExhausted runs after the final failed attempt. Optional.
	OnExhausted func(err error, out Output)

	// Sleep overrides the backoff wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error

	Logger *slog.Logger
}

// NewDelivery creates a Delivery with the given listeners.
func NewDelivery(cfg DeliveryConfig, listeners ...Listener) *Delivery {
	if cfg.Base <= 0 {
		cfg.Base = 500 * time.Millisecond
	}
	if cfg.Max <= 0 {
		cfg.Max = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Delivery{
		listeners:   listeners,
		base:        cfg.Base,
		max:         cfg.Max,
		maxAttempts: cfg.MaxAttempts,
		onExhausted: cfg.OnExhausted,
		sleep:       cfg.Sleep,
		logger:      cfg.Logger.With("component", "delivery"),
	}
}

// Dispatch delivers one batch to every listener. Listener failures are
// isolated: one listener exhausting its retries does not stop the others.
func (d *Delivery) Dispatch(ctx context.Context, out Output) {
	for _, l := range d.listeners {
		d.dispatchOne(ctx, l, out)
	}
}

func (d *Delivery) dispatchOne(ctx context.Context, l Listener, out Output) {
	var err error
	for attempt := 0; attempt < d.maxAttempts; attempt++ {
		if err = l(ctx, out); err == nil {
			return
		}
		if attempt == d.maxAttempts-1 {
			break
		}
		backoff := min(d.base<<attempt, d.max)
		d.logger.Warn("delivery failed, retrying",
			"attempt", attempt+1, "backoff", backoff, "error", err)
		if serr := d.sleep(ctx, backoff); serr != nil {
			err = serr
			break
		}
	}

	d.logger.Error("delivery exhausted", "attempts", d.maxAttempts, "error", err)
	if d.onExhausted != nil {
		d.onExhausted(err, out)
	}
}
