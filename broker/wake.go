package broker

import (
	"context"
	"log/slog"
	"time"

	"github.com/QualityUnit/pyworkflow/store"
)

// WakePoller periodically pops due store.Wake entries and re-enqueues
// the run (or step, for retry wakes) they belong to. This is how sleeps,
// hook expirations, retry backoff, and max-duration timers turn back
// into broker tasks when the underlying broker has no native
// delayed-delivery primitive (spec §4.4).
type WakePoller struct {
	store    store.WakeStore
	broker   *Broker
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// PollerOption configures a WakePoller.
type PollerOption func(*WakePoller)

// WithPollInterval sets how often the poller checks for due wakes.
func WithPollInterval(d time.Duration) PollerOption {
	return func(p *WakePoller) { p.interval = d }
}

// WithBatchSize sets how many due wakes are popped per poll.
func WithBatchSize(n int) PollerOption {
	return func(p *WakePoller) { p.batch = n }
}

// WithLogger sets the poller's logger.
func WithLogger(l *slog.Logger) PollerOption {
	return func(p *WakePoller) { p.logger = l }
}

// NewWakePoller creates a WakePoller that dispatches due wakes through
// broker.
func NewWakePoller(wakeStore store.WakeStore, broker *Broker, opts ...PollerOption) *WakePoller {
	p := &WakePoller{
		store:    wakeStore,
		broker:   broker,
		interval: time.Second,
		batch:    100,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until ctx is cancelled.
func (p *WakePoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.logger.Error("wake poll failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (p *WakePoller) pollOnce(ctx context.Context) error {
	wakes, err := p.store.PopDueWakes(ctx, time.Now().UTC(), p.batch)
	if err != nil {
		return err
	}

	for _, w := range wakes {
		var dispatchErr error
		switch w.Kind {
		case store.WakeStepRetry:
			dispatchErr = p.broker.EnqueueStepTask(ctx, w.RunID, w.StepID)
		case store.WakeSleep, store.WakeHookExpiry, store.WakeMaxDuration, store.WakeScheduleTrigger:
			dispatchErr = p.broker.EnqueueWorkflowTick(ctx, w.RunID)
		default:
			p.logger.Warn("wake poller: unknown wake kind", slog.String("kind", string(w.Kind)))
			continue
		}
		if dispatchErr != nil {
			p.logger.Error("wake dispatch failed",
				slog.String("run_id", w.RunID.String()),
				slog.String("kind", string(w.Kind)),
				slog.String("error", dispatchErr.Error()),
			)
		}
	}
	return nil
}
