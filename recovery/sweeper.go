package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/QualityUnit/pyworkflow/cluster"
	"github.com/QualityUnit/pyworkflow/ext"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/internal/kinderr"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/step"
	"github.com/QualityUnit/pyworkflow/store"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// Enqueuer hands a broker task back to the queue after recovery decides
// a run or step deserves another attempt.
type Enqueuer interface {
	EnqueueWorkflowTick(ctx context.Context, runID id.RunID) error
	EnqueueStepTask(ctx context.Context, runID id.RunID, stepID id.Deterministic) error
}

// DLQSink receives runs and steps whose recovery budget is exhausted,
// right before the sweeper writes their terminal event. Satisfied by
// *dlq.Service; left nil, the sweeper still terminates exhausted runs
// and steps, it just doesn't keep a separate inspectable record of them.
type DLQSink interface {
	PushRun(ctx context.Context, runID id.RunID, queue string, attempts, maxAttempts int, recoveryErr error) error
	PushStep(ctx context.Context, runID id.RunID, stepID id.Deterministic, queue string, attempts, maxAttempts int, recoveryErr error) error
}

// DefaultMaxStepRecoveryAttempts bounds how many times the sweeper
// re-enqueues a step whose claim expired before giving up on it, since
// step.Record carries no per-step override the way run.Run does with
// max_recovery_attempts.
const DefaultMaxStepRecoveryAttempts = run.DefaultMaxRecoveryAttempts

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithInterval sets how often the sweeper scans for expired claims.
func WithInterval(d time.Duration) Option { return func(s *Sweeper) { s.interval = d } }

// WithLeaderTTL sets the TTL for the sweeper's leadership lease.
func WithLeaderTTL(d time.Duration) Option { return func(s *Sweeper) { s.leaderTTL = d } }

// WithBatchSize sets how many expired claims are pulled per scan, per
// entity kind (runs and steps are listed and swept independently).
func WithBatchSize(n int) Option { return func(s *Sweeper) { s.batchSize = n } }

// WithMaxStepRecoveryAttempts overrides DefaultMaxStepRecoveryAttempts.
func WithMaxStepRecoveryAttempts(n int) Option {
	return func(s *Sweeper) { s.maxStepRecoveryAttempts = n }
}

// WithDLQ attaches a sink for recovery-exhausted runs and steps.
func WithDLQ(sink DLQSink) Option { return func(s *Sweeper) { s.dlq = sink } }

// WithLogger overrides the default logger, slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Sweeper) { s.logger = l } }

// Sweeper periodically scans for runs and steps whose exclusive claim
// expired without a terminal event and either re-enqueues them or, once
// their recovery budget is exhausted, terminates them (spec §4.7). Only
// the elected cluster leader sweeps, grounded on the same leader-gated
// tick shape as the schedule package's cron ticker.
type Sweeper struct {
	store        store.Store
	clusterStore cluster.Store
	enqueuer     Enqueuer
	extensions   *ext.Registry
	dlq          DLQSink
	workerID     id.WorkerID
	logger       *slog.Logger

	interval                time.Duration
	leaderTTL               time.Duration
	batchSize               int
	maxStepRecoveryAttempts int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Sweeper ready to Start.
func New(
	st store.Store,
	clusterStore cluster.Store,
	enqueuer Enqueuer,
	extensions *ext.Registry,
	workerID id.WorkerID,
	opts ...Option,
) *Sweeper {
	s := &Sweeper{
		store:                   st,
		clusterStore:            clusterStore,
		enqueuer:                enqueuer,
		extensions:              extensions,
		workerID:                workerID,
		logger:                  slog.Default(),
		interval:                5 * time.Second,
		leaderTTL:               15 * time.Second,
		batchSize:               100,
		maxStepRecoveryAttempts: DefaultMaxStepRecoveryAttempts,
		stopCh:                  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leader election and sweep goroutines.
func (s *Sweeper) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop()
	go s.sweepLoop()
	s.logger.Info("recovery sweeper started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("interval", s.interval),
	)
	return nil
}

// Stop signals the sweeper to stop and waits for goroutines to finish.
func (s *Sweeper) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("recovery sweeper stopped")
	return nil
}

func (s *Sweeper) leaderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.leaderTTL / 2)
	defer ticker.Stop()

	s.tryLeadership()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tryLeadership()
		}
	}
}

func (s *Sweeper) tryLeadership() {
	ctx := context.Background()

	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("recovery leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("recovery leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired recovery leadership", slog.String("worker_id", s.workerID.String()))
	}
}

func (s *Sweeper) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Sweeper) sweepOnce() {
	ctx := context.Background()

	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("recovery: get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		runIDs, err := s.store.ListExpiredClaims(gctx, s.batchSize)
		if err != nil {
			return err
		}
		for _, runID := range runIDs {
			if sweepErr := s.sweepRun(gctx, runID); sweepErr != nil {
				s.logger.Error("recovery: sweep run failed",
					slog.String("run_id", runID.String()),
					slog.String("error", sweepErr.Error()),
				)
			}
		}
		return nil
	})

	g.Go(func() error {
		stepIDs, err := s.store.ListExpiredStepClaims(gctx, s.batchSize)
		if err != nil {
			return err
		}
		for _, stepID := range stepIDs {
			if sweepErr := s.sweepStep(gctx, stepID); sweepErr != nil {
				s.logger.Error("recovery: sweep step failed",
					slog.String("step_id", stepID.String()),
					slog.String("error", sweepErr.Error()),
				)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Error("recovery sweep error", slog.String("error", err.Error()))
	}
}

// sweepRun implements the run half of spec §4.7: increments
// recovery_attempts; if still within budget, re-enqueues a fresh
// workflow-tick; otherwise writes workflow.interrupted and transitions
// the run to INTERRUPTED.
func (s *Sweeper) sweepRun(ctx context.Context, runID id.RunID) error {
	r, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.IsTerminal() {
		return nil
	}

	r.RecoveryAttempts++

	if r.RecoveryAttempts <= r.MaxRecoveryAttempts {
		if err := s.store.UpdateRun(ctx, r); err != nil {
			return err
		}
		s.logger.Warn("recovery: re-enqueuing run after expired claim",
			slog.String("run_id", runID.String()),
			slog.Int("recovery_attempts", r.RecoveryAttempts),
		)
		return s.enqueuer.EnqueueWorkflowTick(ctx, runID)
	}

	recoveryErr := kinderr.Newf(kinderr.RecoveryExhausted,
		"run exceeded max_recovery_attempts (%d)", r.MaxRecoveryAttempts)

	if s.dlq != nil {
		if pushErr := s.dlq.PushRun(ctx, runID, "", r.RecoveryAttempts, r.MaxRecoveryAttempts, recoveryErr); pushErr != nil {
			s.logger.Error("recovery: dlq push run failed",
				slog.String("run_id", runID.String()),
				slog.String("error", pushErr.Error()),
			)
		}
	}

	from := r.Status
	r.Status = run.StatusInterrupted
	r.Error = recoveryErr.Error()
	if err := s.store.UpdateRunStatus(ctx, runID, from, run.StatusInterrupted); err != nil {
		return err
	}
	if err := s.store.UpdateRun(ctx, r); err != nil {
		return err
	}

	seq, err := s.store.NextSequence(ctx, runID)
	if err != nil {
		return err
	}
	if err := s.store.AppendEvent(ctx, seq, wfevent.New(runID, wfevent.TypeWorkflowInterrupted, wfevent.Data{
		wfevent.FieldError:  recoveryErr.Error(),
		wfevent.FieldReason: "recovery_exhausted",
	})); err != nil {
		return err
	}

	if s.extensions != nil {
		s.extensions.EmitRunInterrupted(ctx, r)
	}

	s.logger.Warn("recovery: run interrupted, recovery attempts exhausted",
		slog.String("run_id", runID.String()),
		slog.Int("max_recovery_attempts", r.MaxRecoveryAttempts),
	)
	return nil
}

// sweepStep implements the step half of spec §4.7: re-enqueues a step
// whose claim expired with no terminal event; on repeated failure,
// writes step.failed with a recovery-exhausted error and re-ticks the
// owning workflow.
func (s *Sweeper) sweepStep(ctx context.Context, stepID id.Deterministic) error {
	rec, err := s.store.GetStep(ctx, stepID)
	if err != nil {
		return err
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	rec.RecoveryAttempts++

	if rec.RecoveryAttempts <= s.maxStepRecoveryAttempts {
		rec.Status = step.StatusPending
		if err := s.store.UpsertStep(ctx, rec); err != nil {
			return err
		}
		s.logger.Warn("recovery: re-enqueuing step after expired claim",
			slog.String("step_id", stepID.String()),
			slog.Int("recovery_attempts", rec.RecoveryAttempts),
		)
		return s.enqueuer.EnqueueStepTask(ctx, rec.RunID, stepID)
	}

	recoveryErr := kinderr.Newf(kinderr.RecoveryExhausted,
		"step exceeded recovery attempts (%d)", s.maxStepRecoveryAttempts)

	if s.dlq != nil {
		if pushErr := s.dlq.PushStep(ctx, rec.RunID, stepID, "", rec.RecoveryAttempts, s.maxStepRecoveryAttempts, recoveryErr); pushErr != nil {
			s.logger.Error("recovery: dlq push step failed",
				slog.String("step_id", stepID.String()),
				slog.String("error", pushErr.Error()),
			)
		}
	}

	now := time.Now().UTC()
	rec.Status = step.StatusFailed
	rec.Error = recoveryErr.Error()
	rec.CompletedAt = &now
	if err := s.store.UpsertStep(ctx, rec); err != nil {
		return err
	}

	seq, err := s.store.NextSequence(ctx, rec.RunID)
	if err != nil {
		return err
	}
	if err := s.store.AppendEvent(ctx, seq, wfevent.New(rec.RunID, wfevent.TypeStepFailed, wfevent.Data{
		wfevent.FieldStepID: rec.ID.String(),
		wfevent.FieldError:  recoveryErr.Error(),
		wfevent.FieldReason: "recovery_exhausted",
	})); err != nil {
		return err
	}

	if s.extensions != nil {
		if r, getErr := s.store.GetRun(ctx, rec.RunID); getErr == nil {
			s.extensions.EmitStepFailed(ctx, r, rec.StepName, recoveryErr)
		}
	}

	s.logger.Warn("recovery: step failed, recovery attempts exhausted",
		slog.String("step_id", stepID.String()),
		slog.Int("max_recovery_attempts", s.maxStepRecoveryAttempts),
	)
	return s.enqueuer.EnqueueWorkflowTick(ctx, rec.RunID)
}
