package schedule

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/QualityUnit/pyworkflow/cluster"
	"github.com/QualityUnit/pyworkflow/ext"
	"github.com/QualityUnit/pyworkflow/internal/id"
)

// StartFunc is the callback the scheduler uses to start a run for a due
// entry. This breaks the import cycle: cmd/wf supplies engine.Start
// (and applies engine.WithIdempotencyKey(idempotencyKey) on top).
type StartFunc func(ctx context.Context, workflowName string, args, kwargs json.RawMessage, idempotencyKey string) (id.RunID, error)

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry distributed locks.
func WithLockTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithLeaderTTL sets the TTL for leader election.
func WithLeaderTTL(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.leaderTTL = d }
}

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseExpr parses a cron or interval expression.
func ParseExpr(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Scheduler pops due schedule entries and starts a run per firing, per
// spec §4.8: "a scheduler ticker pops due entries and calls start with
// a schedule-derived idempotency key per firing, so duplicate fires
// collapse." Only the cluster leader ticks, to prevent double-firing.
type Scheduler struct {
	store        Store
	clusterStore cluster.Store
	start        StartFunc
	extensions   *ext.Registry
	workerID     id.WorkerID
	logger       *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration
	leaderTTL    time.Duration

	// parsed caches parsed cron/interval expressions.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	scheduleStore Store,
	clusterStore cluster.Store,
	start StartFunc,
	extensions *ext.Registry,
	workerID id.WorkerID,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:        scheduleStore,
		clusterStore: clusterStore,
		start:        start,
		extensions:   extensions,
		workerID:     workerID,
		logger:       logger,
		tickInterval: 1 * time.Second,
		lockTTL:      30 * time.Second,
		leaderTTL:    15 * time.Second,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the leader election and tick goroutines.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(2)
	go s.leaderLoop()
	go s.tickLoop()
	s.logger.Info("schedule scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for goroutines to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("schedule scheduler stopped")
	return nil
}

// leaderLoop continuously attempts to acquire or renew leadership.
func (s *Scheduler) leaderLoop() {
	defer s.wg.Done()

	renewInterval := s.leaderTTL / 2
	ticker := time.NewTicker(renewInterval)
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

func (s *Scheduler) tryLeadership() {
	ctx := context.Background()

	renewed, err := s.clusterStore.RenewLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		return
	}
	if renewed {
		return
	}

	acquired, err := s.clusterStore.AcquireLeadership(ctx, s.workerID, s.leaderTTL)
	if err != nil {
		s.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		return
	}
	if acquired {
		s.logger.Info("acquired schedule leadership", slog.String("worker_id", s.workerID.String()))
	}
}

// tickLoop fires on each tick interval and processes due entries.
func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	ctx := context.Background()

	leader, err := s.clusterStore.GetLeader(ctx)
	if err != nil {
		s.logger.Warn("get leader error", slog.String("error", err.Error()))
		return
	}
	if leader == nil || leader.ID.String() != s.workerID.String() {
		return
	}

	entries, err := s.store.ListSchedules(ctx)
	if err != nil {
		s.logger.Error("list schedules error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, entry := range entries {
		if !entry.Enabled {
			continue
		}
		if entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		s.fireEntry(ctx, entry, now)
	}
}

func (s *Scheduler) fireEntry(ctx context.Context, entry *Entry, firingAt time.Time) {
	acquired, err := s.store.AcquireScheduleLock(ctx, entry.ID, s.workerID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire schedule lock error",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // Another worker got it.
	}

	// A per-firing idempotency key derived from the entry and the tick
	// it fired on, so a duplicate fire (e.g. after a crash and retry)
	// collapses into the same run instead of starting a second one.
	idempotencyKey := fmt.Sprintf("schedule:%s:%d", entry.ID.String(), firingAt.Unix())

	runID, startErr := s.start(ctx, entry.WorkflowName, entry.Args, entry.Kwargs, idempotencyKey)
	if startErr != nil {
		s.logger.Error("schedule start error",
			slog.String("schedule_name", entry.Name),
			slog.String("workflow_name", entry.WorkflowName),
			slog.String("error", startErr.Error()),
		)
		if relErr := s.store.ReleaseScheduleLock(ctx, entry.ID, s.workerID); relErr != nil {
			s.logger.Error("release schedule lock error",
				slog.String("schedule_id", entry.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
		return
	}

	if updateErr := s.store.UpdateScheduleLastRun(ctx, entry.ID, firingAt); updateErr != nil {
		s.logger.Error("update schedule last run error",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("error", updateErr.Error()),
		)
	}

	sched, parseErr := s.getOrParseExpr(entry.Expr)
	if parseErr != nil {
		s.logger.Error("parse schedule expr error",
			slog.String("schedule_name", entry.Name),
			slog.String("expr", entry.Expr),
			slog.String("error", parseErr.Error()),
		)
	} else {
		next := sched.Next(firingAt)
		entry.NextRunAt = &next
		if updateErr := s.store.UpdateScheduleEntry(ctx, entry); updateErr != nil {
			s.logger.Error("update schedule next run error",
				slog.String("schedule_id", entry.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
	}

	if relErr := s.store.ReleaseScheduleLock(ctx, entry.ID, s.workerID); relErr != nil {
		s.logger.Error("release schedule lock error",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("error", relErr.Error()),
		)
	}

	if s.extensions != nil {
		s.extensions.EmitScheduleFired(ctx, entry.Name, runID)
	}

	s.logger.Info("schedule fired",
		slog.String("schedule_name", entry.Name),
		slog.String("workflow_name", entry.WorkflowName),
		slog.String("run_id", runID.String()),
	)
}

func (s *Scheduler) getOrParseExpr(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseExpr(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}
