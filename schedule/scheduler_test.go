package schedule_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/QualityUnit/pyworkflow/cluster"
	clustermemory "github.com/QualityUnit/pyworkflow/cluster/memory"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/schedule"
	schedulememory "github.com/QualityUnit/pyworkflow/schedule/memory"
)

type startSpy struct {
	mu    sync.Mutex
	calls []startCall
	runID id.RunID
	err   error
}

type startCall struct {
	workflowName   string
	idempotencyKey string
}

func (s *startSpy) start(_ context.Context, workflowName string, _, _ json.RawMessage, idempotencyKey string) (id.RunID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, startCall{workflowName: workflowName, idempotencyKey: idempotencyKey})
	if s.err != nil {
		return id.RunID{}, s.err
	}
	return s.runID, nil
}

func (s *startSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func makeLeader(t *testing.T, cs cluster.Store, workerID id.WorkerID) {
	t.Helper()
	ctx := context.Background()
	if err := cs.RegisterWorker(ctx, &cluster.Worker{ID: workerID, State: cluster.WorkerActive, LastSeen: time.Now().UTC(), CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}
	if _, err := cs.AcquireLeadership(ctx, workerID, time.Minute); err != nil {
		t.Fatalf("AcquireLeadership: %v", err)
	}
}

func TestScheduler_FiresOnSchedule(t *testing.T) {
	ctx := context.Background()
	store := schedulememory.New()
	cs := clustermemory.New()
	workerID := id.NewWorkerID()
	makeLeader(t, cs, workerID)

	past := time.Now().UTC().Add(-time.Minute)
	entry := &schedule.Entry{
		ID:           id.NewScheduleID(),
		Name:         "daily-report",
		WorkflowName: "report_wf",
		Expr:         "@every 1h",
		Enabled:      true,
		NextRunAt:    &past,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.RegisterSchedule(ctx, entry); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	spy := &startSpy{runID: id.NewRunID()}
	sched := schedule.NewScheduler(store, cs, spy.start, nil, workerID, nil,
		schedule.WithTickInterval(10*time.Millisecond))

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for spy.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if spy.count() != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", spy.count())
	}

	updated, err := store.GetSchedule(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if updated.LastRunAt == nil {
		t.Fatal("expected LastRunAt to be set after firing")
	}
	if updated.NextRunAt == nil || !updated.NextRunAt.After(time.Now().UTC()) {
		t.Fatal("expected NextRunAt to advance into the future")
	}
}

func TestScheduler_SkipsDisabled(t *testing.T) {
	ctx := context.Background()
	store := schedulememory.New()
	cs := clustermemory.New()
	workerID := id.NewWorkerID()
	makeLeader(t, cs, workerID)

	past := time.Now().UTC().Add(-time.Minute)
	entry := &schedule.Entry{
		ID:           id.NewScheduleID(),
		Name:         "disabled",
		WorkflowName: "report_wf",
		Expr:         "@every 1h",
		Enabled:      false,
		NextRunAt:    &past,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.RegisterSchedule(ctx, entry); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	spy := &startSpy{runID: id.NewRunID()}
	sched := schedule.NewScheduler(store, cs, spy.start, nil, workerID, nil,
		schedule.WithTickInterval(10*time.Millisecond))

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(ctx)

	time.Sleep(100 * time.Millisecond)
	if spy.count() != 0 {
		t.Fatalf("expected disabled entry not to fire, got %d calls", spy.count())
	}
}

func TestScheduler_NonLeaderSkips(t *testing.T) {
	ctx := context.Background()
	store := schedulememory.New()
	cs := clustermemory.New()

	leaderID := id.NewWorkerID()
	makeLeader(t, cs, leaderID)
	followerID := id.NewWorkerID()

	past := time.Now().UTC().Add(-time.Minute)
	entry := &schedule.Entry{
		ID:           id.NewScheduleID(),
		Name:         "leader-only",
		WorkflowName: "report_wf",
		Expr:         "@every 1h",
		Enabled:      true,
		NextRunAt:    &past,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.RegisterSchedule(ctx, entry); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	spy := &startSpy{runID: id.NewRunID()}
	sched := schedule.NewScheduler(store, cs, spy.start, nil, followerID, nil,
		schedule.WithTickInterval(10*time.Millisecond))

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(ctx)

	time.Sleep(100 * time.Millisecond)
	if spy.count() != 0 {
		t.Fatalf("expected non-leader not to fire entries, got %d calls", spy.count())
	}
}

func TestScheduler_IdempotencyKeyPerFiring(t *testing.T) {
	ctx := context.Background()
	store := schedulememory.New()
	cs := clustermemory.New()
	workerID := id.NewWorkerID()
	makeLeader(t, cs, workerID)

	past := time.Now().UTC().Add(-time.Minute)
	entry := &schedule.Entry{
		ID:           id.NewScheduleID(),
		Name:         "keyed",
		WorkflowName: "report_wf",
		Expr:         "@every 1h",
		Enabled:      true,
		NextRunAt:    &past,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.RegisterSchedule(ctx, entry); err != nil {
		t.Fatalf("RegisterSchedule: %v", err)
	}

	spy := &startSpy{runID: id.NewRunID()}
	sched := schedule.NewScheduler(store, cs, spy.start, nil, workerID, nil,
		schedule.WithTickInterval(10*time.Millisecond))

	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for spy.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if spy.count() != 1 {
		t.Fatalf("expected exactly 1 fire, got %d", spy.count())
	}
	spy.mu.Lock()
	key := spy.calls[0].idempotencyKey
	spy.mu.Unlock()
	if key == "" {
		t.Fatal("expected a non-empty schedule-derived idempotency key")
	}
}

func TestParseExpr(t *testing.T) {
	if _, err := schedule.ParseExpr("@every 30s"); err != nil {
		t.Fatalf("ParseExpr(@every 30s): %v", err)
	}
	if _, err := schedule.ParseExpr("0 0 * * *"); err != nil {
		t.Fatalf("ParseExpr(0 0 * * *): %v", err)
	}
	if _, err := schedule.ParseExpr("not a schedule"); err == nil {
		t.Fatal("expected ParseExpr to reject a malformed expression")
	}
}
