package memory

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/QualityUnit/pyworkflow/hook"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/step"
	"github.com/QualityUnit/pyworkflow/store"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

func TestCreateAndGetRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	r := run.New("order.process", nil, json.RawMessage(`{"order_id":"1"}`))
	existing, err := s.CreateRun(ctx, r)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if existing != nil {
		t.Fatalf("expected nil existing on fresh insert, got %+v", existing)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.WorkflowName != "order.process" {
		t.Fatalf("workflow name mismatch: %q", got.WorkflowName)
	}

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateRunIdempotencyKey(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	r1 := run.New("order.process", nil, nil)
	r1.IdempotencyKey = "order-42"
	if existing, err := s.CreateRun(ctx, r1); err != nil || existing != nil {
		t.Fatalf("first CreateRun should insert fresh, got existing=%v err=%v", existing, err)
	}

	r2 := run.New("order.process", nil, nil)
	r2.IdempotencyKey = "order-42"
	existing, err := s.CreateRun(ctx, r2)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if existing == nil {
		t.Fatalf("expected existing run to be returned for duplicate idempotency key")
	}
	if existing.ID.String() != r1.ID.String() {
		t.Fatalf("expected existing run %s, got %s", r1.ID, existing.ID)
	}
}

func TestUpdateRunStatus(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	r := run.New("wf", nil, nil)
	if _, err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.UpdateRunStatus(ctx, r.ID, run.StatusPending, run.StatusRunning); err != nil {
		t.Fatalf("UpdateRunStatus: %v", err)
	}
	if err := s.UpdateRunStatus(ctx, r.ID, run.StatusPending, run.StatusRunning); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale CAS, got %v", err)
	}

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != run.StatusRunning {
		t.Fatalf("expected status running, got %s", got.Status)
	}
}

func TestListRunsFilterAndLimit(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		r := run.New("wf-a", nil, nil)
		if _, err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	other := run.New("wf-b", nil, nil)
	if _, err := s.CreateRun(ctx, other); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	runs, _, err := s.ListRuns(ctx, store.RunFilter{WorkflowName: "wf-a"}, store.ListOpts{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs for wf-a, got %d", len(runs))
	}

	limited, _, err := s.ListRuns(ctx, store.RunFilter{}, store.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit to cap at 2, got %d", len(limited))
	}
}

func TestListChildRuns(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	parent := run.New("parent-wf", nil, nil)
	if _, err := s.CreateRun(ctx, parent); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	child := run.New("child-wf", nil, nil)
	child.ParentRunID = parent.ID
	if _, err := s.CreateRun(ctx, child); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	unrelated := run.New("other-wf", nil, nil)
	if _, err := s.CreateRun(ctx, unrelated); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	children, err := s.ListChildRuns(ctx, parent.ID)
	if err != nil {
		t.Fatalf("ListChildRuns: %v", err)
	}
	if len(children) != 1 || children[0].ID.String() != child.ID.String() {
		t.Fatalf("expected exactly the one child run, got %+v", children)
	}
}

func TestAppendAndReadEvents(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runID := id.NewRunID()

	seq, err := s.NextSequence(ctx, runID)
	if err != nil {
		t.Fatalf("NextSequence: %v", err)
	}
	if seq != 1 {
		t.Fatalf("expected first sequence 1, got %d", seq)
	}

	ev1 := wfevent.New(runID, wfevent.TypeWorkflowStarted, nil)
	if err := s.AppendEvent(ctx, 1, ev1); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	ev2 := wfevent.New(runID, wfevent.TypeWorkflowCompleted, nil)
	if err := s.AppendEvent(ctx, 1, ev2); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on stale sequence, got %v", err)
	}
	if err := s.AppendEvent(ctx, 2, ev2); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}

	events, err := s.ReadEvents(ctx, runID, 0)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Sequence != 1 || events[1].Sequence != 2 {
		t.Fatalf("expected sequential ordering, got %d,%d", events[0].Sequence, events[1].Sequence)
	}

	fromTwo, err := s.ReadEvents(ctx, runID, 2)
	if err != nil {
		t.Fatalf("ReadEvents from 2: %v", err)
	}
	if len(fromTwo) != 1 {
		t.Fatalf("expected 1 event from sequence 2, got %d", len(fromTwo))
	}
}

func TestStepUpsertAndListByRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runID := id.NewRunID()
	rec1 := step.New(runID, "charge_card", 0, nil, step.DefaultConfig())
	rec2 := step.New(runID, "send_receipt", 1, nil, step.DefaultConfig())
	if err := s.UpsertStep(ctx, rec1); err != nil {
		t.Fatalf("UpsertStep: %v", err)
	}
	if err := s.UpsertStep(ctx, rec2); err != nil {
		t.Fatalf("UpsertStep: %v", err)
	}

	got, err := s.GetStep(ctx, rec1.ID)
	if err != nil {
		t.Fatalf("GetStep: %v", err)
	}
	if got.StepName != "charge_card" {
		t.Fatalf("unexpected step name %q", got.StepName)
	}

	rec1.Status = step.StatusCompleted
	if err := s.UpsertStep(ctx, rec1); err != nil {
		t.Fatalf("UpsertStep (update): %v", err)
	}

	steps, err := s.ListStepsByRun(ctx, runID)
	if err != nil {
		t.Fatalf("ListStepsByRun: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(steps))
	}
	if steps[0].CallIndex != 0 || steps[1].CallIndex != 1 {
		t.Fatalf("expected steps ordered by call index")
	}
	if steps[0].Status != step.StatusCompleted {
		t.Fatalf("expected updated status to persist")
	}
}

func TestHookLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runID := id.NewRunID()
	h := hook.New(runID, "approval", 0, nil, nil)
	if err := s.UpsertHook(ctx, h); err != nil {
		t.Fatalf("UpsertHook: %v", err)
	}

	byName, err := s.GetHookByName(ctx, runID, "approval")
	if err != nil {
		t.Fatalf("GetHookByName: %v", err)
	}
	if byName.ID.String() != h.ID.String() {
		t.Fatalf("expected to find the hook by name")
	}

	ok, err := s.CASHookStatus(ctx, h.ID, hook.StatusPending, hook.StatusReceived, []byte(`{"approved":true}`))
	if err != nil {
		t.Fatalf("CASHookStatus: %v", err)
	}
	if !ok {
		t.Fatalf("expected CAS to succeed from pending")
	}

	ok, err = s.CASHookStatus(ctx, h.ID, hook.StatusPending, hook.StatusReceived, nil)
	if err != nil {
		t.Fatalf("CASHookStatus (stale): %v", err)
	}
	if ok {
		t.Fatalf("expected stale CAS to fail")
	}

	got, err := s.GetHook(ctx, h.ID)
	if err != nil {
		t.Fatalf("GetHook: %v", err)
	}
	if got.Status != hook.StatusReceived {
		t.Fatalf("expected status received, got %s", got.Status)
	}
	if string(got.Payload) != `{"approved":true}` {
		t.Fatalf("expected payload to persist, got %s", got.Payload)
	}

	hooks, err := s.ListHooksByRun(ctx, runID)
	if err != nil {
		t.Fatalf("ListHooksByRun: %v", err)
	}
	if len(hooks) != 1 {
		t.Fatalf("expected 1 hook, got %d", len(hooks))
	}
}

func TestClaimRunAndRelease(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runID := id.NewRunID()
	workerA := id.NewWorkerID()
	workerB := id.NewWorkerID()

	ok, err := s.ClaimRun(ctx, runID, workerA, time.Minute)
	if err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}
	if !ok {
		t.Fatalf("expected first claim to succeed")
	}

	ok, err = s.ClaimRun(ctx, runID, workerB, time.Minute)
	if err != nil {
		t.Fatalf("ClaimRun: %v", err)
	}
	if ok {
		t.Fatalf("expected second worker's claim to be refused while lease is live")
	}

	if err := s.ReleaseRun(ctx, runID, workerA); err != nil {
		t.Fatalf("ReleaseRun: %v", err)
	}
	ok, err = s.ClaimRun(ctx, runID, workerB, time.Minute)
	if err != nil {
		t.Fatalf("ClaimRun after release: %v", err)
	}
	if !ok {
		t.Fatalf("expected claim to succeed after release")
	}
}

func TestListExpiredClaims(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runID := id.NewRunID()
	workerID := id.NewWorkerID()

	if ok, err := s.ClaimRun(ctx, runID, workerID, -time.Second); err != nil || !ok {
		t.Fatalf("ClaimRun: ok=%v err=%v", ok, err)
	}

	expired, err := s.ListExpiredClaims(ctx, 0)
	if err != nil {
		t.Fatalf("ListExpiredClaims: %v", err)
	}
	if len(expired) != 1 || expired[0].String() != runID.String() {
		t.Fatalf("expected the expired claim to be listed, got %+v", expired)
	}
}

func TestClaimStep(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	stepID := id.DeriveStepID(id.NewRunID(), "charge_card", 0)
	workerID := id.NewWorkerID()

	ok, err := s.ClaimStep(ctx, stepID, workerID, time.Minute)
	if err != nil {
		t.Fatalf("ClaimStep: %v", err)
	}
	if !ok {
		t.Fatalf("expected claim to succeed")
	}
	if err := s.ReleaseStep(ctx, stepID, workerID); err != nil {
		t.Fatalf("ReleaseStep: %v", err)
	}
}

func TestScheduleAndPopDueWakes(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runID := id.NewRunID()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	if err := s.ScheduleWake(ctx, &store.Wake{RunID: runID, Kind: store.WakeSleep, WakeAt: past}); err != nil {
		t.Fatalf("ScheduleWake: %v", err)
	}
	if err := s.ScheduleWake(ctx, &store.Wake{RunID: runID, Kind: store.WakeMaxDuration, WakeAt: future}); err != nil {
		t.Fatalf("ScheduleWake: %v", err)
	}

	due, err := s.PopDueWakes(ctx, time.Now(), 0)
	if err != nil {
		t.Fatalf("PopDueWakes: %v", err)
	}
	if len(due) != 1 || due[0].Kind != store.WakeSleep {
		t.Fatalf("expected only the past wake to be due, got %+v", due)
	}

	// popped wakes are removed; calling again returns nothing new due.
	due, err = s.PopDueWakes(ctx, time.Now(), 0)
	if err != nil {
		t.Fatalf("PopDueWakes (second call): %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("expected no wakes due on second call, got %+v", due)
	}
}

func TestCancelWakesForRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	runA := id.NewRunID()
	runB := id.NewRunID()
	past := time.Now().Add(-time.Minute)

	if err := s.ScheduleWake(ctx, &store.Wake{RunID: runA, Kind: store.WakeSleep, WakeAt: past}); err != nil {
		t.Fatalf("ScheduleWake: %v", err)
	}
	if err := s.ScheduleWake(ctx, &store.Wake{RunID: runB, Kind: store.WakeSleep, WakeAt: past}); err != nil {
		t.Fatalf("ScheduleWake: %v", err)
	}

	if err := s.CancelWakesForRun(ctx, runA); err != nil {
		t.Fatalf("CancelWakesForRun: %v", err)
	}

	due, err := s.PopDueWakes(ctx, time.Now(), 0)
	if err != nil {
		t.Fatalf("PopDueWakes: %v", err)
	}
	if len(due) != 1 || due[0].RunID.String() != runB.String() {
		t.Fatalf("expected only runB's wake to remain, got %+v", due)
	}
}
