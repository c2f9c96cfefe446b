package broker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/QualityUnit/pyworkflow/broker"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/job"
	"github.com/QualityUnit/pyworkflow/store"
)

// fakeJobStore is a minimal in-memory job.Store used to exercise the
// broker without a real backend.
type fakeJobStore struct {
	mu   sync.Mutex
	jobs []*job.Job
}

func (s *fakeJobStore) EnqueueJob(_ context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
	return nil
}

func (s *fakeJobStore) DequeueJobs(context.Context, []string, int) ([]*job.Job, error) {
	return nil, nil
}
func (s *fakeJobStore) GetJob(context.Context, id.JobID) (*job.Job, error)    { return nil, nil }
func (s *fakeJobStore) UpdateJob(context.Context, *job.Job) error            { return nil }
func (s *fakeJobStore) DeleteJob(context.Context, id.JobID) error            { return nil }
func (s *fakeJobStore) ListJobsByState(context.Context, job.State, job.ListOpts) ([]*job.Job, error) {
	return nil, nil
}
func (s *fakeJobStore) HeartbeatJob(context.Context, id.JobID, id.WorkerID) error { return nil }
func (s *fakeJobStore) ReapStaleJobs(context.Context, time.Duration) ([]*job.Job, error) {
	return nil, nil
}
func (s *fakeJobStore) CountJobs(context.Context, job.CountOpts) (int64, error) { return 0, nil }

func (s *fakeJobStore) snapshot() []*job.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*job.Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

// fakeWakeStore is a minimal in-memory store.WakeStore.
type fakeWakeStore struct {
	mu    sync.Mutex
	wakes []*store.Wake
}

func (s *fakeWakeStore) ScheduleWake(_ context.Context, w *store.Wake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wakes = append(s.wakes, w)
	return nil
}

func (s *fakeWakeStore) PopDueWakes(_ context.Context, now time.Time, limit int) ([]*store.Wake, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*store.Wake
	var remaining []*store.Wake
	for _, w := range s.wakes {
		if len(due) < limit && !w.WakeAt.After(now) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.wakes = remaining
	return due, nil
}

func (s *fakeWakeStore) CancelWakesForRun(context.Context, id.RunID) error { return nil }

func TestBroker_EnqueueWorkflowTick(t *testing.T) {
	js := &fakeJobStore{}
	b := broker.New(js)
	runID := id.NewRunID()

	if err := b.EnqueueWorkflowTick(context.Background(), runID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs := js.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Class != job.ClassWorkflowTick {
		t.Errorf("class = %q, want %q", jobs[0].Class, job.ClassWorkflowTick)
	}
	if jobs[0].RunID != runID {
		t.Errorf("run id = %q, want %q", jobs[0].RunID, runID)
	}
	if jobs[0].StepID != "" {
		t.Errorf("expected empty step id, got %q", jobs[0].StepID)
	}
}

func TestBroker_EnqueueStepTask(t *testing.T) {
	js := &fakeJobStore{}
	b := broker.New(js, broker.WithQueue("steps"))
	runID := id.NewRunID()
	stepID := id.Deterministic("step_abc")

	if err := b.EnqueueStepTask(context.Background(), runID, stepID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	jobs := js.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if jobs[0].Class != job.ClassStepTask {
		t.Errorf("class = %q, want %q", jobs[0].Class, job.ClassStepTask)
	}
	if jobs[0].StepID != stepID {
		t.Errorf("step id = %q, want %q", jobs[0].StepID, stepID)
	}
	if jobs[0].Queue != "steps" {
		t.Errorf("queue = %q, want %q", jobs[0].Queue, "steps")
	}
}

func TestWakePoller_DispatchesDueWakes(t *testing.T) {
	js := &fakeJobStore{}
	ws := &fakeWakeStore{}
	b := broker.New(js)

	runID := id.NewRunID()
	stepID := id.Deterministic("step_retry")
	past := time.Now().UTC().Add(-time.Minute)
	future := time.Now().UTC().Add(time.Hour)

	_ = ws.ScheduleWake(context.Background(), &store.Wake{RunID: runID, Kind: store.WakeSleep, WakeAt: past})
	_ = ws.ScheduleWake(context.Background(), &store.Wake{RunID: runID, StepID: stepID, Kind: store.WakeStepRetry, WakeAt: past})
	_ = ws.ScheduleWake(context.Background(), &store.Wake{RunID: runID, Kind: store.WakeHookExpiry, WakeAt: future})

	poller := broker.NewWakePoller(ws, b, broker.WithPollInterval(time.Millisecond), broker.WithBatchSize(10))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_ = poller.Run(ctx)

	jobs := js.snapshot()
	if len(jobs) != 2 {
		t.Fatalf("expected 2 dispatched jobs (future wake untouched), got %d: %+v", len(jobs), jobs)
	}

	var sawTick, sawStepTask bool
	for _, j := range jobs {
		switch j.Class {
		case job.ClassWorkflowTick:
			sawTick = true
		case job.ClassStepTask:
			sawStepTask = true
			if j.StepID != stepID {
				t.Errorf("step task step id = %q, want %q", j.StepID, stepID)
			}
		}
	}
	if !sawTick || !sawStepTask {
		t.Fatalf("expected both a workflow tick and a step task dispatched, got %+v", jobs)
	}
}
