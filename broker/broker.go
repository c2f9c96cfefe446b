package broker

import (
	"context"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/job"
)

// Broker implements runtime.Enqueuer by writing job.Job rows to a
// job.Store. A worker.Pool polling the same store's queues picks the
// rows back up and hands them to runtime.Dispatcher.
type Broker struct {
	store job.Store
	queue string
}

// Option configures a Broker.
type Option func(*Broker)

// WithQueue sets the queue new jobs are enqueued onto. Defaults to
// "default".
func WithQueue(queue string) Option {
	return func(b *Broker) { b.queue = queue }
}

// New creates a Broker backed by store.
func New(store job.Store, opts ...Option) *Broker {
	b := &Broker{store: store, queue: "default"}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// EnqueueWorkflowTick enqueues a workflow-tick job for runID.
func (b *Broker) EnqueueWorkflowTick(ctx context.Context, runID id.RunID) error {
	return b.enqueue(ctx, &job.Job{
		ID:    id.NewJobID(),
		Class: job.ClassWorkflowTick,
		RunID: runID,
		Queue: b.queue,
		State: job.StatePending,
		RunAt: time.Now().UTC(),
	})
}

// EnqueueStepTask enqueues a step-task job for the given run/step pair.
func (b *Broker) EnqueueStepTask(ctx context.Context, runID id.RunID, stepID id.Deterministic) error {
	return b.enqueue(ctx, &job.Job{
		ID:     id.NewJobID(),
		Class:  job.ClassStepTask,
		RunID:  runID,
		StepID: stepID,
		Queue:  b.queue,
		State:  job.StatePending,
		RunAt:  time.Now().UTC(),
	})
}

func (b *Broker) enqueue(ctx context.Context, j *job.Job) error {
	return b.store.EnqueueJob(ctx, j)
}
