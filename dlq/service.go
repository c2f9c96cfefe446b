package dlq

import (
	"context"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// Service provides high-level operations over a Store for runs and steps
// that exhausted their recovery budget.
type Service struct {
	store    Store
	enqueuer Enqueuer
}

// Enqueuer is the subset of runtime.Enqueuer the DLQ service needs to
// replay an entry back into the broker.
type Enqueuer interface {
	EnqueueWorkflowTick(ctx context.Context, runID id.RunID) error
	EnqueueStepTask(ctx context.Context, runID id.RunID, stepID id.Deterministic) error
}

// NewService creates a DLQ service.
func NewService(store Store, enqueuer Enqueuer) *Service {
	return &Service{store: store, enqueuer: enqueuer}
}

// PushRun sinks a run whose recovery_attempts exceeded max_recovery_attempts
// (spec §4.7). Called by the recovery sweeper right before it writes
// workflow.interrupted.
func (s *Service) PushRun(ctx context.Context, runID id.RunID, queue string, attempts, maxAttempts int, recoveryErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		Kind:        KindRun,
		RunID:       runID,
		Queue:       queue,
		Error:       recoveryErr.Error(),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// PushStep sinks a step whose claim repeatedly expired with no terminal
// event (spec §4.7). Called by the recovery sweeper right before it
// writes the recovery-exhausted step.failed event.
func (s *Service) PushStep(ctx context.Context, runID id.RunID, stepID id.Deterministic, queue string, attempts, maxAttempts int, recoveryErr error) error {
	now := time.Now().UTC()
	entry := &Entry{
		ID:          id.NewDLQID(),
		Kind:        KindStep,
		RunID:       runID,
		StepID:      stepID,
		Queue:       queue,
		Error:       recoveryErr.Error(),
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	}
	return s.store.PushDLQ(ctx, entry)
}

// DLQStore returns the underlying DLQ store for direct access to
// List, Get, Purge, and Count operations.
func (s *Service) DLQStore() Store {
	return s.store
}
