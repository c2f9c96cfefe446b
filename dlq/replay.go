package dlq

import (
	"context"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// Replay re-enqueues the broker task an exhausted entry's owner needs to
// make forward progress again and marks the entry as replayed. It does
// not reset the run's recovery_attempts or status; callers that want to
// resurrect an INTERRUPTED run must do that against the run store first
// so the runtime does not immediately re-exhaust
// the same budget.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}

	switch entry.Kind {
	case KindStep:
		if err := s.enqueuer.EnqueueStepTask(ctx, entry.RunID, entry.StepID); err != nil {
			return nil, err
		}
	default:
		if err := s.enqueuer.EnqueueWorkflowTick(ctx, entry.RunID); err != nil {
			return nil, err
		}
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The task is already re-enqueued. Report but don't fail the caller.
		return entry, err
	}

	return entry, nil
}
