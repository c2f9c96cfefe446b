package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/internal/kinderr"
	"github.com/QualityUnit/pyworkflow/step"
	"github.com/QualityUnit/pyworkflow/store"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// HandleStepTask executes the registered step body for stepID, one
// attempt, and records the outcome. Follows an
// Execute/handleSuccess/handleFailure/scheduleRetry sequence,
// generalized to append events instead of updating a single job row.
func (d *Dispatcher) HandleStepTask(ctx context.Context, runID id.RunID, stepID id.Deterministic) error {
	claimed, err := d.store.ClaimStep(ctx, stepID, d.workerID, d.claimTTL)
	if err != nil {
		return fmt.Errorf("claim step %s: %w", stepID, err)
	}
	if !claimed {
		return nil
	}
	defer func() {
		if relErr := d.store.ReleaseStep(context.WithoutCancel(ctx), stepID, d.workerID); relErr != nil {
			d.logger.Warn("release step claim failed", "step_id", stepID, "error", relErr)
		}
	}()

	rec, err := d.store.GetStep(ctx, stepID)
	if err != nil {
		return fmt.Errorf("get step %s: %w", stepID, err)
	}
	if rec.Status.IsTerminal() {
		return nil
	}

	fn, ok := d.steps[rec.StepName]
	if !ok {
		return d.finishStepFailure(ctx, rec, kinderr.Newf(kinderr.Fatal, "no step registered for %q", rec.StepName))
	}

	attemptCtx := ctx
	var cancel context.CancelFunc
	if rec.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, rec.Timeout)
		defer cancel()
	}

	now := time.Now().UTC()
	rec.Status = step.StatusRunning
	rec.Attempt++
	rec.StartedAt = &now
	if err := d.store.UpsertStep(ctx, rec); err != nil {
		return fmt.Errorf("mark step %s running: %w", stepID, err)
	}

	result, execErr := fn(attemptCtx, rec.Input)
	if execErr != nil {
		return d.handleStepFailure(ctx, rec, execErr)
	}
	return d.handleStepSuccess(ctx, rec, result)
}

func (d *Dispatcher) handleStepSuccess(ctx context.Context, rec *step.Record, result []byte) error {
	now := time.Now().UTC()
	rec.Status = step.StatusCompleted
	rec.Result = result
	rec.CompletedAt = &now
	if err := d.store.UpsertStep(ctx, rec); err != nil {
		return fmt.Errorf("persist completed step %s: %w", rec.ID, err)
	}

	if err := d.appendEvent(ctx, rec.RunID, wfevent.New(rec.RunID, wfevent.TypeStepCompleted, wfevent.Data{
		wfevent.FieldStepID: rec.ID.String(),
		wfevent.FieldResult: json.RawMessage(result),
	})); err != nil {
		return err
	}

	r, err := d.store.GetRun(ctx, rec.RunID)
	if err == nil {
		elapsed := time.Duration(0)
		if rec.StartedAt != nil {
			elapsed = now.Sub(*rec.StartedAt)
		}
		d.extensions.EmitStepCompleted(ctx, r, rec.StepName, elapsed)
	}

	return d.enqueuer.EnqueueWorkflowTick(ctx, rec.RunID)
}

func (d *Dispatcher) handleStepFailure(ctx context.Context, rec *step.Record, execErr error) error {
	if kinderr.Is(execErr, kinderr.Fatal) || kinderr.Is(execErr, kinderr.Cancellation) {
		return d.finishStepFailure(ctx, rec, execErr)
	}
	if rec.Attempt >= rec.MaxRetries {
		return d.finishStepFailure(ctx, rec, execErr)
	}
	return d.scheduleRetry(ctx, rec, execErr)
}

// finishStepFailure records the step as permanently failed. Regular
// retry exhaustion lands here and only here: it writes step.failed so
// the workflow body observes the failure on its next tick. The dead
// letter queue is reserved for the recovery sweeper's own exhaustion
// path, not for ordinary step retry exhaustion.
func (d *Dispatcher) finishStepFailure(ctx context.Context, rec *step.Record, execErr error) error {
	now := time.Now().UTC()
	rec.Status = step.StatusFailed
	rec.Error = execErr.Error()
	rec.CompletedAt = &now
	if err := d.store.UpsertStep(ctx, rec); err != nil {
		return fmt.Errorf("persist failed step %s: %w", rec.ID, err)
	}

	if err := d.appendEvent(ctx, rec.RunID, wfevent.New(rec.RunID, wfevent.TypeStepFailed, wfevent.Data{
		wfevent.FieldStepID: rec.ID.String(),
		wfevent.FieldError:  execErr.Error(),
	})); err != nil {
		return err
	}

	r, err := d.store.GetRun(ctx, rec.RunID)
	if err == nil {
		d.extensions.EmitStepFailed(ctx, r, rec.StepName, execErr)
	}

	return d.enqueuer.EnqueueWorkflowTick(ctx, rec.RunID)
}

func (d *Dispatcher) scheduleRetry(ctx context.Context, rec *step.Record, execErr error) error {
	delay := d.backoff.Delay(rec.Attempt)
	nextAt := time.Now().UTC().Add(delay)

	rec.Status = step.StatusPending
	rec.Error = execErr.Error()
	if err := d.store.UpsertStep(ctx, rec); err != nil {
		return fmt.Errorf("persist retrying step %s: %w", rec.ID, err)
	}

	if err := d.appendEvent(ctx, rec.RunID, wfevent.New(rec.RunID, wfevent.TypeStepRetrying, wfevent.Data{
		wfevent.FieldStepID:  rec.ID.String(),
		wfevent.FieldAttempt: rec.Attempt,
		wfevent.FieldError:   execErr.Error(),
		wfevent.FieldWakeAt:  nextAt,
	})); err != nil {
		return err
	}

	if err := d.store.ScheduleWake(ctx, &store.Wake{
		RunID:  rec.RunID,
		StepID: rec.ID,
		Kind:   store.WakeStepRetry,
		WakeAt: nextAt,
	}); err != nil {
		return fmt.Errorf("schedule retry wake for step %s: %w", rec.ID, err)
	}

	r, err := d.store.GetRun(ctx, rec.RunID)
	if err == nil {
		d.extensions.EmitStepRetrying(ctx, r, rec.StepName, rec.Attempt, nextAt)
	}
	return nil
}
