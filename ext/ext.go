// Package ext defines the read-only observability surface of spec §C9:
// extensions are notified of lifecycle events (job and workflow-run,
// step, hook, cancellation, child-workflow) and can react to them —
// logging, metrics, tracing, forwarding to a dashboard — but never
// mutate engine state from a hook.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/job"
	"github.com/QualityUnit/pyworkflow/run"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks (broker envelope, §4.4)
// ──────────────────────────────────────────────────

// JobEnqueued is called after a task is successfully enqueued onto the
// broker.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a task.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a task finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a task fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a task fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a task is moved to the dead letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Workflow run lifecycle hooks (spec §3.3 workflow family)
// ──────────────────────────────────────────────────

// RunStarted is called when a run begins (workflow.started written).
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *run.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally.
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *run.Run, err error) error
}

// RunSuspended is called when a tick ends in suspension.
type RunSuspended interface {
	OnRunSuspended(ctx context.Context, r *run.Run) error
}

// RunInterrupted is called when the recovery sweeper gives up on a run.
type RunInterrupted interface {
	OnRunInterrupted(ctx context.Context, r *run.Run) error
}

// RunCancelled is called when a run ends CANCELLED.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *run.Run, reason string) error
}

// RunContinuedAsNew is called when a run finalizes via continue_as_new.
type RunContinuedAsNew interface {
	OnRunContinuedAsNew(ctx context.Context, r *run.Run, successorRunID id.RunID) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks (spec §3.3 step family)
// ──────────────────────────────────────────────────

// StepStarted is called when a step task begins executing user code.
type StepStarted interface {
	OnStepStarted(ctx context.Context, r *run.Run, stepName string, attempt int) error
}

// StepCompleted is called after a step completes successfully.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *run.Run, stepName string, elapsed time.Duration) error
}

// StepFailed is called when a step fails terminally.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *run.Run, stepName string, err error) error
}

// StepRetrying is called when a step fails but is scheduled for retry.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, r *run.Run, stepName string, attempt int, nextRunAt time.Time) error
}

// ──────────────────────────────────────────────────
// Hook & cancellation lifecycle hooks (spec §3.3 hook/control family)
// ──────────────────────────────────────────────────

// HookReceived is called when an external signal is accepted onto a hook.
type HookReceived interface {
	OnHookReceived(ctx context.Context, r *run.Run, hookName string) error
}

// HookExpired is called when a hook's expiry wake fires unreceived.
type HookExpired interface {
	OnHookExpired(ctx context.Context, r *run.Run, hookName string) error
}

// CancellationRequested is called when cancellation is requested for a run.
type CancellationRequested interface {
	OnCancellationRequested(ctx context.Context, r *run.Run, reason string) error
}

// ──────────────────────────────────────────────────
// Child-workflow lifecycle hooks (spec §3.3 child family)
// ──────────────────────────────────────────────────

// ChildWorkflowStarted is called when a run spawns a child.
type ChildWorkflowStarted interface {
	OnChildWorkflowStarted(ctx context.Context, parent *run.Run, childRunID id.RunID) error
}

// ChildWorkflowCompleted is called when a child run completes.
type ChildWorkflowCompleted interface {
	OnChildWorkflowCompleted(ctx context.Context, parent *run.Run, childRunID id.RunID) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called when a cron/interval schedule fires and starts
// a run.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, scheduleName string, runID id.RunID) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
