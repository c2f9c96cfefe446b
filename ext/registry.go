package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/job"
	"github.com/QualityUnit/pyworkflow/run"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued  []entry[JobEnqueued]
	jobStarted   []entry[JobStarted]
	jobCompleted []entry[JobCompleted]
	jobFailed    []entry[JobFailed]
	jobRetrying  []entry[JobRetrying]
	jobDLQ       []entry[JobDLQ]

	runStarted        []entry[RunStarted]
	runCompleted      []entry[RunCompleted]
	runFailed         []entry[RunFailed]
	runSuspended      []entry[RunSuspended]
	runInterrupted    []entry[RunInterrupted]
	runCancelled      []entry[RunCancelled]
	runContinuedAsNew []entry[RunContinuedAsNew]

	stepStarted  []entry[StepStarted]
	stepCompleted []entry[StepCompleted]
	stepFailed    []entry[StepFailed]
	stepRetrying  []entry[StepRetrying]

	hookReceived           []entry[HookReceived]
	hookExpired            []entry[HookExpired]
	cancellationRequested  []entry[CancellationRequested]

	childWorkflowStarted   []entry[ChildWorkflowStarted]
	childWorkflowCompleted []entry[ChildWorkflowCompleted]

	scheduleFired []entry[ScheduleFired]
	shutdown      []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobEnqueued); ok {
		r.jobEnqueued = append(r.jobEnqueued, entry[JobEnqueued]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobRetrying); ok {
		r.jobRetrying = append(r.jobRetrying, entry[JobRetrying]{name, h})
	}
	if h, ok := e.(JobDLQ); ok {
		r.jobDLQ = append(r.jobDLQ, entry[JobDLQ]{name, h})
	}
	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, entry[RunStarted]{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, entry[RunCompleted]{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, entry[RunFailed]{name, h})
	}
	if h, ok := e.(RunSuspended); ok {
		r.runSuspended = append(r.runSuspended, entry[RunSuspended]{name, h})
	}
	if h, ok := e.(RunInterrupted); ok {
		r.runInterrupted = append(r.runInterrupted, entry[RunInterrupted]{name, h})
	}
	if h, ok := e.(RunCancelled); ok {
		r.runCancelled = append(r.runCancelled, entry[RunCancelled]{name, h})
	}
	if h, ok := e.(RunContinuedAsNew); ok {
		r.runContinuedAsNew = append(r.runContinuedAsNew, entry[RunContinuedAsNew]{name, h})
	}
	if h, ok := e.(StepStarted); ok {
		r.stepStarted = append(r.stepStarted, entry[StepStarted]{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, entry[StepCompleted]{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, entry[StepFailed]{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, entry[StepRetrying]{name, h})
	}
	if h, ok := e.(HookReceived); ok {
		r.hookReceived = append(r.hookReceived, entry[HookReceived]{name, h})
	}
	if h, ok := e.(HookExpired); ok {
		r.hookExpired = append(r.hookExpired, entry[HookExpired]{name, h})
	}
	if h, ok := e.(CancellationRequested); ok {
		r.cancellationRequested = append(r.cancellationRequested, entry[CancellationRequested]{name, h})
	}
	if h, ok := e.(ChildWorkflowStarted); ok {
		r.childWorkflowStarted = append(r.childWorkflowStarted, entry[ChildWorkflowStarted]{name, h})
	}
	if h, ok := e.(ChildWorkflowCompleted); ok {
		r.childWorkflowCompleted = append(r.childWorkflowCompleted, entry[ChildWorkflowCompleted]{name, h})
	}
	if h, ok := e.(ScheduleFired); ok {
		r.scheduleFired = append(r.scheduleFired, entry[ScheduleFired]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		if err := e.hook.OnJobEnqueued(ctx, j); err != nil {
			r.logHookError("OnJobEnqueued", e.name, err)
		}
	}
}

func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		if err := e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt); err != nil {
			r.logHookError("OnJobRetrying", e.name, err)
		}
	}
}

func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDLQ {
		if err := e.hook.OnJobDLQ(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobDLQ", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

func (r *Registry) EmitRunStarted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, rn); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

func (r *Registry) EmitRunCompleted(ctx context.Context, rn *run.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, rn, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

func (r *Registry) EmitRunFailed(ctx context.Context, rn *run.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, rn, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

func (r *Registry) EmitRunSuspended(ctx context.Context, rn *run.Run) {
	for _, e := range r.runSuspended {
		if err := e.hook.OnRunSuspended(ctx, rn); err != nil {
			r.logHookError("OnRunSuspended", e.name, err)
		}
	}
}

func (r *Registry) EmitRunInterrupted(ctx context.Context, rn *run.Run) {
	for _, e := range r.runInterrupted {
		if err := e.hook.OnRunInterrupted(ctx, rn); err != nil {
			r.logHookError("OnRunInterrupted", e.name, err)
		}
	}
}

func (r *Registry) EmitRunCancelled(ctx context.Context, rn *run.Run, reason string) {
	for _, e := range r.runCancelled {
		if err := e.hook.OnRunCancelled(ctx, rn, reason); err != nil {
			r.logHookError("OnRunCancelled", e.name, err)
		}
	}
}

func (r *Registry) EmitRunContinuedAsNew(ctx context.Context, rn *run.Run, successorRunID id.RunID) {
	for _, e := range r.runContinuedAsNew {
		if err := e.hook.OnRunContinuedAsNew(ctx, rn, successorRunID); err != nil {
			r.logHookError("OnRunContinuedAsNew", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

func (r *Registry) EmitStepStarted(ctx context.Context, rn *run.Run, stepName string, attempt int) {
	for _, e := range r.stepStarted {
		if err := e.hook.OnStepStarted(ctx, rn, stepName, attempt); err != nil {
			r.logHookError("OnStepStarted", e.name, err)
		}
	}
}

func (r *Registry) EmitStepCompleted(ctx context.Context, rn *run.Run, stepName string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, rn, stepName, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

func (r *Registry) EmitStepFailed(ctx context.Context, rn *run.Run, stepName string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, rn, stepName, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

func (r *Registry) EmitStepRetrying(ctx context.Context, rn *run.Run, stepName string, attempt int, nextRunAt time.Time) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, rn, stepName, attempt, nextRunAt); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Hook / cancellation / child event emitters
// ──────────────────────────────────────────────────

func (r *Registry) EmitHookReceived(ctx context.Context, rn *run.Run, hookName string) {
	for _, e := range r.hookReceived {
		if err := e.hook.OnHookReceived(ctx, rn, hookName); err != nil {
			r.logHookError("OnHookReceived", e.name, err)
		}
	}
}

func (r *Registry) EmitHookExpired(ctx context.Context, rn *run.Run, hookName string) {
	for _, e := range r.hookExpired {
		if err := e.hook.OnHookExpired(ctx, rn, hookName); err != nil {
			r.logHookError("OnHookExpired", e.name, err)
		}
	}
}

func (r *Registry) EmitCancellationRequested(ctx context.Context, rn *run.Run, reason string) {
	for _, e := range r.cancellationRequested {
		if err := e.hook.OnCancellationRequested(ctx, rn, reason); err != nil {
			r.logHookError("OnCancellationRequested", e.name, err)
		}
	}
}

func (r *Registry) EmitChildWorkflowStarted(ctx context.Context, parent *run.Run, childRunID id.RunID) {
	for _, e := range r.childWorkflowStarted {
		if err := e.hook.OnChildWorkflowStarted(ctx, parent, childRunID); err != nil {
			r.logHookError("OnChildWorkflowStarted", e.name, err)
		}
	}
}

func (r *Registry) EmitChildWorkflowCompleted(ctx context.Context, parent *run.Run, childRunID id.RunID) {
	for _, e := range r.childWorkflowCompleted {
		if err := e.hook.OnChildWorkflowCompleted(ctx, parent, childRunID); err != nil {
			r.logHookError("OnChildWorkflowCompleted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

func (r *Registry) EmitScheduleFired(ctx context.Context, scheduleName string, runID id.RunID) {
	for _, e := range r.scheduleFired {
		if err := e.hook.OnScheduleFired(ctx, scheduleName, runID); err != nil {
			r.logHookError("OnScheduleFired", e.name, err)
		}
	}
}

func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated — they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
