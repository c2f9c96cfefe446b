package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/QualityUnit/pyworkflow/backoff"
	"github.com/QualityUnit/pyworkflow/ext"
	"github.com/QualityUnit/pyworkflow/hook"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/internal/kinderr"
	"github.com/QualityUnit/pyworkflow/replay"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/step"
	"github.com/QualityUnit/pyworkflow/store"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// WorkflowRegistry maps a workflow name to its registered body.
type WorkflowRegistry map[string]replay.Func

// StepRegistry maps a step name to its registered body, resolved at
// step-task execution time rather than captured as a closure at replay
// time (spec §4.2: a step may execute on a different worker than the
// one that replayed the workflow body that scheduled it).
type StepRegistry map[string]replay.StepFunc

// Enqueuer hands an immediately-runnable task to the broker. Delayed
// dispatch (sleeps, hook expiry, step retry) never goes through
// Enqueuer directly — it is persisted as a store.Wake and later handed
// to Enqueuer by the wake poller once due, so the Dispatcher itself has
// no notion of delayed delivery.
type Enqueuer interface {
	EnqueueWorkflowTick(ctx context.Context, runID id.RunID) error
	EnqueueStepTask(ctx context.Context, runID id.RunID, stepID id.Deterministic) error
}

// Dispatcher executes broker tasks against the durable store, driving
// the replay engine for workflow ticks and running registered step
// bodies for step tasks. Generalized from a single job lifecycle into
// the two task classes of spec §4.4.
type Dispatcher struct {
	store      store.Store
	workflows  WorkflowRegistry
	steps      StepRegistry
	enqueuer   Enqueuer
	extensions *ext.Registry
	backoff    backoff.Strategy
	logger     *slog.Logger
	workerID   id.WorkerID
	claimTTL   time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithBackoff overrides the default retry backoff strategy.
func WithBackoff(s backoff.Strategy) Option { return func(d *Dispatcher) { d.backoff = s } }

// WithLogger overrides the default logger, slog.Default().
func WithLogger(l *slog.Logger) Option { return func(d *Dispatcher) { d.logger = l } }

// WithClaimTTL overrides the default exclusive-claim lease duration.
func WithClaimTTL(ttl time.Duration) Option { return func(d *Dispatcher) { d.claimTTL = ttl } }

// WithExtensions attaches the extension registry whose Emit* hooks fire
// around task execution.
func WithExtensions(r *ext.Registry) Option { return func(d *Dispatcher) { d.extensions = r } }

// NewDispatcher builds a Dispatcher ready to register workflows and
// steps and handle broker tasks.
func NewDispatcher(st store.Store, enqueuer Enqueuer, workerID id.WorkerID, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:      st,
		workflows:  make(WorkflowRegistry),
		steps:      make(StepRegistry),
		enqueuer:   enqueuer,
		extensions: ext.NewRegistry(slog.Default()),
		backoff:    backoff.DefaultStrategy(),
		logger:     slog.Default(),
		workerID:   workerID,
		claimTTL:   30 * time.Second,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// RegisterWorkflow makes name resolvable by HandleWorkflowTick.
func (d *Dispatcher) RegisterWorkflow(name string, fn replay.Func) { d.workflows[name] = fn }

// RegisterStep makes name resolvable by HandleStepTask.
func (d *Dispatcher) RegisterStep(name string, fn replay.StepFunc) { d.steps[name] = fn }

// HandleWorkflowTick replays runID's workflow body against its event
// log, durably commits whatever it produced, and dispatches any
// first-encounter operations. It is idempotent: replaying an already
// resolved tick is a no-op besides the claim round-trip.
func (d *Dispatcher) HandleWorkflowTick(ctx context.Context, runID id.RunID) error {
	claimed, err := d.store.ClaimRun(ctx, runID, d.workerID, d.claimTTL)
	if err != nil {
		return fmt.Errorf("claim run %s: %w", runID, err)
	}
	if !claimed {
		return nil
	}
	defer func() {
		if relErr := d.store.ReleaseRun(context.WithoutCancel(ctx), runID, d.workerID); relErr != nil {
			d.logger.Warn("release run claim failed", "run_id", runID, "error", relErr)
		}
	}()

	r, err := d.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("get run %s: %w", runID, err)
	}
	if r.Status.IsTerminal() {
		return nil
	}

	if r.CancellationRequested {
		if err := d.propagateCancellation(ctx, r); err != nil {
			return fmt.Errorf("propagate cancellation for run %s: %w", runID, err)
		}
	}

	fn, ok := d.workflows[r.WorkflowName]
	if !ok {
		return d.failRun(ctx, r, kinderr.Newf(kinderr.Fatal, "no workflow registered for %q", r.WorkflowName))
	}

	events, err := d.store.ReadEvents(ctx, runID, 0)
	if err != nil {
		return fmt.Errorf("read events for run %s: %w", runID, err)
	}

	if len(events) == 0 {
		started := wfevent.New(runID, wfevent.TypeWorkflowStarted, wfevent.Data{
			wfevent.FieldWorkflowName: r.WorkflowName,
			wfevent.FieldInput:        r.InputArgs,
		})
		if err := d.appendEvent(ctx, runID, started); err != nil {
			return err
		}
		events = append(events, started)

		now := time.Now().UTC()
		r.Status = run.StatusRunning
		r.StartedAt = &now
		if err := d.store.UpdateRun(ctx, r); err != nil {
			return fmt.Errorf("mark run %s running: %w", runID, err)
		}
		d.extensions.EmitRunStarted(ctx, r)
	}

	outcome := replay.Drive(ctx, runID, events, fn, r.InputArgs)

	for _, ev := range outcome.NewEvents {
		if err := d.appendEvent(ctx, runID, ev); err != nil {
			return err
		}
	}

	switch outcome.Kind {
	case replay.OutcomeCompleted:
		return d.completeRun(ctx, r, outcome)
	case replay.OutcomeFailed:
		return d.failRun(ctx, r, outcome.Err)
	case replay.OutcomeCancelled:
		return d.cancelRun(ctx, r, outcome)
	case replay.OutcomeContinuedAsNew:
		return d.continueAsNew(ctx, r, outcome)
	case replay.OutcomeSuspended:
		return d.suspendRun(ctx, r, outcome)
	default:
		return fmt.Errorf("runtime: unhandled outcome kind %q", outcome.Kind)
	}
}

func (d *Dispatcher) appendEvent(ctx context.Context, runID id.RunID, ev *wfevent.Event) error {
	seq, err := d.store.NextSequence(ctx, runID)
	if err != nil {
		return fmt.Errorf("next sequence for run %s: %w", runID, err)
	}
	if err := d.store.AppendEvent(ctx, seq, ev); err != nil {
		return fmt.Errorf("append %s event for run %s: %w", ev.Type, runID, err)
	}
	return nil
}

func (d *Dispatcher) completeRun(ctx context.Context, r *run.Run, outcome replay.Outcome) error {
	if err := d.appendEvent(ctx, r.ID, wfevent.New(r.ID, wfevent.TypeWorkflowCompleted, wfevent.Data{
		wfevent.FieldResult: outcome.Result,
	})); err != nil {
		return err
	}

	now := time.Now().UTC()
	from := r.Status
	r.Status = run.StatusCompleted
	r.Result = outcome.Result
	r.CompletedAt = &now
	if err := d.store.UpdateRunStatus(ctx, r.ID, from, run.StatusCompleted); err != nil {
		return fmt.Errorf("mark run %s completed: %w", r.ID, err)
	}
	if err := d.store.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("persist run %s completion: %w", r.ID, err)
	}
	if err := d.store.CancelWakesForRun(ctx, r.ID); err != nil {
		d.logger.Warn("cancel wakes for completed run failed", "run_id", r.ID, "error", err)
	}

	elapsed := time.Duration(0)
	if r.StartedAt != nil {
		elapsed = now.Sub(*r.StartedAt)
	}
	d.extensions.EmitRunCompleted(ctx, r, elapsed)
	return d.notifyParent(ctx, r, wfevent.TypeChildWorkflowCompleted, outcome.Result, "")
}

func (d *Dispatcher) failRun(ctx context.Context, r *run.Run, cause error) error {
	if err := d.appendEvent(ctx, r.ID, wfevent.New(r.ID, wfevent.TypeWorkflowFailed, wfevent.Data{
		wfevent.FieldError: cause.Error(),
	})); err != nil {
		return err
	}

	now := time.Now().UTC()
	from := r.Status
	r.Status = run.StatusFailed
	r.Error = cause.Error()
	r.CompletedAt = &now
	if err := d.store.UpdateRunStatus(ctx, r.ID, from, run.StatusFailed); err != nil {
		return fmt.Errorf("mark run %s failed: %w", r.ID, err)
	}
	if err := d.store.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("persist run %s failure: %w", r.ID, err)
	}
	if err := d.store.CancelWakesForRun(ctx, r.ID); err != nil {
		d.logger.Warn("cancel wakes for failed run failed", "run_id", r.ID, "error", err)
	}

	d.extensions.EmitRunFailed(ctx, r, cause)
	return d.notifyParent(ctx, r, wfevent.TypeChildWorkflowFailed, nil, cause.Error())
}

// cancelRun finalizes a run whose replay raised the cancellation
// signal. Per spec §4.6 step 2 and scenario S6, a TERMINATE or WAIT
// child must itself reach a terminal status before the parent is
// allowed to write workflow.cancelled; ABANDON children are ignored.
// While blocking children remain outstanding, cancelRun leaves the run
// non-terminal and returns: their eventual completion re-enqueues this
// run's tick via notifyParent, and cancelRun runs again.
func (d *Dispatcher) cancelRun(ctx context.Context, r *run.Run, outcome replay.Outcome) error {
	children, err := d.store.ListChildRuns(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("list children of run %s: %w", r.ID, err)
	}
	for _, child := range children {
		if child.Status.IsTerminal() {
			continue
		}
		if childCancelPolicy(child) == run.ChildCancelAbandon {
			continue
		}
		return nil
	}

	if err := d.disposeSuspendedHooks(ctx, r); err != nil {
		return fmt.Errorf("dispose hooks for run %s: %w", r.ID, err)
	}

	if err := d.appendEvent(ctx, r.ID, wfevent.New(r.ID, wfevent.TypeWorkflowCancelled, wfevent.Data{
		wfevent.FieldReason: outcome.CancelReason,
	})); err != nil {
		return err
	}

	now := time.Now().UTC()
	from := r.Status
	r.Status = run.StatusCancelled
	r.CompletedAt = &now
	if err := d.store.UpdateRunStatus(ctx, r.ID, from, run.StatusCancelled); err != nil {
		return fmt.Errorf("mark run %s cancelled: %w", r.ID, err)
	}
	if err := d.store.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("persist run %s cancellation: %w", r.ID, err)
	}
	if err := d.store.CancelWakesForRun(ctx, r.ID); err != nil {
		d.logger.Warn("cancel wakes for cancelled run failed", "run_id", r.ID, "error", err)
	}

	d.extensions.EmitRunCancelled(ctx, r, outcome.CancelReason)
	return d.notifyParent(ctx, r, wfevent.TypeChildWorkflowCancelled, nil, outcome.CancelReason)
}

// childCancelPolicy returns r's recorded child-cancellation policy,
// defaulting per spec §4.6 when unset (runs created before this field
// existed, or created outside startChild).
func childCancelPolicy(r *run.Run) run.ChildCancelPolicy {
	if r.ChildCancelPolicy == "" {
		return run.DefaultChildCancelPolicy
	}
	return r.ChildCancelPolicy
}

// propagateCancellation applies each outstanding child's cancellation
// policy the first time this run's tick observes cancellation.requested
// (spec §4.6 step 2). It is idempotent: children that already have
// cancellation.requested recorded, or are already terminal, are
// skipped, so repeated ticks of a still-cancelling parent do not
// re-append events.
func (d *Dispatcher) propagateCancellation(ctx context.Context, r *run.Run) error {
	children, err := d.store.ListChildRuns(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("list children of run %s: %w", r.ID, err)
	}
	for _, child := range children {
		if child.Status.IsTerminal() || child.CancellationRequested {
			continue
		}
		if childCancelPolicy(child) != run.ChildCancelTerminate {
			continue
		}
		if err := d.requestChildCancellation(ctx, child); err != nil {
			return fmt.Errorf("request cancellation of child %s: %w", child.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) requestChildCancellation(ctx context.Context, child *run.Run) error {
	if err := d.appendEvent(ctx, child.ID, wfevent.New(child.ID, wfevent.TypeCancellationRequested, wfevent.Data{
		wfevent.FieldReason: "parent cancelled",
	})); err != nil {
		return err
	}
	child.CancellationRequested = true
	if err := d.store.UpdateRun(ctx, child); err != nil {
		return fmt.Errorf("persist cancellation flag for child %s: %w", child.ID, err)
	}
	if child.Status == run.StatusSuspended {
		return d.enqueuer.EnqueueWorkflowTick(ctx, child.ID)
	}
	return nil
}

// disposeSuspendedHooks transitions every PENDING hook a cancelled run
// was waiting on to DISPOSED (spec §4.6, scenario S5).
func (d *Dispatcher) disposeSuspendedHooks(ctx context.Context, r *run.Run) error {
	hooks, err := d.store.ListHooksByRun(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("list hooks for run %s: %w", r.ID, err)
	}
	for _, h := range hooks {
		if h.Status != hook.StatusPending {
			continue
		}
		ok, err := d.store.CASHookStatus(ctx, h.ID, hook.StatusPending, hook.StatusDisposed, nil)
		if err != nil {
			return fmt.Errorf("dispose hook %s: %w", h.ID, err)
		}
		if !ok {
			continue
		}
		if err := d.appendEvent(ctx, r.ID, wfevent.New(r.ID, wfevent.TypeHookDisposed, wfevent.Data{
			wfevent.FieldHookID:   h.ID.String(),
			wfevent.FieldHookName: h.Name,
		})); err != nil {
			return err
		}
	}
	return nil
}

// notifyParent records the outcome of a child run on its parent's event
// log and re-enqueues the parent's tick, so a parent suspended awaiting
// this child (replay.Context.StartChildWorkflow with Wait: true)
// observes the terminal event on its next replay. Runs that reached
// their terminal status via continue_as_new never call notifyParent:
// the logical workflow the parent is watching has not finished, it
// continues under the successor run.
func (d *Dispatcher) notifyParent(ctx context.Context, r *run.Run, eventType wfevent.Type, result json.RawMessage, failureOrReason string) error {
	if r.ParentRunID.IsNil() {
		return nil
	}

	data := wfevent.Data{wfevent.FieldChildRunID: r.ID.String()}
	switch eventType {
	case wfevent.TypeChildWorkflowCompleted:
		data[wfevent.FieldResult] = result
	case wfevent.TypeChildWorkflowFailed:
		data[wfevent.FieldError] = failureOrReason
	case wfevent.TypeChildWorkflowCancelled:
		data[wfevent.FieldReason] = failureOrReason
	}

	if err := d.appendEvent(ctx, r.ParentRunID, wfevent.New(r.ParentRunID, eventType, data)); err != nil {
		return fmt.Errorf("notify parent %s of child %s: %w", r.ParentRunID, r.ID, err)
	}
	return d.enqueuer.EnqueueWorkflowTick(ctx, r.ParentRunID)
}

func (d *Dispatcher) continueAsNew(ctx context.Context, r *run.Run, outcome replay.Outcome) error {
	successor := run.New(r.WorkflowName, outcome.ContinueAsNewInput, nil)
	successor.ParentRunID = r.ParentRunID
	successor.NestingDepth = r.NestingDepth
	successor.MaxRecoveryAttempts = r.MaxRecoveryAttempts
	successor.Tags = r.Tags

	if _, err := d.store.CreateRun(ctx, successor); err != nil {
		return fmt.Errorf("create successor run for %s: %w", r.ID, err)
	}

	if err := d.appendEvent(ctx, r.ID, wfevent.New(r.ID, wfevent.TypeWorkflowContinuedAsNew, wfevent.Data{
		wfevent.FieldSuccessorRunID: successor.ID.String(),
	})); err != nil {
		return err
	}

	now := time.Now().UTC()
	from := r.Status
	r.Status = run.StatusCompleted
	r.SuccessorRunID = successor.ID
	r.CompletedAt = &now
	if err := d.store.UpdateRunStatus(ctx, r.ID, from, run.StatusCompleted); err != nil {
		return fmt.Errorf("mark run %s continued-as-new: %w", r.ID, err)
	}
	if err := d.store.UpdateRun(ctx, r); err != nil {
		return fmt.Errorf("persist run %s continue_as_new: %w", r.ID, err)
	}

	d.extensions.EmitRunContinuedAsNew(ctx, r, successor.ID)

	if err := d.enqueuer.EnqueueWorkflowTick(ctx, successor.ID); err != nil {
		return fmt.Errorf("enqueue successor tick for %s: %w", successor.ID, err)
	}
	return nil
}

func (d *Dispatcher) suspendRun(ctx context.Context, r *run.Run, outcome replay.Outcome) error {
	if r.Status != run.StatusSuspended {
		from := r.Status
		r.Status = run.StatusSuspended
		if err := d.store.UpdateRunStatus(ctx, r.ID, from, run.StatusSuspended); err != nil {
			return fmt.Errorf("mark run %s suspended: %w", r.ID, err)
		}
		d.extensions.EmitRunSuspended(ctx, r)
	}

	for _, intent := range outcome.Intents {
		if err := d.applyIntent(ctx, r, intent); err != nil {
			return fmt.Errorf("apply intent %s for run %s: %w", intent.Kind, r.ID, err)
		}
	}
	return nil
}

func (d *Dispatcher) applyIntent(ctx context.Context, r *run.Run, intent replay.Intent) error {
	switch intent.Kind {
	case replay.IntentStepTask:
		rec := step.New(r.ID, intent.StepName, intent.CallIndex, intent.StepInput, intent.StepCfg)
		if err := d.store.UpsertStep(ctx, rec); err != nil {
			return fmt.Errorf("upsert step record: %w", err)
		}
		if err := d.enqueuer.EnqueueStepTask(ctx, r.ID, intent.StepID); err != nil {
			return fmt.Errorf("enqueue step task: %w", err)
		}
		d.extensions.EmitStepStarted(ctx, r, intent.StepName, rec.Attempt)
		return nil

	case replay.IntentSleepTimer:
		return d.store.ScheduleWake(ctx, &store.Wake{
			RunID:  r.ID,
			Kind:   store.WakeSleep,
			WakeAt: intent.WakeAt,
		})

	case replay.IntentHookWait:
		h := hook.New(r.ID, intent.HookName, intent.CallIndex, nil, intent.ExpiresAt)
		if err := d.store.UpsertHook(ctx, h); err != nil {
			return fmt.Errorf("upsert hook record: %w", err)
		}
		if intent.ExpiresAt != nil {
			return d.store.ScheduleWake(ctx, &store.Wake{
				RunID:  r.ID,
				Kind:   store.WakeHookExpiry,
				WakeAt: *intent.ExpiresAt,
			})
		}
		return nil

	case replay.IntentChildStart:
		return d.startChild(ctx, r, intent)

	default:
		return fmt.Errorf("runtime: unknown intent kind %q", intent.Kind)
	}
}

func (d *Dispatcher) startChild(ctx context.Context, parent *run.Run, intent replay.Intent) error {
	if parent.NestingDepth+1 > run.NestingLimit {
		return d.appendEvent(ctx, parent.ID, wfevent.New(parent.ID, wfevent.TypeChildWorkflowFailed, wfevent.Data{
			wfevent.FieldChildRunID: intent.ChildRunID.String(),
			wfevent.FieldError:      fmt.Sprintf("child workflow %q exceeds nesting limit of %d", intent.ChildWFName, run.NestingLimit),
		}))
	}

	child := run.New(intent.ChildWFName, intent.ChildInput, nil)
	child.ID = intent.ChildRunID
	child.ParentRunID = parent.ID
	child.NestingDepth = parent.NestingDepth + 1
	child.ChildCancelPolicy = intent.ChildPolicy

	if _, err := d.store.CreateRun(ctx, child); err != nil {
		return fmt.Errorf("create child run %s: %w", child.ID, err)
	}

	d.extensions.EmitChildWorkflowStarted(ctx, parent, child.ID)
	return d.enqueuer.EnqueueWorkflowTick(ctx, child.ID)
}
