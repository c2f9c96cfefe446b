package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/QualityUnit/pyworkflow/ext"
	"github.com/QualityUnit/pyworkflow/hook"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/replay"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/runtime"
	"github.com/QualityUnit/pyworkflow/store"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// Failure signals surfaced to callers (spec §4.1).
var (
	ErrRunNotFound         = errors.New("engine: run not found")
	ErrHookNotFound        = errors.New("engine: hook not found")
	ErrIdempotencyConflict = errors.New("engine: idempotency key already used by a different workflow")
)

// Context is a workflow body's handle onto the replay engine: Step,
// Sleep, WaitForHook, ContinueAsNew and StartChildWorkflow all live
// here. Re-exported from replay so registered workflow bodies
// (RegisterWorkflow's replay.Func) can be written against this
// package alone.
type Context = replay.Context

// Enqueuer hands runnable tasks to the broker. Re-exported from
// runtime so callers constructing an Engine do not need a second
// import purely for the parameter type.
type Enqueuer = runtime.Enqueuer

// Engine exposes the C8 public API (spec §4.1) over a durable store and
// a broker enqueuer. It holds no workflow state of its own — every
// method is a store read/write and, at most, one enqueue — so an
// Engine and the runtime.Dispatcher that executes ticks can share the
// same store.Store without coordinating beyond it.
type Engine struct {
	store      store.Store
	enqueuer   Enqueuer
	extensions *ext.Registry
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the default logger, slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithExtensions attaches the extension registry whose Emit* hooks fire
// around API calls, shared with the runtime.Dispatcher processing the
// same store so lifecycle listeners see one coherent stream.
func WithExtensions(r *ext.Registry) Option { return func(e *Engine) { e.extensions = r } }

// New builds an Engine ready to start, cancel, signal and resume runs.
func New(st store.Store, enq Enqueuer, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		enqueuer:   enq,
		extensions: ext.NewRegistry(slog.Default()),
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// StartOption configures a run created by Start.
type StartOption func(*run.Run)

// WithIdempotencyKey makes Start idempotent on (workflow_name, key):
// a second Start with the same pair returns the first call's run_id
// and creates nothing new (spec §4.1, scenario S4).
func WithIdempotencyKey(key string) StartOption {
	return func(r *run.Run) { r.IdempotencyKey = key }
}

// WithParentRunID marks the created run as a child of parentRunID.
// Prefer replay.Context.StartChildWorkflow from inside a workflow body;
// this option exists for callers (schedulers, the REST surface) that
// start a run as a child from outside any replay.
func WithParentRunID(parentRunID id.RunID) StartOption {
	return func(r *run.Run) { r.ParentRunID = parentRunID }
}

// WithChildCancelPolicy sets the policy applied to this run if its
// parent is cancelled while it is still outstanding (spec §4.6).
// Meaningless without WithParentRunID.
func WithChildCancelPolicy(policy run.ChildCancelPolicy) StartOption {
	return func(r *run.Run) { r.ChildCancelPolicy = policy }
}

// WithMaxDuration bounds the run's wall-clock lifetime.
func WithMaxDuration(d time.Duration) StartOption {
	return func(r *run.Run) { r.MaxDurationMS = d.Milliseconds() }
}

// WithMaxRecoveryAttempts overrides run.DefaultMaxRecoveryAttempts for
// this run.
func WithMaxRecoveryAttempts(n int) StartOption {
	return func(r *run.Run) { r.MaxRecoveryAttempts = n }
}

// WithTags attaches free-form labels, surfaced by GET /runs filtering.
func WithTags(tags ...string) StartOption {
	return func(r *run.Run) { r.Tags = tags }
}

// WithMetadata attaches opaque caller metadata.
func WithMetadata(md map[string]any) StartOption {
	return func(r *run.Run) { r.Metadata = md }
}

// Start creates a run record and enqueues its first workflow-tick
// (spec §4.1). workflow.started itself is written by the dispatcher on
// that first tick, not here, so a Start that never gets ticked leaves
// no event behind besides the run row.
//
// If idempotencyKey is set via WithIdempotencyKey and a run already
// exists for (workflowName, idempotencyKey), Start returns that run's
// ID and makes no other changes — including no new enqueue, since the
// existing run's own first tick already handled that.
func (e *Engine) Start(ctx context.Context, workflowName string, args, kwargs json.RawMessage, opts ...StartOption) (id.RunID, error) {
	r := run.New(workflowName, args, kwargs)
	for _, o := range opts {
		o(r)
	}

	existing, err := e.store.CreateRun(ctx, r)
	if err != nil {
		return id.Nil, fmt.Errorf("engine: create run for %q: %w", workflowName, err)
	}
	if existing != nil {
		if existing.WorkflowName != workflowName {
			return id.Nil, ErrIdempotencyConflict
		}
		return existing.ID, nil
	}

	if err := e.enqueuer.EnqueueWorkflowTick(ctx, r.ID); err != nil {
		return r.ID, fmt.Errorf("engine: enqueue first tick for run %s: %w", r.ID, err)
	}
	return r.ID, nil
}

// Cancel writes cancellation.requested for runID (spec §4.1). A
// SUSPENDED run is ticked immediately so the cancellation is observed
// without waiting for its scheduled wake source; a RUNNING run observes
// it at its next cooperative checkpoint (§4.2 "Checkpoints"); a
// terminal run is left untouched. Calling Cancel more than once on the
// same run is a no-op past the first call.
func (e *Engine) Cancel(ctx context.Context, runID id.RunID, reason string) error {
	r, err := e.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status.IsTerminal() {
		return nil
	}

	if !r.CancellationRequested {
		seq, err := e.store.NextSequence(ctx, runID)
		if err != nil {
			return fmt.Errorf("engine: next sequence for run %s: %w", runID, err)
		}
		ev := wfevent.New(runID, wfevent.TypeCancellationRequested, wfevent.Data{wfevent.FieldReason: reason})
		if err := e.store.AppendEvent(ctx, seq, ev); err != nil {
			return fmt.Errorf("engine: append cancellation.requested for run %s: %w", runID, err)
		}
		r.CancellationRequested = true
		if err := e.store.UpdateRun(ctx, r); err != nil {
			return fmt.Errorf("engine: persist cancellation flag for run %s: %w", runID, err)
		}
		e.extensions.EmitCancellationRequested(ctx, r, reason)
	}

	if r.Status == run.StatusSuspended {
		if err := e.enqueuer.EnqueueWorkflowTick(ctx, runID); err != nil {
			return fmt.Errorf("engine: enqueue cancellation tick for run %s: %w", runID, err)
		}
	}
	return nil
}

// SignalHook delivers payload to the named (or hook_id-addressed) hook
// on runID, CAS-ing it PENDING -> RECEIVED (spec §4.1, §8.2 Signal
// law). accepted is false, with no error, when the hook has already
// been received, expired, or disposed — signal_hook is a reject, not a
// failure, in that case.
func (e *Engine) SignalHook(ctx context.Context, runID id.RunID, hookNameOrID string, payload json.RawMessage) (accepted bool, err error) {
	h, err := e.resolveHook(ctx, runID, hookNameOrID)
	if err != nil {
		return false, err
	}

	ok, err := e.store.CASHookStatus(ctx, h.ID, hook.StatusPending, hook.StatusReceived, payload)
	if err != nil {
		return false, fmt.Errorf("engine: cas hook %s: %w", h.ID, err)
	}
	if !ok {
		return false, nil
	}

	seq, err := e.store.NextSequence(ctx, runID)
	if err != nil {
		return true, fmt.Errorf("engine: next sequence for run %s: %w", runID, err)
	}
	ev := wfevent.New(runID, wfevent.TypeHookReceived, wfevent.Data{
		wfevent.FieldHookID:   h.ID.String(),
		wfevent.FieldHookName: h.Name,
		wfevent.FieldPayload:  payload,
	})
	if err := e.store.AppendEvent(ctx, seq, ev); err != nil {
		return true, fmt.Errorf("engine: append hook.received for run %s: %w", runID, err)
	}

	if err := e.enqueuer.EnqueueWorkflowTick(ctx, runID); err != nil {
		return true, fmt.Errorf("engine: enqueue tick after signal for run %s: %w", runID, err)
	}

	r, err := e.store.GetRun(ctx, runID)
	if err == nil {
		e.extensions.EmitHookReceived(ctx, r, h.Name)
	}
	return true, nil
}

// Resume enqueues a workflow-tick for runID if it is SUSPENDED (spec
// §4.1), for operator/CLI use when a run appears stuck. A no-op for
// any other status.
func (e *Engine) Resume(ctx context.Context, runID id.RunID) error {
	r, err := e.getRun(ctx, runID)
	if err != nil {
		return err
	}
	if r.Status != run.StatusSuspended {
		return nil
	}
	if err := e.enqueuer.EnqueueWorkflowTick(ctx, runID); err != nil {
		return fmt.Errorf("engine: enqueue resume tick for run %s: %w", runID, err)
	}
	return nil
}

func (e *Engine) getRun(ctx context.Context, runID id.RunID) (*run.Run, error) {
	r, err := e.store.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("engine: get run %s: %w", runID, err)
	}
	return r, nil
}

// resolveHook accepts either a hook_id (as derived by
// internal/id.DeriveHookID, formatted "hook_<hex>") or a plain hook
// name, per spec §4.1's "hook_name_or_id".
func (e *Engine) resolveHook(ctx context.Context, runID id.RunID, hookNameOrID string) (*hook.Hook, error) {
	if strings.HasPrefix(hookNameOrID, string(id.PrefixHook)+"_") {
		h, err := e.store.GetHook(ctx, id.Deterministic(hookNameOrID))
		switch {
		case err == nil:
			return h, nil
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("engine: get hook %s: %w", hookNameOrID, err)
		}
		// Falls through: a hook *name* that happens to start with
		// "hook_" is still resolved by name below.
	}

	h, err := e.store.GetHookByName(ctx, runID, hookNameOrID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHookNotFound
		}
		return nil, fmt.Errorf("engine: get hook %q for run %s: %w", hookNameOrID, runID, err)
	}
	return h, nil
}
