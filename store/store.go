// Package store defines the storage contract of spec §4.5: the single
// interface every persistence backend must satisfy. store/memory is the
// reference implementation this module ships; a production deployment
// implements the same contract against its own persistence layer.
package store

import (
	"context"
	"time"

	"github.com/QualityUnit/pyworkflow/hook"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/step"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// WakeKind distinguishes what a scheduled wake is for, so pop_due_wakes
// callers can dispatch without re-reading the run.
type WakeKind string

const (
	WakeSleep           WakeKind = "sleep"
	WakeHookExpiry      WakeKind = "hook_expiry"
	WakeStepRetry       WakeKind = "step_retry"
	WakeMaxDuration     WakeKind = "max_duration"
	WakeScheduleTrigger WakeKind = "schedule_trigger"
)

// Wake is a persistent timer entry, used when the broker has no native
// delayed-delivery primitive (spec §4.4).
type Wake struct {
	RunID   id.RunID
	StepID  id.Deterministic // set only for WakeStepRetry
	Kind    WakeKind
	WakeAt  time.Time
	Payload map[string]any
}

// RunFilter narrows ListRuns queries (spec §4.5, §6.1's GET /runs).
type RunFilter struct {
	WorkflowName string
	Status       run.Status
	StartTime    *time.Time
	EndTime      *time.Time
	Query        string
}

// ListOpts controls pagination for list queries across the store.
type ListOpts struct {
	Cursor string
	Limit  int
}

// ErrConflict is returned by CAS-guarded operations that lost the race;
// callers retry with a fresh read, per spec §7's Conflict error kind.
var ErrConflict = errConflict{}

type errConflict struct{}

func (errConflict) Error() string { return "store: optimistic concurrency conflict" }

// ErrNotFound is returned by lookups with no matching row.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "store: not found" }

// RunStore is the run-facing half of the storage contract.
type RunStore interface {
	// CreateRun inserts a run, atomic with the unique
	// (workflow_name, idempotency_key) constraint when a key is set.
	// On conflict, returns the existing run instead of erroring.
	CreateRun(ctx context.Context, r *run.Run) (existing *run.Run, err error)

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*run.Run, error)

	// UpdateRunStatus performs a CAS status transition. Returns
	// ErrConflict if the run's current status does not match from.
	UpdateRunStatus(ctx context.Context, runID id.RunID, from, to run.Status) error

	// UpdateRun persists a full run snapshot (used for fields other
	// than status: result, error, recovery_attempts, ...). Callers that
	// only need a status transition should prefer UpdateRunStatus.
	UpdateRun(ctx context.Context, r *run.Run) error

	// ListRuns returns runs matching filter, for observability only —
	// not on the hot path (spec §4.5).
	ListRuns(ctx context.Context, filter RunFilter, opts ListOpts) (runs []*run.Run, nextCursor string, err error)

	// ListChildRuns returns runs whose parent_run_id equals parentRunID.
	ListChildRuns(ctx context.Context, parentRunID id.RunID) ([]*run.Run, error)
}

// EventStore is the append-only event log half of the contract.
type EventStore interface {
	// AppendEvent appends ev with a CAS on the next sequence number:
	// ev is only written if the run's current max sequence + 1 equals
	// expectedNextSequence. On conflict returns ErrConflict; callers
	// re-read and recompose (spec §4.5).
	AppendEvent(ctx context.Context, expectedNextSequence int64, ev *wfevent.Event) error

	// ReadEvents returns the ordered event stream for a run starting
	// at fromSequence (inclusive). fromSequence of 0 reads from the
	// beginning.
	ReadEvents(ctx context.Context, runID id.RunID, fromSequence int64) ([]*wfevent.Event, error)

	// NextSequence returns the sequence number the next AppendEvent
	// call for runID must supply as expectedNextSequence.
	NextSequence(ctx context.Context, runID id.RunID) (int64, error)
}

// StepStore indexes step records by step_id for O(1) lookup (spec §3.1).
type StepStore interface {
	// UpsertStep inserts or replaces the step record for its ID.
	UpsertStep(ctx context.Context, s *step.Record) error

	// GetStep retrieves a step record by ID.
	GetStep(ctx context.Context, stepID id.Deterministic) (*step.Record, error)

	// ListStepsByRun returns every step record for a run, ordered by
	// call_index.
	ListStepsByRun(ctx context.Context, runID id.RunID) ([]*step.Record, error)
}

// HookStore indexes hooks by hook_id.
type HookStore interface {
	// UpsertHook inserts or replaces the hook record for its ID.
	UpsertHook(ctx context.Context, h *hook.Hook) error

	// GetHook retrieves a hook by ID.
	GetHook(ctx context.Context, hookID id.Deterministic) (*hook.Hook, error)

	// GetHookByName finds the most recent hook with the given name for
	// a run — used by signal_hook when callers address hooks by name
	// rather than by their derived ID (spec §4.1).
	GetHookByName(ctx context.Context, runID id.RunID, name string) (*hook.Hook, error)

	// CASHookStatus performs the single-writer optimistic CAS required
	// by spec §3.2: only one caller may move a hook from `from` to
	// `to`. On success and to==StatusReceived, payload is stored.
	CASHookStatus(ctx context.Context, hookID id.Deterministic, from, to hook.Status, payload []byte) (bool, error)

	// ListHooksByRun returns every hook record for a run, used by
	// cancellation to find PENDING hooks that must be disposed (spec
	// §4.6, scenario S5).
	ListHooksByRun(ctx context.Context, runID id.RunID) ([]*hook.Hook, error)
}

// ClaimStore provides the exclusive, time-bounded lease over a run
// required by spec §3.2 and §4.2's "Claim" step, generalized from a
// cluster leadership lease into a per-run/per-step lease.
type ClaimStore interface {
	// ClaimRun attempts to acquire (or renew, if already held by
	// workerID) an exclusive lease on runID. Returns false if another
	// non-expired claim is active.
	ClaimRun(ctx context.Context, runID id.RunID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseRun releases workerID's claim on runID, if held.
	ReleaseRun(ctx context.Context, runID id.RunID, workerID id.WorkerID) error

	// ListExpiredClaims returns runs whose claim has expired without
	// being released — input to the recovery sweeper (spec §4.7).
	ListExpiredClaims(ctx context.Context, limit int) ([]id.RunID, error)

	// ClaimStep is the step-task analogue of ClaimRun.
	ClaimStep(ctx context.Context, stepID id.Deterministic, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseStep releases workerID's claim on stepID, if held.
	ReleaseStep(ctx context.Context, stepID id.Deterministic, workerID id.WorkerID) error

	// ListExpiredStepClaims returns steps whose claim has expired
	// without a terminal event.
	ListExpiredStepClaims(ctx context.Context, limit int) ([]id.Deterministic, error)
}

// WakeStore is the persistent timer index used when the broker lacks
// native delayed delivery (spec §4.4, §4.5).
type WakeStore interface {
	// ScheduleWake persists a wake entry.
	ScheduleWake(ctx context.Context, w *Wake) error

	// PopDueWakes atomically claims and removes up to limit wakes whose
	// WakeAt is <= now, returning them for dispatch.
	PopDueWakes(ctx context.Context, now time.Time, limit int) ([]*Wake, error)

	// CancelWakesForRun removes all pending wakes for a run (used on
	// cancellation and continue_as_new).
	CancelWakesForRun(ctx context.Context, runID id.RunID) error
}

// Store is the full contract required by the engine. Backends embed
// each sub-interface; store/memory implements the composite directly.
type Store interface {
	RunStore
	EventStore
	StepStore
	HookStore
	ClaimStore
	WakeStore

	// Migrate prepares the backend's schema, if any (no-op for memory).
	Migrate(ctx context.Context) error

	// Ping verifies the backend is reachable, backing the /health
	// endpoint's storage_healthy field (spec §6.1).
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}
