// Package run defines the Run entity: a single execution of a workflow
// definition against concrete input, per spec §3.1.
package run

import (
	"encoding/json"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// ChildCancelPolicy governs what happens to a run started as a child
// when its parent is cancelled (spec §4.6).
type ChildCancelPolicy string

const (
	ChildCancelTerminate ChildCancelPolicy = "terminate"
	ChildCancelAbandon   ChildCancelPolicy = "abandon"
	ChildCancelWait      ChildCancelPolicy = "wait"
)

// DefaultChildCancelPolicy is TERMINATE per spec §4.6.
const DefaultChildCancelPolicy = ChildCancelTerminate

// Status is the lifecycle state of a run.
type Status string

// Run statuses. COMPLETED, FAILED, CANCELLED and INTERRUPTED are
// terminal and sticky: once reached, no further event changes status.
const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusSuspended   Status = "suspended"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal reports whether s is a sticky terminal status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusInterrupted, StatusCancelled:
		return true
	default:
		return false
	}
}

// NestingLimit bounds parent/child recursion depth (spec §3.1, default
// per §6.3's nesting.limit key).
const NestingLimit = 3

// Run is one execution of a workflow definition.
type Run struct {
	ID                  id.RunID        `json:"id"`
	WorkflowName        string          `json:"workflow_name"`
	Status              Status          `json:"status"`
	InputArgs           json.RawMessage `json:"input_args,omitempty"`
	InputKwargs         json.RawMessage `json:"input_kwargs,omitempty"`
	Result              json.RawMessage `json:"result,omitempty"`
	Error               string          `json:"error,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	StartedAt           *time.Time      `json:"started_at,omitempty"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	ParentRunID         id.RunID        `json:"parent_run_id,omitempty"`
	NestingDepth        int             `json:"nesting_depth"`
	ChildCancelPolicy   ChildCancelPolicy `json:"child_cancel_policy,omitempty"`
	IdempotencyKey      string          `json:"idempotency_key,omitempty"`
	RecoveryAttempts    int             `json:"recovery_attempts"`
	MaxRecoveryAttempts int             `json:"max_recovery_attempts"`
	MaxDurationMS       int64           `json:"max_duration_ms,omitempty"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
	Tags                []string        `json:"tags,omitempty"`

	// SuccessorRunID is set when this run finalized via continue_as_new
	// (spec §4.8): the current run transitions to COMPLETED with a
	// pointer to the successor it handed continuation to.
	SuccessorRunID id.RunID `json:"successor_run_id,omitempty"`

	// CancellationRequested mirrors whether a cancellation.requested
	// event has been written and not yet honored, so the runtime does
	// not need to re-scan the event log solely to answer that question.
	CancellationRequested bool `json:"cancellation_requested"`
}

// DefaultMaxRecoveryAttempts is used when a run is created without an
// explicit override.
const DefaultMaxRecoveryAttempts = 5

// New builds a pending Run ready for create_run (§4.5). Sequence-less;
// the first event (workflow.started) is written by the caller in the
// same logical operation.
func New(workflowName string, inputArgs, inputKwargs json.RawMessage) *Run {
	return &Run{
		ID:                  id.New(id.PrefixRun),
		WorkflowName:        workflowName,
		Status:              StatusPending,
		InputArgs:           inputArgs,
		InputKwargs:         inputKwargs,
		CreatedAt:           time.Now().UTC(),
		NestingDepth:        0,
		MaxRecoveryAttempts: DefaultMaxRecoveryAttempts,
	}
}

// Descriptor is the explicit workflow schema of SPEC_FULL.md §D,
// consumed by the REST surface's GET /workflows in place of the source
// system's dynamic kwarg introspection.
type Descriptor struct {
	Name       string      `json:"name"`
	Parameters []Parameter `json:"parameters"`
}

// Parameter describes one named input a workflow accepts.
type Parameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
	Default  any    `json:"default,omitempty"`
}
