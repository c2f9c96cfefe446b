// Package wfevent defines the durable, append-only event log at the
// heart of the engine: one immutable, totally ordered record per
// observable fact about a run. It is the source of truth the replay
// engine re-derives workflow state from.
package wfevent

import (
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// Type identifies the family and fact an Event records.
type Type string

// Workflow-family event types.
const (
	TypeWorkflowStarted        Type = "workflow.started"
	TypeWorkflowCompleted      Type = "workflow.completed"
	TypeWorkflowFailed         Type = "workflow.failed"
	TypeWorkflowInterrupted    Type = "workflow.interrupted"
	TypeWorkflowCancelled      Type = "workflow.cancelled"
	TypeWorkflowPaused         Type = "workflow.paused"
	TypeWorkflowResumed        Type = "workflow.resumed"
	TypeWorkflowContinuedAsNew Type = "workflow.continued_as_new"
)

// Step-family event types.
const (
	TypeStepStarted   Type = "step.started"
	TypeStepCompleted Type = "step.completed"
	TypeStepFailed    Type = "step.failed"
	TypeStepRetrying  Type = "step.retrying"
	TypeStepCancelled Type = "step.cancelled"
)

// Sleep-family event types.
const (
	TypeSleepStarted   Type = "sleep.started"
	TypeSleepCompleted Type = "sleep.completed"
)

// Hook-family event types.
const (
	TypeHookCreated  Type = "hook.created"
	TypeHookReceived Type = "hook.received"
	TypeHookExpired  Type = "hook.expired"
	TypeHookDisposed Type = "hook.disposed"
)

// Child-family event types.
const (
	TypeChildWorkflowStarted   Type = "child_workflow.started"
	TypeChildWorkflowCompleted Type = "child_workflow.completed"
	TypeChildWorkflowFailed    Type = "child_workflow.failed"
	TypeChildWorkflowCancelled Type = "child_workflow.cancelled"
)

// Control-family event types.
const (
	TypeCancellationRequested Type = "cancellation.requested"
)

// IsTerminal reports whether t is a terminal outcome for its family
// (the kind of event the replay engine treats as "already resolved,
// return the recorded value").
func (t Type) IsTerminal() bool {
	switch t {
	case TypeStepCompleted, TypeStepFailed, TypeStepCancelled,
		TypeSleepCompleted,
		TypeHookReceived, TypeHookExpired, TypeHookDisposed,
		TypeChildWorkflowCompleted, TypeChildWorkflowFailed, TypeChildWorkflowCancelled:
		return true
	default:
		return false
	}
}

// Data is the opaque, structured payload of an Event. Every family
// stores its own subject identifier here (step_id, sleep_id, hook_id,
// child_run_id) plus type-specific fields. Kept as a plain map: a map
// round-trips cleanly through JSON and msgpack alike.
type Data map[string]any

// Event is one immutable, totally ordered record of a fact about a run.
type Event struct {
	ID        id.EventID `json:"id"`
	RunID     id.RunID   `json:"run_id"`
	Sequence  int64      `json:"sequence"`
	Type      Type       `json:"type"`
	Data      Data       `json:"data,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// New builds an Event ready to append. Sequence is assigned by the
// store on append (see store.AppendEvent), not here — the store owns
// the CAS on next-sequence.
func New(runID id.RunID, typ Type, data Data) *Event {
	return &Event{
		ID:        id.New(id.PrefixEvent),
		RunID:     runID,
		Type:      typ,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// String fields conventionally present in Data, kept as constants so
// producers and the replay engine agree on spelling.
const (
	FieldStepID     = "step_id"
	FieldStepName   = "step_name"
	FieldInput      = "input"
	FieldSleepID    = "sleep_id"
	FieldHookID     = "hook_id"
	FieldHookName   = "hook_name"
	FieldChildRunID  = "child_run_id"
	FieldWorkflowName = "workflow_name"
	FieldResult     = "result"
	FieldError      = "error"
	FieldAttempt    = "attempt"
	FieldWakeAt     = "wake_at"
	FieldDuration   = "duration_seconds"
	FieldPayload    = "payload"
	FieldReason        = "reason"
	FieldCallIndex     = "call_index"
	FieldSuccessorRunID = "successor_run_id"
)
