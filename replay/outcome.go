package replay

import (
	"encoding/json"

	"github.com/QualityUnit/pyworkflow/wfevent"
)

// OutcomeKind classifies how a tick ended, per spec §4.2 step 5.
type OutcomeKind string

const (
	// OutcomeCompleted means the body returned a result with no pending
	// operations.
	OutcomeCompleted OutcomeKind = "completed"

	// OutcomeFailed means the body returned a fatal error.
	OutcomeFailed OutcomeKind = "failed"

	// OutcomeSuspended means the body is blocked on one or more
	// in-flight operations (a step task, a sleep timer, a hook wait, or
	// a child run) that a later tick will resolve.
	OutcomeSuspended OutcomeKind = "suspended"

	// OutcomeCancelled means the body unwound due to cancellation
	// reaching an unshielded checkpoint.
	OutcomeCancelled OutcomeKind = "cancelled"

	// OutcomeContinuedAsNew means the body called ContinueAsNew; the
	// current run should finalize and a successor run should start.
	OutcomeContinuedAsNew OutcomeKind = "continued_as_new"
)

// Outcome is the result of one Drive call: the classified verdict plus
// the events and intents the runtime must durably commit, in that order
// (spec §4.2 step 6 — events first, then intents/acks).
type Outcome struct {
	Kind OutcomeKind

	Result json.RawMessage
	Err    error

	// CancelReason carries the reason string when Kind is
	// OutcomeCancelled.
	CancelReason string

	// ContinueAsNewInput carries the successor's input when Kind is
	// OutcomeContinuedAsNew.
	ContinueAsNewInput json.RawMessage

	// NewEvents are the events this tick produced, in emission order.
	// The runtime must append them under a single CAS on the run's next
	// sequence number before acting on Intents.
	NewEvents []*wfevent.Event

	// Intents are the side effects (step tasks, timers, hook waits,
	// child starts) this tick's first-encounter operations require.
	Intents []Intent
}
