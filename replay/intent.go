package replay

import (
	"encoding/json"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/step"
)

// IntentKind distinguishes the side effect a first-encounter operation
// asks the runtime to schedule once the tick's events are committed.
type IntentKind string

const (
	IntentStepTask   IntentKind = "step_task"
	IntentSleepTimer IntentKind = "sleep_timer"
	IntentHookWait   IntentKind = "hook_wait"
	IntentChildStart IntentKind = "child_start"
)

// Intent is emitted alongside a *.started event on first encounter of an
// operation. The runtime translates it into a broker enqueue or a
// store.Wake entry after the tick's events are durably appended (spec
// §4.2 step 6: "Ack the broker message only after the outcome is durably
// committed").
type Intent struct {
	Kind IntentKind

	// Step fields.
	StepID    id.Deterministic
	StepName  string
	StepInput json.RawMessage
	CallIndex int
	StepCfg   step.Config

	// Sleep fields.
	SleepID id.Deterministic
	WakeAt  time.Time

	// Hook fields.
	HookID    id.Deterministic
	HookName  string
	ExpiresAt *time.Time

	// Child-workflow fields.
	ChildRunID  id.RunID
	ChildWFName string
	ChildInput  json.RawMessage
	ChildWait   bool
	ChildPolicy ChildCancelPolicy
}

// ChildCancelPolicy is an alias of run.ChildCancelPolicy, kept under
// this name so workflow bodies can write replay.ChildTerminate etc.
// without importing the run package directly.
type ChildCancelPolicy = run.ChildCancelPolicy

const (
	ChildTerminate = run.ChildCancelTerminate
	ChildAbandon   = run.ChildCancelAbandon
	ChildWait      = run.ChildCancelWait
)

// DefaultChildCancelPolicy is TERMINATE per spec §4.6.
const DefaultChildCancelPolicy = run.DefaultChildCancelPolicy
