package dlq

import (
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// Kind distinguishes what exhausted its recovery budget.
type Kind string

const (
	// KindRun marks a run whose workflow-tick recovery attempts were
	// exhausted; it transitioned to INTERRUPTED.
	KindRun Kind = "run"
	// KindStep marks a step whose claim expired repeatedly with no
	// terminal event; it was written a recovery-exhausted step.failed.
	KindStep Kind = "step"
)

// Entry represents a run or step that exhausted its recovery budget
// (spec §4.7, §7) and has been sunk here for inspection or replay.
type Entry struct {
	ID          id.DLQID         `json:"id"`
	Kind        Kind             `json:"kind"`
	RunID       id.RunID         `json:"run_id"`
	StepID      id.Deterministic `json:"step_id,omitempty"`
	Queue       string           `json:"queue"`
	Error       string           `json:"error"`
	Attempts    int              `json:"attempts"`
	MaxAttempts int              `json:"max_attempts"`
	FailedAt    time.Time        `json:"failed_at"`
	ReplayedAt  *time.Time       `json:"replayed_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
