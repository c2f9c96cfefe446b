package job

import (
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be picked up by a worker.
	StatePending State = "pending"
	// StateRunning means a worker is currently executing the job.
	StateRunning State = "running"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
	// StateRetrying means the job failed but is scheduled for retry.
	StateRetrying State = "retrying"
	// StateCancelled means the job was explicitly cancelled.
	StateCancelled State = "cancelled"
)

// Class distinguishes the two broker task classes of spec §4.4. A Job
// carries exactly one: a workflow tick names only RunID; a step task
// additionally names StepID.
type Class string

const (
	ClassWorkflowTick Class = "workflow_tick"
	ClassStepTask     Class = "step_task"
)

// Job is the broker task envelope: the unit of work a worker dequeues
// and hands to runtime.Dispatcher. It carries no application payload of
// its own — the workflow input or step input it refers to lives in the
// run's event log and step record, addressed by RunID/StepID.
type Job struct {
	ID          id.JobID      `json:"id"`
	Class       Class         `json:"class"`
	RunID       id.RunID      `json:"run_id"`
	StepID      id.Deterministic `json:"step_id,omitempty"`
	Queue       string        `json:"queue"`
	State       State         `json:"state"`
	Priority    int           `json:"priority"`
	MaxRetries  int           `json:"max_retries"`
	RetryCount  int           `json:"retry_count"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}
