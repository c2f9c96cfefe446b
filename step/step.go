// Package step defines the Step record: a durable summary of one
// logical invocation of a step inside a workflow body, per spec §3.1.
package step

import (
	"encoding/json"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// Status is the lifecycle state of a step record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s ends the step's lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the durable, indexed summary of a step invocation. It is
// derivable from the event log (step.started/completed/failed/retrying)
// but persisted separately for O(1) lookup by step_id, the same way
// job.Job is indexed outside of the pub/sub event stream.
type Record struct {
	ID          id.Deterministic `json:"id"`
	RunID       id.RunID         `json:"run_id"`
	StepName    string           `json:"step_name"`
	CallIndex   int              `json:"call_index"`
	Status      Status           `json:"status"`
	Attempt     int              `json:"attempt"`
	MaxRetries  int              `json:"max_retries"`
	RetryDelay  time.Duration    `json:"retry_delay"`
	Timeout     time.Duration    `json:"timeout"`
	Input       json.RawMessage  `json:"input,omitempty"`
	Result      json.RawMessage  `json:"result,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`

	// RecoveryAttempts counts how many times the recovery sweeper has
	// re-enqueued this step after finding its claim expired with no
	// terminal event (spec §4.7). Distinct from Attempt, which counts
	// ordinary body-retry attempts driven by MaxRetries/backoff.
	RecoveryAttempts int `json:"recovery_attempts"`
}

// Config configures per-step retry and timeout behavior, set at the
// call site of Workflow.Step (see the replay package). Shaped after a
// per-job retry/timeout options struct, generalized with a pluggable
// backoff.Strategy instead of a single delay.
type Config struct {
	// MaxRetries is the maximum number of attempts, the first one
	// included, before the step is recorded step.failed.
	MaxRetries int

	// RetryDelay is the base delay used by the configured
	// backoff.Strategy between attempts.
	RetryDelay time.Duration

	// Timeout bounds a single attempt's execution.
	Timeout time.Duration
}

// DefaultConfig mirrors typical job-level retry defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: time.Second,
		Timeout:    5 * time.Minute,
	}
}

// Option is a functional option for Config.
type Option func(*Config)

// WithMaxRetries overrides the retry ceiling.
func WithMaxRetries(n int) Option { return func(c *Config) { c.MaxRetries = n } }

// WithRetryDelay overrides the base backoff delay.
func WithRetryDelay(d time.Duration) Option { return func(c *Config) { c.RetryDelay = d } }

// WithTimeout overrides the per-attempt timeout.
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// New builds a pending Record for the first encounter of a step.
func New(runID id.RunID, stepName string, callIndex int, input json.RawMessage, cfg Config) *Record {
	return &Record{
		ID:         id.DeriveStepID(runID, stepName, callIndex),
		RunID:      runID,
		StepName:   stepName,
		CallIndex:  callIndex,
		Status:     StatusPending,
		MaxRetries: cfg.MaxRetries,
		RetryDelay: cfg.RetryDelay,
		Timeout:    cfg.Timeout,
		Input:      input,
		CreatedAt:  time.Now().UTC(),
	}
}
