package schedule

import (
	"encoding/json"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// Entry is a persisted trigger spec: a cron or interval expression bound
// to a workflow, fired by the leader's Scheduler tick loop (spec §4.8).
type Entry struct {
	ID           id.ScheduleID   `json:"id"`
	Name         string          `json:"name"`
	WorkflowName string          `json:"workflow_name"`
	Expr         string          `json:"expr"`
	Args         json.RawMessage `json:"args,omitempty"`
	Kwargs       json.RawMessage `json:"kwargs,omitempty"`
	Enabled      bool            `json:"enabled"`
	LastRunAt    *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt    *time.Time      `json:"next_run_at,omitempty"`
	LockedBy     string          `json:"locked_by,omitempty"`
	LockedUntil  *time.Time      `json:"locked_until,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
