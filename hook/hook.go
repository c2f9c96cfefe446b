// Package hook defines the Hook entity: a named, durable "inbox slot" a
// workflow body may await, satisfied by an external signal, per spec
// §3.1. The PENDING -> RECEIVED transition is a single-writer optimistic
// CAS, the same acknowledgment pattern an event bus uses to guard
// against double delivery.
package hook

import (
	"encoding/json"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// Status is the lifecycle state of a hook.
type Status string

const (
	StatusPending  Status = "pending"
	StatusReceived Status = "received"
	StatusExpired  Status = "expired"
	StatusDisposed Status = "disposed"
)

// Hook is a named await-point satisfied by an external signal.
type Hook struct {
	ID        id.Deterministic `json:"id"`
	RunID     id.RunID         `json:"run_id"`
	Name      string           `json:"name"`
	CallIndex int              `json:"call_index"`
	Schema    json.RawMessage  `json:"schema,omitempty"`
	Status    Status           `json:"status"`
	Payload   json.RawMessage  `json:"payload,omitempty"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// New builds a pending Hook for the first encounter of an await.
func New(runID id.RunID, name string, callIndex int, schema json.RawMessage, expiresAt *time.Time) *Hook {
	now := time.Now().UTC()

	return &Hook{
		ID:        id.DeriveHookID(runID, name, callIndex),
		RunID:     runID,
		Name:      name,
		CallIndex: callIndex,
		Schema:    schema,
		Status:    StatusPending,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}
