// Package id defines TypeID-based identity types for every entity in the
// engine.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique, and
// URL-safe in the format "prefix_suffix".
package id

import (
	"crypto/sha256"
	"database/sql/driver"
	"encoding/hex"
	"fmt"

	"go.jetify.com/typeid"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for every entity type in the engine.
const (
	PrefixRun      Prefix = "run"
	PrefixEvent    Prefix = "evt"
	PrefixStep     Prefix = "step"
	PrefixHook     Prefix = "hook"
	PrefixWorker   Prefix = "wkr"
	PrefixSchedule Prefix = "sched"
	PrefixDLQ      Prefix = "dlq"

	// PrefixJob identifies a broker task envelope (workflow-tick or
	// step-task class, spec §4.4). Kept distinct from PrefixRun/PrefixStep
	// since one job carries either a run tick or a single step attempt.
	PrefixJob Prefix = "job"

	// PrefixSleep identifies a derived sleep_id (spec §3.1). Sleeps are
	// not stored entities, only event-keyed identifiers.
	PrefixSleep Prefix = "slp"
)

// ID is the primary identifier type for every entity.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.AnyID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.WithPrefix(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "run_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.FromString(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases
// ──────────────────────────────────────────────────

// RunID identifies a workflow run (prefix: "run").
type RunID = ID

// EventID identifies one sequenced event (prefix: "evt").
type EventID = ID

// WorkerID identifies a fleet worker process (prefix: "wkr").
type WorkerID = ID

// ScheduleID identifies a cron/interval schedule entry (prefix: "sched").
type ScheduleID = ID

// DLQID identifies a dead-letter entry (prefix: "dlq").
type DLQID = ID

// AnyID accepts any valid prefix.
type AnyID = ID

// JobID identifies a broker task envelope (prefix: "job").
type JobID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewRunID generates a new unique run ID.
func NewRunID() ID { return New(PrefixRun) }

// NewEventID generates a new unique event ID.
func NewEventID() ID { return New(PrefixEvent) }

// NewWorkerID generates a new unique worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// NewScheduleID generates a new unique schedule ID.
func NewScheduleID() ID { return New(PrefixSchedule) }

// NewDLQID generates a new unique DLQ ID.
func NewDLQID() ID { return New(PrefixDLQ) }

// NewJobID generates a new unique broker task envelope ID.
func NewJobID() ID { return New(PrefixJob) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseRunID parses a string and validates the "run" prefix.
func ParseRunID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRun) }

// ParseEventID parses a string and validates the "evt" prefix.
func ParseEventID(s string) (ID, error) { return ParseWithPrefix(s, PrefixEvent) }

// ParseWorkerID parses a string and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ParseScheduleID parses a string and validates the "sched" prefix.
func ParseScheduleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSchedule) }

// ParseDLQID parses a string and validates the "dlq" prefix.
func ParseDLQID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDLQ) }

// ParseAny parses a string into an ID without type checking the prefix.
func ParseAny(s string) (ID, error) { return Parse(s) }

// ParseJobID parses a string and validates the "job" prefix.
func ParseJobID(s string) (ID, error) { return ParseWithPrefix(s, PrefixJob) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}

// Deterministic is a content-addressed identifier: unlike ID (a random,
// K-sortable TypeID), the same inputs always derive the same value. Used
// for step_id and hook_id, which spec §3.1 requires to be derivable from
// (run_id, logical name, call_index) so correlation survives across
// replay ticks. Formatted like a TypeID ("prefix_hex") for the same
// URL-safety and log-grep-ability, but it is not a typeid.TypeID — no
// library in the retrieval pack offers content-addressed ID derivation,
// so this uses crypto/sha256 directly.
type Deterministic string

// String returns the "prefix_hex" representation.
func (d Deterministic) String() string { return string(d) }

// DeriveStepID computes the deterministic step_id of spec §3.1:
// a stable hash of (run_id, step_name, call_index) so the same logical
// step call always resolves to the same identifier across ticks.
func DeriveStepID(runID ID, stepName string, callIndex int) Deterministic {
	return derive(PrefixStep, runID.String(), stepName, callIndex)
}

// DeriveHookID computes the deterministic hook_id of spec §3.1:
// (run_id, name, call_index).
func DeriveHookID(runID ID, name string, callIndex int) Deterministic {
	return derive(PrefixHook, runID.String(), name, callIndex)
}

// DeriveSleepID computes the deterministic sleep_id of spec §3.1:
// (run_id, call_index). Sleeps have no logical name, so the family
// literal "sleep" fills that slot.
func DeriveSleepID(runID ID, callIndex int) Deterministic {
	return derive(PrefixSleep, runID.String(), "sleep", callIndex)
}

func derive(prefix Prefix, runID, name string, callIndex int) Deterministic {
	h := sha256.New()
	h.Write([]byte(runID))
	h.Write([]byte{0})
	h.Write([]byte(name))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", callIndex)

	return Deterministic(fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(h.Sum(nil))[:26]))
}
