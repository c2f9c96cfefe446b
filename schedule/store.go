package schedule

import (
	"context"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
)

// ErrScheduleExists is returned by RegisterSchedule when the name is
// already registered.
var ErrScheduleExists = errScheduleExists{}

type errScheduleExists struct{}

func (errScheduleExists) Error() string { return "schedule: entry already registered" }

// ErrScheduleNotFound is returned by lookups with no matching entry.
var ErrScheduleNotFound = errScheduleNotFound{}

type errScheduleNotFound struct{}

func (errScheduleNotFound) Error() string { return "schedule: entry not found" }

// Store defines the persistence contract for schedule entries.
type Store interface {
	// RegisterSchedule persists a new schedule entry. Returns an error
	// if the name already exists.
	RegisterSchedule(ctx context.Context, entry *Entry) error

	// GetSchedule retrieves a schedule entry by ID.
	GetSchedule(ctx context.Context, entryID id.ScheduleID) (*Entry, error)

	// ListSchedules returns all schedule entries.
	ListSchedules(ctx context.Context) ([]*Entry, error)

	// AcquireScheduleLock attempts to acquire a distributed lock for a
	// schedule entry, so exactly one worker fires a given tick. Returns
	// true if the lock was acquired. The lock expires after ttl.
	AcquireScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseScheduleLock releases the distributed lock for a schedule
	// entry.
	ReleaseScheduleLock(ctx context.Context, entryID id.ScheduleID, workerID id.WorkerID) error

	// UpdateScheduleLastRun records when a schedule entry last fired.
	UpdateScheduleLastRun(ctx context.Context, entryID id.ScheduleID, at time.Time) error

	// UpdateScheduleEntry updates a schedule entry (Enabled, NextRunAt,
	// etc.).
	UpdateScheduleEntry(ctx context.Context, entry *Entry) error

	// DeleteSchedule removes a schedule entry by ID.
	DeleteSchedule(ctx context.Context, entryID id.ScheduleID) error
}
