// Package memory is a fully in-memory implementation of schedule.Store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/schedule"
)

var _ schedule.Store = (*Store)(nil)

// Store is a fully in-memory schedule.Store, safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*schedule.Entry
	names   map[string]struct{}
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		entries: make(map[string]*schedule.Entry),
		names:   make(map[string]struct{}),
	}
}

func (m *Store) RegisterSchedule(_ context.Context, entry *schedule.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.names[entry.Name]; exists {
		return schedule.ErrScheduleExists
	}

	cp := *entry
	m.entries[entry.ID.String()] = &cp
	m.names[entry.Name] = struct{}{}
	return nil
}

func (m *Store) GetSchedule(_ context.Context, entryID id.ScheduleID) (*schedule.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return nil, schedule.ErrScheduleNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Store) ListSchedules(_ context.Context) ([]*schedule.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*schedule.Entry, 0, len(m.entries))
	for _, e := range m.entries {
		cp := *e
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.Before(result[k].CreatedAt) })
	return result, nil
}

func (m *Store) AcquireScheduleLock(_ context.Context, entryID id.ScheduleID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return false, schedule.ErrScheduleNotFound
	}

	now := time.Now().UTC()
	key := workerID.String()

	if e.LockedBy != "" && e.LockedBy != key && e.LockedUntil != nil && e.LockedUntil.After(now) {
		return false, nil
	}

	e.LockedBy = key
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

func (m *Store) ReleaseScheduleLock(_ context.Context, entryID id.ScheduleID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return schedule.ErrScheduleNotFound
	}
	if e.LockedBy != workerID.String() {
		return nil
	}
	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

func (m *Store) UpdateScheduleLastRun(_ context.Context, entryID id.ScheduleID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return schedule.ErrScheduleNotFound
	}
	last := at
	e.LastRunAt = &last
	return nil
}

func (m *Store) UpdateScheduleEntry(_ context.Context, entry *schedule.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[entry.ID.String()]; !ok {
		return schedule.ErrScheduleNotFound
	}
	cp := *entry
	m.entries[entry.ID.String()] = &cp
	return nil
}

func (m *Store) DeleteSchedule(_ context.Context, entryID id.ScheduleID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[entryID.String()]
	if !ok {
		return schedule.ErrScheduleNotFound
	}
	delete(m.entries, entryID.String())
	delete(m.names, e.Name)
	return nil
}
