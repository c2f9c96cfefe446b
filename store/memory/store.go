// Package memory is a fully in-memory implementation of store.Store,
// safe for concurrent use. Intended for unit testing, local
// development, and the default backend cmd/wf's setup wires when no
// storage.dsn is configured (spec §6.3).
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/QualityUnit/pyworkflow/hook"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/step"
	"github.com/QualityUnit/pyworkflow/store"
	"github.com/QualityUnit/pyworkflow/wfevent"
)

// Ensure Store implements the full storage contract at compile time.
var _ store.Store = (*Store)(nil)

type claim struct {
	workerID string
	expires  time.Time
}

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	runs   map[string]*run.Run
	events map[string][]*wfevent.Event
	steps  map[string]*step.Record
	hooks  map[string]*hook.Hook

	runClaims  map[string]claim
	stepClaims map[string]claim

	wakes []*store.Wake
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:       make(map[string]*run.Run),
		events:     make(map[string][]*wfevent.Event),
		steps:      make(map[string]*step.Record),
		hooks:      make(map[string]*hook.Hook),
		runClaims:  make(map[string]claim),
		stepClaims: make(map[string]claim),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func (m *Store) Migrate(_ context.Context) error { return nil }
func (m *Store) Ping(_ context.Context) error    { return nil }
func (m *Store) Close() error                    { return nil }

// ──────────────────────────────────────────────────
// RunStore
// ──────────────────────────────────────────────────

func (m *Store) CreateRun(_ context.Context, r *run.Run) (*run.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r.IdempotencyKey != "" {
		for _, existing := range m.runs {
			if existing.WorkflowName == r.WorkflowName && existing.IdempotencyKey == r.IdempotencyKey {
				cp := *existing
				return &cp, nil
			}
		}
	}

	cp := *r
	m.runs[r.ID.String()] = &cp
	return nil, nil
}

func (m *Store) GetRun(_ context.Context, runID id.RunID) (*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Store) UpdateRunStatus(_ context.Context, runID id.RunID, from, to run.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return store.ErrNotFound
	}
	if r.Status != from {
		return store.ErrConflict
	}
	r.Status = to
	return nil
}

func (m *Store) UpdateRun(_ context.Context, r *run.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.runs[key]; !ok {
		return store.ErrNotFound
	}
	cp := *r
	m.runs[key] = &cp
	return nil
}

func (m *Store) ListRuns(_ context.Context, filter store.RunFilter, opts store.ListOpts) ([]*run.Run, string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*run.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if filter.WorkflowName != "" && r.WorkflowName != filter.WorkflowName {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		if filter.StartTime != nil && r.CreatedAt.Before(*filter.StartTime) {
			continue
		}
		if filter.EndTime != nil && r.CreatedAt.After(*filter.EndTime) {
			continue
		}
		cp := *r
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.Before(result[k].CreatedAt) })

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(result) > limit {
		result = result[:limit]
	}
	return result, "", nil
}

func (m *Store) ListChildRuns(_ context.Context, parentRunID id.RunID) ([]*run.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*run.Run
	for _, r := range m.runs {
		if r.ParentRunID.String() == parentRunID.String() {
			cp := *r
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.Before(result[k].CreatedAt) })
	return result, nil
}

// ──────────────────────────────────────────────────
// EventStore
// ──────────────────────────────────────────────────

func (m *Store) AppendEvent(_ context.Context, expectedNextSequence int64, ev *wfevent.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := ev.RunID.String()
	if int64(len(m.events[key]))+1 != expectedNextSequence {
		return store.ErrConflict
	}
	ev.Sequence = expectedNextSequence
	m.events[key] = append(m.events[key], ev)
	return nil
}

func (m *Store) ReadEvents(_ context.Context, runID id.RunID, fromSequence int64) ([]*wfevent.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*wfevent.Event
	for _, ev := range m.events[runID.String()] {
		if ev.Sequence >= fromSequence {
			result = append(result, ev)
		}
	}
	return result, nil
}

func (m *Store) NextSequence(_ context.Context, runID id.RunID) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events[runID.String()])) + 1, nil
}

// ──────────────────────────────────────────────────
// StepStore
// ──────────────────────────────────────────────────

func (m *Store) UpsertStep(_ context.Context, s *step.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.steps[s.ID.String()] = &cp
	return nil
}

func (m *Store) GetStep(_ context.Context, stepID id.Deterministic) (*step.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.steps[stepID.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Store) ListStepsByRun(_ context.Context, runID id.RunID) ([]*step.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*step.Record
	for _, s := range m.steps {
		if s.RunID.String() == runID.String() {
			cp := *s
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CallIndex < result[k].CallIndex })
	return result, nil
}

// ──────────────────────────────────────────────────
// HookStore
// ──────────────────────────────────────────────────

func (m *Store) UpsertHook(_ context.Context, h *hook.Hook) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.hooks[h.ID.String()] = &cp
	return nil
}

func (m *Store) GetHook(_ context.Context, hookID id.Deterministic) (*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hooks[hookID.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *h
	return &cp, nil
}

func (m *Store) GetHookByName(_ context.Context, runID id.RunID, name string) (*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *hook.Hook
	for _, h := range m.hooks {
		if h.RunID.String() != runID.String() || h.Name != name {
			continue
		}
		if latest == nil || h.CallIndex > latest.CallIndex {
			latest = h
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *Store) CASHookStatus(_ context.Context, hookID id.Deterministic, from, to hook.Status, payload []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hooks[hookID.String()]
	if !ok || h.Status != from {
		return false, nil
	}
	h.Status = to
	h.UpdatedAt = time.Now().UTC()
	if to == hook.StatusReceived {
		h.Payload = payload
	}
	return true, nil
}

func (m *Store) ListHooksByRun(_ context.Context, runID id.RunID) ([]*hook.Hook, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*hook.Hook
	for _, h := range m.hooks {
		if h.RunID.String() == runID.String() {
			cp := *h
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CallIndex < result[k].CallIndex })
	return result, nil
}

// ──────────────────────────────────────────────────
// ClaimStore
// ──────────────────────────────────────────────────

func acquire(m map[string]claim, key, workerID string, ttl time.Duration) bool {
	now := time.Now().UTC()
	if c, ok := m[key]; ok && c.expires.After(now) && c.workerID != workerID {
		return false
	}
	m[key] = claim{workerID: workerID, expires: now.Add(ttl)}
	return true
}

func release(m map[string]claim, key, workerID string) {
	if c, ok := m[key]; ok && c.workerID == workerID {
		delete(m, key)
	}
}

func (m *Store) ClaimRun(_ context.Context, runID id.RunID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return acquire(m.runClaims, runID.String(), workerID.String(), ttl), nil
}

func (m *Store) ReleaseRun(_ context.Context, runID id.RunID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	release(m.runClaims, runID.String(), workerID.String())
	return nil
}

func (m *Store) ListExpiredClaims(_ context.Context, limit int) ([]id.RunID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now().UTC()
	var result []id.RunID
	for key, c := range m.runClaims {
		if c.expires.Before(now) {
			runID, err := id.ParseRunID(key)
			if err != nil {
				continue
			}
			result = append(result, runID)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *Store) ClaimStep(_ context.Context, stepID id.Deterministic, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return acquire(m.stepClaims, stepID.String(), workerID.String(), ttl), nil
}

func (m *Store) ReleaseStep(_ context.Context, stepID id.Deterministic, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	release(m.stepClaims, stepID.String(), workerID.String())
	return nil
}

func (m *Store) ListExpiredStepClaims(_ context.Context, limit int) ([]id.Deterministic, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := time.Now().UTC()
	var result []id.Deterministic
	for key, c := range m.stepClaims {
		if c.expires.Before(now) {
			result = append(result, id.Deterministic(key))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// ──────────────────────────────────────────────────
// WakeStore
// ──────────────────────────────────────────────────

func (m *Store) ScheduleWake(_ context.Context, w *store.Wake) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.wakes = append(m.wakes, &cp)
	return nil
}

func (m *Store) PopDueWakes(_ context.Context, now time.Time, limit int) ([]*store.Wake, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*store.Wake
	var remaining []*store.Wake
	for _, w := range m.wakes {
		if !w.WakeAt.After(now) && (limit <= 0 || len(due) < limit) {
			due = append(due, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	m.wakes = remaining
	return due, nil
}

func (m *Store) CancelWakesForRun(_ context.Context, runID id.RunID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var remaining []*store.Wake
	for _, w := range m.wakes {
		if w.RunID.String() != runID.String() {
			remaining = append(remaining, w)
		}
	}
	m.wakes = remaining
	return nil
}
