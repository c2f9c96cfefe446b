// Package memory is a fully in-memory implementation of cluster.Store,
// suitable for single-process deployments where one worker is always
// leader and no external coordination service is configured.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/QualityUnit/pyworkflow/cluster"
	"github.com/QualityUnit/pyworkflow/internal/id"
)

var _ cluster.Store = (*Store)(nil)

// Store is a fully in-memory cluster.Store, safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	workers map[string]*cluster.Worker

	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{workers: make(map[string]*cluster.Worker)}
}

func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *w
	m.workers[w.ID.String()] = &cp
	return nil
}

func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return cluster.ErrWorkerNotFound
	}
	delete(m.workers, key)
	if m.leader == key {
		m.leader = ""
	}
	return nil
}

func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return cluster.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, k int) bool { return result[i].CreatedAt.Before(result[k].CreatedAt) })
	return result, nil
}

func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			cp := *w
			dead = append(dead, &cp)
		}
	}
	return dead, nil
}

func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	key := workerID.String()

	if m.leader != "" && m.leaderUntil.After(now) && m.leader != key {
		return false, nil
	}

	m.leader = key
	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[key]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if m.leader != key {
		return false, nil
	}

	m.leaderUntil = time.Now().UTC().Add(ttl)
	if w, ok := m.workers[key]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}
