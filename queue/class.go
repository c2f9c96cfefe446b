package queue

import (
	"fmt"

	"golang.org/x/time/rate"
)

// ClassConfig defines rate limits and concurrency for a specific task
// class on a specific queue, identified by the job's Class
// (workflow_tick or step_task).
type ClassConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string

	// Class is the task class identifier (job.Class).
	Class string

	// RateLimit is the sustained jobs per second for this class.
	RateLimit float64

	// RateBurst is the burst size for the class's rate limiter.
	RateBurst int

	// MaxConcurrency limits simultaneous jobs for this class on this
	// queue. Zero means no class-specific concurrency limit.
	MaxConcurrency int
}

// classState tracks runtime state for a single queue+class pair.
type classState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// classKey builds the map key for a queue+class pair.
func classKey(queue, class string) string {
	return fmt.Sprintf("%s:%s", queue, class)
}

// SetClassConfig configures rate limits and concurrency for a specific
// task class on a specific queue. Calling this multiple times for the
// same queue+class replaces the previous configuration.
func (m *Manager) SetClassConfig(cfg ClassConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := classKey(cfg.QueueName, cfg.Class)
	existing := m.classes[key]

	cs := &classState{
		maxConcurrency: cfg.MaxConcurrency,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		cs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		cs.active = existing.active
	}
	m.classes[key] = cs
}

// ClassActiveCount returns the current number of active jobs for a
// queue+class pair.
func (m *Manager) ClassActiveCount(queue, class string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cs := m.classes[classKey(queue, class)]; cs != nil {
		return cs.active
	}
	return 0
}
