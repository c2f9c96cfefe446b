// Package worker provides the broker task execution engine — an
// Executor that hands each dequeued Job to the runtime dispatcher by
// task class, and a Pool that manages concurrent worker goroutines
// polling for jobs.
package worker

import (
	"context"
	"fmt"

	"github.com/QualityUnit/pyworkflow/job"
	"github.com/QualityUnit/pyworkflow/middleware"
	"github.com/QualityUnit/pyworkflow/runtime"
)

// Executor runs a single broker Job through middleware and routes it to
// the runtime dispatcher by Class. Retry backoff and event persistence
// live in runtime.Dispatcher, dead-letter routing in the recovery
// sweeper — this
// type's only remaining job is the middleware chain and the
// Class-to-handler dispatch that once lived behind a registry-by-name
// lookup.
type Executor struct {
	dispatcher *runtime.Dispatcher
	mw         middleware.Middleware
}

// NewExecutor creates an Executor bound to dispatcher.
func NewExecutor(dispatcher *runtime.Dispatcher, mws ...middleware.Middleware) *Executor {
	return &Executor{
		dispatcher: dispatcher,
		mw:         middleware.Chain(mws...),
	}
}

// Execute runs j through the middleware chain and the runtime
// dispatcher method matching its Class. Job-level state (State,
// RetryCount, ...) is not touched here: workflow-tick and step-task
// outcomes are recorded as events and step records by the dispatcher,
// not as mutations of the envelope itself.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	terminal := func(ctx context.Context) error {
		switch j.Class {
		case job.ClassWorkflowTick:
			return e.dispatcher.HandleWorkflowTick(ctx, j.RunID)
		case job.ClassStepTask:
			return e.dispatcher.HandleStepTask(ctx, j.RunID, j.StepID)
		default:
			return fmt.Errorf("worker: unknown job class %q", j.Class)
		}
	}

	return e.mw(ctx, j, terminal)
}
