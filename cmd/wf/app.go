package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/QualityUnit/pyworkflow/broker"
	"github.com/QualityUnit/pyworkflow/cluster"
	clustermemory "github.com/QualityUnit/pyworkflow/cluster/memory"
	"github.com/QualityUnit/pyworkflow/config"
	"github.com/QualityUnit/pyworkflow/engine"
	"github.com/QualityUnit/pyworkflow/ext"
	"github.com/QualityUnit/pyworkflow/internal/id"
	"github.com/QualityUnit/pyworkflow/job"
	jobmemory "github.com/QualityUnit/pyworkflow/job/memory"
	"github.com/QualityUnit/pyworkflow/recovery"
	"github.com/QualityUnit/pyworkflow/run"
	"github.com/QualityUnit/pyworkflow/runtime"
	"github.com/QualityUnit/pyworkflow/schedule"
	schedulememory "github.com/QualityUnit/pyworkflow/schedule/memory"
	"github.com/QualityUnit/pyworkflow/store"
	storememory "github.com/QualityUnit/pyworkflow/store/memory"
	"github.com/QualityUnit/pyworkflow/worker"
)

// app wires every component cmd/wf's subcommands share: storage, the
// broker, the dispatcher, and the top-level engine. Constructed fresh
// per invocation from resolved config.Config.
type app struct {
	cfg           config.Config
	store         store.Store
	jobStore      job.Store
	cluster       cluster.Store
	scheduleStore schedule.Store
	broker        *broker.Broker
	dispatcher    *runtime.Dispatcher
	engine        *engine.Engine
	extensions    *ext.Registry
	workerID      id.WorkerID
	logger        *slog.Logger
}

// exitError carries a process exit code alongside an error message, per
// spec §6.2's exit code convention (0 success, 2 user error, 1
// unexpected).
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func userError(format string, args ...any) error {
	return &exitError{code: 2, err: fmt.Errorf(format, args...)}
}

func unexpectedError(err error) error {
	return &exitError{code: 1, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if ee, ok := err.(*exitError); ok {
		return ee.code
	}
	return 1
}

func newApp(cfg config.Config) (*app, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var st store.Store
	switch cfg.Storage.Backend {
	case "", "memory":
		st = storememory.New()
	default:
		return nil, userError("storage.backend %q is not available in this build (only \"memory\" is wired); see DESIGN.md", cfg.Storage.Backend)
	}

	jobStore := jobmemory.New()
	clusterStore := clustermemory.New()
	scheduleStore := schedulememory.New()

	brk := broker.New(jobStore)
	extensions := ext.NewRegistry(logger)
	workerID := id.NewWorkerID()

	dispatcher := runtime.NewDispatcher(st, brk, workerID,
		runtime.WithLogger(logger),
		runtime.WithClaimTTL(cfg.Claim.TTL),
		runtime.WithExtensions(extensions),
	)
	registerBuiltinWorkflows(dispatcher)

	eng := engine.New(st, brk, engine.WithLogger(logger), engine.WithExtensions(extensions))

	return &app{
		cfg:           cfg,
		store:         st,
		jobStore:      jobStore,
		cluster:       clusterStore,
		scheduleStore: scheduleStore,
		broker:        brk,
		dispatcher:    dispatcher,
		engine:        eng,
		extensions:    extensions,
		workerID:      workerID,
		logger:        logger,
	}, nil
}

// workflowDescriptors lists the workflows this process can execute,
// consumed by `workflows list`.
// Go has no equivalent to the source system's dynamic module import, so
// workflows are registered at compile time by registerBuiltinWorkflows
// instead of discovered from cfg.Module at runtime.
func workflowDescriptors() []run.Descriptor {
	return []run.Descriptor{
		{
			Name: "echo",
			Parameters: []run.Parameter{
				{Name: "message", Type: "string", Required: true},
			},
		},
	}
}

func newSweeper(a *app) *recovery.Sweeper {
	return recovery.New(a.store, a.cluster, a.broker, a.extensions, a.workerID,
		recovery.WithInterval(a.cfg.Recovery.Interval),
		recovery.WithMaxStepRecoveryAttempts(a.cfg.Recovery.MaxAttempts),
		recovery.WithLogger(a.logger),
	)
}

func buildStartOptions(idempotencyKey string) []engine.StartOption {
	var opts []engine.StartOption
	if idempotencyKey != "" {
		opts = append(opts, engine.WithIdempotencyKey(idempotencyKey))
	}
	return opts
}

func newPool(a *app) *worker.Pool {
	executor := worker.NewExecutor(a.dispatcher)
	return worker.NewPool(a.jobStore, executor, a.extensions, a.logger,
		worker.WithPoolConcurrency(a.cfg.Worker.Concurrency),
	)
}

func newScheduler(a *app) *schedule.Scheduler {
	start := func(ctx context.Context, workflowName string, args, kwargs json.RawMessage, idempotencyKey string) (id.RunID, error) {
		return a.engine.Start(ctx, workflowName, args, kwargs, engine.WithIdempotencyKey(idempotencyKey))
	}
	return schedule.NewScheduler(a.scheduleStore, a.cluster, start, a.extensions, a.workerID, a.logger,
		schedule.WithTickInterval(a.cfg.Schedule.TickInterval),
		schedule.WithLockTTL(a.cfg.Schedule.LockTTL),
		schedule.WithLeaderTTL(a.cfg.Schedule.LeaderTTL),
	)
}
