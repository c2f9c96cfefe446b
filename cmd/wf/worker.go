package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/QualityUnit/pyworkflow/broker"
	pyschedule "github.com/QualityUnit/pyworkflow/schedule"
)

func newWorkerCmd() *cobra.Command {
	var workflowOnly, stepOnly, schedule bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Worker process commands",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "Run a worker process that dequeues and executes broker tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workflowOnly && stepOnly {
				return userError("--workflow-only and --step-only are mutually exclusive")
			}
			return runWorker(cmd.Context(), workflowOnly, stepOnly, schedule)
		},
	}
	run.Flags().BoolVar(&workflowOnly, "workflow-only", false, "accepted but not enforced: both task classes share one queue and are both processed")
	run.Flags().BoolVar(&stepOnly, "step-only", false, "accepted but not enforced: both task classes share one queue and are both processed")
	run.Flags().BoolVar(&schedule, "schedule", false, "also run the schedule firing loop")

	cmd.AddCommand(run)
	return cmd
}

func runWorker(parent context.Context, workflowOnly, stepOnly, schedule bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if workflowOnly || stepOnly {
		a.logger.Warn("worker: --workflow-only/--step-only are accepted but both task classes share the default queue in this build")
	}

	pool := newPool(a)
	if err := pool.Start(ctx); err != nil {
		return unexpectedError(err)
	}

	sweeper := newSweeper(a)
	if err := sweeper.Start(ctx); err != nil {
		return unexpectedError(err)
	}

	var scheduler *pyschedule.Scheduler
	if schedule {
		scheduler = newScheduler(a)
		if err := scheduler.Start(ctx); err != nil {
			return unexpectedError(err)
		}
	}

	wakePoller := broker.NewWakePoller(a.store, a.broker,
		broker.WithPollInterval(a.cfg.Claim.TTL/6+time.Second),
	)
	pollerDone := make(chan error, 1)
	go func() { pollerDone <- wakePoller.Run(ctx) }()

	a.logger.Info("wf worker started", "worker_id", a.workerID.String())

	<-ctx.Done()

	a.logger.Info("wf worker shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := pool.Stop(shutdownCtx); err != nil {
		a.logger.Error("worker pool stop error", "error", err.Error())
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		a.logger.Error("sweeper stop error", "error", err.Error())
	}
	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			a.logger.Error("scheduler stop error", "error", err.Error())
		}
	}
	<-pollerDone

	return nil
}
