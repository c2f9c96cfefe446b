// Package dlq is the sink for runs and steps that exhaust their recovery
// budget (spec §4.7). It supports inspection, replay, and purging.
//
// When the recovery sweeper finds a run whose recovery_attempts exceeds
// max_recovery_attempts, or a step whose claim expired with no terminal
// event and no pending broker message, it calls [Service.PushRun] or
// [Service.PushStep] before writing the terminal workflow.interrupted or
// recovery-exhausted step.failed event. The run/step identity, queue,
// error, and attempt counts are preserved for debugging.
//
// # Entry
//
// A [Entry] captures:
//   - Kind: KindRun or KindStep
//   - RunID / StepID: the owner that exhausted recovery (StepID empty for KindRun)
//   - Error: the final recovery error message
//   - Attempts / MaxAttempts: the exhausted recovery budget
//   - FailedAt: when the terminal exhaustion occurred
//   - ReplayedAt: set when the entry is replayed (nil if not yet replayed)
//
// # Service
//
// [Service] wraps the DLQ store with high-level operations:
//
//	svc := dlq.NewService(store, broker)
//
//	// Pushed automatically by the recovery sweeper on exhaustion.
//	svc.PushRun(ctx, runID, queue, attempts, maxAttempts, err)
//	svc.PushStep(ctx, runID, stepID, queue, attempts, maxAttempts, err)
//
//	// Access the underlying store for list/get/purge/count.
//	svc.DLQStore().ListDLQ(ctx, dlq.ListOpts{Limit: 50})
//	svc.DLQStore().PurgeDLQ(ctx, before)
//
// # Replay
//
// [Service.Replay] re-enqueues the workflow-tick (KindRun) or step-task
// (KindStep) the owner needs to resume, then sets ReplayedAt on the DLQ
// entry. The store's ReplayDLQ only sets ReplayedAt; it enqueues nothing.
//
// No HTTP routes expose the DLQ: the api package's router has none.
package dlq
