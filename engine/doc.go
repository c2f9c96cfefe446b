// Package engine implements the caller-facing public API of the
// workflow system (spec §4.1): start, cancel, signal_hook and resume,
// plus the ContinueAsNew and StartChildWorkflow operations a workflow
// body issues on itself. It is a thin layer over store.Store and
// runtime.Enqueuer — every mutation it performs is a store write
// followed by, at most, one broker enqueue; the actual tick-by-tick
// execution belongs to runtime.Dispatcher.
//
// # Building an Engine
//
//	brk := broker.New(jobStore) // satisfies engine.Enqueuer
//	eng := engine.New(memStore, brk)
//
//	runID, err := eng.Start(ctx, "order_workflow", args, kwargs,
//	    engine.WithIdempotencyKey("order-42"))
//
//	if err := eng.Cancel(ctx, runID, "customer requested"); err != nil {
//	    ...
//	}
//
// # Workflow-body operations
//
// ContinueAsNew and StartChildWorkflow are only meaningful from inside
// a running workflow body, where they are methods on the
// [*replay.Context] passed to the registered [replay.Func]. Engine
// re-exports that type as [Context] so workflow authors write
// engine.Context in signatures without importing the replay package
// directly. runtime.Dispatcher.RegisterWorkflow takes a replay.Func,
// whose first parameter is that same type.
package engine
