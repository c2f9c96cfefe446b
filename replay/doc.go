// Package replay implements the deterministic replay engine (spec's C3):
// it re-drives a workflow body from the top on every tick, resolving each
// encountered step, sleep, hook, or child-workflow operation against the
// run's event log by encounter order rather than executing it fresh.
//
// The workflow body is an ordinary Go function operating on a *Context.
// Operations that have no terminal event yet raise an internal suspension
// signal that unwinds the body back to Drive; the caller never sees it.
// Blocking sleeps are replaced with a tick model, since a durable
// workflow must survive the process that started it.
package replay
