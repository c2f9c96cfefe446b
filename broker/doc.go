// Package broker turns runtime.Dispatcher's abstract Enqueuer calls into
// durable job.Job rows, and turns due store.Wake entries back into
// Enqueuer calls once their WakeAt has passed.
//
// Per-queue/per-class rate limiting lives on the consuming (worker
// pool) side; this package covers the producing side, since job.Job is
// now enqueued by a replay engine rather than directly by application
// code.
package broker
