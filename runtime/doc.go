// Package runtime is the dispatcher (spec's C4): it executes the two
// broker task classes — workflow ticks and step tasks — deciding
// suspend/complete/fail/cancel for each, and turns replay.Outcome values
// into durable state transitions.
//
// The step-task lifecycle follows an Execute/handleSuccess/
// handleFailure/scheduleRetry shape; the tick lifecycle follows a
// Start/Resume shape. Both are generalized to the event-sourced model
// instead of a checkpoint/blocking one.
package runtime
