// Package job defines the broker task envelope, its state machine,
// and store interface.
//
// # Job Entity
//
// A [Job] is the broker's unit of work: it names a Class (workflow tick
// or step task) plus the RunID, and StepID for step tasks, that
// identify what to execute. It carries no application payload of its
// own — that lives in the run's event log and step record — and
// progresses through a state machine:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//	pending → cancelled
//
// Fields of note:
//   - Queue: which queue the job belongs to (default: "default")
//   - Priority: higher values are dequeued first
//   - MaxRetries / RetryCount: controls retry budget
//   - RunAt: earliest time the job may be dequeued
//   - Timeout: per-job execution deadline (zero = unlimited)
//
// Workflow and step bodies themselves are registered by name against
// the runtime package's WorkflowRegistry/StepRegistry, not here — this
// package only carries the envelope a Job's Class and RunID/StepID
// route to that registry.
package job
