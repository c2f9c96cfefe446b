// Package cluster provides distributed worker coordination and
// consensus-based leader election.
//
// When running multiple pyworkflow workers against the same store, the
// cluster package coordinates which instance is the leader (responsible
// for firing due schedules and for driving the recovery sweep) and
// which are followers.
//
// # Worker Entity
//
// Each running worker registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. If a heartbeat is not received within
// the configured threshold, the worker is considered dead.
//
// # Leader Election
//
// One worker at a time holds leadership. The leader:
//   - fires due schedules (schedule.Scheduler)
//   - drives the recovery sweep for expired claims
//
// Leadership is managed by [Store.AcquireLeadership] using optimistic locking.
//
// cluster/memory is the reference implementation this module ships;
// production deployments implement the same contract against their own
// coordination backend.
package cluster
