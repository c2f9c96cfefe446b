// Package schedule implements persisted cron and interval triggers for
// workflows (spec §4.8, C10). A [Scheduler] runs a leader-gated tick
// loop: on the cluster leader only, it lists enabled [Entry] records,
// finds those whose NextRunAt is due, and starts a run for each via a
// [StartFunc] callback using an idempotency key derived from the entry
// and the firing tick, so a duplicate fire collapses into the same run
// instead of starting a second one.
//
// This is distinct from continue_as_new (engine and replay), which
// chains a single run's lifecycle rather than firing new ones on a
// timer.
package schedule
