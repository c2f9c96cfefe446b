// Package recovery implements the sweeper (spec §4.7): the background
// process that finds runs and steps whose exclusive claim expired
// without a terminal event, and either re-enqueues them for another
// attempt or, once their recovery budget is exhausted, terminates them
// and sinks them to the dead letter queue.
//
// Only the elected cluster leader runs the sweep, mirroring how the
// cron scheduler gates its ticks on leadership so at most one process
// in the fleet retries a given expired claim at a time.
package recovery
