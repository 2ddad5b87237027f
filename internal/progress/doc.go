// Package progress carries run, stage and file events from a sync run to pluggable sinks. A Hub
// batches events on a background goroutine so emitters never block on slow sinks such as the run
// ledger.
package progress
