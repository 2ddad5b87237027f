// Package sinks implements progress consumers: structured logging, Prometheus collectors and the
// run ledger. Each satisfies progress.Sink.
package sinks
