// Package sinks implements concrete change consumers: structured logging,
// Prometheus collectors, the history repository and a pub/sub publisher.
// Each sink satisfies the progress.Sink interface and is safe for repeated
// Consume/Close cycles.
package sinks
