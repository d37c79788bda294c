// Package progress holds the load-tracking core: the phase registry, category
// bit-sets, the authoritative state Store with its synchronous observer
// fan-out and deferred cleanup of terminal loads, and a non-blocking Hub that
// batches changes on a background goroutine for pluggable sinks such as
// Prometheus metrics, a history repository, or a pub/sub publisher.
package progress
