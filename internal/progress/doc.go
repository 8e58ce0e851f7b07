// Package progress provides the event primitives, the non-blocking hub, and
// the per-job broker that scrape workers use to report progress. The hub
// batches events on a background goroutine and fans them out to pluggable
// sinks; the broker is the sink that feeds live Server-Sent Event streams.
package progress
