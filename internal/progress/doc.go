// Package progress provides the event primitives, the batching hub and the
// emitter interface that the download pipeline and the backfill reconciler use
// to report progress. The hub fans events out to pluggable sinks such as
// structured logs, Prometheus metrics or Pub/Sub.
package progress
