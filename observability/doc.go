// Package observability records system-wide lifecycle metrics through
// OpenTelemetry. The MetricsExtension implements lifecycle hooks to count
// submissions, claims, completions, failures by kind, retries,
// cancellations and sweep results. RegisterQueueDepth exposes queue
// backlog as observable gauges.
//
// For per-invocation tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
