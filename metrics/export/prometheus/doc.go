// Package prometheus exposes authcore metrics as a client_golang Collector.
//
// [NewCollector] reads [authcore.Engine.MetricsSnapshot] on every scrape and
// emits const metrics named authcore_*_total plus the login and refresh
// latency histograms. [Handler] serves a private registry holding only that
// collector.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry.
//   - Mutate engine state.
package prometheus
