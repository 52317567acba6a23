// Package otel registers authcore counters and latency buckets as
// OpenTelemetry observable instruments on a caller-supplied Meter.
//
// # What this package must NOT do
//
//   - Own the MeterProvider.
//   - Mutate engine state.
package otel
