// Package otel binds goReauth engine metrics to an OpenTelemetry Meter.
//
// [NewExporter] registers one Int64ObservableCounter per engine counter and
// one Int64ObservableGauge per histogram bucket plus a _count gauge. A single
// callback reads [goReauth.Engine.MetricsSnapshot] on each collection cycle.
//
// Callers normally own the MeterProvider. [StartLogPipeline] is the
// exception: it builds a provider with a periodic reader and a [LogExporter]
// so a process without a collector can still emit its counters through slog.
// The exporter never mutates engine state.
package otel
