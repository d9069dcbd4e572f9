// Package metrics defines the observability hooks for the build engine and a
// Prometheus-backed implementation. The Recorder interface keeps the engine
// decoupled from any concrete metrics system; NoopRecorder is the default
// when metrics are not configured.
package metrics
