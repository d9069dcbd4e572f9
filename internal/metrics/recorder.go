package metrics

import "time"

// Recorder defines observability hooks for build metrics. Implementations
// may forward to Prometheus, OpenTelemetry, etc. NoopRecorder allows optional
// injection.
type Recorder interface {
	ObserveBuildDuration(outcome string, d time.Duration)
	ObserveQueueWait(d time.Duration)
	IncBuildOutcome(outcome string) // outcome: success|compile_error|timeout|internal_error|canceled
	SetQueueDepth(n int)
	SetRunningBuilds(n int)
	IncCacheHit()
	IncCacheMiss()
	IncLibraryInstall(result string) // result: success|failed|cached
}

// NoopRecorder is a Recorder that does nothing (default when metrics not configured).
type NoopRecorder struct{}

func (NoopRecorder) ObserveBuildDuration(string, time.Duration) {}
func (NoopRecorder) ObserveQueueWait(time.Duration)             {}
func (NoopRecorder) IncBuildOutcome(string)                     {}
func (NoopRecorder) SetQueueDepth(int)                          {}
func (NoopRecorder) SetRunningBuilds(int)                       {}
func (NoopRecorder) IncCacheHit()                               {}
func (NoopRecorder) IncCacheMiss()                              {}
func (NoopRecorder) IncLibraryInstall(string)                   {}
