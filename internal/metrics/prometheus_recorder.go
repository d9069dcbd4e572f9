package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once            sync.Once
	buildDuration   *prom.HistogramVec
	queueWait       prom.Histogram
	buildOutcome    *prom.CounterVec
	queueDepth      prom.Gauge
	runningBuilds   prom.Gauge
	cacheHits       prom.Counter
	cacheMisses     prom.Counter
	libraryInstalls *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "fwbuilder",
			Name:      "build_duration_seconds",
			Help:      "Duration of builds from slot acquisition to terminal state",
			Buckets:   prom.DefBuckets,
		}, []string{"outcome"})
		pr.queueWait = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "fwbuilder",
			Name:      "queue_wait_seconds",
			Help:      "Time requests spend queued before a slot frees up",
			Buckets:   prom.DefBuckets,
		})
		pr.buildOutcome = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fwbuilder",
			Name:      "build_outcomes_total",
			Help:      "Build outcomes by terminal state",
		}, []string{"outcome"})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fwbuilder",
			Name:      "queue_depth",
			Help:      "Requests currently waiting for an execution slot",
		})
		pr.runningBuilds = prom.NewGauge(prom.GaugeOpts{
			Namespace: "fwbuilder",
			Name:      "running_builds",
			Help:      "Builds currently holding an execution slot",
		})
		pr.cacheHits = prom.NewCounter(prom.CounterOpts{
			Namespace: "fwbuilder",
			Name:      "cache_hits_total",
			Help:      "Compile requests served from the result cache",
		})
		pr.cacheMisses = prom.NewCounter(prom.CounterOpts{
			Namespace: "fwbuilder",
			Name:      "cache_misses_total",
			Help:      "Compile requests that required a real build",
		})
		pr.libraryInstalls = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "fwbuilder",
			Name:      "library_installs_total",
			Help:      "Library install attempts by result",
		}, []string{"result"})
		reg.MustRegister(pr.buildDuration, pr.queueWait, pr.buildOutcome, pr.queueDepth, pr.runningBuilds, pr.cacheHits, pr.cacheMisses, pr.libraryInstalls)
	})
	return pr
}

func (p *PrometheusRecorder) ObserveBuildDuration(outcome string, d time.Duration) {
	if p == nil || p.buildDuration == nil {
		return
	}
	p.buildDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *PrometheusRecorder) ObserveQueueWait(d time.Duration) {
	if p == nil || p.queueWait == nil {
		return
	}
	p.queueWait.Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncBuildOutcome(outcome string) {
	if p == nil || p.buildOutcome == nil {
		return
	}
	p.buildOutcome.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetRunningBuilds(n int) {
	if p == nil || p.runningBuilds == nil {
		return
	}
	p.runningBuilds.Set(float64(n))
}

func (p *PrometheusRecorder) IncCacheHit() {
	if p == nil || p.cacheHits == nil {
		return
	}
	p.cacheHits.Inc()
}

func (p *PrometheusRecorder) IncCacheMiss() {
	if p == nil || p.cacheMisses == nil {
		return
	}
	p.cacheMisses.Inc()
}

func (p *PrometheusRecorder) IncLibraryInstall(result string) {
	if p == nil || p.libraryInstalls == nil {
		return
	}
	p.libraryInstalls.WithLabelValues(result).Inc()
}
