// Package metrics exposes Prometheus metrics for the render service.
// All methods are safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters, gauges and histograms for the service.
type Metrics struct {
	registry           *prometheus.Registry
	requestsTotal      prometheus.Counter
	errorsTotal        prometheus.Counter
	jobsSubmittedTotal prometheus.Counter
	jobsFinishedTotal  *prometheus.CounterVec
	activeJobs         prometheus.Gauge
	synthesisFailures  prometheus.Counter
	publishFallbacks   prometheus.Counter
	cleanupErrors      prometheus.Counter
	retainedRemoved    prometheus.Counter
	renderDuration     prometheus.Histogram
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "videoforge_http_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "videoforge_http_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		jobsSubmittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "videoforge_jobs_submitted_total",
			Help: "Total number of render jobs accepted",
		}),
		jobsFinishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "videoforge_jobs_finished_total",
			Help: "Total number of render jobs that reached a terminal status",
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "videoforge_active_jobs",
			Help: "Number of render jobs currently running",
		}),
		synthesisFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "videoforge_narration_synthesis_failures_total",
			Help: "Total number of scenes whose narration could not be synthesized",
		}),
		publishFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "videoforge_publish_fallbacks_total",
			Help: "Total number of videos served from local storage after upload failure",
		}),
		cleanupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "videoforge_cleanup_errors_total",
			Help: "Total number of failed cleanup steps",
		}),
		retainedRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "videoforge_retained_videos_removed_total",
			Help: "Total number of fallback videos removed after their retention period",
		}),
		renderDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "videoforge_render_duration_seconds",
			Help:    "Wall time spent in the render engine per job",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.jobsSubmittedTotal,
		m.jobsFinishedTotal,
		m.activeJobs,
		m.synthesisFailures,
		m.publishFallbacks,
		m.cleanupErrors,
		m.retainedRemoved,
		m.renderDuration,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the HTTP errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// JobStarted records an accepted job and raises the active gauge.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.jobsSubmittedTotal.Inc()
	m.activeJobs.Inc()
}

// JobFinished records a terminal status and lowers the active gauge.
func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.jobsFinishedTotal.WithLabelValues(status).Inc()
	m.activeJobs.Dec()
}

// IncSynthesisFailures increments the narration failure counter.
func (m *Metrics) IncSynthesisFailures() {
	if m == nil {
		return
	}
	m.synthesisFailures.Inc()
}

// IncPublishFallbacks increments the publish fallback counter.
func (m *Metrics) IncPublishFallbacks() {
	if m == nil {
		return
	}
	m.publishFallbacks.Inc()
}

// AddCleanupErrors adds n failed cleanup steps.
func (m *Metrics) AddCleanupErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupErrors.Add(float64(n))
}

// AddRetainedRemoved adds n fallback videos removed by the retention sweep.
func (m *Metrics) AddRetainedRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.retainedRemoved.Add(float64(n))
}

// ObserveRender records the time spent rendering one job.
func (m *Metrics) ObserveRender(d time.Duration) {
	if m == nil {
		return
	}
	m.renderDuration.Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
