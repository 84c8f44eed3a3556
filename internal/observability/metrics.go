package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/3leaps/vidsentry/pkg/job"
)

const namespace = "vidsentry"

// JobMetrics records job lifecycle counters. It satisfies jobrunner.Metrics.
type JobMetrics struct {
	registry *prometheus.Registry

	started    *prometheus.CounterVec
	finished   *prometheus.CounterVec
	stopped    *prometheus.CounterVec
	invalid    *prometheus.CounterVec
	ticks      *prometheus.CounterVec
	active     *prometheus.GaugeVec
	duration   *prometheus.HistogramVec
	httpServed *prometheus.CounterVec
}

// NewJobMetrics creates metrics on a private registry together with the Go
// runtime and process collectors.
func NewJobMetrics() *JobMetrics {
	reg := prometheus.NewRegistry()
	m := &JobMetrics{
		registry: reg,
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_started_total",
			Help: "Jobs that passed validation and started.",
		}, []string{"kind"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_finished_total",
			Help: "Jobs that reached a terminal status.",
		}, []string{"kind", "status"}),
		stopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "jobs_reset_total",
			Help: "Running jobs stopped by a reset.",
		}, []string{"kind"}),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_validation_failures_total",
			Help: "Submissions rejected by parameter validation.",
		}, []string{"kind"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "job_ticks_total",
			Help: "Progress ticks applied to running jobs.",
		}, []string{"kind"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "jobs_active",
			Help: "Jobs currently running.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "job_duration_seconds",
			Help:    "Wall time from start to terminal status.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"kind"}),
		httpServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total",
			Help: "HTTP requests served, by route pattern and status code.",
		}, []string{"method", "route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.started, m.finished, m.stopped, m.invalid, m.ticks, m.active, m.duration, m.httpServed,
	)
	return m
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *JobMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *JobMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *JobMetrics) JobStarted(kind job.Kind) {
	m.started.WithLabelValues(string(kind)).Inc()
	m.active.WithLabelValues(string(kind)).Inc()
}

func (m *JobMetrics) JobFinished(kind job.Kind, status job.Status, elapsed time.Duration) {
	m.finished.WithLabelValues(string(kind), string(status)).Inc()
	m.active.WithLabelValues(string(kind)).Dec()
	m.duration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *JobMetrics) JobStopped(kind job.Kind) {
	m.stopped.WithLabelValues(string(kind)).Inc()
	m.active.WithLabelValues(string(kind)).Dec()
}

func (m *JobMetrics) ValidationFailed(kind job.Kind) {
	m.invalid.WithLabelValues(string(kind)).Inc()
}

func (m *JobMetrics) Tick(kind job.Kind) {
	m.ticks.WithLabelValues(string(kind)).Inc()
}

// HTTPRequest counts one served request.
func (m *JobMetrics) HTTPRequest(method, route string, code int) {
	if route == "" {
		route = "unmatched"
	}
	m.httpServed.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
}
