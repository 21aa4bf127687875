// Package metrics holds the Prometheus collectors of the service. Every
// method is safe on a nil *Collector, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	// Discovery metrics
	jobs        *prometheus.CounterVec
	jobDuration prometheus.Histogram
	runningJobs prometheus.Gauge
	candidates  *prometheus.CounterVec
	commits     *prometheus.CounterVec
	suppressed  prometheus.Counter

	// Review metrics
	reviews *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_jobs_total",
			Help:      "Discovery jobs by terminal status",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discovery_job_duration_seconds",
			Help:      "Wall-clock duration of discovery jobs",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}),
		runningJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "discovery_jobs_running",
			Help:      "Discovery jobs currently running",
		}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_candidates_total",
			Help:      "Discovered relationship candidates by tier",
		}, []string{"tier"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_commits_total",
			Help:      "Graph writes by kind and outcome",
		}, []string{"kind", "outcome"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_duplicates_suppressed_total",
			Help:      "Review candidates dropped because an equivalent row exists",
		}),
		reviews: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "review_actions_total",
			Help:      "Review actions by action and whether they changed state",
		}, []string{"action", "result"}),
	}
	c.registry.MustRegister(
		c.httpRequests, c.httpDuration,
		c.jobs, c.jobDuration, c.runningJobs, c.candidates, c.commits, c.suppressed,
		c.reviews,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the registry, mainly for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveHTTP(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (c *Collector) JobStarted() {
	if c == nil {
		return
	}
	c.runningJobs.Inc()
}

func (c *Collector) JobFinished(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.runningJobs.Dec()
	c.jobs.WithLabelValues(status).Inc()
	c.jobDuration.Observe(d.Seconds())
}

// JobRejected counts a job that failed before it started running.
func (c *Collector) JobRejected(status string) {
	if c == nil {
		return
	}
	c.jobs.WithLabelValues(status).Inc()
}

func (c *Collector) Candidates(tier string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.candidates.WithLabelValues(tier).Add(float64(n))
}

func (c *Collector) Commit(kind string, ok bool) {
	if c == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "failed"
	}
	c.commits.WithLabelValues(kind, outcome).Inc()
}

func (c *Collector) Suppressed(n int) {
	if c == nil || n == 0 {
		return
	}
	c.suppressed.Add(float64(n))
}

func (c *Collector) Review(action string, applied bool) {
	if c == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "noop"
	}
	c.reviews.WithLabelValues(action, result).Inc()
}
