package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics defines counters for the artifact lifecycle.
type Metrics interface {
	IncUploads(status string)
	AddDeletions(reason string, n int)
	IncQueueOffered()
	IncQueueDropped()
	IncOffloadTasks(status string)
	IncJobRuns(job, status string)
	ObserveRequest(method, route string, status int, durationSeconds float64)
}

// Outcome labels.
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
	StatusPanic    = "panic"
	StatusSkipped  = "skipped"
)

// Deletion reasons.
const (
	ReasonDirect = "direct"
	ReasonDrain  = "drain"
	ReasonReaper = "reaper"
)

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncUploads(string)                           {}
func (Noop) AddDeletions(string, int)                    {}
func (Noop) IncQueueOffered()                            {}
func (Noop) IncQueueDropped()                            {}
func (Noop) IncOffloadTasks(string)                      {}
func (Noop) IncJobRuns(string, string)                   {}
func (Noop) ObserveRequest(string, string, int, float64) {}

// Prom implements Metrics backed by a dedicated Prometheus registry.
type Prom struct {
	registry *prometheus.Registry

	uploads      *prometheus.CounterVec
	deletions    *prometheus.CounterVec
	queueOffered prometheus.Counter
	queueDropped prometheus.Counter
	offloadTasks *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// NewProm creates the collectors under namespace and registers them,
// together with the Go and process collectors, on a fresh registry.
func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploaded artifacts by outcome",
		}, []string{"status"}),
		deletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletions_total",
			Help:      "Metadata records marked deleted by reason",
		}, []string{"reason"}),
		queueOffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_queue_offered_total",
			Help:      "Artifact ids accepted by the invalid queue",
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_queue_dropped_total",
			Help:      "Artifact ids dropped because the invalid queue was full",
		}),
		offloadTasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "offload_tasks_total",
			Help:      "Offloaded persistence tasks by outcome",
		}, []string{"status"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled job runs by job and outcome",
		}, []string{"job", "status"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	p.registry.MustRegister(
		p.uploads, p.deletions, p.queueOffered, p.queueDropped,
		p.offloadTasks, p.jobRuns, p.requests, p.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return p
}

func (p *Prom) IncUploads(status string) {
	p.uploads.WithLabelValues(status).Inc()
}

func (p *Prom) AddDeletions(reason string, n int) {
	if n <= 0 {
		return
	}
	p.deletions.WithLabelValues(reason).Add(float64(n))
}

func (p *Prom) IncQueueOffered() {
	p.queueOffered.Inc()
}

func (p *Prom) IncQueueDropped() {
	p.queueDropped.Inc()
}

func (p *Prom) IncOffloadTasks(status string) {
	p.offloadTasks.WithLabelValues(status).Inc()
}

func (p *Prom) IncJobRuns(job, status string) {
	p.jobRuns.WithLabelValues(job, status).Inc()
}

func (p *Prom) ObserveRequest(method, route string, status int, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Registry exposes the underlying registry, mostly for tests.
func (p *Prom) Registry() *prometheus.Registry {
	return p.registry
}

// Handler returns an HTTP handler for /metrics.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
