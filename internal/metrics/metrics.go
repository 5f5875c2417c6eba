// Package metrics holds the worker's process-wide Prometheus instruments.
//
// A Metrics value is created once at startup with New and passed to every
// component that records into it. It owns a private registry so tests and
// multiple workers in one process never share counters.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aiworker"

// Metrics is the WorkerMetricsSnapshot: counters, gauges and histograms for
// job throughput, latency, cache efficiency and errors.
type Metrics struct {
	registry *prometheus.Registry

	JobsProcessed    *prometheus.CounterVec
	JobDuration      *prometheus.HistogramVec
	ActiveJobs       prometheus.Gauge
	QueueSize        prometheus.Gauge
	Errors           *prometheus.CounterVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	ProviderAttempts *prometheus.CounterVec
	UsageRecords     *prometheus.CounterVec

	mu     sync.Mutex
	closed bool
}

// New creates the registry and registers all instruments.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Total number of jobs processed by type and status",
		}, []string{"type", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job processing duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"type", "status"}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Number of jobs currently being processed",
		}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_size",
			Help:      "Number of jobs waiting in the queue",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of job errors by kind",
		}, []string{"error_type"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of result cache hits",
		}, []string{"type"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of result cache misses",
		}, []string{"type"}),
		ProviderAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider call attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		UsageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_synced_total",
			Help:      "Usage ledger records forwarded, by job type and attempt status",
		}, []string{"type", "status"}),
	}

	reg.MustRegister(
		m.JobsProcessed,
		m.JobDuration,
		m.ActiveJobs,
		m.QueueSize,
		m.Errors,
		m.CacheHits,
		m.CacheMisses,
		m.ProviderAttempts,
		m.UsageRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry (for tests and custom collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Close marks the registry as shutting down. Recording methods become no-ops
// afterwards so late goroutines cannot mutate state during process exit.
func (m *Metrics) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *Metrics) live() bool {
	if m == nil {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// JobStarted increments the active-job gauge. Pair every call with JobFinished.
func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.ActiveJobs.Inc()
}

// JobFinished decrements the active-job gauge and records the outcome.
// The gauge is always released, even after Close.
func (m *Metrics) JobFinished(jobType, status string, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveJobs.Dec()
	if !m.live() {
		return
	}
	m.JobsProcessed.WithLabelValues(jobType, status).Inc()
	m.JobDuration.WithLabelValues(jobType, status).Observe(seconds)
}

// RecordError increments the error counter for an error kind.
func (m *Metrics) RecordError(kind string) {
	if m.live() {
		m.Errors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) CacheHit(jobType string) {
	if m.live() {
		m.CacheHits.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) CacheMiss(jobType string) {
	if m.live() {
		m.CacheMisses.WithLabelValues(jobType).Inc()
	}
}

// SetQueueSize records the last sampled queue depth.
func (m *Metrics) SetQueueSize(n int64) {
	if m.live() {
		m.QueueSize.Set(float64(n))
	}
}

// ProviderAttempt records one provider call attempt; outcome is "success" or "failure".
func (m *Metrics) ProviderAttempt(provider, outcome string) {
	if m.live() {
		m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
	}
}

// UsageSynced records n forwarded ledger records of one job type and status.
func (m *Metrics) UsageSynced(jobType, status string, n int) {
	if m.live() && n > 0 {
		m.UsageRecords.WithLabelValues(jobType, status).Add(float64(n))
	}
}
