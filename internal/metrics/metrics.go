// Package metrics holds the worker's prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters and gauges the orchestrator maintains.
type Metrics struct {
	registry *prometheus.Registry

	JobsProcessed      *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	ActiveJobs         prometheus.Gauge
	QueueSize          prometheus.Gauge
}

// New creates and registers the worker's collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mineru_jobs_processed_total",
			Help: "Total processed jobs by terminal status.",
		}, []string{"status"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mineru_processing_duration_seconds",
			Help:    "Job processing time.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mineru_active_jobs",
			Help: "Currently active jobs.",
		}),
		QueueSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mineru_queue_size",
			Help: "Approximate number of visible messages in the job queue.",
		}),
	}

	m.registry.MustRegister(m.JobsProcessed, m.ProcessingDuration, m.ActiveJobs, m.QueueSize)
	return m
}

// Handler exposes the registry in prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
