// Package metrics exposes orchestrator activity as Prometheus metrics and
// serves them, together with a JSON status view, over HTTP.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bulkgrab/pkg/orchestrator"
)

const namespace = "bulkgrab"

// StatusSource is polled when metrics are scraped
type StatusSource interface {
	QueueStatus() orchestrator.QueueStatus
}

// Collector records task outcomes. It implements orchestrator.Recorder.
type Collector struct {
	registry *prometheus.Registry

	completed prometheus.Counter
	failed    prometheus.Counter
	bytes     prometheus.Counter
}

// NewCollector creates a collector with its own registry
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that failed permanently",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "download_bytes_total",
			Help:      "Total bytes downloaded",
		}),
	}
	reg.MustRegister(c.completed, c.failed, c.bytes)
	return c
}

// RecordCompleted counts a completed task
func (c *Collector) RecordCompleted(bytes int64) {
	c.completed.Inc()
	if bytes > 0 {
		c.bytes.Add(float64(bytes))
	}
}

// RecordFailed counts a permanently failed task
func (c *Collector) RecordFailed() {
	c.failed.Inc()
}

// Watch registers gauges that read the queue state of src on every scrape
func (c *Collector) Watch(src StatusSource) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_queued",
			Help:      "Tasks waiting to be dispatched",
		}, func() float64 {
			return float64(src.QueueStatus().Queued)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_running",
			Help:      "Tasks currently inside a downloader",
		}, func() float64 {
			return float64(src.QueueStatus().Running)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_requested",
			Help:      "Tasks submitted since the last statistics reset",
		}, func() float64 {
			return float64(src.QueueStatus().Stats.TotalRequested)
		}),
	)
}

// Handler serves the collector's registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
