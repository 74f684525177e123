// Package metrics exposes Prometheus instrumentation for the purge engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	registry *prometheus.Registry

	RecordsPurged   *prometheus.CounterVec
	RecordsArchived *prometheus.CounterVec
	RecordsFailed   *prometheus.CounterVec
	HoldRejections  *prometheus.CounterVec
	JobsFinished    *prometheus.CounterVec
	JobDuration     prometheus.Histogram
	BytesFreed      *prometheus.CounterVec
}

func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		RecordsPurged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "records_purged_total",
			Help:      "Records removed or soft-deleted by purge jobs.",
		}, []string{"category", "mode"}),
		RecordsArchived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "records_archived_total",
			Help:      "Records archived before deletion.",
		}, []string{"category"}),
		RecordsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "records_failed_total",
			Help:      "Records whose purge attempt failed and will be retried.",
		}, []string{"category"}),
		HoldRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "hold_rejections_total",
			Help:      "Purge attempts rejected by an active legal hold.",
		}, []string{"category"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "jobs_finished_total",
			Help:      "Purge jobs by terminal status.",
		}, []string{"status"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "lifecycle",
			Name:      "job_duration_seconds",
			Help:      "Wall-clock duration of purge jobs.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 1800},
		}),
		BytesFreed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lifecycle",
			Name:      "storage_bytes_freed_total",
			Help:      "Blob storage reclaimed by hard deletes.",
		}, []string{"category"}),
	}

	registry.MustRegister(
		c.RecordsPurged,
		c.RecordsArchived,
		c.RecordsFailed,
		c.HoldRejections,
		c.JobsFinished,
		c.JobDuration,
		c.BytesFreed,
	)
	return c
}

func (c *Collector) ObserveJob(status string, duration time.Duration) {
	c.JobsFinished.WithLabelValues(status).Inc()
	c.JobDuration.Observe(duration.Seconds())
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
