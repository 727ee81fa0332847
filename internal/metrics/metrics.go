// Package metrics registers the Prometheus series exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "statstream_job_duration_seconds",
		Help:    "Duration of asynchronous analysis jobs executed by the worker",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"type", "status"})

	jobStatusTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statstream_job_status_total",
		Help: "Total jobs completed grouped by type and status",
	}, []string{"type", "status"})

	wsConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "statstream_ws_connections",
		Help: "Currently connected realtime channel clients",
	})

	envelopeFanout = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "statstream_envelope_fanout_total",
		Help: "Envelopes routed to realtime connections grouped by outcome",
	}, []string{"outcome"})

	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "statstream_upload_bytes_total",
		Help: "Total bytes accepted through dataset uploads",
	})
)

// ObserveJobCompletion records the duration and status of a completed job.
func ObserveJobCompletion(jobType, status string, duration time.Duration) {
	if jobType == "" {
		jobType = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	jobDuration.WithLabelValues(jobType, status).Observe(duration.Seconds())
	jobStatusTotal.WithLabelValues(jobType, status).Inc()
}

// SetWSConnections updates the realtime connection gauge.
func SetWSConnections(n int) {
	wsConnections.Set(float64(n))
}

// ObserveEnvelopeFanout counts one routed envelope per connection.
func ObserveEnvelopeFanout(outcome string) {
	envelopeFanout.WithLabelValues(outcome).Inc()
}

// AddUploadBytes accumulates accepted upload sizes.
func AddUploadBytes(n int64) {
	if n > 0 {
		uploadBytes.Add(float64(n))
	}
}
