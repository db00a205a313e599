// Package metrics records batch and fetch statistics in Prometheus
// collectors.
//
// A nil *Metrics is valid and records nothing, so components can take one
// unconditionally:
//
//	m := metrics.New(prometheus.NewRegistry())
//	runner := &batch.Runner{Metrics: m, ...}
//
//	runner := &batch.Runner{...} // metrics disabled
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fetch outcome statuses.
const (
	StatusOK        = "ok"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
	StatusCancelled = "cancelled"
)

// Batch result statuses.
const (
	BatchComplete = "complete"
	BatchPartial  = "partial"
	BatchEmpty    = "empty"
	BatchError    = "error"
)

// Metrics holds the collectors for one process.
type Metrics struct {
	fetchesTotal   *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	fetchesActive  prometheus.Gauge
	batchesTotal   *prometheus.CounterVec
	archiveEntries *prometheus.CounterVec
	batchDuration  prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		fetchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xomcloud_fetches_total",
				Help: "Total number of track fetch attempts by outcome",
			},
			[]string{"status"},
		),
		fetchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "xomcloud_fetch_duration_seconds",
				Help: "Duration of track fetch attempts in seconds",
				Buckets: []float64{
					0.5, // cached / tiny files
					1,
					2.5,
					5,
					10, // typical track
					20,
					30, // request deadline territory
					60,
				},
			},
		),
		fetchesActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "xomcloud_fetches_in_flight",
				Help: "Number of track fetch attempts currently running",
			},
		),
		batchesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xomcloud_batches_total",
				Help: "Total number of batches by result",
			},
			[]string{"status"},
		),
		archiveEntries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "xomcloud_archive_entries_total",
				Help: "Total number of archive entries by outcome",
			},
			[]string{"status"},
		),
		batchDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xomcloud_batch_duration_seconds",
				Help:    "Wall-clock duration of whole batches in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 7),
			},
		),
	}
}

// FetchStarted marks a fetch attempt as in flight.
func (m *Metrics) FetchStarted() {
	if m != nil {
		m.fetchesActive.Inc()
	}
}

// FetchFinished records the outcome of an attempt started with FetchStarted.
func (m *Metrics) FetchFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.fetchesActive.Dec()
	m.fetchesTotal.WithLabelValues(status).Inc()
	m.fetchDuration.Observe(d.Seconds())
}

// FetchUnstarted records an item resolved without ever being dispatched.
func (m *Metrics) FetchUnstarted(status string) {
	if m != nil {
		m.fetchesTotal.WithLabelValues(status).Inc()
	}
}

// ArchiveEntries records packaged and rejected archive entries.
func (m *Metrics) ArchiveEntries(added int, failed int) {
	if m == nil {
		return
	}
	m.archiveEntries.WithLabelValues(StatusOK).Add(float64(added))
	m.archiveEntries.WithLabelValues(StatusFailed).Add(float64(failed))
}

// BatchFinished records a batch's overall result.
func (m *Metrics) BatchFinished(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.Observe(d.Seconds())
}

// WriteTextfile writes everything in g to path in the text exposition
// format, for the node_exporter textfile collector. Batch runs are too short
// lived to be scraped.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
