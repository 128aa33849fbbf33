package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for an archive run.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	CatalogFiles    prometheus.Gauge

	// Per-file fetch metrics.
	FilesFetched    *prometheus.CounterVec // labels: outcome={contributed,empty,failed}
	FetchRetries    prometheus.Counter
	FetchDuration   prometheus.Histogram
	RecordsRetained prometheus.Counter
	RowsSkipped     prometheus.Counter

	// Snapshot metrics.
	SnapshotWrites  *prometheus.CounterVec // labels: outcome={success,error}
	SnapshotRecords prometheus.Gauge
}

// NewMetrics creates and registers all archive metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.CatalogFiles,
		m.FilesFetched,
		m.FetchRetries,
		m.FetchDuration,
		m.RecordsRetained,
		m.RowsSkipped,
		m.SnapshotWrites,
		m.SnapshotRecords,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_archive",
			Name:      "pipeline_running",
			Help:      "1 while a run is active, 0 otherwise.",
		}),
		CatalogFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_archive",
			Name:      "catalog_files",
			Help:      "Identifiers selected from the catalog for the current run.",
		}),
		FilesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_archive",
			Name:      "files_fetched_total",
			Help:      "Catalog files processed by outcome.",
		}, []string{"outcome"}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_archive",
			Name:      "fetch_retries_total",
			Help:      "HTTP attempts repeated after a retryable failure.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "storm_archive",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of download, decompress, parse and filter for one file.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		RecordsRetained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_archive",
			Name:      "records_retained_total",
			Help:      "Rows matching the target event type.",
		}),
		RowsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "storm_archive",
			Name:      "rows_skipped_total",
			Help:      "Matching rows dropped because an essential field could not be decoded.",
		}),
		SnapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "storm_archive",
			Name:      "snapshot_writes_total",
			Help:      "Snapshot save attempts by outcome.",
		}, []string{"outcome"}),
		SnapshotRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "storm_archive",
			Name:      "snapshot_records",
			Help:      "Records in the most recently saved or loaded snapshot.",
		}),
	}
}
