package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cdw_import"

// Metrics collects per-run pipeline metrics in a private Prometheus registry.
// The job is short lived, so the registry is written out in the node_exporter
// textfile format instead of being served.
type Metrics struct {
	runs          *prometheus.CounterVec
	rows          *prometheus.GaugeVec
	stageDuration *prometheus.HistogramVec
	downloadBytes prometheus.Gauge
	lastRun       prometheus.Gauge
	lastSuccess   prometheus.Gauge
	registry      *prometheus.Registry
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome",
		},
		[]string{"outcome", "error_kind"},
	)

	rows := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rows",
			Help:      "Rows handled by the last run",
		},
		[]string{"state"},
	)

	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	downloadBytes := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "download_bytes",
		Help:      "Size of the last downloaded report",
	})

	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix time the last run finished",
	})

	lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix time the last run finished without a fatal error",
	})

	registry.MustRegister(runs, rows, stageDuration, downloadBytes, lastRun, lastSuccess)

	return &Metrics{
		runs:          runs,
		rows:          rows,
		stageDuration: stageDuration,
		downloadBytes: downloadBytes,
		lastRun:       lastRun,
		lastSuccess:   lastSuccess,
		registry:      registry,
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetDownloadBytes records the size of the fetched report.
func (m *Metrics) SetDownloadBytes(n int64) {
	m.downloadBytes.Set(float64(n))
}

// SetRows records the row counts of a transformation.
func (m *Metrics) SetRows(read, written, skipped, overridden, warnings int) {
	m.rows.WithLabelValues("read").Set(float64(read))
	m.rows.WithLabelValues("written").Set(float64(written))
	m.rows.WithLabelValues("skipped").Set(float64(skipped))
	m.rows.WithLabelValues("overridden").Set(float64(overridden))
	m.rows.WithLabelValues("warning").Set(float64(warnings))
}

// Finish records the outcome of a run. errorKind is empty unless the run failed.
func (m *Metrics) Finish(outcome, errorKind string, at time.Time) {
	m.runs.WithLabelValues(outcome, errorKind).Inc()
	m.lastRun.Set(float64(at.Unix()))
	if errorKind == "" {
		m.lastSuccess.Set(float64(at.Unix()))
	}
}

// WriteTextfile writes the registry to path atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
