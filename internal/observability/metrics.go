// Package observability records pipeline run metrics in the Prometheus text
// format, for a node_exporter textfile collector or a CI artifact.
package observability

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultNamespace prefixes every metric name
const DefaultNamespace = "shipper"

// Metrics holds the Prometheus metrics of one shipper invocation
type Metrics struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      *prometheus.HistogramVec
	StageFailures    *prometheus.CounterVec
	LastRunTimestamp *prometheus.GaugeVec

	// Build metrics
	BuildDuration *prometheus.HistogramVec

	// Scanner metrics
	VulnerabilitiesFound *prometheus.GaugeVec
}

// NewMetrics creates the metrics on a private registry
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of pipeline runs",
			},
			[]string{"kind", "status"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Time taken by a pipeline run",
				Buckets:   []float64{1, 5, 30, 60, 120, 300, 600, 1200, 1800},
			},
			[]string{"kind", "status"},
		),
		StageFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Number of pipeline runs that failed, by stage",
			},
			[]string{"kind", "stage"},
		),
		LastRunTimestamp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last pipeline run finished",
			},
			[]string{"kind", "status"},
		),

		BuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Time taken by image builds",
				Buckets:   []float64{30, 60, 120, 300, 600, 900, 1200, 1800},
			},
			[]string{"mode"},
		),

		VulnerabilitiesFound: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "vulnerabilities_found",
				Help:      "Number of vulnerabilities found in the last scan",
			},
			[]string{"severity"},
		),
	}
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRun records the outcome of a pipeline run. failedStage is empty for
// a successful run.
func (m *Metrics) RecordRun(kind, failedStage string, seconds float64, finishedUnix float64) {
	status := "success"
	if failedStage != "" {
		status = "failed"
		m.StageFailures.WithLabelValues(kind, failedStage).Inc()
	}
	m.RunsTotal.WithLabelValues(kind, status).Inc()
	m.RunDuration.WithLabelValues(kind, status).Observe(seconds)
	m.LastRunTimestamp.WithLabelValues(kind, status).Set(finishedUnix)
}

// RecordBuildDuration records build duration. mode is "single" or "multi".
func (m *Metrics) RecordBuildDuration(mode string, seconds float64) {
	m.BuildDuration.WithLabelValues(mode).Observe(seconds)
}

// SetVulnerabilitiesFound sets vulnerability counts by severity
func (m *Metrics) SetVulnerabilitiesFound(severity string, count float64) {
	m.VulnerabilitiesFound.WithLabelValues(severity).Set(count)
}

// WriteTextfile writes every metric to path in the text exposition format.
// The file is replaced atomically.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
