package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ofo-tools/treecrown/internal/errors"
)

// Operation status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// PipelineMetrics contains the Prometheus metrics of the detection pipeline.
type PipelineMetrics struct {
	OperationsTotal  *prometheus.CounterVec
	OperationErrors  *prometheus.CounterVec
	OperationSeconds *prometheus.HistogramVec
	DetectionsTotal  *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
}

// NewPipelineMetrics creates the pipeline metrics and registers them.
func NewPipelineMetrics(registry prometheus.Registerer) (*PipelineMetrics, error) {
	m := &PipelineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
	}
	return m, nil
}

func (m *PipelineMetrics) initMetrics() {
	m.OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treecrown_operations_total",
			Help: "Total number of pipeline operations partitioned by operation and status.",
		},
		[]string{"operation", "status"},
	)
	m.OperationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treecrown_operation_errors_total",
			Help: "Total number of pipeline errors partitioned by operation and error category.",
		},
		[]string{"operation", "error_type"},
	)
	m.OperationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treecrown_operation_duration_seconds",
			Help:    "Time taken by pipeline operations.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		},
		[]string{"operation"},
	)
	m.DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treecrown_detections_total",
			Help: "Total number of detections written, partitioned by label.",
		},
		[]string{"label"},
	)
	m.LastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "treecrown_last_run_timestamp_seconds",
			Help: "Unix time of the last completed run.",
		},
	)
}

// RecordOperation implements Recorder.
func (m *PipelineMetrics) RecordOperation(operation, status string) {
	m.OperationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration implements Recorder.
func (m *PipelineMetrics) RecordDuration(operation string, seconds float64) {
	m.OperationSeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordError implements Recorder.
func (m *PipelineMetrics) RecordError(operation, errorType string) {
	m.OperationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordDetections implements Recorder.
func (m *PipelineMetrics) RecordDetections(label string, count int) {
	if count > 0 {
		m.DetectionsTotal.WithLabelValues(label).Add(float64(count))
	}
}

// RecordResult records the outcome of an operation: its status, duration
// and, on failure, the error category.
func (m *PipelineMetrics) RecordResult(operation string, seconds float64, err error) {
	if err != nil {
		m.RecordOperation(operation, StatusError)
		m.RecordError(operation, categorizeError(err))
		return
	}
	m.RecordOperation(operation, StatusSuccess)
	m.RecordDuration(operation, seconds)
}

// MarkRunCompleted sets the last run timestamp to now.
func (m *PipelineMetrics) MarkRunCompleted() {
	m.LastRunTimestamp.SetToCurrentTime()
}

func categorizeError(err error) string {
	if err == nil {
		return "none"
	}
	return string(errors.CategoryOf(err))
}

// Describe implements the prometheus.Collector interface.
func (m *PipelineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.OperationsTotal.Describe(ch)
	m.OperationErrors.Describe(ch)
	m.OperationSeconds.Describe(ch)
	m.DetectionsTotal.Describe(ch)
	ch <- m.LastRunTimestamp.Desc()
}

// Collect implements the prometheus.Collector interface.
func (m *PipelineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.OperationsTotal.Collect(ch)
	m.OperationErrors.Collect(ch)
	m.OperationSeconds.Collect(ch)
	m.DetectionsTotal.Collect(ch)
	ch <- m.LastRunTimestamp
}
