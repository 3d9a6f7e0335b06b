// Package metrics provides custom Prometheus metrics for treecrown runs.
package metrics

// Recorder defines a minimal interface for recording metrics, so pipeline
// stages depend on an abstraction rather than concrete collectors.
type Recorder interface {
	// RecordOperation records an operation ("tile", "run", "write") with its
	// status ("success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its category.
	RecordError(operation, errorType string)

	// RecordDetections adds count detections for label.
	RecordDetections(label string, count int)
}

// NoOpRecorder is a Recorder that discards everything.
type NoOpRecorder struct{}

// RecordOperation does nothing.
func (n *NoOpRecorder) RecordOperation(operation, status string) {}

// RecordDuration does nothing.
func (n *NoOpRecorder) RecordDuration(operation string, seconds float64) {}

// RecordError does nothing.
func (n *NoOpRecorder) RecordError(operation, errorType string) {}

// RecordDetections does nothing.
func (n *NoOpRecorder) RecordDetections(label string, count int) {}

// NewNoOpRecorder creates a new no-op recorder instance.
func NewNoOpRecorder() *NoOpRecorder {
	return &NoOpRecorder{}
}
