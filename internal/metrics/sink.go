package metrics

import (
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Submission metrics
	SubmissionAccepted(mode string)
	SubmissionRejected(reason string)

	// Scheduler metrics
	TimerArmed()
	TimerFired()
	TimersRestored(count int)

	// Executor metrics
	JobFinished(result string)
	FireLatencyObserve(latency time.Duration)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// Fan-out metrics
	PublishCompleted(platform, statusClass string, duration time.Duration)
	CircuitRejected(platform string)

	// EventBus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Maintenance metrics
	ReconcileCompleted(reemitted int, err error)
	OrphansRemoved(count int)
}

// Submission modes.
const (
	ModeImmediate = "immediate"
	ModeScheduled = "scheduled"
)

// Results for JobFinished.
const (
	JobCompleted = "completed"
	JobFailed    = "failed"
	JobSkipped   = "skipped"
	JobNotDue    = "not_due"
)

// StatusClass constants for PublishCompleted.
const (
	StatusClassSuccess         = "success"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a platform response status code and error to a status class.
// A zero status code means the error did not come from an HTTP response.
func ClassifyStatus(statusCode int, err error) string {
	if err == nil {
		return StatusClassSuccess
	}

	switch {
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return StatusClassTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
		return StatusClassConnectionError
	default:
		return StatusClassOtherError
	}
}
