package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) SubmissionAccepted(mode string)                                 {}
func (n *NoopSink) SubmissionRejected(reason string)                               {}
func (n *NoopSink) TimerArmed()                                                    {}
func (n *NoopSink) TimerFired()                                                    {}
func (n *NoopSink) TimersRestored(count int)                                       {}
func (n *NoopSink) JobFinished(result string)                                      {}
func (n *NoopSink) FireLatencyObserve(latency time.Duration)                       {}
func (n *NoopSink) EventsInFlightIncr()                                            {}
func (n *NoopSink) EventsInFlightDecr()                                            {}
func (n *NoopSink) PublishCompleted(platform, statusClass string, d time.Duration) {}
func (n *NoopSink) CircuitRejected(platform string)                                {}
func (n *NoopSink) BufferSizeUpdate(size int)                                      {}
func (n *NoopSink) BufferCapacitySet(capacity int)                                 {}
func (n *NoopSink) EmitError()                                                     {}
func (n *NoopSink) ReconcileCompleted(reemitted int, err error)                    {}
func (n *NoopSink) OrphansRemoved(count int)                                       {}

var _ Sink = (*NoopSink)(nil)
