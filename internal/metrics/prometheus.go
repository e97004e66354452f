package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *zap.Logger

	// Submission metrics
	submissionsTotal *prometheus.CounterVec
	rejectionsTotal  *prometheus.CounterVec

	// Scheduler metrics
	timersArmedTotal prometheus.Counter
	timersFiredTotal prometheus.Counter
	timersRestored   prometheus.Gauge

	// Executor metrics
	jobsTotal      *prometheus.CounterVec
	fireLatency    prometheus.Histogram
	eventsInFlight prometheus.Gauge

	// Fan-out metrics
	publishTotal        *prometheus.CounterVec
	publishDuration     *prometheus.HistogramVec
	circuitRejectsTotal *prometheus.CounterVec

	// EventBus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Maintenance metrics
	reconcileRunsTotal    prometheus.Counter
	reconcileErrorsTotal  prometheus.Counter
	reconcileReemitsTotal prometheus.Counter
	orphansRemovedTotal   prometheus.Counter
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer, logger *zap.Logger) *PrometheusSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &PrometheusSink{logger: logger.Named("metrics")}
	s.initSubmissionMetrics(reg)
	s.initSchedulerMetrics(reg)
	s.initExecutorMetrics(reg)
	s.initFanoutMetrics(reg)
	s.initEventBusMetrics(reg)
	s.initMaintenanceMetrics(reg)
	return s
}

func (s *PrometheusSink) initSubmissionMetrics(reg prometheus.Registerer) {
	s.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crossposter_submissions_total",
		Help: "Total number of accepted submissions by mode.",
	}, []string{"mode"})
	s.rejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crossposter_submissions_rejected_total",
		Help: "Total number of rejected submissions by reason.",
	}, []string{"reason"})

	s.register(reg, s.submissionsTotal, "crossposter_submissions_total")
	s.register(reg, s.rejectionsTotal, "crossposter_submissions_rejected_total")
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.timersArmedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crossposter_scheduler_timers_armed_total",
		Help: "Total number of timers armed.",
	})
	s.timersFiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crossposter_scheduler_timers_fired_total",
		Help: "Total number of timers that elapsed.",
	})
	s.timersRestored = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crossposter_scheduler_timers_restored",
		Help: "Number of timers restored from the store at startup.",
	})

	s.register(reg, s.timersArmedTotal, "crossposter_scheduler_timers_armed_total")
	s.register(reg, s.timersFiredTotal, "crossposter_scheduler_timers_fired_total")
	s.register(reg, s.timersRestored, "crossposter_scheduler_timers_restored")
}

func (s *PrometheusSink) initExecutorMetrics(reg prometheus.Registerer) {
	s.jobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crossposter_executor_jobs_total",
		Help: "Total number of fire events handled by result.",
	}, []string{"result"})
	s.fireLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crossposter_executor_fire_latency_seconds",
		Help:    "Delay between a job's fire time and the start of its dispatch.",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 3600},
	})
	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crossposter_executor_events_in_flight",
		Help: "Number of fire events currently being processed.",
	})

	s.register(reg, s.jobsTotal, "crossposter_executor_jobs_total")
	s.register(reg, s.fireLatency, "crossposter_executor_fire_latency_seconds")
	s.register(reg, s.eventsInFlight, "crossposter_executor_events_in_flight")
}

func (s *PrometheusSink) initFanoutMetrics(reg prometheus.Registerer) {
	s.publishTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crossposter_publish_total",
		Help: "Total number of platform publish attempts.",
	}, []string{"platform", "status_class"})
	s.publishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crossposter_publish_duration_seconds",
		Help:    "Duration of platform publish calls in seconds.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"platform"})
	s.circuitRejectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crossposter_publish_circuit_rejected_total",
		Help: "Total number of publish attempts skipped by an open circuit.",
	}, []string{"platform"})

	s.register(reg, s.publishTotal, "crossposter_publish_total")
	s.register(reg, s.publishDuration, "crossposter_publish_duration_seconds")
	s.register(reg, s.circuitRejectsTotal, "crossposter_publish_circuit_rejected_total")
}

func (s *PrometheusSink) initEventBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crossposter_eventbus_buffer_size",
		Help: "Current number of events in the event bus buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crossposter_eventbus_buffer_capacity",
		Help: "Capacity of the event bus buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crossposter_eventbus_emit_errors_total",
		Help: "Total number of emit errors (buffer full).",
	})

	s.register(reg, s.bufferSize, "crossposter_eventbus_buffer_size")
	s.register(reg, s.bufferCapacity, "crossposter_eventbus_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "crossposter_eventbus_emit_errors_total")
}

func (s *PrometheusSink) initMaintenanceMetrics(reg prometheus.Registerer) {
	s.reconcileRunsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crossposter_reconciler_runs_total",
		Help: "Total number of reconciler cycles.",
	})
	s.reconcileErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crossposter_reconciler_errors_total",
		Help: "Total number of failed reconciler cycles.",
	})
	s.reconcileReemitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crossposter_reconciler_reemitted_total",
		Help: "Total number of overdue timers re-emitted by the reconciler.",
	})
	s.orphansRemovedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crossposter_janitor_orphans_removed_total",
		Help: "Total number of orphaned asset folders removed.",
	})

	s.register(reg, s.reconcileRunsTotal, "crossposter_reconciler_runs_total")
	s.register(reg, s.reconcileErrorsTotal, "crossposter_reconciler_errors_total")
	s.register(reg, s.reconcileReemitsTotal, "crossposter_reconciler_reemitted_total")
	s.register(reg, s.orphansRemovedTotal, "crossposter_janitor_orphans_removed_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register collector", zap.String("name", name), zap.Error(err))
	}
}

func (s *PrometheusSink) SubmissionAccepted(mode string) {
	s.submissionsTotal.WithLabelValues(mode).Inc()
}

func (s *PrometheusSink) SubmissionRejected(reason string) {
	s.rejectionsTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) TimerArmed() {
	s.timersArmedTotal.Inc()
}

func (s *PrometheusSink) TimerFired() {
	s.timersFiredTotal.Inc()
}

func (s *PrometheusSink) TimersRestored(count int) {
	s.timersRestored.Set(float64(count))
}

func (s *PrometheusSink) JobFinished(result string) {
	s.jobsTotal.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) FireLatencyObserve(latency time.Duration) {
	if latency < 0 {
		latency = 0
	}
	s.fireLatency.Observe(latency.Seconds())
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) PublishCompleted(platform, statusClass string, duration time.Duration) {
	s.publishTotal.WithLabelValues(platform, statusClass).Inc()
	s.publishDuration.WithLabelValues(platform).Observe(duration.Seconds())
}

func (s *PrometheusSink) CircuitRejected(platform string) {
	s.circuitRejectsTotal.WithLabelValues(platform).Inc()
}

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

func (s *PrometheusSink) ReconcileCompleted(reemitted int, err error) {
	s.reconcileRunsTotal.Inc()
	s.reconcileReemitsTotal.Add(float64(reemitted))
	if err != nil {
		s.reconcileErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) OrphansRemoved(count int) {
	s.orphansRemovedTotal.Add(float64(count))
}

var _ Sink = (*PrometheusSink)(nil)
