// Package reconciler re-emits fire events for durable timers that are past due.
//
// A timer is left behind when its in-process fire was lost: the event bus was
// full, the executor failed before claiming the job, or the process stopped
// between arming and firing. The executor's claim makes every re-emit safe:
// a job that was already claimed or deleted is skipped.
package reconciler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

// Store defines the interface for fetching due timers.
type Store interface {
	DueTimers(ctx context.Context, now time.Time, limit int) ([]domain.Timer, error)
}

// EventEmitter defines the interface for emitting fire events.
type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink records one completed cycle.
type MetricsSink interface {
	ReconcileCompleted(reemitted int, err error)
}

// Config holds reconciler configuration.
type Config struct {
	// Interval is how often the reconciler runs.
	// Default: 30 seconds.
	Interval time.Duration

	// Threshold is how far past its fire time a timer must be before it is
	// re-emitted. It keeps the reconciler from racing a live timer.
	// Default: 10 seconds.
	Threshold time.Duration

	// BatchSize is the maximum number of timers to re-emit per cycle.
	// Default: 100.
	BatchSize int
}

// DefaultConfig returns the default reconciler configuration.
func DefaultConfig() Config {
	return Config{
		Interval:  30 * time.Second,
		Threshold: 10 * time.Second,
		BatchSize: 100,
	}
}

// Reconciler finds overdue timers and re-emits them.
type Reconciler struct {
	config  Config
	store   Store
	emitter EventEmitter
	logger  *zap.Logger
	metrics MetricsSink // optional
	clock   func() time.Time
}

// New creates a new Reconciler. Zero config values fall back to the defaults.
func New(config Config, store Store, emitter EventEmitter, logger *zap.Logger) *Reconciler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Threshold < 0 {
		config.Threshold = 0
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		logger:  logger.Named("reconciler"),
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink to the reconciler.
func (r *Reconciler) WithMetrics(m MetricsSink) *Reconciler {
	r.metrics = m
	return r
}

func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	r.logger.Info("started",
		zap.Duration("interval", r.config.Interval),
		zap.Duration("threshold", r.config.Threshold),
		zap.Int("batch", r.config.BatchSize),
	)

	// Run immediately on startup, then on ticker
	r.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopped")
			return
		case <-ticker.C:
			r.RunCycle(ctx)
		}
	}
}

// RunCycle executes one reconciliation cycle and returns the number of
// re-emitted events.
func (r *Reconciler) RunCycle(ctx context.Context) int {
	now := r.clock().UTC()

	timers, err := r.store.DueTimers(ctx, now.Add(-r.config.Threshold), r.config.BatchSize)
	if err != nil {
		// Retried next interval.
		r.logger.Error("fetch due timers", zap.Error(err))
		r.record(0, err)
		return 0
	}

	if len(timers) == 0 {
		r.record(0, nil)
		return 0
	}

	r.logger.Info("found overdue timers", zap.Int("count", len(timers)))

	emitted := 0
	failed := 0

	for _, t := range timers {
		if ctx.Err() != nil {
			r.logger.Info("cycle interrupted",
				zap.Int("processed", emitted+failed),
				zap.Int("total", len(timers)),
			)
			r.record(emitted, ctx.Err())
			return emitted
		}

		event := domain.FireEvent{
			JobID:     t.JobID,
			FireAt:    t.FireAt,
			EmittedAt: now,
			Source:    domain.FireSourceReconciler,
		}

		if err := r.emitter.Emit(ctx, event); err != nil {
			r.logger.Warn("re-emit failed", zap.String("job_id", t.JobID.String()), zap.Error(err))
			failed++
			continue
		}

		r.logger.Info("re-emitted",
			zap.String("job_id", t.JobID.String()),
			zap.Time("fire_at", t.FireAt),
			zap.Duration("overdue", now.Sub(t.FireAt).Round(time.Second)),
		)
		emitted++
	}

	r.logger.Info("cycle complete", zap.Int("reemitted", emitted), zap.Int("failed", failed))
	r.record(emitted, nil)
	return emitted
}

func (r *Reconciler) record(reemitted int, err error) {
	if r.metrics != nil {
		r.metrics.ReconcileCompleted(reemitted, err)
	}
}
