// Package executor runs fired jobs: it is the at-most-once gate between the
// timer service and the fan-out dispatcher.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/store"
)

// ErrNotDue is returned when a job fired before its fire time. Its timer is
// kept and re-armed.
var ErrNotDue = errors.New("job is not due yet")

// DefaultDrainTimeout is the maximum time to wait for buffered events during shutdown.
const DefaultDrainTimeout = 30 * time.Second

type Store interface {
	Load(ctx context.Context, jobID uuid.UUID) (domain.JobRecord, error)
	Claim(ctx context.Context, jobID uuid.UUID) (bool, error)
	Complete(ctx context.Context, jobID uuid.UUID) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, reason string) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, post domain.Post) domain.Report
}

type AssetCleaner interface {
	Cleanup(dir string) error
}

// Rearmer re-arms the in-process timer of a job that fired early.
type Rearmer interface {
	Arm(jobID uuid.UUID, fireAt time.Time)
}

// MetricsSink defines the executor metrics. All methods must be non-blocking.
type MetricsSink interface {
	JobFinished(result string)
	FireLatencyObserve(latency time.Duration)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

const (
	resultCompleted = "completed"
	resultFailed    = "failed"
	resultSkipped   = "skipped"
	resultNotDue    = "not_due"
)

type Executor struct {
	store        Store
	dispatcher   Dispatcher
	assets       AssetCleaner
	logger       *zap.Logger
	rearmer      Rearmer     // optional
	metrics      MetricsSink // optional
	clock        func() time.Time
	workers      int
	drainTimeout time.Duration
}

func New(st Store, dispatcher Dispatcher, assets AssetCleaner, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		store:        st,
		dispatcher:   dispatcher,
		assets:       assets,
		logger:       logger.Named("executor"),
		clock:        time.Now,
		workers:      1,
		drainTimeout: DefaultDrainTimeout,
	}
}

func (e *Executor) WithRearmer(r Rearmer) *Executor {
	e.rearmer = r
	return e
}

// WithMetrics attaches a metrics sink to the executor.
func (e *Executor) WithMetrics(m MetricsSink) *Executor {
	e.metrics = m
	return e
}

func (e *Executor) WithClock(clock func() time.Time) *Executor {
	e.clock = clock
	return e
}

// WithWorkers sets how many fire events are processed concurrently.
func (e *Executor) WithWorkers(n int) *Executor {
	if n > 0 {
		e.workers = n
	}
	return e
}

func (e *Executor) WithDrainTimeout(d time.Duration) *Executor {
	if d > 0 {
		e.drainTimeout = d
	}
	return e
}

// Run processes events from the channel until context is cancelled.
// After cancellation, it drains remaining buffered events with a timeout.
func (e *Executor) Run(ctx context.Context, ch <-chan domain.FireEvent) {
	var wg sync.WaitGroup
	for i := 0; i < e.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.loop(ctx, ch)
		}()
	}
	wg.Wait()
	e.drain(ch)
}

func (e *Executor) loop(ctx context.Context, ch <-chan domain.FireEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			e.handle(ctx, event)
		}
	}
}

// drain processes remaining events in the channel buffer after shutdown signal.
// Uses a background context since the main context is already cancelled.
func (e *Executor) drain(ch <-chan domain.FireEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), e.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				e.logger.Warn("drain timeout", zap.Int("processed", count))
			}
			return
		case event, ok := <-ch:
			if !ok {
				e.logger.Info("drain complete", zap.Int("processed", count))
				return
			}
			e.handle(drainCtx, event)
			count++
		default:
			if count > 0 {
				e.logger.Info("drain complete", zap.Int("processed", count))
			}
			return
		}
	}
}

func (e *Executor) handle(ctx context.Context, event domain.FireEvent) {
	err := e.Execute(ctx, event)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotDue):
		e.logger.Debug("job fired early", zap.String("job_id", event.JobID.String()))
	default:
		e.logger.Error("execute failed",
			zap.String("job_id", event.JobID.String()),
			zap.String("source", string(event.Source)),
			zap.Error(err),
		)
	}
}

// Execute runs one fired job. Duplicate or late events for a job that is
// gone, already claimed or already posted are silent no-ops. Errors returned
// before the claim leave the job pending for a later attempt.
func (e *Executor) Execute(ctx context.Context, event domain.FireEvent) error {
	if e.metrics != nil {
		e.metrics.EventsInFlightIncr()
		defer e.metrics.EventsInFlightDecr()
	}
	log := e.logger.With(zap.String("job_id", event.JobID.String()), zap.String("source", string(event.Source)))

	job, err := e.store.Load(ctx, event.JobID)
	if errors.Is(err, store.ErrNotFound) {
		log.Debug("job gone, skipping")
		e.finish(resultSkipped)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	if job.Posted || job.Status != domain.JobStatusPending {
		log.Debug("job not pending, skipping", zap.String("status", string(job.Status)), zap.Bool("posted", job.Posted))
		e.finish(resultSkipped)
		return nil
	}

	now := e.clock().UTC()
	if !job.IsDue(now) {
		if e.rearmer != nil {
			e.rearmer.Arm(job.ID, job.FireAt)
		}
		e.finish(resultNotDue)
		return ErrNotDue
	}

	claimed, err := e.store.Claim(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("claim job: %w", err)
	}
	if !claimed {
		log.Debug("job claimed elsewhere, skipping")
		e.finish(resultSkipped)
		return nil
	}

	if e.metrics != nil {
		e.metrics.FireLatencyObserve(now.Sub(job.FireAt))
	}

	// Past the claim the job has no timer left, so shutdown must not cut the
	// dispatch short or leave the record in firing.
	ctx = context.WithoutCancel(ctx)
	report := e.dispatcher.Dispatch(ctx, job.Post)
	log.Info(report.Message(),
		zap.Int("succeeded", len(report.Succeeded())),
		zap.Int("failed", len(report.Failed())),
	)

	// The job is never fired again from here on, so its assets can go
	// whatever happens to the record.
	defer e.cleanup(log, job.Post.AssetDir)

	recordCtx, cancel := context.WithTimeout(ctx, e.drainTimeout)
	defer cancel()

	if err := e.store.Complete(recordCtx, job.ID); err != nil {
		e.finish(resultFailed)
		reason := fmt.Sprintf("complete after dispatch: %v", err)
		if mErr := e.store.MarkFailed(recordCtx, job.ID, reason); mErr != nil {
			log.Error("mark failed", zap.Error(mErr))
		}
		return fmt.Errorf("complete job: %w", err)
	}

	e.finish(resultCompleted)
	return nil
}

func (e *Executor) cleanup(log *zap.Logger, dir string) {
	if dir == "" || e.assets == nil {
		return
	}
	if err := e.assets.Cleanup(dir); err != nil {
		log.Warn("asset cleanup failed", zap.String("dir", dir), zap.Error(err))
	}
}

func (e *Executor) finish(result string) {
	if e.metrics != nil {
		e.metrics.JobFinished(result)
	}
}
