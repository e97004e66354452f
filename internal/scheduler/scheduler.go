// Package scheduler is the durable timer service. Every pending job has a
// timer row in the store; the scheduler mirrors those rows as in-process
// one-shot timers and emits a FireEvent when one elapses.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

type Store interface {
	Save(ctx context.Context, job domain.JobRecord) error
	Delete(ctx context.Context, jobID uuid.UUID) error
	ListTimers(ctx context.Context) ([]domain.Timer, error)
}

type EventEmitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink is the subset of metrics.Sink used by the scheduler.
type MetricsSink interface {
	TimerArmed()
	TimerFired()
	TimersRestored(count int)
}

// Timer is the handle returned by an AfterFunc implementation.
type Timer interface {
	Stop() bool
}

// AfterFunc arms f to run after d. time.AfterFunc satisfies it via a wrapper.
type AfterFunc func(d time.Duration, f func()) Timer

type Scheduler struct {
	store     Store
	emitter   EventEmitter
	logger    *zap.Logger
	metrics   MetricsSink
	clock     func() time.Time
	afterFunc AfterFunc

	mu      sync.Mutex
	timers  map[uuid.UUID]*armedTimer
	baseCtx context.Context
}

type armedTimer struct {
	timer Timer
}

func New(store Store, emitter EventEmitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:     store,
		emitter:   emitter,
		logger:    logger.Named("scheduler"),
		clock:     time.Now,
		afterFunc: realAfterFunc,
		timers:    make(map[uuid.UUID]*armedTimer),
		baseCtx:   context.Background(),
	}
}

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// WithMetrics sets the metrics sink.
func (s *Scheduler) WithMetrics(m MetricsSink) *Scheduler {
	s.metrics = m
	return s
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// WithAfterFunc replaces the timer implementation.
func (s *Scheduler) WithAfterFunc(fn AfterFunc) *Scheduler {
	s.afterFunc = fn
	return s
}

// Schedule persists the job with its timer and arms it. If persisting fails
// no timer is armed.
func (s *Scheduler) Schedule(ctx context.Context, job domain.JobRecord) error {
	job.FireAt = job.FireAt.UTC()
	if err := s.store.Save(ctx, job); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	s.Arm(job.ID, job.FireAt)
	s.logger.Info("job scheduled",
		zap.String("job_id", job.ID.String()),
		zap.Time("fire_at", job.FireAt),
	)
	return nil
}

// Cancel deletes the job and then disarms its timer. Cancelling an unknown
// job is not an error. When the store refuses the delete the timer stays armed.
func (s *Scheduler) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := s.store.Delete(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	s.disarm(jobID)
	s.logger.Info("job cancelled", zap.String("job_id", jobID.String()))
	return nil
}

// Run restores every persisted timer and blocks until ctx is cancelled.
// Timers whose fire time already passed fire immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	n, err := s.Restore(ctx)
	if err != nil {
		// The reconciler still picks up overdue jobs.
		s.logger.Error("restore timers failed", zap.Error(err))
	} else {
		s.logger.Info("started", zap.Int("timers_restored", n))
	}

	<-ctx.Done()
	s.stopAll()
	s.logger.Info("stopped")
	return ctx.Err()
}

// Restore arms a timer for every timer row in the store.
func (s *Scheduler) Restore(ctx context.Context) (int, error) {
	timers, err := s.store.ListTimers(ctx)
	if err != nil {
		return 0, fmt.Errorf("list timers: %w", err)
	}
	for _, t := range timers {
		s.Arm(t.JobID, t.FireAt)
	}
	if s.metrics != nil {
		s.metrics.TimersRestored(len(timers))
	}
	return len(timers), nil
}

// Arm (re)arms the in-process timer of a job. An existing timer for the
// same job is replaced.
func (s *Scheduler) Arm(jobID uuid.UUID, fireAt time.Time) {
	fireAt = fireAt.UTC()
	delay := fireAt.Sub(s.clock().UTC())
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.timers[jobID]; ok {
		old.timer.Stop()
	}
	a := &armedTimer{}
	a.timer = s.afterFunc(delay, func() { s.fire(jobID, fireAt, a) })
	s.timers[jobID] = a

	if s.metrics != nil {
		s.metrics.TimerArmed()
	}
	s.logger.Debug("timer armed", zap.String("job_id", jobID.String()), zap.Duration("delay", delay))
}

// Armed returns the number of timers currently waiting.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) fire(jobID uuid.UUID, fireAt time.Time, self *armedTimer) {
	s.mu.Lock()
	if cur, ok := s.timers[jobID]; ok && cur == self {
		delete(s.timers, jobID)
	}
	ctx := s.baseCtx
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.TimerFired()
	}

	event := domain.FireEvent{
		JobID:     jobID,
		FireAt:    fireAt,
		EmittedAt: s.clock().UTC(),
		Source:    domain.FireSourceTimer,
	}
	if err := s.emitter.Emit(ctx, event); err != nil {
		// The timer row is still in the store; the reconciler re-emits it.
		s.logger.Warn("emit failed",
			zap.String("job_id", jobID.String()),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) disarm(jobID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[jobID]; ok {
		a.timer.Stop()
		delete(s.timers, jobID)
	}
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
}
