// Package fanout publishes one post to every enabled platform. Platforms are
// isolated from each other: a failure, timeout or panic on one of them is
// recorded as its outcome and never stops the others.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/GanWeaving/social-cross-post/internal/circuitbreaker"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/metrics"
)

// ErrNotConfigured is the outcome for an enabled platform without credentials.
var ErrNotConfigured = errors.New("not configured")

// DefaultTimeout bounds a single platform publish.
const DefaultTimeout = 60 * time.Second

// Publisher posts a message to one platform.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// MetricsSink defines the fan-out metrics. All methods must be non-blocking.
type MetricsSink interface {
	PublishCompleted(platform, statusClass string, duration time.Duration)
	CircuitRejected(platform string)
}

// AnalyticsSink records per-platform outcomes as a best-effort side-effect.
// Implementations handle their own errors.
type AnalyticsSink interface {
	Record(ctx context.Context, platform domain.Platform, ok bool)
}

type Dispatcher struct {
	publishers  map[domain.Platform]Publisher
	logger      *zap.Logger
	breaker     *circuitbreaker.CircuitBreaker // optional
	metrics     MetricsSink                    // optional
	analytics   AnalyticsSink                  // optional
	timeout     time.Duration
	parallelism int
	clock       func() time.Time
}

// New creates a dispatcher over the configured publishers. Platforms missing
// from the map fail with ErrNotConfigured when enabled.
func New(publishers map[domain.Platform]Publisher, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publishers == nil {
		publishers = make(map[domain.Platform]Publisher)
	}
	return &Dispatcher{
		publishers:  publishers,
		logger:      logger.Named("fanout"),
		timeout:     DefaultTimeout,
		parallelism: len(domain.Platforms),
		clock:       time.Now,
	}
}

func (d *Dispatcher) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *Dispatcher {
	d.breaker = cb
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(m MetricsSink) *Dispatcher {
	d.metrics = m
	return d
}

// WithAnalytics attaches an analytics sink to the dispatcher.
func (d *Dispatcher) WithAnalytics(a AnalyticsSink) *Dispatcher {
	d.analytics = a
	return d
}

// WithTimeout sets the per-platform publish timeout.
func (d *Dispatcher) WithTimeout(t time.Duration) *Dispatcher {
	if t > 0 {
		d.timeout = t
	}
	return d
}

// WithParallelism caps how many platforms are published to at once.
func (d *Dispatcher) WithParallelism(n int) *Dispatcher {
	if n > 0 {
		d.parallelism = n
	}
	return d
}

func (d *Dispatcher) WithClock(clock func() time.Time) *Dispatcher {
	d.clock = clock
	return d
}

// Configured reports whether a publisher exists for p.
func (d *Dispatcher) Configured(p domain.Platform) bool {
	_, ok := d.publishers[p]
	return ok
}

// Dispatch publishes post to each enabled platform and returns one outcome
// per platform in fan-out order. It never deletes assets.
func (d *Dispatcher) Dispatch(ctx context.Context, post domain.Post) domain.Report {
	platforms := post.Platforms.List()
	outcomes := make([]domain.Outcome, len(platforms))

	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for i, p := range platforms {
		g.Go(func() error {
			outcomes[i] = d.publish(ctx, p, post)
			return nil
		})
	}
	_ = g.Wait()

	return domain.Report{Outcomes: outcomes}
}

func (d *Dispatcher) publish(ctx context.Context, p domain.Platform, post domain.Post) domain.Outcome {
	start := d.clock()
	outcome := domain.Outcome{Platform: p}

	pub, ok := d.publishers[p]
	if !ok {
		outcome.Err = ErrNotConfigured
		d.logger.Warn("platform not configured", zap.String("platform", string(p)))
		d.record(ctx, p, outcome.Err)
		return outcome
	}

	if d.breaker != nil {
		if err := d.breaker.Allow(string(p)); err != nil {
			outcome.Err = err
			d.logger.Warn("circuit open, skipping platform", zap.String("platform", string(p)))
			if d.metrics != nil {
				d.metrics.CircuitRejected(string(p))
			}
			d.record(ctx, p, err)
			return outcome
		}
	}

	pctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := safePublish(pctx, pub, Shape(p, post))
	outcome.Err = err
	outcome.Duration = d.clock().Sub(start)

	if d.breaker != nil {
		if err != nil {
			d.breaker.RecordFailure(string(p))
		} else {
			d.breaker.RecordSuccess(string(p))
		}
	}
	if d.metrics != nil {
		d.metrics.PublishCompleted(string(p), metrics.ClassifyStatus(statusCode(err), err), outcome.Duration)
	}

	if err != nil {
		d.logger.Warn("publish failed",
			zap.String("platform", string(p)),
			zap.Duration("duration", outcome.Duration),
			zap.Error(err),
		)
	} else {
		d.logger.Debug("published",
			zap.String("platform", string(p)),
			zap.Duration("duration", outcome.Duration),
		)
	}

	d.record(ctx, p, err)
	return outcome
}

func (d *Dispatcher) record(ctx context.Context, p domain.Platform, err error) {
	if d.analytics != nil {
		d.analytics.Record(ctx, p, err == nil)
	}
}

func safePublish(ctx context.Context, pub Publisher, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panic: %v", r)
		}
	}()
	return pub.Publish(ctx, msg)
}

// statusCode extracts the HTTP status of a failed platform call, 0 if none.
func statusCode(err error) int {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}
