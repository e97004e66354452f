// Package submission turns a post intent into either an immediate fan-out or
// a durable scheduled job. Nothing is persisted or dispatched for a
// submission that fails validation or asset processing.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/assets"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/render"
)

// FireTimeLayout is the local wall-clock format of Submission.FireAt, as sent
// by a datetime-local form field.
const FireTimeLayout = "2006-01-02T15:04"

var (
	ErrTooManyFiles    = fmt.Errorf("too many files: at most %d images per post", assets.MaxFiles)
	ErrInvalidFireTime = errors.New("invalid fire time")
	ErrEmptyPost       = errors.New("post has neither text nor images")
	ErrNoPlatforms     = errors.New("no platform selected")
	ErrAssetProcessing = errors.New("image processing failed")
	ErrScheduling      = errors.New("scheduling failed")
)

// Rejection reasons reported to the metrics sink.
const (
	reasonTooManyFiles = "too_many_files"
	reasonFireTime     = "invalid_fire_time"
	reasonEmpty        = "empty_post"
	reasonNoPlatforms  = "no_platforms"
	reasonAssets       = "asset_processing"
	reasonScheduling   = "scheduling"

	modeImmediate = "immediate"
	modeScheduled = "scheduled"
)

// Submission is one post intent.
type Submission struct {
	Text     string
	Hashtags string

	// FireAt is a local wall-clock time in FireTimeLayout. Empty posts now.
	FireAt string

	Platforms domain.PlatformSet
	Files     []assets.Upload
}

// Result describes what happened to an accepted submission.
type Result struct {
	Scheduled bool
	JobID     uuid.UUID // scheduled only
	FireAt    time.Time // UTC, scheduled only
	Report    domain.Report
}

// Message is the user-facing summary.
func (r Result) Message() string {
	if r.Scheduled {
		return "Post scheduled for " + r.FireAt.Format(time.RFC3339) + "."
	}
	return r.Report.Message()
}

type AssetStore interface {
	Save(fireAt time.Time, jobID uuid.UUID, uploads []assets.Upload) (string, []domain.Asset, error)
	Cleanup(dir string) error
}

type Scheduler interface {
	Schedule(ctx context.Context, job domain.JobRecord) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, post domain.Post) domain.Report
}

// MetricsSink defines the submission metrics. All methods must be non-blocking.
type MetricsSink interface {
	SubmissionAccepted(mode string)
	SubmissionRejected(reason string)
}

type Service struct {
	assets     AssetStore
	scheduler  Scheduler
	dispatcher Dispatcher
	loc        *time.Location
	logger     *zap.Logger
	metrics    MetricsSink // optional
	clock      func() time.Time
}

// New creates the service. loc is the zone fire times are entered in.
func New(store AssetStore, scheduler Scheduler, dispatcher Dispatcher, loc *time.Location, logger *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		assets:     store,
		scheduler:  scheduler,
		dispatcher: dispatcher,
		loc:        loc,
		logger:     logger.Named("submission"),
		clock:      time.Now,
	}
}

// WithMetrics attaches a metrics sink to the service.
func (s *Service) WithMetrics(m MetricsSink) *Service {
	s.metrics = m
	return s
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Location returns the zone fire times are interpreted in.
func (s *Service) Location() *time.Location {
	return s.loc
}

// ParseFireTime interprets value as wall-clock time in loc and returns it in UTC.
func ParseFireTime(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(FireTimeLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFireTime, value)
	}
	return t.UTC(), nil
}

// Validate checks a submission without touching disk or the store. It returns
// the parsed UTC fire time, zero for immediate posts.
func (s *Service) Validate(sub Submission) (time.Time, error) {
	if len(sub.Files) > assets.MaxFiles {
		return time.Time{}, ErrTooManyFiles
	}
	if strings.TrimSpace(sub.Text) == "" && len(sub.Files) == 0 {
		return time.Time{}, ErrEmptyPost
	}
	if sub.Platforms.Empty() {
		return time.Time{}, ErrNoPlatforms
	}
	if strings.TrimSpace(sub.FireAt) == "" {
		return time.Time{}, nil
	}
	return ParseFireTime(sub.FireAt, s.loc)
}

// Submit validates sub, stores its images and then either dispatches it right
// away or schedules it.
func (s *Service) Submit(ctx context.Context, sub Submission) (Result, error) {
	fireAt, err := s.Validate(sub)
	if err != nil {
		s.reject(err)
		return Result{}, err
	}

	if fireAt.IsZero() {
		return s.postNow(ctx, sub)
	}
	return s.schedule(ctx, sub, fireAt)
}

func (s *Service) postNow(ctx context.Context, sub Submission) (Result, error) {
	now := s.clock().UTC()
	id := uuid.New()

	dir, saved, err := s.assets.Save(now, id, sub.Files)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAssetProcessing, err)
		s.reject(err)
		return Result{}, err
	}

	post := s.buildPost(sub, now, saved, dir)
	report := s.dispatcher.Dispatch(ctx, post)
	s.cleanup(dir)

	s.accepted(modeImmediate)
	s.logger.Info(report.Message(), zap.String("mode", modeImmediate), zap.Int("images", len(saved)))
	return Result{Report: report}, nil
}

func (s *Service) schedule(ctx context.Context, sub Submission, fireAt time.Time) (Result, error) {
	id := uuid.New()

	dir, saved, err := s.assets.Save(fireAt, id, sub.Files)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrAssetProcessing, err)
		s.reject(err)
		return Result{}, err
	}

	job := domain.JobRecord{
		ID:     id,
		Text:   sub.Text,
		FireAt: fireAt,
		Post:   s.buildPost(sub, fireAt, saved, dir),
		Status: domain.JobStatusPending,
	}
	if err := s.scheduler.Schedule(ctx, job); err != nil {
		s.cleanup(dir)
		err = fmt.Errorf("%w: %w", ErrScheduling, err)
		s.reject(err)
		return Result{}, err
	}

	s.accepted(modeScheduled)
	return Result{Scheduled: true, JobID: id, FireAt: fireAt}, nil
}

func (s *Service) buildPost(sub Submission, at time.Time, saved []domain.Asset, dir string) domain.Post {
	body := render.NewBody(sub.Text, sub.Hashtags)
	return domain.Post{
		Subject:   render.Subject(sub.Text, at, s.loc),
		TextHTML:  body.HTML,
		TextPlain: body.Plain,
		Platforms: sub.Platforms,
		Assets:    saved,
		AssetDir:  dir,
	}
}

func (s *Service) cleanup(dir string) {
	if dir == "" {
		return
	}
	if err := s.assets.Cleanup(dir); err != nil {
		s.logger.Warn("asset cleanup failed", zap.String("dir", dir), zap.Error(err))
	}
}

func (s *Service) accepted(mode string) {
	if s.metrics != nil {
		s.metrics.SubmissionAccepted(mode)
	}
}

func (s *Service) reject(err error) {
	if s.metrics == nil {
		return
	}
	reason := "other"
	switch {
	case errors.Is(err, ErrTooManyFiles):
		reason = reasonTooManyFiles
	case errors.Is(err, ErrInvalidFireTime):
		reason = reasonFireTime
	case errors.Is(err, ErrEmptyPost):
		reason = reasonEmpty
	case errors.Is(err, ErrNoPlatforms):
		reason = reasonNoPlatforms
	case errors.Is(err, ErrAssetProcessing):
		reason = reasonAssets
	case errors.Is(err, ErrScheduling):
		reason = reasonScheduling
	}
	s.metrics.SubmissionRejected(reason)
}
