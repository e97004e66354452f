// Package janitor removes asset folders that no stored job owns any more.
//
// Folders are normally removed by the executor after a fire or by a
// cancellation. A crash between writing the folder and saving the job, or
// between dispatch and cleanup, leaves an orphan behind; the janitor sweeps
// those on a cron schedule once they are older than MinAge.
package janitor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/assets"
)

const DefaultMinAge = 24 * time.Hour

// FolderStore lists and removes job folders.
type FolderStore interface {
	Folders() ([]assets.Folder, error)
	Cleanup(dir string) error
}

// JobStore reports the asset folders still referenced by stored jobs.
type JobStore interface {
	ActiveAssetDirs(ctx context.Context) ([]string, error)
}

type MetricsSink interface {
	OrphansRemoved(count int)
}

type Janitor struct {
	folders FolderStore
	jobs    JobStore
	minAge  time.Duration
	metrics MetricsSink
	clock   func() time.Time
	logger  *zap.Logger
}

func New(folders FolderStore, jobs JobStore, logger *zap.Logger) *Janitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Janitor{
		folders: folders,
		jobs:    jobs,
		minAge:  DefaultMinAge,
		clock:   time.Now,
		logger:  logger.Named("janitor"),
	}
}

// WithMinAge sets how old an unreferenced folder must be before removal.
func (j *Janitor) WithMinAge(d time.Duration) *Janitor {
	if d > 0 {
		j.minAge = d
	}
	return j
}

func (j *Janitor) WithMetrics(m MetricsSink) *Janitor {
	j.metrics = m
	return j
}

func (j *Janitor) WithClock(clock func() time.Time) *Janitor {
	j.clock = clock
	return j
}

// Run sweeps on the given cron schedule until ctx is cancelled. A sweep in
// progress is allowed to finish before Run returns.
func (j *Janitor) Run(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(schedule, func() {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("janitor schedule %q: %w", schedule, err)
	}

	j.logger.Info("started", zap.String("schedule", schedule), zap.Duration("min_age", j.minAge))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("stopped")
	return nil
}

// Sweep removes every orphaned folder older than the minimum age and returns
// how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	folders, err := j.folders.Folders()
	if err != nil {
		return 0, fmt.Errorf("list folders: %w", err)
	}
	if len(folders) == 0 {
		return 0, nil
	}

	active, err := j.jobs.ActiveAssetDirs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active folders: %w", err)
	}
	owned := make(map[string]bool, len(active))
	for _, dir := range active {
		owned[filepath.Base(dir)] = true
	}

	cutoff := j.clock().Add(-j.minAge)
	removed := 0
	for _, f := range folders {
		if owned[f.Name] || f.ModTime.After(cutoff) {
			continue
		}
		if err := j.folders.Cleanup(f.Path); err != nil {
			j.logger.Warn("remove orphan failed", zap.String("dir", f.Path), zap.Error(err))
			continue
		}
		j.logger.Info("removed orphan", zap.String("dir", f.Path), zap.Time("modified", f.ModTime))
		removed++
	}

	if j.metrics != nil && removed > 0 {
		j.metrics.OrphansRemoved(removed)
	}
	return removed, nil
}
