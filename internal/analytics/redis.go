// Package analytics keeps daily per-platform publish counters in Redis.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/domain"
)

const (
	keyPrefix = "crossposter:outcome"

	resultSuccess = "success"
	resultFailure = "failure"

	dayLayout = "20060102"

	// DefaultRetention keeps counters for thirty days.
	DefaultRetention = 30 * 24 * time.Hour
)

// DailyCount is the tally of one platform on one UTC day.
type DailyCount struct {
	Platform domain.Platform
	Day      string
	Success  int64
	Failure  int64
}

type RedisSink struct {
	client    redis.UniversalClient
	retention time.Duration
	logger    *zap.Logger
	clock     func() time.Time
}

func NewRedisSink(client redis.UniversalClient, retention time.Duration, logger *zap.Logger) *RedisSink {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		client:    client,
		retention: retention,
		logger:    logger.Named("analytics"),
		clock:     time.Now,
	}
}

func (s *RedisSink) WithClock(clock func() time.Time) *RedisSink {
	s.clock = clock
	return s
}

// Record counts one publish outcome. Errors are logged, never returned.
func (s *RedisSink) Record(ctx context.Context, platform domain.Platform, ok bool) {
	if err := s.Write(ctx, platform, ok); err != nil {
		s.logger.Warn("record outcome", zap.String("platform", string(platform)), zap.Error(err))
	}
}

// Write increments today's counter for platform and refreshes its expiry.
func (s *RedisSink) Write(ctx context.Context, platform domain.Platform, ok bool) error {
	result := resultFailure
	if ok {
		result = resultSuccess
	}
	key := buildKey(string(platform), result, s.clock())

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Daily returns the counters of every platform for the UTC day containing day,
// in fan-out order.
func (s *RedisSink) Daily(ctx context.Context, day time.Time) ([]DailyCount, error) {
	keys := make([]string, 0, 2*len(domain.Platforms))
	for _, p := range domain.Platforms {
		keys = append(keys,
			buildKey(string(p), resultSuccess, day),
			buildKey(string(p), resultFailure, day),
		)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.Get(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis pipeline: %w", err)
	}

	out := make([]DailyCount, len(domain.Platforms))
	for i, p := range domain.Platforms {
		success, err := intValue(cmds[2*i])
		if err != nil {
			return nil, err
		}
		failure, err := intValue(cmds[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = DailyCount{Platform: p, Day: day.UTC().Format(dayLayout), Success: success, Failure: failure}
	}
	return out, nil
}

func intValue(cmd *redis.StringCmd) (int64, error) {
	n, err := cmd.Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", cmd.Args()[1], err)
	}
	return n, nil
}

func buildKey(platform, result string, t time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, platform, result, t.UTC().Format(dayLayout))
}
