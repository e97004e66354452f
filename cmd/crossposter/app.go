package main

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/analytics"
	"github.com/GanWeaving/social-cross-post/internal/circuitbreaker"
	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/domain"
	"github.com/GanWeaving/social-cross-post/internal/fanout"
	"github.com/GanWeaving/social-cross-post/internal/metrics"
	"github.com/GanWeaving/social-cross-post/internal/platform"
	"github.com/GanWeaving/social-cross-post/internal/store"
)

// newDispatcher builds the fan-out dispatcher from the platform credentials
// file. The returned close function releases the analytics client.
func newDispatcher(cfg config.Config, sink metrics.Sink, logger *zap.Logger) (*fanout.Dispatcher, func(), error) {
	platforms, err := config.LoadPlatforms(cfg.PlatformsFile)
	if err != nil {
		return nil, nil, invalid(err)
	}
	if err := platforms.Validate(); err != nil {
		return nil, nil, invalid(fmt.Errorf("platforms file %s: %w", cfg.PlatformsFile, err))
	}

	configured := platforms.Configured().List()
	names := make([]string, len(configured))
	for i, p := range configured {
		names[i] = string(p)
	}
	logger.Info("platforms configured", zap.Strings("platforms", names))

	disp := fanout.New(platform.Publishers(platforms, logger), logger).
		WithTimeout(cfg.PublishTimeout).
		WithParallelism(cfg.PublishParallelism).
		WithMetrics(sink)

	if cfg.CircuitBreakerThreshold > 0 {
		disp = disp.WithCircuitBreaker(circuitbreaker.New(cfg.CircuitBreakerThreshold, cfg.CircuitBreakerCooldown))
		logger.Info("circuit breaker enabled",
			zap.Int("threshold", cfg.CircuitBreakerThreshold),
			zap.Duration("cooldown", cfg.CircuitBreakerCooldown))
	}

	closeFn := func() {}
	if cfg.RedisAddr != "" {
		client := newRedisClient(cfg)
		disp = disp.WithAnalytics(analytics.NewRedisSink(client, cfg.AnalyticsRetention, logger))
		closeFn = func() { _ = client.Close() }
		logger.Info("analytics enabled", zap.String("redis", cfg.RedisAddr))
	} else {
		logger.Info("REDIS_ADDR not set; analytics disabled")
	}

	return disp, closeFn, nil
}

func newRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// storeScheduler persists a job without arming an in-process timer. A
// running server picks the job up through its reconciler once it is due.
type storeScheduler struct {
	store *store.Store
}

func (s storeScheduler) Schedule(ctx context.Context, job domain.JobRecord) error {
	return s.store.Save(ctx, job)
}
