package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/assets"
	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/logging"
	"github.com/GanWeaving/social-cross-post/internal/store"
)

const envHelp = `Configuration is read from the environment and an optional .env file.

Environment Variables:
  DATABASE_DRIVER           sqlite or postgres (default: "sqlite")
  DATABASE_URL              SQLite path or Postgres DSN (default: "crossposter.db")
  HTTP_ADDR                 HTTP server address (default: ":8080")
  PUBLIC_BASE_URL           Base URL platforms use to fetch images (default: "http://localhost:8080")
  API_TOKEN                 Bearer token required on /posts (optional)
  MEDIA_ROOT                Asset folder root (default: "static/temp")
  TIMEZONE                  Zone of user-entered fire times (default: "Europe/Berlin")
  PLATFORMS_FILE            Platform credentials TOML (default: "platforms.toml")

  PUBLISH_TIMEOUT           Per-platform publish timeout (default: "60s")
  PUBLISH_PARALLELISM       Platforms published concurrently (default: "6")
  CIRCUIT_BREAKER_THRESHOLD Consecutive failures before a platform is skipped, 0 disables (default: "5")
  CIRCUIT_BREAKER_COOLDOWN  How long a tripped platform is skipped (default: "2m")

  RECONCILE_INTERVAL        How often overdue timers are re-emitted (default: "30s")
  RECONCILE_BATCH_SIZE      Max timers per reconcile cycle (default: "100")
  EVENTBUS_BUFFER_SIZE      Fire event buffer (default: "100")
  EXECUTOR_WORKERS          Concurrent scheduled posts (default: "1")
  EXECUTOR_DRAIN_TIMEOUT    Drain timeout on shutdown (default: "30s")

  JANITOR_SCHEDULE          Orphan folder sweep schedule (default: "@every 1h")
  JANITOR_MIN_AGE           Minimum age of a swept folder (default: "24h")

  METRICS_ENABLED           Enable Prometheus metrics (default: "false")
  METRICS_PATH              Metrics endpoint path (default: "/metrics")
  METRICS_PORT              Metrics server port (default: "9090")
  REDIS_ADDR                Redis address for outcome analytics (optional)

  LOG_LEVEL                 debug, info, warn or error (default: "info")
  LOG_FORMAT                json or console (default: "json")`

// commandContext loads configuration and the logger once per invocation.
type commandContext struct {
	once   sync.Once
	cfg    config.Config
	logger *zap.Logger
	err    error
}

func (c *commandContext) load() (config.Config, *zap.Logger, error) {
	c.once.Do(func() {
		cfg, err := config.Load()
		if err != nil {
			c.err = invalid(err)
			return
		}
		if err := config.Validate(cfg); err != nil {
			c.err = invalid(fmt.Errorf("configuration error: %w", err))
			return
		}
		logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			c.err = invalid(err)
			return
		}
		c.cfg = cfg
		c.logger = logger
	})
	return c.cfg, c.logger, c.err
}

// withStore opens the job store for the duration of fn.
func (c *commandContext) withStore(ctx context.Context, fn func(cfg config.Config, st *store.Store, logger *zap.Logger) error) error {
	cfg, logger, err := c.load()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st, logger)
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	return store.Open(ctx, store.Options{
		Driver:          cfg.DatabaseDriver,
		DSN:             cfg.DatabaseURL,
		OpTimeout:       cfg.DBOpTimeout,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
}

func newAssetStore(cfg config.Config, logger *zap.Logger) *assets.Store {
	return assets.New(assets.Options{
		Root:           cfg.MediaRoot,
		BaseURL:        cfg.PublicBaseURL,
		MaxBytes:       cfg.ImageMaxBytes,
		MaxIterations:  cfg.ImageMaxIterations,
		InitialQuality: cfg.ImageInitialQuality,
	}, logger)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "crossposter",
		Short:         "Cross-post text and images to several social platforms, now or later",
		Long:          "crossposter publishes one post to Twitter, Mastodon, Bluesky, Posthaven, Facebook and Instagram,\neither immediately or at a scheduled time that survives restarts.\n\n" + envHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newPostCommand(ctx))
	rootCmd.AddCommand(newJobsCommand(ctx))
	rootCmd.AddCommand(newStatsCommand(ctx))
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}
