package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GanWeaving/social-cross-post/internal/api"
	"github.com/GanWeaving/social-cross-post/internal/config"
	"github.com/GanWeaving/social-cross-post/internal/executor"
	"github.com/GanWeaving/social-cross-post/internal/janitor"
	"github.com/GanWeaving/social-cross-post/internal/metrics"
	"github.com/GanWeaving/social-cross-post/internal/reconciler"
	"github.com/GanWeaving/social-cross-post/internal/scheduler"
	"github.com/GanWeaving/social-cross-post/internal/submission"
	"github.com/GanWeaving/social-cross-post/internal/transport/channel"
)

const lockFileName = ".crossposter.lock"

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the timer service and the executor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(sigCtx, cfg, logger)
		},
	}
}

// acquireLock takes the per-media-root instance lock. Two servers sharing a
// media root would arm the same timers and delete each other's folders.
func acquireLock(mediaRoot string) (*flock.Flock, error) {
	if err := os.MkdirAll(mediaRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create media root: %w", err)
	}
	lock := flock.New(filepath.Join(mediaRoot, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another crossposter instance is serving %s", mediaRoot)
	}
	return lock, nil
}

func runServe(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	log := logger.Named("serve")

	lock, err := acquireLock(cfg.MediaRoot)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			log.Warn("failed to release instance lock", zap.Error(err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return invalid(err)
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	log.Info("store ready",
		zap.String("driver", cfg.DatabaseDriver),
		zap.Int("max_open_conns", cfg.DBMaxOpenConns),
		zap.Duration("op_timeout", cfg.DBOpTimeout))

	var sink metrics.Sink = metrics.NewNoopSink()
	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(prometheus.DefaultRegisterer, logger)

		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.MetricsPath, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:    ":" + cfg.MetricsPort,
			Handler: metricsMux,
		}
		go func() {
			log.Info("metrics server listening", zap.String("port", cfg.MetricsPort), zap.String("path", cfg.MetricsPath))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("METRICS_ENABLED not set; metrics disabled")
	}

	dispatcher, closeAnalytics, err := newDispatcher(cfg, sink, logger)
	if err != nil {
		return err
	}
	defer closeAnalytics()

	assetStore := newAssetStore(cfg, logger)
	bus := channel.NewEventBus(cfg.EventBusBufferSize, channel.WithMetrics(sink))

	sched := scheduler.New(st, bus, logger).WithMetrics(sink)

	exec := executor.New(st, dispatcher, assetStore, logger).
		WithRearmer(sched).
		WithMetrics(sink).
		WithWorkers(cfg.ExecutorWorkers).
		WithDrainTimeout(cfg.ExecutorDrainTimeout)

	recon := reconciler.New(reconciler.Config{
		Interval:  cfg.ReconcileInterval,
		Threshold: reconciler.DefaultConfig().Threshold,
		BatchSize: cfg.ReconcileBatchSize,
	}, st, bus, logger).WithMetrics(sink)

	sweeper := janitor.New(assetStore, st, logger).
		WithMinAge(cfg.JanitorMinAge).
		WithMetrics(sink)

	service := submission.New(assetStore, sched, dispatcher, loc, logger).WithMetrics(sink)

	handler := api.NewHandler(service, st, sched, assetStore, logger).
		WithHealthChecker(st).
		WithToken(cfg.APIToken).
		WithMedia(cfg.MediaRoot)
	if cfg.APIToken == "" {
		log.Warn("API_TOKEN not set; /posts is open to anyone who can reach the server")
	}

	// Separate contexts allow ordered shutdown.
	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	executorCtx, cancelExecutor := context.WithCancel(context.Background())
	maintenanceCtx, cancelMaintenance := context.WithCancel(context.Background())

	var schedulerWg, executorWg, maintenanceWg sync.WaitGroup

	executorWg.Add(1)
	go func() {
		defer executorWg.Done()
		exec.Run(executorCtx, bus.Channel())
	}()

	schedulerWg.Add(1)
	go func() {
		defer schedulerWg.Done()
		_ = sched.Run(schedulerCtx)
	}()

	maintenanceWg.Add(2)
	go func() {
		defer maintenanceWg.Done()
		recon.Run(maintenanceCtx)
	}()
	go func() {
		defer maintenanceWg.Done()
		if err := sweeper.Run(maintenanceCtx, cfg.JanitorSchedule); err != nil {
			log.Error("janitor stopped", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	log.Info("started",
		zap.String("version", version),
		zap.String("timezone", cfg.Timezone),
		zap.Duration("reconcile_interval", cfg.ReconcileInterval),
		zap.Int("executor_workers", cfg.ExecutorWorkers))

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-serveErr:
		log.Error("http server error", zap.Error(runErr))
	}

	// Phase 1: Stop HTTP server (no new submissions)
	httpShutdownCtx, httpShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer httpShutdownCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	log.Info("http server stopped")

	// Phase 2: Stop timers, reconciler and janitor (no new fire events)
	cancelScheduler()
	schedulerWg.Wait()
	cancelMaintenance()
	maintenanceWg.Wait()
	log.Info("scheduler stopped")

	// Phase 3: Stop executor (drains buffered events before returning)
	cancelExecutor()
	executorWg.Wait()
	log.Info("executor stopped")

	// Phase 4: Stop metrics server if running
	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
		defer metricsShutdownCancel()
		if err := metricsServer.Shutdown(metricsShutdownCtx); err != nil {
			log.Warn("metrics server shutdown error", zap.Error(err))
		}
	}

	log.Info("stopped")
	return runErr
}
