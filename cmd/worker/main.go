package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldstock/fieldstock/internal/app"
	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/integration"
	"github.com/fieldstock/fieldstock/internal/observability"
	"github.com/fieldstock/fieldstock/internal/platform/cache"
	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/reconciliation"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg).With(slog.String("component", "worker"))

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns, LockTimeout: cfg.PGLockTimeout})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		logger.Error("resolve timezone", slog.Any("error", err))
		os.Exit(1)
	}

	var publisher integration.Publisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err := integration.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("amqp publisher disabled", slog.Any("error", err))
		} else {
			publisher = amqpPublisher
			defer amqpPublisher.Close()
		}
	}
	hooks := integration.NewHooks(publisher, logger)
	metrics := observability.NewMetrics()
	locker := cache.NewLocker(redisClient)

	auditLogger := shared.NewAuditLogger(pool)
	catalogService := catalog.NewService(catalog.NewRepository(pool, cfg.TxMaxAttempts), auditLogger, logger)
	reconciler := reconciliation.NewService(
		reconciliation.NewRepository(pool),
		reconciliation.NewCache(redisClient, cfg.ReconcileCacheTTL),
		loc,
		logger,
	)

	lowStockJob := jobs.NewLowStockScanJob(catalogService, hooks, metrics, locker, logger, metrics.Jobs())
	warmupJob := &jobs.ReconciliationWarmupJob{Reconciler: reconciler, Locker: locker, Logger: logger, Metrics: metrics.Jobs()}
	cleanupJob := &jobs.IdempotencyCleanupJob{
		Store:     shared.NewIdempotencyStore(pool),
		Retention: cfg.IdempotencyRetention,
		Locker:    locker,
		Logger:    logger,
		Metrics:   metrics.Jobs(),
	}

	lowStockTask, err := jobs.NewLowStockScanTask(0, time.Time{})
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Location:  loc,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskReconciliationWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LowStockCron, Task: lowStockTask},
			{Spec: cfg.ReconcileWarmupCron, Task: jobs.NewReconciliationWarmupTask()},
			{Spec: cfg.IdempotencyCron, Task: jobs.NewIdempotencyCleanupTask()},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: metrics.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server", slog.Any("error", err))
			}
		}()
		defer metricsServer.Close()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
