package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/cmd/fieldstock/cli"
	"github.com/fieldstock/fieldstock/internal/app"
	"github.com/fieldstock/fieldstock/internal/batch"
	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/integration"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/observability"
	"github.com/fieldstock/fieldstock/internal/platform/cache"
	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/reconciliation"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/stockrequest"
	"github.com/fieldstock/fieldstock/internal/units"
	"github.com/fieldstock/fieldstock/jobs"
)

const usage = `usage:
  fieldstock                        run the HTTP API
  fieldstock migrate                apply the database schema
  fieldstock jobs trigger <task> [company_id]
  fieldstock jobs stats`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	switch {
	case len(args) == 0 || args[0] == "serve":
		err = serve(ctx, stop, cfg, logger)
	case args[0] == "migrate":
		err = migrate(ctx, cfg, logger)
	case args[0] == "jobs":
		err = runJobsCommand(ctx, cfg, args[1:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error("fieldstock", slog.Any("error", err))
		os.Exit(1)
	}
}

func openPool(ctx context.Context, cfg *app.Config) (*pgxpool.Pool, error) {
	return db.New(ctx, cfg.PGDSN, db.PoolOptions{
		MaxConns:        cfg.PGMaxConns,
		MaxConnIdleTime: 5 * time.Minute,
		LockTimeout:     cfg.PGLockTimeout,
	})
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}

func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	jc := cli.NewJobsCLI(cfg.RedisAddr)
	defer jc.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New(usage)
		}
		var companyID int64
		if len(args) > 2 {
			id, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("company_id: %w", err)
			}
			companyID = id
		}
		info, err := jc.Trigger(ctx, args[1], companyID)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s\n", info.Type, info.ID)
	case "stats":
		stats, err := jc.InspectQueue()
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
	default:
		return errors.New(usage)
	}
	return nil
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if cfg.PGAutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	var publisher integration.Publisher
	var amqpPublisher *integration.AMQPPublisher
	if cfg.AMQPURL != "" {
		amqpPublisher, err = integration.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Warn("amqp publisher disabled", slog.Any("error", err))
		} else {
			publisher = amqpPublisher
			defer amqpPublisher.Close()
		}
	}
	hooks := integration.NewHooks(publisher, logger)
	metrics := observability.NewMetrics()

	auditLogger := shared.NewAuditLogger(pool)
	approvals := shared.NewApprovalRecorder(pool, logger)
	idempotency := shared.NewIdempotencyStore(pool)

	catalogRepo := catalog.NewRepository(pool, cfg.TxMaxAttempts)
	catalogService := catalog.NewService(catalogRepo, auditLogger, logger)

	unitsService := units.NewService(units.NewRepository(pool))

	ledgerRepo := ledger.NewRepository(pool, cfg.TxMaxAttempts)
	ledgerService := ledger.NewService(ledgerRepo, auditLogger, logger)

	engine := batch.NewEngine(batch.NewRepository(pool, cfg.TxMaxAttempts), batch.EngineConfig{
		Entries:     ledgerRepo,
		Idempotency: idempotency,
		Audit:       auditLogger,
		Integration: hooks,
		Metrics:     metrics,
		Logger:      logger,
	})

	requests := stockrequest.NewService(stockrequest.NewRepository(pool), stockrequest.Config{
		Catalog:     catalogRepo,
		Issuer:      engine,
		Approvals:   approvals,
		Integration: hooks,
		Logger:      logger,
	})

	reconciler := reconciliation.NewService(
		reconciliation.NewRepository(pool),
		reconciliation.NewCache(redisClient, cfg.ReconcileCacheTTL),
		loc,
		logger,
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return fmt.Errorf("init job client: %w", err)
	}
	defer jobClient.Close()

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Metrics: metrics,
		Health: map[string]app.HealthChecker{
			"postgres": func(r *http.Request) error { return pool.Ping(r.Context()) },
			"redis":    func(r *http.Request) error { return redisClient.Ping(r.Context()).Err() },
		},
		CatalogHandler:        catalog.NewHandler(logger, catalogService),
		UnitsHandler:          units.NewHandler(logger, unitsService),
		BatchHandler:          batch.NewHandler(logger, engine),
		LedgerHandler:         ledger.NewHandler(logger, ledgerService),
		StockRequestHandler:   stockrequest.NewHandler(logger, requests),
		ReconciliationHandler: reconciliation.NewHandler(logger, reconciler),
		JobHandler:            jobs.NewHandler(inspector, jobClient, logger),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
