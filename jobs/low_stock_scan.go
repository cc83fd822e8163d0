package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldstock/fieldstock/internal/catalog"
	jobmetrics "github.com/fieldstock/fieldstock/internal/jobs"
	"github.com/fieldstock/fieldstock/internal/platform/cache"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// LowStockSource lists low-stock entries per company.
type LowStockSource interface {
	Companies(ctx context.Context) ([]int64, error)
	LowStock(ctx context.Context, companyID int64) ([]catalog.Entry, error)
}

// LowStockHandler receives the scan result of one company.
type LowStockHandler interface {
	HandleLowStock(ctx context.Context, evt catalog.LowStockEvent) error
}

// LowStockGauge records how many entries a company has below threshold.
type LowStockGauge interface {
	SetLowStock(companyID int64, entries int)
}

// LowStockScanJob reports low-stock entries per company.
type LowStockScanJob struct {
	Catalog LowStockSource
	Events  LowStockHandler
	Gauge   LowStockGauge
	Locker  *cache.Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLowStockScanJob wires the scan handler.
func NewLowStockScanJob(source LowStockSource, events LowStockHandler, gauge LowStockGauge, locker *cache.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{
		Catalog: source,
		Events:  events,
		Gauge:   gauge,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes a scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.Metrics.Track(TaskLowStockScan)
	logger := loggerOr(j.Logger).With(slog.String("task", TaskLowStockScan))

	err := withJobLock(ctx, j.Locker, shared.JobLockKey(TaskLowStockScan, payload.CompanyID), logger, tracker, func(ctx context.Context) error {
		flagged, err := j.scan(ctx, payload.CompanyID, logger)
		j.Metrics.AddItems(TaskLowStockScan, flagged)
		return err
	})
	return tracker.End(err)
}

func (j *LowStockScanJob) scan(ctx context.Context, companyID int64, logger *slog.Logger) (int, error) {
	companies := []int64{companyID}
	if companyID <= 0 {
		var err error
		companies, err = j.Catalog.Companies(ctx)
		if err != nil {
			return 0, err
		}
	}
	now := j.clock()
	flagged := 0
	for _, id := range companies {
		entries, err := j.Catalog.LowStock(ctx, id)
		if err != nil {
			return flagged, err
		}
		flagged += len(entries)
		if j.Gauge != nil {
			j.Gauge.SetLowStock(id, len(entries))
		}
		if len(entries) == 0 || j.Events == nil {
			continue
		}
		if err := j.Events.HandleLowStock(ctx, catalog.NewLowStockEvent(id, entries, now)); err != nil {
			logger.Warn("publish low stock", slog.Int64("company_id", id), slog.Any("error", err))
		}
	}
	logger.Info("low stock scan completed", slog.Int("companies", len(companies)), slog.Int("flagged", flagged))
	return flagged, nil
}

// withJobLock runs fn single-flight across workers. A held lock means another
// worker is already running the job, so the run is skipped without error.
func withJobLock(ctx context.Context, locker *cache.Locker, key string, logger *slog.Logger, tracker *jobmetrics.Tracker, fn func(context.Context) error) error {
	err := locker.WithLock(ctx, key, 5*time.Minute, fn)
	if errors.Is(err, cache.ErrLockHeld) {
		logger.Info("job already running elsewhere", slog.String("lock", key))
		tracker.Skip()
		return nil
	}
	return err
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
