package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fieldstock/fieldstock/internal/jobs"
	"github.com/fieldstock/fieldstock/internal/platform/cache"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Reconciler precomputes reconciliation reports.
type Reconciler interface {
	Warmup(ctx context.Context) (int, error)
}

// ReconciliationWarmupJob fills the reconciliation cache.
type ReconciliationWarmupJob struct {
	Reconciler Reconciler
	Locker     *cache.Locker
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// Handle runs a warmup.
func (j *ReconciliationWarmupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconciliation warmup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskReconciliationWarmup)
	logger := loggerOr(j.Logger).With(slog.String("task", TaskReconciliationWarmup))
	err := withJobLock(ctx, j.Locker, shared.JobLockKey(TaskReconciliationWarmup, 0), logger, tracker, func(ctx context.Context) error {
		warmed, err := j.Reconciler.Warmup(ctx)
		j.Metrics.AddItems(TaskReconciliationWarmup, warmed)
		if err != nil {
			return err
		}
		logger.Info("reconciliation warmup completed", slog.Int("reports", warmed))
		return nil
	})
	return tracker.End(err)
}

// IdempotencyCleaner purges old idempotency keys.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob purges keys older than Retention.
type IdempotencyCleanupJob struct {
	Store     IdempotencyCleaner
	Retention time.Duration
	Locker    *cache.Locker
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// Handle runs a cleanup.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("idempotency cleanup: handler not configured")
	}
	if j.Retention <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.Metrics.Track(TaskIdempotencyCleanup)
	logger := loggerOr(j.Logger).With(slog.String("task", TaskIdempotencyCleanup))
	err := withJobLock(ctx, j.Locker, shared.JobLockKey(TaskIdempotencyCleanup, 0), logger, tracker, func(ctx context.Context) error {
		purged, err := j.Store.Cleanup(ctx, j.Retention)
		if err != nil {
			return err
		}
		j.Metrics.AddItems(TaskIdempotencyCleanup, int(purged))
		logger.Info("idempotency keys purged", slog.Int64("purged", purged), slog.Duration("retention", j.Retention))
		return nil
	})
	return tracker.End(err)
}
