package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/catalog"
	jobmetrics "github.com/fieldstock/fieldstock/internal/jobs"
	"github.com/fieldstock/fieldstock/internal/platform/cache"
	"github.com/fieldstock/fieldstock/internal/shared"
)

type fakeCatalog struct {
	low map[int64][]catalog.Entry
	err error
}

func (f *fakeCatalog) Companies(context.Context) ([]int64, error) {
	return []int64{1, 2}, nil
}

func (f *fakeCatalog) LowStock(_ context.Context, companyID int64) ([]catalog.Entry, error) {
	return f.low[companyID], f.err
}

type fakeEvents struct {
	events []catalog.LowStockEvent
	err    error
}

func (f *fakeEvents) HandleLowStock(_ context.Context, evt catalog.LowStockEvent) error {
	f.events = append(f.events, evt)
	return f.err
}

type fakeGauge map[int64]int

func (g fakeGauge) SetLowStock(companyID int64, entries int) { g[companyID] = entries }

func newLocker(t *testing.T) (*cache.Locker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewLocker(client), client
}

func lowEntry(id int64, total, threshold int64) catalog.Entry {
	return catalog.Entry{ID: id, ProductName: "Fuse", TotalInStock: decimal.NewFromInt(total), LowStockThreshold: decimal.NewFromInt(threshold)}
}

func TestLowStockScanPublishesPerCompany(t *testing.T) {
	locker, _ := newLocker(t)
	source := &fakeCatalog{low: map[int64][]catalog.Entry{2: {lowEntry(7, 1, 5), lowEntry(8, 0, 2)}}}
	events := &fakeEvents{err: errors.New("broker down")}
	gauge := fakeGauge{}
	job := NewLowStockScanJob(source, events, gauge, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewLowStockScanTask(0, time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, fakeGauge{1: 0, 2: 2}, gauge)
	require.Len(t, events.events, 1)
	require.Equal(t, int64(2), events.events[0].CompanyID)
	require.Len(t, events.events[0].Items, 2)

	task, err = NewLowStockScanTask(1, time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, events.events, 1)
}

func TestLowStockScanFailsOnSourceError(t *testing.T) {
	job := NewLowStockScanJob(&fakeCatalog{err: errors.New("db down")}, nil, nil, nil, nil, nil)
	require.ErrorContains(t, job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, nil)), "db down")
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskLowStockScan, []byte("{"))), asynq.SkipRetry)
}

type countingReconciler struct{ calls int }

func (c *countingReconciler) Warmup(context.Context) (int, error) {
	c.calls++
	return 4, nil
}

func TestWarmupSkipsWhileLockHeld(t *testing.T) {
	locker, _ := newLocker(t)
	rec := &countingReconciler{}
	job := &ReconciliationWarmupJob{Reconciler: rec, Locker: locker}
	ctx := context.Background()

	err := locker.WithLock(ctx, shared.JobLockKey(TaskReconciliationWarmup, 0), time.Minute, func(ctx context.Context) error {
		return job.Handle(ctx, NewReconciliationWarmupTask())
	})
	require.NoError(t, err)
	require.Zero(t, rec.calls)

	require.NoError(t, job.Handle(ctx, NewReconciliationWarmupTask()))
	require.Equal(t, 1, rec.calls)
}

type fakeCleaner struct{ olderThan time.Duration }

func (f *fakeCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.olderThan = olderThan
	return 12, nil
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	store := &fakeCleaner{}
	job := &IdempotencyCleanupJob{Store: store, Retention: 72 * time.Hour}
	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 72*time.Hour, store.olderThan)

	job.Retention = 0
	require.ErrorIs(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()), asynq.SkipRetry)
}

type fakeEnqueuer struct{ companyID int64 }

func (f *fakeEnqueuer) EnqueueLowStockScan(_ context.Context, companyID int64) (string, error) {
	f.companyID = companyID
	return "task-1", nil
}

func TestHandlerHealthAndEnqueue(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := NewHandler(nil, enq, nil)

	rec := httptest.NewRecorder()
	h.health(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/jobs/low-stock-scan", nil)
	req = req.WithContext(shared.ContextWithScope(req.Context(), shared.Scope{CompanyID: 9}))
	rec = httptest.NewRecorder()
	h.lowStockScan(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "task-1", body["task_id"])
	require.Equal(t, int64(9), enq.companyID)

	rec = httptest.NewRecorder()
	NewHandler(nil, nil, nil).lowStockScan(rec, httptest.NewRequest(http.MethodPost, "/jobs/low-stock-scan", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
