package reconciliation

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/shared"
)

type feedTrip struct {
	company  int64
	driverID int64
	name     string
}

type memoryFeed struct {
	mu          sync.Mutex
	trips       map[int64]feedTrip
	allocations []Allocation
	logs        []DispensingLog
	allocCalls  int
	logCalls    int
	err         error
}

func newMemoryFeed() *memoryFeed {
	return &memoryFeed{trips: make(map[int64]feedTrip)}
}

func (f *memoryFeed) trip(id, company, driverID int64, name string) {
	f.trips[id] = feedTrip{company: company, driverID: driverID, name: name}
}

func (f *memoryFeed) allocate(tripID int64, qty int64, at time.Time) {
	t := f.trips[tripID]
	f.allocations = append(f.allocations, Allocation{TripID: tripID, DriverID: t.driverID, DriverName: t.name, Quantity: decimal.NewFromInt(qty), At: at})
}

func (f *memoryFeed) dispense(tripID int64, supplied, community int64, at time.Time) {
	t := f.trips[tripID]
	f.logs = append(f.logs, DispensingLog{
		TripID: tripID, DriverID: t.driverID, DriverName: t.name,
		Supplied: decimal.NewFromInt(supplied), Community: decimal.NewFromInt(community), At: at,
	})
}

func (f *memoryFeed) ListAllocations(_ context.Context, companyID int64, q Query) ([]Allocation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allocCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []Allocation
	for _, a := range f.allocations {
		if f.trips[a.TripID].company == companyID && q.Window.Contains(a.At) && (q.DriverID == 0 || a.DriverID == q.DriverID) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *memoryFeed) ListDispensingLogs(_ context.Context, companyID int64, q Query) ([]DispensingLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls++
	var out []DispensingLog
	for _, l := range f.logs {
		if f.trips[l.TripID].company == companyID && q.Window.Contains(l.At) && (q.DriverID == 0 || l.DriverID == q.DriverID) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *memoryFeed) ListCompanies(context.Context) ([]int64, error) {
	seen := map[int64]bool{}
	var out []int64
	for _, t := range f.trips {
		if !seen[t.company] {
			seen[t.company] = true
			out = append(out, t.company)
		}
	}
	return out, nil
}

func newTestService(t *testing.T, feed FeedPort) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	svc := NewService(feed, NewCache(client, time.Minute), time.UTC, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return svc, mr
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 8, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQuarterWindowUsesZeroIndexedMonths(t *testing.T) {
	cases := []struct {
		quarter    int
		start, end time.Month
		endYear    int
	}{
		{0, time.January, time.April, 2024},
		{1, time.April, time.July, 2024},
		{2, time.July, time.October, 2024},
		{3, time.October, time.January, 2025},
	}
	for _, tc := range cases {
		w, err := QuarterWindow(2024, tc.quarter, time.UTC)
		require.NoError(t, err)
		require.Equal(t, time.Date(2024, tc.start, 1, 0, 0, 0, 0, time.UTC), w.Start)
		require.Equal(t, time.Date(tc.endYear, tc.end, 1, 0, 0, 0, 0, time.UTC), w.End)
	}
	_, err := QuarterWindow(2024, 4, time.UTC)
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = QuarterWindow(2024, -1, time.UTC)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestMonthWindow(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	w, err := MonthWindow(2024, 12, jakarta)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.January, 1, 0, 0, 0, 0, jakarta), w.End)
	require.True(t, w.Contains(time.Date(2024, time.November, 30, 17, 0, 0, 0, time.UTC)))
	require.False(t, w.Contains(w.End))

	for _, m := range []int{0, 13} {
		_, err := MonthWindow(2024, m, time.UTC)
		require.ErrorIs(t, err, shared.ErrValidation)
	}
	_, err = NewWindow(day(2024, 3, 2), day(2024, 3, 1))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLogBelongsToItsOwnWindow(t *testing.T) {
	march, _ := MonthWindow(2024, 3, time.UTC)
	april, _ := MonthWindow(2024, 4, time.UTC)
	allocations := []Allocation{{TripID: 1, DriverID: 7, DriverName: "Dimas", Quantity: dec("1000"), At: day(2024, 3, 1)}}
	logs := []DispensingLog{{TripID: 1, DriverID: 7, DriverName: "Dimas", Supplied: dec("640"), Community: dec("20"), At: day(2024, 4, 1)}}

	rows := Summarize(march, allocations, logs)
	require.Len(t, rows, 1)
	require.True(t, rows[0].TotalAllocated.Equal(dec("1000")))
	require.True(t, rows[0].TotalSupplied.IsZero())
	require.True(t, rows[0].Balance.Equal(dec("1000")))
	require.Equal(t, 1, rows[0].TripCount)

	rows = Summarize(april, allocations, logs)
	require.Len(t, rows, 1)
	require.True(t, rows[0].TotalAllocated.IsZero())
	require.True(t, rows[0].TotalSupplied.Equal(dec("640")))
	require.True(t, rows[0].TotalCommunity.Equal(dec("20")))
	require.True(t, rows[0].Balance.Equal(dec("-660")))
}

func TestSummarizeGroupsByDriver(t *testing.T) {
	w, _ := MonthWindow(2024, 5, time.UTC)
	allocations := []Allocation{
		{TripID: 10, DriverID: 2, DriverName: "Budi", Quantity: dec("500"), At: day(2024, 5, 2)},
		{TripID: 10, DriverID: 2, DriverName: "Budi", Quantity: dec("250"), At: day(2024, 5, 2)},
		{TripID: 11, DriverID: 2, DriverName: "Budi", Quantity: dec("300"), At: day(2024, 5, 9)},
		{TripID: 12, DriverID: 1, DriverName: "Ayu", Quantity: dec("400.5"), At: day(2024, 5, 3)},
	}
	logs := []DispensingLog{
		{TripID: 10, DriverID: 2, DriverName: "Budi", Supplied: dec("600"), Community: dec("50"), At: day(2024, 5, 3)},
		{TripID: 10, DriverID: 2, DriverName: "Budi", Supplied: dec("90"), At: day(2024, 5, 4)},
	}

	rows := Summarize(w, allocations, logs)
	require.Len(t, rows, 2)

	require.Equal(t, "Ayu", rows[0].FullName)
	require.Equal(t, 1, rows[0].TripCount)
	require.True(t, rows[0].TotalSupplied.IsZero())
	require.True(t, rows[0].Balance.Equal(dec("400.5")))

	budi := rows[1]
	require.Equal(t, int64(2), budi.DriverID)
	require.Equal(t, 2, budi.TripCount)
	require.True(t, budi.TotalAllocated.Equal(dec("1050")))
	require.True(t, budi.TotalSupplied.Equal(dec("690")))
	require.True(t, budi.TotalCommunity.Equal(dec("50")))
	require.True(t, budi.Balance.Equal(dec("310")))
}

func TestReconcileCachesRepeatableResults(t *testing.T) {
	feed := newMemoryFeed()
	feed.trip(1, 3, 7, "Dimas")
	feed.allocate(1, 1000, day(2024, 3, 1))
	feed.dispense(1, 400, 0, day(2024, 3, 20))
	svc, mr := newTestService(t, feed)
	ctx := context.Background()
	scope := shared.Scope{CompanyID: 3}
	w, err := svc.Window(Selector{Period: PeriodMonthly, Year: 2024, Month: 3})
	require.NoError(t, err)

	first, err := svc.Reconcile(ctx, scope, Query{Window: w})
	require.NoError(t, err)
	second, err := svc.Reconcile(ctx, scope, Query{Window: w})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, feed.allocCalls)
	require.True(t, first.Rows[0].Balance.Equal(dec("600")))
	require.NotEmpty(t, mr.Keys())

	feed.dispense(1, 100, 0, day(2024, 3, 21))
	require.NoError(t, svc.Invalidate(ctx))
	third, err := svc.Reconcile(ctx, scope, Query{Window: w})
	require.NoError(t, err)
	require.Equal(t, 2, feed.allocCalls)
	require.True(t, third.Rows[0].Balance.Equal(dec("500")))

	other, err := svc.Reconcile(ctx, shared.Scope{CompanyID: 4}, Query{Window: w})
	require.NoError(t, err)
	require.Empty(t, other.Rows)
}

func TestReconcileFiltersDriver(t *testing.T) {
	feed := newMemoryFeed()
	feed.trip(1, 3, 7, "Dimas")
	feed.trip(2, 3, 8, "Eko")
	feed.allocate(1, 100, day(2024, 6, 1))
	feed.allocate(2, 200, day(2024, 6, 2))
	svc := NewService(feed, nil, nil, nil)

	w, err := svc.Window(Selector{Period: PeriodQuarterly, Year: 2024, Quarter: 1})
	require.NoError(t, err)
	report, err := svc.Reconcile(context.Background(), shared.Scope{CompanyID: 3}, Query{Window: w, DriverID: 8})
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)
	require.Equal(t, "Eko", report.Rows[0].FullName)

	all, err := svc.Reconcile(context.Background(), shared.Scope{CompanyID: 3}, Query{Window: w})
	require.NoError(t, err)
	require.Len(t, all.Rows, 2)

	_, err = svc.Reconcile(context.Background(), shared.Scope{CompanyID: 3}, Query{})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Window(Selector{Period: "weekly", Year: 2024})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReconcileSurfacesFeedErrors(t *testing.T) {
	feed := newMemoryFeed()
	feed.err = errors.New("feed offline")
	svc, mr := newTestService(t, feed)
	w, _ := MonthWindow(2024, 1, time.UTC)

	_, err := svc.Reconcile(context.Background(), shared.Scope{CompanyID: 1}, Query{Window: w})
	require.ErrorContains(t, err, "feed offline")
	for _, k := range mr.Keys() {
		require.NotContains(t, k, "reconciliation:report")
	}
}

func TestWarmupPopulatesCurrentAndPreviousMonth(t *testing.T) {
	feed := newMemoryFeed()
	feed.trip(1, 3, 7, "Dimas")
	feed.trip(2, 5, 9, "Fajar")
	svc, _ := newTestService(t, feed)
	svc.now = func() time.Time { return day(2024, 1, 15) }

	warmed, err := svc.Warmup(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, warmed)
	require.Equal(t, 4, feed.allocCalls)

	dec2023, _ := MonthWindow(2023, 12, time.UTC)
	_, err = svc.Reconcile(context.Background(), shared.Scope{CompanyID: 3}, Query{Window: dec2023})
	require.NoError(t, err)
	require.Equal(t, 4, feed.allocCalls)
}
