package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// FeedPort reads the trip allocation and dispensing feed.
type FeedPort interface {
	ListAllocations(ctx context.Context, companyID int64, q Query) ([]Allocation, error)
	ListDispensingLogs(ctx context.Context, companyID int64, q Query) ([]DispensingLog, error)
	ListCompanies(ctx context.Context) ([]int64, error)
}

// Service computes driver reconciliation reports.
type Service struct {
	feed   FeedPort
	cache  *Cache
	loc    *time.Location
	logger *slog.Logger
	now    func() time.Time
}

// NewService wires the feed with an optional cache. Monthly and quarterly
// windows are derived in loc.
func NewService(feed FeedPort, cache *Cache, loc *time.Location, logger *slog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{feed: feed, cache: cache, loc: loc, logger: logger, now: time.Now}
}

// Selector derives a window from a calendar period.
type Selector struct {
	Period  Period
	Year    int
	Month   int
	Quarter int
}

// Window resolves a selector in the service time zone.
func (s *Service) Window(sel Selector) (Window, error) {
	if sel.Year < 1 {
		return Window{}, shared.Validation("year", "is required")
	}
	switch sel.Period {
	case PeriodMonthly:
		return MonthWindow(sel.Year, sel.Month, s.loc)
	case PeriodQuarterly:
		return QuarterWindow(sel.Year, sel.Quarter, s.loc)
	default:
		return Window{}, shared.Validation("period", fmt.Sprintf("unknown period %q", sel.Period))
	}
}

// Reconcile summarises the feed for one company over q.Window.
func (s *Service) Reconcile(ctx context.Context, scope shared.Scope, q Query) (Report, error) {
	if _, err := NewWindow(q.Window.Start, q.Window.End); err != nil {
		return Report{}, err
	}
	if q.DriverID < 0 {
		return Report{}, shared.Validation("driver_id", "must be positive")
	}
	key, err := s.cache.BuildKey(ctx, reportKey(scope.CompanyID, q))
	if err != nil {
		return Report{}, fmt.Errorf("reconciliation: cache key: %w", err)
	}
	var report Report
	err = s.cache.FetchJSON(ctx, key, &report, func(ctx context.Context) (any, error) {
		return s.compute(ctx, scope.CompanyID, q)
	})
	return report, err
}

func (s *Service) compute(ctx context.Context, companyID int64, q Query) (Report, error) {
	var (
		allocations []Allocation
		logs        []DispensingLog
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		allocations, err = s.feed.ListAllocations(gctx, companyID, q)
		return err
	})
	g.Go(func() error {
		var err error
		logs, err = s.feed.ListDispensingLogs(gctx, companyID, q)
		return err
	})
	if err := g.Wait(); err != nil {
		return Report{}, err
	}
	if q.DriverID > 0 {
		allocations = filterDriver(allocations, q.DriverID, func(a Allocation) int64 { return a.DriverID })
		logs = filterDriver(logs, q.DriverID, func(l DispensingLog) int64 { return l.DriverID })
	}
	return Report{Window: q.Window, Rows: Summarize(q.Window, allocations, logs)}, nil
}

func filterDriver[T any](in []T, driverID int64, id func(T) int64) []T {
	out := in[:0:0]
	for _, v := range in {
		if id(v) == driverID {
			out = append(out, v)
		}
	}
	return out
}

// Invalidate drops every cached report, for use after the feed changes.
func (s *Service) Invalidate(ctx context.Context) error {
	ver, err := s.cache.Bump(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation: bump cache: %w", err)
	}
	s.logger.Info("reconciliation cache invalidated", slog.Int64("version", ver))
	return nil
}

// Warmup precomputes the current and previous month for every company and
// returns how many reports were populated.
func (s *Service) Warmup(ctx context.Context) (int, error) {
	companies, err := s.feed.ListCompanies(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconciliation: list companies: %w", err)
	}
	now := s.now().In(s.loc)
	current, err := MonthWindow(now.Year(), int(now.Month()), s.loc)
	if err != nil {
		return 0, err
	}
	prev := current.Start.AddDate(0, -1, 0)
	previous, err := MonthWindow(prev.Year(), int(prev.Month()), s.loc)
	if err != nil {
		return 0, err
	}

	var (
		warmed int
		failed []string
	)
	for _, companyID := range companies {
		scope := shared.Scope{CompanyID: companyID}
		for _, w := range []Window{previous, current} {
			if _, err := s.Reconcile(ctx, scope, Query{Window: w}); err != nil {
				s.logger.Warn("reconciliation warmup failed",
					slog.Int64("company_id", companyID),
					slog.Time("start", w.Start),
					slog.Any("error", err))
				failed = append(failed, fmt.Sprintf("%d@%s", companyID, w.Start.Format("2006-01")))
				continue
			}
			warmed++
		}
	}
	if len(failed) > 0 {
		return warmed, fmt.Errorf("reconciliation: warmup failed for %s", strings.Join(failed, ", "))
	}
	return warmed, nil
}
