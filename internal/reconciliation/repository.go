package reconciliation

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the trip feed from PostgreSQL. The feed is owned by the
// dispatch system; nothing here writes to it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const allocationsQuery = `SELECT a.trip_id, t.driver_id, d.full_name, a.quantity, a.allocated_at
FROM trip_allocations a
JOIN trips t ON t.id = a.trip_id
JOIN drivers d ON d.id = t.driver_id
WHERE t.company_id = $1 AND a.allocated_at >= $2 AND a.allocated_at < $3
  AND ($4::BIGINT = 0 OR t.driver_id = $4)
ORDER BY a.allocated_at, a.id`

const logsQuery = `SELECT l.trip_id, t.driver_id, d.full_name, l.quantity_dispensed, l.community_provision_qty, l.logged_at
FROM dispensing_logs l
JOIN trips t ON t.id = l.trip_id
JOIN drivers d ON d.id = t.driver_id
WHERE t.company_id = $1 AND l.logged_at >= $2 AND l.logged_at < $3
  AND ($4::BIGINT = 0 OR t.driver_id = $4)
ORDER BY l.logged_at, l.id`

// ListAllocations returns allocations whose own timestamp lies in the window.
func (r *Repository) ListAllocations(ctx context.Context, companyID int64, q Query) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx, allocationsQuery, companyID, q.Window.Start, q.Window.End, q.DriverID)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: allocations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Allocation, error) {
		var a Allocation
		err := row.Scan(&a.TripID, &a.DriverID, &a.DriverName, &a.Quantity, &a.At)
		return a, err
	})
}

// ListDispensingLogs returns logs whose own timestamp lies in the window,
// regardless of when their trip was dispatched.
func (r *Repository) ListDispensingLogs(ctx context.Context, companyID int64, q Query) ([]DispensingLog, error) {
	rows, err := r.pool.Query(ctx, logsQuery, companyID, q.Window.Start, q.Window.End, q.DriverID)
	if err != nil {
		return nil, fmt.Errorf("reconciliation: dispensing logs: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DispensingLog, error) {
		var l DispensingLog
		err := row.Scan(&l.TripID, &l.DriverID, &l.DriverName, &l.Supplied, &l.Community, &l.At)
		return l, err
	})
}

// ListCompanies returns every company with drivers on record.
func (r *Repository) ListCompanies(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM drivers ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
