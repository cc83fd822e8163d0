package stockrequest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/platform/db"
)

// TxRepository exposes transactional request writes.
type TxRepository interface {
	InsertRequest(ctx context.Context, req Request) (Request, error)
	InsertLine(ctx context.Context, line Line) (Line, error)
	GetRequestForUpdate(ctx context.Context, companyID, id int64) (Request, error)
	// SetStatus moves the request from one status to another and fails with
	// ErrStatusChanged when the stored status is no longer from.
	SetStatus(ctx context.Context, companyID, id int64, from, to Status, actorID int64, note string) (Request, error)
	// MarkFulfilled moves an approved request to fulfilled and links the batch.
	MarkFulfilled(ctx context.Context, companyID, id, batchID int64) (Request, error)
}

// Repository persists stock requests in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps the callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewQueries(tx))
	})
}

// Queries implements TxRepository on any DBTX.
type Queries struct {
	db db.DBTX
}

// NewQueries wraps a pool or transaction.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{db: conn}
}

const requestColumns = `id, company_id, requester_id, status, notes, decided_by, decided_at, decision_note,
batch_id, fulfilled_at, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var (
		r      Request
		status string
	)
	err := row.Scan(&r.ID, &r.CompanyID, &r.RequesterID, &status, &r.Notes, &r.DecidedBy, &r.DecidedAt, &r.DecisionNote,
		&r.BatchID, &r.FulfilledAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrRequestNotFound
		}
		return Request{}, err
	}
	r.Status = Status(status)
	return r, nil
}

func (q *Queries) InsertRequest(ctx context.Context, req Request) (Request, error) {
	return scanRequest(q.db.QueryRow(ctx, `INSERT INTO stock_requests (company_id, requester_id, status, notes)
VALUES ($1, $2, $3, $4) RETURNING `+requestColumns, req.CompanyID, req.RequesterID, string(req.Status), req.Notes))
}

func (q *Queries) InsertLine(ctx context.Context, line Line) (Line, error) {
	err := q.db.QueryRow(ctx, `INSERT INTO stock_request_lines
    (request_id, line_no, item_name, catalog_entry_id, quantity, unit_of_measure)
VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
		line.RequestID, line.LineNo, line.ItemName, line.CatalogEntryID, line.Quantity, line.UnitOfMeasure).Scan(&line.ID)
	if err != nil {
		return Line{}, fmt.Errorf("insert request line: %w", err)
	}
	return line, nil
}

func (q *Queries) GetRequestForUpdate(ctx context.Context, companyID, id int64) (Request, error) {
	req, err := scanRequest(q.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests
WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id))
	if err != nil {
		return Request{}, err
	}
	req.Lines, err = listLines(ctx, q.db, id)
	return req, err
}

func (q *Queries) SetStatus(ctx context.Context, companyID, id int64, from, to Status, actorID int64, note string) (Request, error) {
	req, err := scanRequest(q.db.QueryRow(ctx, `UPDATE stock_requests
SET status = $4, decided_by = $5, decided_at = $6, decision_note = $7, updated_at = NOW()
WHERE company_id = $1 AND id = $2 AND status = $3
RETURNING `+requestColumns, companyID, id, string(from), string(to), actorID, time.Now().UTC(), note))
	if errors.Is(err, ErrRequestNotFound) {
		return Request{}, ErrStatusChanged
	}
	return req, err
}

func (q *Queries) MarkFulfilled(ctx context.Context, companyID, id, batchID int64) (Request, error) {
	req, err := scanRequest(q.db.QueryRow(ctx, `UPDATE stock_requests
SET status = $3, batch_id = $4, fulfilled_at = NOW(), updated_at = NOW()
WHERE company_id = $1 AND id = $2 AND status = $5
RETURNING `+requestColumns, companyID, id, string(StatusFulfilled), batchID, string(StatusApproved)))
	if errors.Is(err, ErrRequestNotFound) {
		return Request{}, ErrStatusChanged
	}
	return req, err
}

func listLines(ctx context.Context, conn db.DBTX, requestID int64) ([]Line, error) {
	rows, err := conn.Query(ctx, `SELECT id, request_id, line_no, item_name, catalog_entry_id, quantity, unit_of_measure
FROM stock_request_lines WHERE request_id = $1 ORDER BY line_no`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.RequestID, &l.LineNo, &l.ItemName, &l.CatalogEntryID, &l.Quantity, &l.UnitOfMeasure); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetRequest returns a request with its lines.
func (r *Repository) GetRequest(ctx context.Context, companyID, id int64) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM stock_requests
WHERE company_id = $1 AND id = $2`, companyID, id))
	if err != nil {
		return Request{}, err
	}
	req.Lines, err = listLines(ctx, r.pool, id)
	return req, err
}

// ListRequests returns request headers, newest first.
func (r *Repository) ListRequests(ctx context.Context, companyID int64, filter ListFilter) ([]Request, error) {
	var (
		where = []string{"company_id = $1"}
		args  = []any{companyID}
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RequesterID > 0 {
		args = append(args, filter.RequesterID)
		where = append(where, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM stock_requests WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		requestColumns, strings.Join(where, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
