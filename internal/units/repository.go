package units

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/platform/db"
)

// TxRepository exposes unit registry writes used inside ledger transactions.
type TxRepository interface {
	// FindUnitByBarcode searches every company; callers must not expose the match.
	FindUnitByBarcode(ctx context.Context, barcodeKey string) (Unit, error)
	// InsertUnit returns inserted=false when the barcode is already registered.
	InsertUnit(ctx context.Context, companyID int64, in NewUnit, barcodeKey string) (Unit, bool, error)
	GetUnitForUpdate(ctx context.Context, companyID, id int64) (Unit, error)
	SetUnitStatus(ctx context.Context, id int64, status Status, issuedTo *int64) error
	DeleteUnit(ctx context.Context, companyID, id int64) error
}

// Queries implements TxRepository on any DBTX.
type Queries struct {
	db db.DBTX
}

// NewQueries wraps a pool or transaction.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{db: conn}
}

const unitColumns = `id, company_id, catalog_entry_id, barcode, sku_metadata, status, issued_to, created_at, updated_at`

func scanUnit(row pgx.Row) (Unit, error) {
	var (
		u      Unit
		status string
	)
	if err := row.Scan(&u.ID, &u.CompanyID, &u.CatalogEntryID, &u.Barcode, &u.SKUMetadata, &status, &u.IssuedTo, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Unit{}, ErrUnitNotFound
		}
		return Unit{}, err
	}
	u.Status = Status(status)
	return u, nil
}

func (q *Queries) FindUnitByBarcode(ctx context.Context, barcodeKey string) (Unit, error) {
	return scanUnit(q.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM stock_units WHERE barcode_key = $1`, barcodeKey))
}

func (q *Queries) InsertUnit(ctx context.Context, companyID int64, in NewUnit, barcodeKey string) (Unit, bool, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO stock_units (company_id, catalog_entry_id, barcode, barcode_key, sku_metadata, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT ON CONSTRAINT stock_units_barcode_key DO NOTHING
RETURNING `+unitColumns, companyID, in.CatalogEntryID, in.Barcode, barcodeKey, in.SKUMetadata, string(StatusInStock))
	unit, err := scanUnit(row)
	if errors.Is(err, ErrUnitNotFound) {
		return Unit{}, false, nil
	}
	if err != nil {
		return Unit{}, false, err
	}
	return unit, true, nil
}

func (q *Queries) GetUnitForUpdate(ctx context.Context, companyID, id int64) (Unit, error) {
	return scanUnit(q.db.QueryRow(ctx, `SELECT `+unitColumns+` FROM stock_units WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id))
}

func (q *Queries) SetUnitStatus(ctx context.Context, id int64, status Status, issuedTo *int64) error {
	tag, err := q.db.Exec(ctx, `UPDATE stock_units SET status = $2, issued_to = $3, updated_at = NOW() WHERE id = $1`, id, string(status), issuedTo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

func (q *Queries) DeleteUnit(ctx context.Context, companyID, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM stock_units WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

// Repository serves unit reads outside transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUnit loads a unit of the company.
func (r *Repository) GetUnit(ctx context.Context, companyID, id int64) (Unit, error) {
	return scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM stock_units WHERE company_id = $1 AND id = $2`, companyID, id))
}

// BarcodeRegistered reports whether any company registered the barcode.
func (r *Repository) BarcodeRegistered(ctx context.Context, barcodeKey string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_units WHERE barcode_key = $1)`, barcodeKey).Scan(&exists)
	return exists, err
}

// ListUnits lists units of the company.
func (r *Repository) ListUnits(ctx context.Context, companyID int64, filter ListFilter) ([]Unit, error) {
	var (
		where = []string{"company_id = $1"}
		args  = []any{companyID}
	)
	if filter.CatalogEntryID > 0 {
		args = append(args, filter.CatalogEntryID)
		where = append(where, fmt.Sprintf("catalog_entry_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.IssuedTo > 0 {
		args = append(args, filter.IssuedTo)
		where = append(where, fmt.Sprintf("issued_to = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM stock_units WHERE %s ORDER BY id LIMIT $%d`, unitColumns, strings.Join(where, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
