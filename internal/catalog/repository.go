package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/platform/db"
)

// TxRepository exposes the catalog operations that run inside a ledger transaction.
type TxRepository interface {
	FindEntryByKey(ctx context.Context, companyID int64, key IdentityKey) (Entry, error)
	// InsertEntry returns the stored row and whether it was created. On an identity
	// conflict the existing row is returned with created=false.
	InsertEntry(ctx context.Context, entry Entry, key IdentityKey) (Entry, bool, error)
	RefreshEntryDetails(ctx context.Context, id int64, price *decimal.Decimal, manufacturer string) (Entry, error)
	GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error)
	SetEntryTotal(ctx context.Context, id int64, total decimal.Decimal) error
	CountEntryReferences(ctx context.Context, companyID, id int64) (References, error)
	DeleteEntry(ctx context.Context, companyID, id int64) error
}

// Repository persists catalog entries in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewRepository constructs Repository. attempts bounds serialization retries.
func NewRepository(pool *pgxpool.Pool, attempts int) *Repository {
	return &Repository{pool: pool, attempts: attempts}
}

// WithTx executes the callback inside a serializable transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, r.attempts, func(tx pgx.Tx) error {
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

const entryColumns = `id, company_id, product_name, part_no, category, manufacturer, unit_of_measure,
tracking_mode, last_purchase_price, low_stock_threshold, total_in_stock, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e     Entry
		mode  string
		price decimal.NullDecimal
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.ProductName, &e.PartNo, &e.Category, &e.Manufacturer,
		&e.UnitOfMeasure, &mode, &price, &e.LowStockThreshold, &e.TotalInStock, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	e.TrackingMode = TrackingMode(mode)
	if price.Valid {
		p := price.Decimal
		e.LastPurchasePrice = &p
	}
	return e, nil
}

func (q *Queries) FindEntryByKey(ctx context.Context, companyID int64, key IdentityKey) (Entry, error) {
	row := q.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM catalog_entries
WHERE company_id = $1 AND name_key = $2 AND part_key = $3`, companyID, key.NameKey, key.PartKey)
	return scanEntry(row)
}

func (q *Queries) InsertEntry(ctx context.Context, entry Entry, key IdentityKey) (Entry, bool, error) {
	var price decimal.NullDecimal
	if entry.LastPurchasePrice != nil {
		price = decimal.NewNullDecimal(*entry.LastPurchasePrice)
	}
	row := q.db.QueryRow(ctx, `INSERT INTO catalog_entries
    (company_id, product_name, part_no, name_key, part_key, category, manufacturer, unit_of_measure,
     tracking_mode, last_purchase_price, low_stock_threshold)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT ON CONSTRAINT catalog_entries_identity_key DO NOTHING
RETURNING `+entryColumns,
		entry.CompanyID, entry.ProductName, entry.PartNo, key.NameKey, key.PartKey, entry.Category,
		entry.Manufacturer, entry.UnitOfMeasure, string(entry.TrackingMode), price, entry.LowStockThreshold)
	created, err := scanEntry(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, ErrEntryNotFound) {
		return Entry{}, false, err
	}
	existing, err := q.FindEntryByKey(ctx, entry.CompanyID, key)
	if err != nil {
		return Entry{}, false, err
	}
	return existing, false, nil
}

func (q *Queries) RefreshEntryDetails(ctx context.Context, id int64, price *decimal.Decimal, manufacturer string) (Entry, error) {
	var p decimal.NullDecimal
	if price != nil {
		p = decimal.NewNullDecimal(*price)
	}
	row := q.db.QueryRow(ctx, `UPDATE catalog_entries
SET last_purchase_price = COALESCE($2, last_purchase_price),
    manufacturer = CASE WHEN $3 <> '' THEN $3 ELSE manufacturer END,
    updated_at = NOW()
WHERE id = $1
RETURNING `+entryColumns, id, p, manufacturer)
	return scanEntry(row)
}

func (q *Queries) GetEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error) {
	row := q.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM catalog_entries
WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id)
	return scanEntry(row)
}

func (q *Queries) SetEntryTotal(ctx context.Context, id int64, total decimal.Decimal) error {
	tag, err := q.db.Exec(ctx, `UPDATE catalog_entries SET total_in_stock = $2, updated_at = NOW() WHERE id = $1`, id, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (q *Queries) CountEntryReferences(ctx context.Context, companyID, id int64) (References, error) {
	var refs References
	err := q.db.QueryRow(ctx, `SELECT
    (SELECT COUNT(*) FROM stock_units WHERE company_id = $1 AND catalog_entry_id = $2),
    (SELECT COUNT(*) FROM ledger_entries WHERE company_id = $1 AND catalog_entry_id = $2)`,
		companyID, id).Scan(&refs.Units, &refs.LedgerEntries)
	return refs, err
}

func (q *Queries) DeleteEntry(ctx context.Context, companyID, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM catalog_entries WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return fmt.Errorf("catalog: entry %d still referenced: %w", id, err)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// GetEntry loads one entry without locking.
func (r *Repository) GetEntry(ctx context.Context, companyID, id int64) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM catalog_entries WHERE company_id = $1 AND id = $2`, companyID, id)
	return scanEntry(row)
}

// ListEntries returns entries ordered by name.
func (r *Repository) ListEntries(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, error) {
	var (
		where = []string{"company_id = $1"}
		args  = []any{companyID}
	)
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(product_name ILIKE $%d OR part_no ILIKE $%d)", len(args), len(args)))
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.TrackingMode != "" {
		args = append(args, string(filter.TrackingMode))
		where = append(where, fmt.Sprintf("tracking_mode = $%d", len(args)))
	}
	if filter.LowStockOnly {
		where = append(where, "low_stock_threshold > 0 AND total_in_stock <= low_stock_threshold")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM catalog_entries WHERE %s ORDER BY product_name, part_no, id LIMIT $%d OFFSET $%d`,
		entryColumns, strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListCompanies returns every company that owns catalog entries.
func (r *Repository) ListCompanies(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT company_id FROM catalog_entries ORDER BY company_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}
