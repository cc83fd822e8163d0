package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/platform/db"
)

// TxRepository exposes ledger writes together with the catalog rows they adjust.
type TxRepository interface {
	catalog.TxRepository
	InsertLedgerEntry(ctx context.Context, entry Entry) (Entry, error)
	GetLedgerEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error)
	UpdateLedgerEntry(ctx context.Context, id int64, quantity decimal.Decimal, notes string) (Entry, error)
	DeleteLedgerEntry(ctx context.Context, companyID, id int64) error
	GetOwnerBalanceForUpdate(ctx context.Context, companyID int64, owner Owner, key string) (Balance, error)
	UpsertOwnerBalance(ctx context.Context, balance Balance) error
	SumLedgerEntries(ctx context.Context, companyID int64, owner Owner, key string) (decimal.Decimal, error)
}

// Repository persists ledger entries in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewRepository constructs Repository.
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
	*catalog.Queries
	db db.DBTX
}

// NewQueries wraps a pool or transaction.
func NewQueries(conn db.DBTX) *Queries {
	return &Queries{Queries: catalog.NewQueries(conn), db: conn}
}

const entryColumns = `id, company_id, catalog_entry_id, item_name, owner_id, batch_id, quantity,
unit_of_measure, notes, created_by, created_at, updated_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e     Entry
		owner string
	)
	err := row.Scan(&e.ID, &e.CompanyID, &e.CatalogEntryID, &e.ItemName, &owner, &e.BatchID, &e.Quantity,
		&e.UnitOfMeasure, &e.Notes, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	e.Owner = Owner(owner)
	return e, nil
}

func (q *Queries) InsertLedgerEntry(ctx context.Context, entry Entry) (Entry, error) {
	row := q.db.QueryRow(ctx, `INSERT INTO ledger_entries
    (company_id, catalog_entry_id, item_name, balance_key, owner_id, batch_id, quantity, unit_of_measure, notes, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+entryColumns,
		entry.CompanyID, entry.CatalogEntryID, entry.ItemName, entry.Ref().Key(), string(entry.Owner), entry.BatchID,
		entry.Quantity, entry.UnitOfMeasure, entry.Notes, entry.CreatedBy)
	return scanEntry(row)
}

func (q *Queries) GetLedgerEntryForUpdate(ctx context.Context, companyID, id int64) (Entry, error) {
	return scanEntry(q.db.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries
WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id))
}

func (q *Queries) UpdateLedgerEntry(ctx context.Context, id int64, quantity decimal.Decimal, notes string) (Entry, error) {
	return scanEntry(q.db.QueryRow(ctx, `UPDATE ledger_entries SET quantity = $2, notes = $3, updated_at = NOW()
WHERE id = $1 RETURNING `+entryColumns, id, quantity, notes))
}

func (q *Queries) DeleteLedgerEntry(ctx context.Context, companyID, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM ledger_entries WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (q *Queries) GetOwnerBalanceForUpdate(ctx context.Context, companyID int64, owner Owner, key string) (Balance, error) {
	var (
		b        Balance
		ownerRaw string
	)
	err := q.db.QueryRow(ctx, `SELECT company_id, owner_id, balance_key, catalog_entry_id, item_name, qty, updated_at
FROM owner_balances WHERE company_id = $1 AND owner_id = $2 AND balance_key = $3 FOR UPDATE`,
		companyID, string(owner), key).Scan(&b.CompanyID, &ownerRaw, &b.Key, &b.CatalogEntryID, &b.ItemName, &b.Quantity, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Balance{}, ErrBalanceNotFound
		}
		return Balance{}, err
	}
	b.Owner = Owner(ownerRaw)
	return b, nil
}

func (q *Queries) UpsertOwnerBalance(ctx context.Context, b Balance) error {
	_, err := q.db.Exec(ctx, `INSERT INTO owner_balances (company_id, owner_id, balance_key, catalog_entry_id, item_name, qty)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (company_id, owner_id, balance_key)
DO UPDATE SET qty = EXCLUDED.qty, updated_at = NOW()`,
		b.CompanyID, string(b.Owner), b.Key, b.CatalogEntryID, b.ItemName, b.Quantity)
	return err
}

func (q *Queries) SumLedgerEntries(ctx context.Context, companyID int64, owner Owner, key string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := q.db.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM ledger_entries
WHERE company_id = $1 AND owner_id = $2 AND balance_key = $3`, companyID, string(owner), key).Scan(&sum)
	return sum, err
}

// ListLedgerEntries returns entries newest first.
func (r *Repository) ListLedgerEntries(ctx context.Context, companyID int64, filter HistoryFilter) ([]Entry, error) {
	var (
		where = []string{"company_id = $1"}
		args  = []any{companyID}
	)
	if filter.Owner != "" {
		args = append(args, string(filter.Owner))
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.CatalogEntryID > 0 {
		args = append(args, filter.CatalogEntryID)
		where = append(where, fmt.Sprintf("catalog_entry_id = $%d", len(args)))
	}
	if filter.BatchID > 0 {
		args = append(args, filter.BatchID)
		where = append(where, fmt.Sprintf("batch_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM ledger_entries WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		entryColumns, strings.Join(where, " AND "), len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListOwnerBalances returns the non-zero holdings of an owner.
func (r *Repository) ListOwnerBalances(ctx context.Context, companyID int64, owner Owner) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT company_id, owner_id, balance_key, catalog_entry_id, item_name, qty, updated_at
FROM owner_balances WHERE company_id = $1 AND owner_id = $2 AND qty <> 0 ORDER BY item_name`, companyID, string(owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		var (
			b        Balance
			ownerRaw string
		)
		if err := rows.Scan(&b.CompanyID, &ownerRaw, &b.Key, &b.CatalogEntryID, &b.ItemName, &b.Quantity, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.Owner = Owner(ownerRaw)
		out = append(out, b)
	}
	return out, rows.Err()
}
