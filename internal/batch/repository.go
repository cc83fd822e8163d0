package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/platform/db"
	"github.com/fieldstock/fieldstock/internal/units"
)

// TxRepository exposes every store operation a batch commit or reversal touches.
type TxRepository interface {
	ledger.TxRepository
	units.TxRepository
	// InsertBatch returns inserted=false when the source was already committed.
	InsertBatch(ctx context.Context, b Batch) (Batch, bool, error)
	GetBatchForUpdate(ctx context.Context, companyID, id int64) (Batch, error)
	InsertEffects(ctx context.Context, effects []Effect) error
	ListEffects(ctx context.Context, batchID int64) ([]Effect, error)
	DeleteEffects(ctx context.Context, batchID int64) error
	DeleteBatch(ctx context.Context, companyID, id int64) error
}

// Repository persists batches in PostgreSQL.
type Repository struct {
	pool     *pgxpool.Pool
	attempts int
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, attempts int) *Repository {
	return &Repository{pool: pool, attempts: attempts}
}

type (
	ledgerQueries = ledger.Queries
	unitQueries   = units.Queries
)

type txRepo struct {
	*ledgerQueries
	*unitQueries
	tx pgx.Tx
}

// WithTx executes the callback inside a serializable transaction, retrying on
// store contention.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithSerializableTx(ctx, r.pool, r.attempts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{ledgerQueries: ledger.NewQueries(tx), unitQueries: units.NewQueries(tx), tx: tx})
	})
}

const batchColumns = `id, company_id, kind, reference_name, counterparty, personnel_id, COALESCE(source, ''), created_by, created_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var (
		b    Batch
		kind string
	)
	if err := row.Scan(&b.ID, &b.CompanyID, &kind, &b.ReferenceName, &b.Counterparty, &b.PersonnelID, &b.Source, &b.CreatedBy, &b.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	b.Kind = Kind(kind)
	return b, nil
}

func nullableSource(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (r *txRepo) InsertBatch(ctx context.Context, b Batch) (Batch, bool, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO batches (company_id, kind, reference_name, counterparty, personnel_id, source, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT ON CONSTRAINT batches_source_key DO NOTHING
RETURNING `+batchColumns,
		b.CompanyID, string(b.Kind), b.ReferenceName, b.Counterparty, b.PersonnelID, nullableSource(b.Source), b.CreatedBy)
	created, err := scanBatch(row)
	if errors.Is(err, ErrBatchNotFound) {
		return Batch{}, false, nil
	}
	if err != nil {
		return Batch{}, false, err
	}
	return created, true, nil
}

func (r *txRepo) GetBatchForUpdate(ctx context.Context, companyID, id int64) (Batch, error) {
	return scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE company_id = $1 AND id = $2 FOR UPDATE`, companyID, id))
}

func (r *txRepo) InsertEffects(ctx context.Context, effects []Effect) error {
	if len(effects) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(effects))
	for _, e := range effects {
		rows = append(rows, []any{e.BatchID, e.Seq, string(e.Kind), e.LedgerEntryID, e.UnitID, string(e.FromStatus), string(e.ToStatus)})
	}
	_, err := r.tx.CopyFrom(ctx, pgx.Identifier{"batch_effects"},
		[]string{"batch_id", "seq", "kind", "ledger_entry_id", "unit_id", "from_status", "to_status"},
		pgx.CopyFromRows(rows))
	return err
}

func (r *txRepo) ListEffects(ctx context.Context, batchID int64) ([]Effect, error) {
	return listEffects(ctx, r.tx, batchID)
}

func listEffects(ctx context.Context, conn db.DBTX, batchID int64) ([]Effect, error) {
	rows, err := conn.Query(ctx, `SELECT batch_id, seq, kind, ledger_entry_id, unit_id, from_status, to_status
FROM batch_effects WHERE batch_id = $1 ORDER BY seq`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Effect
	for rows.Next() {
		var (
			e              Effect
			kind, from, to string
		)
		if err := rows.Scan(&e.BatchID, &e.Seq, &kind, &e.LedgerEntryID, &e.UnitID, &from, &to); err != nil {
			return nil, err
		}
		e.Kind = EffectKind(kind)
		e.FromStatus = units.Status(from)
		e.ToStatus = units.Status(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *txRepo) DeleteEffects(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM batch_effects WHERE batch_id = $1`, batchID)
	return err
}

func (r *txRepo) DeleteBatch(ctx context.Context, companyID, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM batches WHERE company_id = $1 AND id = $2`, companyID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// GetBatch loads a batch without locking.
func (r *Repository) GetBatch(ctx context.Context, companyID, id int64) (Batch, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE company_id = $1 AND id = $2`, companyID, id))
}

// FindBatchBySource loads the batch committed for source.
func (r *Repository) FindBatchBySource(ctx context.Context, companyID int64, source string) (Batch, error) {
	return scanBatch(r.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM batches WHERE company_id = $1 AND source = $2`, companyID, source))
}

// ListBatchEffects returns the effects of a batch in commit order.
func (r *Repository) ListBatchEffects(ctx context.Context, batchID int64) ([]Effect, error) {
	return listEffects(ctx, r.pool, batchID)
}

// ListBatches returns batches newest first.
func (r *Repository) ListBatches(ctx context.Context, companyID int64, filter ListFilter) ([]Batch, error) {
	var (
		where = []string{"company_id = $1"}
		args  = []any{companyID}
	)
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.PersonnelID > 0 {
		args = append(args, filter.PersonnelID)
		where = append(where, fmt.Sprintf("personnel_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM batches WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d`,
		batchColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
