package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/units"
)

// RepositoryPort abstracts repository usage for the engine.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBatch(ctx context.Context, companyID, id int64) (Batch, error)
	FindBatchBySource(ctx context.Context, companyID int64, source string) (Batch, error)
	ListBatches(ctx context.Context, companyID int64, filter ListFilter) ([]Batch, error)
	ListBatchEffects(ctx context.Context, batchID int64) ([]Effect, error)
}

// LedgerReader lists the entries of a batch for detail views.
type LedgerReader interface {
	ListLedgerEntries(ctx context.Context, companyID int64, filter ledger.HistoryFilter) ([]ledger.Entry, error)
}

// IdempotencyPort guards replayed commit requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

const idempotencyModule = "batch"

// Engine coordinates batch commits and reversals.
type Engine struct {
	repo        RepositoryPort
	entries     LedgerReader
	idempotency IdempotencyPort
	audit       AuditPort
	integration IntegrationHandler
	metrics     Metrics
	logger      *slog.Logger
	now         func() time.Time
}

// EngineConfig groups optional collaborators.
type EngineConfig struct {
	Entries     LedgerReader
	Idempotency IdempotencyPort
	Audit       AuditPort
	Integration IntegrationHandler
	Metrics     Metrics
	Logger      *slog.Logger
}

// NewEngine builds Engine.
func NewEngine(repo RepositoryPort, cfg EngineConfig) *Engine {
	e := &Engine{
		repo:        repo,
		entries:     cfg.Entries,
		idempotency: cfg.Idempotency,
		audit:       cfg.Audit,
		integration: cfg.Integration,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         time.Now,
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// CommitReceiving records a delivery into the warehouse. Every line succeeds or
// nothing is written.
func (e *Engine) CommitReceiving(ctx context.Context, scope shared.Scope, in ReceivingInput, idemKey string) (Result, error) {
	if err := validateReceiving(in); err != nil {
		e.metrics.ObserveBatch(string(KindReceiving), "rejected")
		return Result{}, err
	}
	if in.CreatedBy == 0 {
		in.CreatedBy = scope.PersonnelID
	}
	var res Result
	err := e.guarded(ctx, scope, idemKey, func() error {
		return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			res, err = commitReceiving(ctx, tx, scope.CompanyID, in)
			return err
		})
	})
	if err != nil {
		e.observeFailure(KindReceiving, err)
		return Result{}, err
	}
	e.afterCommit(ctx, scope, res, len(in.Lines))
	return res, nil
}

// CommitIssuance moves stock from the warehouse to one engineer. Sufficiency of every
// line is checked before any posting.
func (e *Engine) CommitIssuance(ctx context.Context, scope shared.Scope, in IssuanceInput, idemKey string) (Result, error) {
	if err := validateIssuance(in); err != nil {
		e.metrics.ObserveBatch(string(KindIssuance), "rejected")
		return Result{}, err
	}
	if in.CreatedBy == 0 {
		in.CreatedBy = scope.PersonnelID
	}
	var res Result
	err := e.guarded(ctx, scope, idemKey, func() error {
		return e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			res, err = commitIssuance(ctx, tx, scope.CompanyID, in)
			return err
		})
	})
	if err != nil {
		e.observeFailure(KindIssuance, err)
		return Result{}, err
	}
	e.afterCommit(ctx, scope, res, len(in.Lines))
	return res, nil
}

// DeleteBatch reverses every effect of a batch and removes it, all or nothing.
func (e *Engine) DeleteBatch(ctx context.Context, scope shared.Scope, id int64) error {
	var (
		batch   Batch
		effects []Effect
	)
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		batch, effects, err = deleteBatch(ctx, tx, scope.CompanyID, id)
		return err
	})
	if err != nil {
		outcome := "error"
		if errors.Is(err, shared.ErrConflict) {
			outcome = "blocked"
		}
		e.metrics.ObserveReversal(outcome)
		if errors.Is(err, shared.ErrFatalInvariant) {
			e.logger.Error("batch reversal hit a ledger defect", slog.Int64("batch_id", id), slog.Any("error", err))
		}
		return err
	}
	e.metrics.ObserveReversal("reversed")
	e.logger.Info("batch reversed",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("batch_id", batch.ID),
		slog.String("kind", string(batch.Kind)),
		slog.Int("effects", len(effects)))
	e.record(ctx, scope, "batch:delete", batch.ID, map[string]any{
		"kind":      batch.Kind,
		"reference": batch.ReferenceName,
		"effects":   len(effects),
	})
	if e.integration != nil {
		evt := DeletedEvent{
			CompanyID: scope.CompanyID,
			BatchID:   batch.ID,
			Kind:      batch.Kind,
			Reference: batch.ReferenceName,
			Effects:   len(effects),
			DeletedAt: e.now().UTC(),
		}
		if err := e.integration.HandleBatchDeleted(ctx, evt); err != nil {
			e.logger.Warn("publish batch deleted", slog.Int64("batch_id", batch.ID), slog.Any("error", err))
		}
	}
	return nil
}

// LogConsumption records stock used in the field. Serialized units move from issued
// to fulfilled; every consumed quantity leaves the engineer's wallet.
func (e *Engine) LogConsumption(ctx context.Context, scope shared.Scope, in ConsumptionInput) ([]ledger.Entry, error) {
	if in.PersonnelID <= 0 {
		in.PersonnelID = scope.PersonnelID
	}
	if in.PersonnelID <= 0 {
		return nil, shared.Validation("personnel_id", "is required")
	}
	owner := ledger.PersonnelOwner(in.PersonnelID)
	var posted []ledger.Entry
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		post := func(item ledger.ItemRef, qty decimal.Decimal) error {
			entry, err := ledger.Post(ctx, tx, scope.CompanyID, ledger.PostInput{
				Item:      item,
				Owner:     owner,
				Quantity:  qty.Neg(),
				Notes:     in.Notes,
				CreatedBy: scope.PersonnelID,
			})
			if err != nil {
				return err
			}
			posted = append(posted, entry)
			return nil
		}
		switch item := in.Item.(type) {
		case AdHocItem:
			if !in.Quantity.IsPositive() {
				return shared.Validation("quantity", "must be positive")
			}
			return post(ledger.AdHoc(item.Name), in.Quantity)
		case CataloguedItem:
			entry, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, item.CatalogEntryID)
			if err != nil {
				return err
			}
			if entry.TrackingMode == catalog.TrackingBulk {
				if len(in.Barcodes) > 0 {
					return shared.Validation("barcodes", fmt.Sprintf("%s is a bulk item", entry.Label()))
				}
				if !in.Quantity.IsPositive() {
					return shared.Validation("quantity", "must be positive")
				}
				return post(ledger.Catalogued(entry.ID), in.Quantity)
			}
			if len(in.Barcodes) == 0 {
				return shared.Validation("barcodes", fmt.Sprintf("%s is serialized; scan the consumed units", entry.Label()))
			}
			staging := units.NewStaging()
			for _, barcode := range in.Barcodes {
				if err := staging.Stage(0, barcode); err != nil {
					return err
				}
				unit, err := tx.FindUnitByBarcode(ctx, units.BarcodeKey(barcode))
				if err != nil && !errors.Is(err, units.ErrUnitNotFound) {
					return err
				}
				if err != nil || unit.CompanyID != scope.CompanyID || unit.CatalogEntryID != entry.ID {
					return shared.Validation("barcodes", fmt.Sprintf("barcode %q is not a unit of %s", strings.TrimSpace(barcode), entry.Label()))
				}
				if unit.IssuedTo == nil || *unit.IssuedTo != in.PersonnelID {
					return shared.Validation("barcodes", fmt.Sprintf("barcode %q is not held by %s", strings.TrimSpace(barcode), owner))
				}
				if _, err := units.Transition(ctx, tx, scope.CompanyID, unit.ID, units.StatusFulfilled, nil); err != nil {
					return err
				}
				if err := post(ledger.Catalogued(entry.ID), decimal.NewFromInt(1)); err != nil {
					return err
				}
			}
			return nil
		default:
			return shared.Validation("item", "catalog_entry_id or item_name is required")
		}
	})
	if err != nil {
		if errors.Is(err, shared.ErrInsufficientStock) {
			e.metrics.ObserveInsufficientStock()
		}
		return nil, err
	}
	return posted, nil
}

// RemoveUnit writes off an in_stock unit and takes it out of the warehouse total.
func (e *Engine) RemoveUnit(ctx context.Context, scope shared.Scope, unitID int64, reason string) (units.Unit, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return units.Unit{}, shared.Validation("reason", "is required")
	}
	var unit units.Unit
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		unit, err = units.Transition(ctx, tx, scope.CompanyID, unitID, units.StatusRemoved, nil)
		if err != nil {
			return err
		}
		_, err = ledger.Post(ctx, tx, scope.CompanyID, ledger.PostInput{
			Item:      ledger.Catalogued(unit.CatalogEntryID),
			Owner:     ledger.Warehouse,
			Quantity:  decimal.NewFromInt(-1),
			Notes:     "write-off " + unit.Barcode + ": " + reason,
			CreatedBy: scope.PersonnelID,
		})
		return err
	})
	if err != nil {
		return units.Unit{}, err
	}
	e.record(ctx, scope, "unit:remove", unit.ID, map[string]any{"barcode": unit.Barcode, "reason": reason})
	return unit, nil
}

// Get returns a batch with its effects and surviving ledger entries.
func (e *Engine) Get(ctx context.Context, scope shared.Scope, id int64) (Detail, error) {
	batch, err := e.repo.GetBatch(ctx, scope.CompanyID, id)
	if err != nil {
		return Detail{}, err
	}
	effects, err := e.repo.ListBatchEffects(ctx, batch.ID)
	if err != nil {
		return Detail{}, err
	}
	detail := Detail{Batch: batch, Effects: effects}
	if e.entries != nil {
		detail.Entries, err = e.entries.ListLedgerEntries(ctx, scope.CompanyID, ledger.HistoryFilter{BatchID: batch.ID, Limit: 1000})
		if err != nil {
			return Detail{}, err
		}
	}
	return detail, nil
}

// List returns recent batches.
func (e *Engine) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Batch, error) {
	return e.repo.ListBatches(ctx, scope.CompanyID, filter)
}

// FindBySource returns the batch committed for a source tag.
func (e *Engine) FindBySource(ctx context.Context, scope shared.Scope, source string) (Batch, error) {
	return e.repo.FindBatchBySource(ctx, scope.CompanyID, source)
}

// guarded reserves the idempotency key around fn and releases it when fn fails.
func (e *Engine) guarded(ctx context.Context, scope shared.Scope, idemKey string, fn func() error) error {
	idemKey = strings.TrimSpace(idemKey)
	if idemKey == "" || e.idempotency == nil {
		return fn()
	}
	key := shared.IdempotencyKey(scope.CompanyID, idempotencyModule, idemKey)
	if err := e.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if delErr := e.idempotency.Delete(ctx, key); delErr != nil {
			e.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", delErr))
		}
		return err
	}
	return nil
}

func (e *Engine) observeFailure(kind Kind, err error) {
	outcome := "error"
	switch {
	case errors.Is(err, shared.ErrInsufficientStock):
		outcome = "insufficient"
		e.metrics.ObserveInsufficientStock()
	case errors.Is(err, shared.ErrDuplicateBarcode), errors.Is(err, shared.ErrValidation),
		errors.Is(err, shared.ErrInvalidTransition), errors.Is(err, shared.ErrConflict):
		outcome = "rejected"
	case errors.Is(err, shared.ErrFatalInvariant):
		e.logger.Error("batch commit hit a ledger defect", slog.String("kind", string(kind)), slog.Any("error", err))
	}
	e.metrics.ObserveBatch(string(kind), outcome)
}

func (e *Engine) afterCommit(ctx context.Context, scope shared.Scope, res Result, lines int) {
	b := res.Batch
	e.metrics.ObserveBatch(string(b.Kind), "committed")
	e.logger.Info("batch committed",
		slog.Int64("company_id", scope.CompanyID),
		slog.Int64("batch_id", b.ID),
		slog.String("kind", string(b.Kind)),
		slog.Int("lines", lines),
		slog.Int("units", len(res.UnitIDs)))
	e.record(ctx, scope, "batch:commit", b.ID, map[string]any{
		"kind":      b.Kind,
		"reference": b.ReferenceName,
		"lines":     lines,
		"units":     len(res.UnitIDs),
	})
	if e.integration == nil {
		return
	}
	evt := CommittedEvent{
		CompanyID:   scope.CompanyID,
		BatchID:     b.ID,
		Kind:        b.Kind,
		Reference:   b.ReferenceName,
		PersonnelID: b.PersonnelID,
		Lines:       lines,
		Units:       len(res.UnitIDs),
		CommittedAt: e.now().UTC(),
	}
	if err := e.integration.HandleBatchCommitted(ctx, evt); err != nil {
		e.logger.Warn("publish batch committed", slog.Int64("batch_id", b.ID), slog.Any("error", err))
	}
}

func (e *Engine) record(ctx context.Context, scope shared.Scope, action string, id int64, meta map[string]any) {
	if e.audit == nil {
		return
	}
	entity := "batch"
	if strings.HasPrefix(action, "unit:") {
		entity = "stock_unit"
	}
	err := e.audit.Record(ctx, shared.AuditLog{
		CompanyID: scope.CompanyID,
		ActorID:   scope.PersonnelID,
		Action:    action,
		Entity:    entity,
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
	})
	if err != nil {
		e.logger.Warn("batch audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
