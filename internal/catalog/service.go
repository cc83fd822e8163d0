package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetEntry(ctx context.Context, companyID, id int64) (Entry, error)
	ListEntries(ctx context.Context, companyID int64, filter ListFilter) ([]Entry, error)
	ListCompanies(ctx context.Context) ([]int64, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// FindOrCreate resolves an entry by its case-insensitive (product name, part number)
// identity, creating it with a zero total when missing. Price and manufacturer of an
// existing entry are refreshed when supplied. The boolean reports creation.
func FindOrCreate(ctx context.Context, tx TxRepository, companyID int64, in EntryInput) (Entry, bool, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return Entry{}, false, err
	}
	key := in.Key()
	entry, err := tx.FindEntryByKey(ctx, companyID, key)
	switch {
	case err == nil:
	case errors.Is(err, ErrEntryNotFound):
		if in.TrackingMode == "" {
			return Entry{}, false, shared.Validation("tracking_mode", "is required for a new product")
		}
		candidate := Entry{
			CompanyID:         companyID,
			ProductName:       in.ProductName,
			PartNo:            in.PartNo,
			Category:          in.Category,
			Manufacturer:      in.Manufacturer,
			UnitOfMeasure:     in.UnitOfMeasure,
			TrackingMode:      in.TrackingMode,
			LastPurchasePrice: in.LastPurchasePrice,
			TotalInStock:      decimal.Zero,
		}
		if in.LowStockThreshold != nil {
			candidate.LowStockThreshold = *in.LowStockThreshold
		}
		var created bool
		entry, created, err = tx.InsertEntry(ctx, candidate, key)
		if err != nil {
			return Entry{}, false, fmt.Errorf("catalog: insert entry: %w", err)
		}
		if created {
			return entry, true, nil
		}
	default:
		return Entry{}, false, fmt.Errorf("catalog: find entry: %w", err)
	}

	if in.TrackingMode != "" && in.TrackingMode != entry.TrackingMode {
		return Entry{}, false, shared.Validation("tracking_mode",
			fmt.Sprintf("%s is tracked as %s", entry.Label(), entry.TrackingMode))
	}
	if in.LastPurchasePrice != nil || in.Manufacturer != "" {
		entry, err = tx.RefreshEntryDetails(ctx, entry.ID, in.LastPurchasePrice, in.Manufacturer)
		if err != nil {
			return Entry{}, false, fmt.Errorf("catalog: refresh entry: %w", err)
		}
	}
	return entry, false, nil
}

// AdjustTotal moves the cached warehouse total of an entry by delta. A negative result
// is a ledger defect and fails with a FatalInvariantError.
func AdjustTotal(ctx context.Context, tx TxRepository, companyID, id int64, delta decimal.Decimal) (Entry, error) {
	entry, err := tx.GetEntryForUpdate(ctx, companyID, id)
	if err != nil {
		return Entry{}, err
	}
	next := entry.TotalInStock.Add(delta)
	if next.IsNegative() {
		return Entry{}, &shared.FatalInvariantError{
			Invariant: "catalog total non-negative",
			Detail:    fmt.Sprintf("entry %d total %s adjusted by %s", id, entry.TotalInStock, delta),
		}
	}
	if err := tx.SetEntryTotal(ctx, id, next); err != nil {
		return Entry{}, err
	}
	entry.TotalInStock = next
	return entry, nil
}

// Service coordinates catalog operations.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// List returns the company catalog.
func (s *Service) List(ctx context.Context, scope shared.Scope, filter ListFilter) ([]Entry, error) {
	return s.repo.ListEntries(ctx, scope.CompanyID, filter)
}

// Get returns a single entry.
func (s *Service) Get(ctx context.Context, scope shared.Scope, id int64) (Entry, error) {
	return s.repo.GetEntry(ctx, scope.CompanyID, id)
}

// LowStock lists entries at or below their threshold.
func (s *Service) LowStock(ctx context.Context, companyID int64) ([]Entry, error) {
	return s.repo.ListEntries(ctx, companyID, ListFilter{LowStockOnly: true, Limit: 1000})
}

// Companies lists companies with a catalog.
func (s *Service) Companies(ctx context.Context) ([]int64, error) {
	return s.repo.ListCompanies(ctx)
}

// Create registers a product or returns the matching existing one.
func (s *Service) Create(ctx context.Context, scope shared.Scope, in EntryInput) (Entry, bool, error) {
	var (
		entry   Entry
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, created, err = FindOrCreate(ctx, tx, scope.CompanyID, in)
		return err
	})
	if err != nil {
		return Entry{}, false, err
	}
	if created {
		s.record(ctx, scope, "catalog:create", entry.ID, map[string]any{
			"product_name":  entry.ProductName,
			"part_no":       entry.PartNo,
			"tracking_mode": entry.TrackingMode,
		})
	}
	return entry, created, nil
}

// Delete removes an entry nothing references.
func (s *Service) Delete(ctx context.Context, scope shared.Scope, id int64) error {
	var label string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetEntryForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		refs, err := tx.CountEntryReferences(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if refs.Any() {
			return &shared.ConflictError{
				Entity: "catalog_entry",
				ID:     id,
				Reason: fmt.Sprintf("%s is referenced by %d units and %d ledger entries", entry.Label(), refs.Units, refs.LedgerEntries),
			}
		}
		label = entry.Label()
		return tx.DeleteEntry(ctx, scope.CompanyID, id)
	})
	if err != nil {
		return err
	}
	s.record(ctx, scope, "catalog:delete", id, map[string]any{"label": label})
	return nil
}

func (s *Service) record(ctx context.Context, scope shared.Scope, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: scope.CompanyID,
		ActorID:   scope.PersonnelID,
		Action:    action,
		Entity:    "catalog_entry",
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
	})
	if err != nil {
		s.logger.Warn("catalog audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
