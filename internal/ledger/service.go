package ledger

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListLedgerEntries(ctx context.Context, companyID int64, filter HistoryFilter) ([]Entry, error)
	ListOwnerBalances(ctx context.Context, companyID int64, owner Owner) ([]Balance, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes discrete ledger operations.
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

// EditEntry changes the quantity or notes of a bulk entry.
func (s *Service) EditEntry(ctx context.Context, scope shared.Scope, id int64, in EditInput) (Entry, error) {
	var before, after Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		before, err = tx.GetLedgerEntryForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		after, err = Edit(ctx, tx, scope.CompanyID, id, in)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.record(ctx, scope, "ledger:edit", id, map[string]any{
		"owner":        after.Owner,
		"old_quantity": before.Quantity.String(),
		"new_quantity": after.Quantity.String(),
	})
	return after, nil
}

// DeleteEntry reverses and removes a bulk entry.
func (s *Service) DeleteEntry(ctx context.Context, scope shared.Scope, id int64) error {
	var removed Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetLedgerEntryForUpdate(ctx, scope.CompanyID, id)
		if err != nil {
			return err
		}
		if err := rejectSerialized(ctx, tx, scope.CompanyID, entry); err != nil {
			return err
		}
		removed, err = Delete(ctx, tx, scope.CompanyID, id)
		return err
	})
	if err != nil {
		return err
	}
	s.record(ctx, scope, "ledger:delete", id, map[string]any{
		"owner":    removed.Owner,
		"item":     removed.ItemName,
		"quantity": removed.Quantity.String(),
	})
	return nil
}

// Balance answers balanceOf. With verify set the balance is recomputed from the
// ledger and a mismatch is reported as a FatalInvariantError.
func (s *Service) Balance(ctx context.Context, scope shared.Scope, owner Owner, ref ItemRef, verify bool) (BalanceView, error) {
	view := BalanceView{Owner: owner, CatalogEntryID: ref.CatalogEntryID, ItemName: ref.ItemName}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if !verify {
			qty, err := BalanceOf(ctx, tx, scope.CompanyID, owner, ref)
			view.Quantity = qty
			return err
		}
		cached, sum, err := VerifyBalance(ctx, tx, scope.CompanyID, owner, ref)
		view.Quantity = cached
		view.LedgerSum = &sum
		return err
	})
	if err != nil {
		return BalanceView{}, err
	}
	return view, nil
}

// History lists ledger entries.
func (s *Service) History(ctx context.Context, scope shared.Scope, filter HistoryFilter) ([]Entry, error) {
	if filter.Owner != "" && !filter.Owner.Valid() {
		return nil, shared.Validation("owner", "unknown owner")
	}
	return s.repo.ListLedgerEntries(ctx, scope.CompanyID, filter)
}

// Holdings lists what an owner currently holds outside the warehouse.
func (s *Service) Holdings(ctx context.Context, scope shared.Scope, owner Owner) ([]Balance, error) {
	if !owner.Valid() || owner.IsWarehouse() {
		return nil, shared.Validation("owner", "must be a personnel wallet")
	}
	return s.repo.ListOwnerBalances(ctx, scope.CompanyID, owner)
}

func (s *Service) record(ctx context.Context, scope shared.Scope, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: scope.CompanyID,
		ActorID:   scope.PersonnelID,
		Action:    action,
		Entity:    "ledger_entry",
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
	})
	if err != nil {
		s.logger.Warn("ledger audit failed", slog.String("action", action), slog.Any("error", err))
	}
}
