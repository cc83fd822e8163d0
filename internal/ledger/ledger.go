package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/shared"
)

// Post appends one movement and applies it to the owner's balance: the catalog total
// for the warehouse, the cached wallet balance otherwise. A movement that would take
// the owner below zero fails with InsufficientStockError and writes nothing.
func Post(ctx context.Context, tx TxRepository, companyID int64, in PostInput) (Entry, error) {
	if in.Quantity.IsZero() {
		return Entry{}, shared.LineValidation(in.Line, "quantity", "must not be zero")
	}
	if !in.Owner.Valid() {
		return Entry{}, shared.LineValidation(in.Line, "owner", fmt.Sprintf("unknown owner %q", in.Owner))
	}
	ref, uom, err := resolveItem(ctx, tx, companyID, in.Item, in.Line)
	if err != nil {
		return Entry{}, err
	}
	if ref.IsAdHoc() && in.Owner.IsWarehouse() {
		return Entry{}, shared.LineValidation(in.Line, "item", "ad-hoc items cannot be held by the warehouse")
	}
	if in.UnitOfMeasure == "" {
		in.UnitOfMeasure = uom
	}
	if err := applyDelta(ctx, tx, companyID, in.Owner, ref, in.Quantity, in.Line); err != nil {
		return Entry{}, err
	}
	entry, err := tx.InsertLedgerEntry(ctx, Entry{
		CompanyID:      companyID,
		CatalogEntryID: ref.CatalogEntryID,
		ItemName:       ref.ItemName,
		Owner:          in.Owner,
		BatchID:        in.BatchID,
		Quantity:       in.Quantity,
		UnitOfMeasure:  in.UnitOfMeasure,
		Notes:          in.Notes,
		CreatedBy:      in.CreatedBy,
	})
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: insert entry: %w", err)
	}
	return entry, nil
}

// Edit replaces the quantity of an entry and applies the difference to the same
// balance Post touched. The new quantity must keep the sign of the old one. Entries of
// serialized items mirror unit states and are rejected.
func Edit(ctx context.Context, tx TxRepository, companyID, id int64, in EditInput) (Entry, error) {
	entry, err := tx.GetLedgerEntryForUpdate(ctx, companyID, id)
	if err != nil {
		return Entry{}, err
	}
	if in.Quantity.IsZero() {
		return Entry{}, shared.Validation("quantity", "must not be zero")
	}
	if in.Quantity.Sign() != entry.Quantity.Sign() {
		return Entry{}, shared.Validation("quantity", "must keep the sign of the original movement")
	}
	if err := rejectSerialized(ctx, tx, companyID, entry); err != nil {
		return Entry{}, err
	}
	notes := entry.Notes
	if in.Notes != nil {
		notes = strings.TrimSpace(*in.Notes)
	}
	delta := in.Quantity.Sub(entry.Quantity)
	if !delta.IsZero() {
		if err := applyDelta(ctx, tx, companyID, entry.Owner, entry.Ref(), delta, 0); err != nil {
			return Entry{}, err
		}
	}
	return tx.UpdateLedgerEntry(ctx, id, in.Quantity, notes)
}

// Delete reverses an entry against its owner and removes it.
func Delete(ctx context.Context, tx TxRepository, companyID, id int64) (Entry, error) {
	entry, err := tx.GetLedgerEntryForUpdate(ctx, companyID, id)
	if err != nil {
		return Entry{}, err
	}
	if err := applyDelta(ctx, tx, companyID, entry.Owner, entry.Ref(), entry.Quantity.Neg(), 0); err != nil {
		return Entry{}, err
	}
	if err := tx.DeleteLedgerEntry(ctx, companyID, id); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// BalanceOf returns the cached balance of owner for the item.
func BalanceOf(ctx context.Context, tx TxRepository, companyID int64, owner Owner, ref ItemRef) (decimal.Decimal, error) {
	if !owner.Valid() {
		return decimal.Zero, shared.Validation("owner", fmt.Sprintf("unknown owner %q", owner))
	}
	if owner.IsWarehouse() {
		if ref.IsAdHoc() {
			return decimal.Zero, shared.Validation("catalog_entry_id", "is required for the warehouse")
		}
		entry, err := tx.GetEntryForUpdate(ctx, companyID, *ref.CatalogEntryID)
		if err != nil {
			return decimal.Zero, err
		}
		return entry.TotalInStock, nil
	}
	bal, err := tx.GetOwnerBalanceForUpdate(ctx, companyID, owner, ref.Key())
	if errors.Is(err, ErrBalanceNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return bal.Quantity, nil
}

// VerifyBalance recomputes the balance from the ledger and fails with a
// FatalInvariantError when it differs from the cached one.
func VerifyBalance(ctx context.Context, tx TxRepository, companyID int64, owner Owner, ref ItemRef) (decimal.Decimal, decimal.Decimal, error) {
	cached, err := BalanceOf(ctx, tx, companyID, owner, ref)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	sum, err := tx.SumLedgerEntries(ctx, companyID, owner, ref.Key())
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if !sum.Equal(cached) {
		return cached, sum, &shared.FatalInvariantError{
			Invariant: "balance equals ledger sum",
			Detail:    fmt.Sprintf("%s %s: cached %s, ledger %s", owner, ref.Key(), cached, sum),
		}
	}
	return cached, sum, nil
}

func resolveItem(ctx context.Context, tx TxRepository, companyID int64, ref ItemRef, line int) (ItemRef, string, error) {
	if ref.IsAdHoc() {
		name := strings.Join(strings.Fields(ref.ItemName), " ")
		if name == "" {
			return ItemRef{}, "", shared.LineValidation(line, "item_name", "is required for ad-hoc items")
		}
		return AdHoc(name), "", nil
	}
	entry, err := tx.GetEntryForUpdate(ctx, companyID, *ref.CatalogEntryID)
	if err != nil {
		if errors.Is(err, catalog.ErrEntryNotFound) {
			return ItemRef{}, "", shared.LineValidation(line, "catalog_entry_id", fmt.Sprintf("unknown catalog entry %d", *ref.CatalogEntryID))
		}
		return ItemRef{}, "", err
	}
	return ItemRef{CatalogEntryID: &entry.ID, ItemName: entry.ProductName}, entry.UnitOfMeasure, nil
}

func applyDelta(ctx context.Context, tx TxRepository, companyID int64, owner Owner, ref ItemRef, delta decimal.Decimal, line int) error {
	if owner.IsWarehouse() {
		entry, err := tx.GetEntryForUpdate(ctx, companyID, *ref.CatalogEntryID)
		if err != nil {
			return err
		}
		if next := entry.TotalInStock.Add(delta); next.IsNegative() {
			return insufficient(owner, entry.Label(), ref, delta, entry.TotalInStock, line)
		}
		_, err = catalog.AdjustTotal(ctx, tx, companyID, entry.ID, delta)
		return err
	}

	key := ref.Key()
	bal, err := tx.GetOwnerBalanceForUpdate(ctx, companyID, owner, key)
	switch {
	case errors.Is(err, ErrBalanceNotFound):
		bal = Balance{CompanyID: companyID, Owner: owner, Key: key, CatalogEntryID: ref.CatalogEntryID, ItemName: ref.ItemName}
	case err != nil:
		return err
	}
	next := bal.Quantity.Add(delta)
	if next.IsNegative() {
		return insufficient(owner, ref.ItemName, ref, delta, bal.Quantity, line)
	}
	bal.Quantity = next
	return tx.UpsertOwnerBalance(ctx, bal)
}

func insufficient(owner Owner, item string, ref ItemRef, delta, available decimal.Decimal, line int) error {
	err := shared.NewInsufficientStock(string(owner), item, delta.Neg(), available)
	if ref.CatalogEntryID != nil {
		err.CatalogEntryID = *ref.CatalogEntryID
	}
	err.Line = line
	return err
}

func rejectSerialized(ctx context.Context, tx TxRepository, companyID int64, entry Entry) error {
	if entry.CatalogEntryID == nil {
		return nil
	}
	item, err := tx.GetEntryForUpdate(ctx, companyID, *entry.CatalogEntryID)
	if err != nil {
		return err
	}
	if item.TrackingMode == catalog.TrackingSerialized {
		return shared.Validation("quantity", fmt.Sprintf("%s is serialized; change it through unit operations", item.Label()))
	}
	return nil
}
