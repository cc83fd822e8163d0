package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/testing/memstore"
)

const companyID = 3

var scope = shared.Scope{CompanyID: companyID, PersonnelID: 7}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func seedEntry(t *testing.T, store *memstore.Store, name string, mode catalog.TrackingMode) int64 {
	t.Helper()
	var id int64
	err := store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		entry, _, err := catalog.FindOrCreate(ctx, tx, companyID, catalog.EntryInput{ProductName: name, TrackingMode: mode})
		id = entry.ID
		return err
	})
	require.NoError(t, err)
	return id
}

func post(store *memstore.Store, in ledger.PostInput) (ledger.Entry, error) {
	var entry ledger.Entry
	err := store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		var err error
		entry, err = ledger.Post(ctx, tx, companyID, in)
		return err
	})
	return entry, err
}

func balance(t *testing.T, svc *ledger.Service, owner ledger.Owner, ref ledger.ItemRef) decimal.Decimal {
	t.Helper()
	view, err := svc.Balance(context.Background(), scope, owner, ref, true)
	require.NoError(t, err)
	require.NotNil(t, view.LedgerSum)
	require.True(t, view.LedgerSum.Equal(view.Quantity))
	return view.Quantity
}

func TestPostMovesWarehouseAndWallets(t *testing.T) {
	store := memstore.New()
	svc := ledger.NewService(store.Ledger(), nil, nil)
	id := seedEntry(t, store, "Coolant", catalog.TrackingBulk)
	item := ledger.Catalogued(id)
	engineer := ledger.PersonnelOwner(12)

	_, err := post(store, ledger.PostInput{Item: item, Owner: ledger.Warehouse, Quantity: qty(30)})
	require.NoError(t, err)
	_, err = post(store, ledger.PostInput{Item: item, Owner: ledger.Warehouse, Quantity: qty(-12)})
	require.NoError(t, err)
	_, err = post(store, ledger.PostInput{Item: item, Owner: engineer, Quantity: qty(12)})
	require.NoError(t, err)

	require.True(t, balance(t, svc, ledger.Warehouse, item).Equal(qty(18)))
	require.True(t, balance(t, svc, engineer, item).Equal(qty(12)))
	require.True(t, balance(t, svc, ledger.PersonnelOwner(13), item).IsZero())

	entry, err := store.Catalog().GetEntry(context.Background(), companyID, id)
	require.NoError(t, err)
	require.True(t, entry.TotalInStock.Equal(qty(18)))
}

func TestPostRejectsOverdraw(t *testing.T) {
	store := memstore.New()
	id := seedEntry(t, store, "Fuse", catalog.TrackingBulk)
	item := ledger.Catalogued(id)
	_, err := post(store, ledger.PostInput{Item: item, Owner: ledger.Warehouse, Quantity: qty(5)})
	require.NoError(t, err)
	before := store.Counts()

	_, err = post(store, ledger.PostInput{Item: item, Owner: ledger.Warehouse, Quantity: qty(-8), Line: 4})
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Shortfall.Equal(qty(3)))
	require.Equal(t, 4, short.Line)
	require.Equal(t, id, short.CatalogEntryID)

	_, err = post(store, ledger.PostInput{Item: item, Owner: ledger.PersonnelOwner(1), Quantity: qty(-1)})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, before, store.Counts())
}

func TestPostValidation(t *testing.T) {
	store := memstore.New()
	id := seedEntry(t, store, "Fuse", catalog.TrackingBulk)

	_, err := post(store, ledger.PostInput{Item: ledger.Catalogued(id), Owner: ledger.Warehouse, Quantity: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = post(store, ledger.PostInput{Item: ledger.Catalogued(id), Owner: "truck:1", Quantity: qty(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = post(store, ledger.PostInput{Item: ledger.AdHoc("Rags"), Owner: ledger.Warehouse, Quantity: qty(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = post(store, ledger.PostInput{Item: ledger.AdHoc("  "), Owner: ledger.PersonnelOwner(1), Quantity: qty(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = post(store, ledger.PostInput{Item: ledger.Catalogued(999), Owner: ledger.Warehouse, Quantity: qty(1)})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Zero(t, store.Counts().LedgerEntries)
}

func TestEditEntryAppliesDifference(t *testing.T) {
	store := memstore.New()
	audit := &memstore.Audit{}
	svc := ledger.NewService(store.Ledger(), audit, nil)
	id := seedEntry(t, store, "Grease", catalog.TrackingBulk)
	item := ledger.Catalogued(id)
	engineer := ledger.PersonnelOwner(4)

	stocked, err := post(store, ledger.PostInput{Item: item, Owner: ledger.Warehouse, Quantity: qty(10)})
	require.NoError(t, err)
	held, err := post(store, ledger.PostInput{Item: item, Owner: engineer, Quantity: qty(6)})
	require.NoError(t, err)

	notes := "recount"
	edited, err := svc.EditEntry(context.Background(), scope, held.ID, ledger.EditInput{Quantity: qty(4), Notes: &notes})
	require.NoError(t, err)
	require.Equal(t, "recount", edited.Notes)
	require.True(t, balance(t, svc, engineer, item).Equal(qty(4)))

	_, err = svc.EditEntry(context.Background(), scope, held.ID, ledger.EditInput{Quantity: qty(-4)})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.EditEntry(context.Background(), scope, held.ID, ledger.EditInput{Quantity: decimal.Zero})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = post(store, ledger.PostInput{Item: item, Owner: ledger.Warehouse, Quantity: qty(-7)})
	require.NoError(t, err)
	_, err = svc.EditEntry(context.Background(), scope, stocked.ID, ledger.EditInput{Quantity: qty(5)})
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Shortfall.Equal(qty(2)))
	require.True(t, balance(t, svc, ledger.Warehouse, item).Equal(qty(3)))

	require.Equal(t, []string{"ledger:edit"}, audit.Actions())
}

func TestSerializedEntriesChangeOnlyThroughUnits(t *testing.T) {
	store := memstore.New()
	svc := ledger.NewService(store.Ledger(), nil, nil)
	id := seedEntry(t, store, "Radio", catalog.TrackingSerialized)
	entry, err := post(store, ledger.PostInput{Item: ledger.Catalogued(id), Owner: ledger.Warehouse, Quantity: qty(1)})
	require.NoError(t, err)

	_, err = svc.EditEntry(context.Background(), scope, entry.ID, ledger.EditInput{Quantity: qty(2)})
	require.ErrorIs(t, err, shared.ErrValidation)
	err = svc.DeleteEntry(context.Background(), scope, entry.ID)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Equal(t, 1, store.Counts().LedgerEntries)
}

func TestDeleteEntryReverses(t *testing.T) {
	store := memstore.New()
	svc := ledger.NewService(store.Ledger(), nil, nil)
	engineer := ledger.PersonnelOwner(5)
	item := ledger.AdHoc("Cable Ties")

	first, err := post(store, ledger.PostInput{Item: item, Owner: engineer, Quantity: qty(20)})
	require.NoError(t, err)
	_, err = post(store, ledger.PostInput{Item: ledger.AdHoc("cable  ties"), Owner: engineer, Quantity: qty(-15)})
	require.NoError(t, err)
	require.True(t, balance(t, svc, engineer, item).Equal(qty(5)))

	err = svc.DeleteEntry(context.Background(), scope, first.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	err = svc.DeleteEntry(context.Background(), scope, 12345)
	require.ErrorIs(t, err, shared.ErrNotFound)

	history, err := svc.History(context.Background(), scope, ledger.HistoryFilter{Owner: engineer})
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.NoError(t, svc.DeleteEntry(context.Background(), scope, history[0].ID))
	require.True(t, balance(t, svc, engineer, item).Equal(qty(20)))

	holdings, err := svc.Holdings(context.Background(), scope, engineer)
	require.NoError(t, err)
	require.Len(t, holdings, 1)
	require.Equal(t, "Cable Ties", holdings[0].ItemName)
	_, err = svc.Holdings(context.Background(), scope, ledger.Warehouse)
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestVerifyBalanceDetectsDrift(t *testing.T) {
	store := memstore.New()
	svc := ledger.NewService(store.Ledger(), nil, nil)
	id := seedEntry(t, store, "Hose", catalog.TrackingBulk)
	_, err := post(store, ledger.PostInput{Item: ledger.Catalogued(id), Owner: ledger.Warehouse, Quantity: qty(9)})
	require.NoError(t, err)

	err = store.Ledger().WithTx(context.Background(), func(ctx context.Context, tx ledger.TxRepository) error {
		return tx.SetEntryTotal(ctx, id, qty(11))
	})
	require.NoError(t, err)

	_, err = svc.Balance(context.Background(), scope, ledger.Warehouse, ledger.Catalogued(id), true)
	require.ErrorIs(t, err, shared.ErrFatalInvariant)

	view, err := svc.Balance(context.Background(), scope, ledger.Warehouse, ledger.Catalogued(id), false)
	require.NoError(t, err)
	require.True(t, view.Quantity.Equal(qty(11)))
}
