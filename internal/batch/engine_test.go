package batch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/fieldstock/fieldstock/internal/batch"
	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/testing/memstore"
	"github.com/fieldstock/fieldstock/internal/units"
)

const companyID = 1

var scope = shared.Scope{CompanyID: companyID, PersonnelID: 9}

type recordingEvents struct {
	committed []batch.CommittedEvent
	deleted   []batch.DeletedEvent
}

func (r *recordingEvents) HandleBatchCommitted(_ context.Context, evt batch.CommittedEvent) error {
	r.committed = append(r.committed, evt)
	return nil
}

func (r *recordingEvents) HandleBatchDeleted(_ context.Context, evt batch.DeletedEvent) error {
	r.deleted = append(r.deleted, evt)
	return errors.New("broker down")
}

type recordingMetrics struct {
	batches      []string
	insufficient int
	reversals    []string
}

func (m *recordingMetrics) ObserveBatch(kind, outcome string) {
	m.batches = append(m.batches, kind+":"+outcome)
}
func (m *recordingMetrics) ObserveInsufficientStock()      { m.insufficient++ }
func (m *recordingMetrics) ObserveReversal(outcome string) { m.reversals = append(m.reversals, outcome) }

type fixture struct {
	store   *memstore.Store
	engine  *batch.Engine
	idem    *memstore.Idempotency
	audit   *memstore.Audit
	events  *recordingEvents
	metrics *recordingMetrics
}

func newFixture() *fixture {
	f := &fixture{
		store:   memstore.New(),
		idem:    memstore.NewIdempotency(),
		audit:   &memstore.Audit{},
		events:  &recordingEvents{},
		metrics: &recordingMetrics{},
	}
	f.engine = batch.NewEngine(f.store.Batches(), batch.EngineConfig{
		Entries:     f.store.Ledger(),
		Idempotency: f.idem,
		Audit:       f.audit,
		Integration: f.events,
		Metrics:     f.metrics,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func qty(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func requireQty(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, got.Equal(qty(want)), "want %d, got %s", want, got)
}

func bulkLine(name, part string, n int64) batch.ReceivingLine {
	return batch.ReceivingLine{ProductName: name, PartNo: part, TrackingMode: catalog.TrackingBulk, Quantity: qty(n)}
}

func serialLine(name, part string, barcodes ...string) batch.ReceivingLine {
	line := batch.ReceivingLine{ProductName: name, PartNo: part, TrackingMode: catalog.TrackingSerialized}
	for _, b := range barcodes {
		line.Units = append(line.Units, batch.ScannedUnit{Barcode: b})
	}
	return line
}

func (f *fixture) receive(t *testing.T, lines ...batch.ReceivingLine) batch.Result {
	t.Helper()
	res, err := f.engine.CommitReceiving(context.Background(), scope, batch.ReceivingInput{
		Supplier:  "Acme Parts",
		Reference: "DO-" + strconv.Itoa(len(f.events.committed)+1),
		Lines:     lines,
	}, "")
	require.NoError(t, err)
	return res
}

func (f *fixture) issue(personnelID int64, lines ...batch.IssuanceLine) (batch.Result, error) {
	return f.engine.CommitIssuance(context.Background(), scope, batch.IssuanceInput{
		PersonnelID: personnelID,
		BatchName:   "Run " + strconv.FormatInt(personnelID, 10),
		Lines:       lines,
	}, "")
}

func catalogued(id int64, n int64, barcodes ...string) batch.IssuanceLine {
	return batch.IssuanceLine{Item: batch.CataloguedItem{CatalogEntryID: id}, Quantity: qty(n), Barcodes: barcodes}
}

func (f *fixture) entry(t *testing.T, id int64) catalog.Entry {
	t.Helper()
	e, err := f.store.Catalog().GetEntry(context.Background(), companyID, id)
	require.NoError(t, err)
	return e
}

func (f *fixture) wallet(personnelID, entryID int64) decimal.Decimal {
	return f.store.Balance(companyID, ledger.PersonnelOwner(personnelID), ledger.Catalogued(entryID).Key())
}

// requireLedgerConsistent checks that every cached balance equals the sum of its entries.
func (f *fixture) requireLedgerConsistent(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	entries, err := f.store.Ledger().ListLedgerEntries(ctx, companyID, ledger.HistoryFilter{})
	require.NoError(t, err)
	sums := map[ledger.Owner]map[string]decimal.Decimal{}
	for _, e := range entries {
		if sums[e.Owner] == nil {
			sums[e.Owner] = map[string]decimal.Decimal{}
		}
		sums[e.Owner][e.Ref().Key()] = sums[e.Owner][e.Ref().Key()].Add(e.Quantity)
	}
	catalogEntries, err := f.store.Catalog().ListEntries(ctx, companyID, catalog.ListFilter{})
	require.NoError(t, err)
	for _, ce := range catalogEntries {
		sum := sums[ledger.Warehouse][ledger.Catalogued(ce.ID).Key()]
		require.Truef(t, sum.Equal(ce.TotalInStock), "entry %d: total %s, ledger %s", ce.ID, ce.TotalInStock, sum)
	}
	for owner, byKey := range sums {
		if owner.IsWarehouse() {
			continue
		}
		for key, sum := range byKey {
			cached := f.store.Balance(companyID, owner, key)
			require.Truef(t, sum.Equal(cached), "%s %s: cached %s, ledger %s", owner, key, cached, sum)
		}
	}
}

func TestReceivingBulkCreatesEntryWithTotal(t *testing.T) {
	f := newFixture()
	price := decimal.NewFromInt(2000)
	line := bulkLine("Oil Filter", "OF-100", 50)
	line.UnitPrice = &price

	res := f.receive(t, line)
	require.Len(t, res.CatalogEntries, 1)
	entry := f.entry(t, res.CatalogEntries[0])
	requireQty(t, 50, entry.TotalInStock)
	require.Equal(t, catalog.TrackingBulk, entry.TrackingMode)
	require.NotNil(t, entry.LastPurchasePrice)
	require.True(t, entry.LastPurchasePrice.Equal(price))

	again := f.receive(t, bulkLine("  oil   filter ", "of-100", 30))
	require.Equal(t, res.CatalogEntries, again.CatalogEntries)
	requireQty(t, 80, f.entry(t, res.CatalogEntries[0]).TotalInStock)

	f.requireLedgerConsistent(t)
	require.Equal(t, []string{"receiving:committed", "receiving:committed"}, f.metrics.batches)
	require.Len(t, f.events.committed, 2)
	require.Equal(t, []string{"batch:commit", "batch:commit"}, f.audit.Actions())
}

func TestReceivingRejectsDuplicateBarcodes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.engine.CommitReceiving(ctx, scope, batch.ReceivingInput{
		Reference: "DO-1",
		Lines:     []batch.ReceivingLine{serialLine("Battery", "BT-1", "SN-001", " sn-001")},
	}, "")
	var dup *shared.DuplicateBarcodeError
	require.ErrorAs(t, err, &dup)
	require.Equal(t, shared.DuplicateSameBatch, dup.Scope)
	require.Equal(t, 1, dup.Line)
	require.Equal(t, memstore.Counts{}, f.store.Counts())

	first := f.receive(t, serialLine("Battery", "BT-1", "SN-001"))
	require.Len(t, first.UnitIDs, 1)
	before := f.store.Counts()

	_, err = f.engine.CommitReceiving(ctx, scope, batch.ReceivingInput{
		Reference: "DO-2",
		Lines: []batch.ReceivingLine{
			bulkLine("Grease", "", 4),
			serialLine("Battery", "BT-1", "SN-002", "SN-001"),
		},
	}, "")
	require.ErrorAs(t, err, &dup)
	require.Equal(t, shared.DuplicateGlobal, dup.Scope)
	require.Equal(t, 2, dup.Line)
	require.Equal(t, before, f.store.Counts())
}

func TestReceivingIsAllOrNothing(t *testing.T) {
	f := newFixture()
	f.receive(t, serialLine("Radio", "RD-1", "RAD-1"))
	before := f.store.Counts()
	catalogBefore, err := f.store.Catalog().ListEntries(context.Background(), companyID, catalog.ListFilter{})
	require.NoError(t, err)

	_, err = f.engine.CommitReceiving(context.Background(), scope, batch.ReceivingInput{
		Reference: "DO-9",
		Lines: []batch.ReceivingLine{
			bulkLine("Cable", "CB-1", 10),
			bulkLine("Fuse", "FU-1", 20),
			serialLine("Modem", "MD-1", "MOD-1", "MOD-2"),
			serialLine("Radio", "RD-1", "RAD-2", "RAD-1"),
		},
	}, "")
	require.ErrorIs(t, err, shared.ErrDuplicateBarcode)

	require.Equal(t, before, f.store.Counts())
	catalogAfter, err := f.store.Catalog().ListEntries(context.Background(), companyID, catalog.ListFilter{})
	require.NoError(t, err)
	require.Equal(t, catalogBefore, catalogAfter)
	require.Contains(t, f.metrics.batches, "receiving:rejected")
}

func TestReceivingValidation(t *testing.T) {
	f := newFixture()
	cases := []struct {
		name  string
		in    batch.ReceivingInput
		field string
		line  int
	}{
		{"missing reference", batch.ReceivingInput{Lines: []batch.ReceivingLine{bulkLine("A", "", 1)}}, "reference", 0},
		{"no lines", batch.ReceivingInput{Reference: "R"}, "lines", 0},
		{"zero bulk", batch.ReceivingInput{Reference: "R", Lines: []batch.ReceivingLine{bulkLine("A", "", 0)}}, "quantity", 1},
		{"serial count mismatch", batch.ReceivingInput{Reference: "R", Lines: []batch.ReceivingLine{
			bulkLine("A", "", 1),
			func() batch.ReceivingLine { l := serialLine("B", "", "X1"); l.Quantity = qty(2); return l }(),
		}}, "quantity", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.CommitReceiving(context.Background(), scope, tc.in, "")
			var ve *shared.ValidationError
			require.ErrorAs(t, err, &ve)
			require.Equal(t, tc.field, ve.Field)
			require.Equal(t, tc.line, ve.Line)
		})
	}
	require.Equal(t, memstore.Counts{}, f.store.Counts())
}

func TestReceivingRejectsTrackingModeMismatch(t *testing.T) {
	f := newFixture()
	f.receive(t, serialLine("Battery", "BT-1", "SN-1"))
	before := f.store.Counts()

	_, err := f.engine.CommitReceiving(context.Background(), scope, batch.ReceivingInput{
		Reference: "DO-2",
		Lines:     []batch.ReceivingLine{bulkLine("battery", "bt-1", 3)},
	}, "")
	var ve *shared.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, "tracking_mode", ve.Field)
	require.Equal(t, 1, ve.Line)
	require.Equal(t, before, f.store.Counts())
}

func TestIssuanceReportsShortfall(t *testing.T) {
	f := newFixture()
	id := f.receive(t, bulkLine("Brake Pad", "BP-1", 50)).CatalogEntries[0]

	_, err := f.issue(101, catalogued(id, 40))
	require.NoError(t, err)
	before := f.store.Counts()

	_, err = f.issue(102, catalogued(id, 20))
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	requireQty(t, 20, short.Requested)
	requireQty(t, 10, short.Available)
	requireQty(t, 10, short.Shortfall)
	require.Equal(t, id, short.CatalogEntryID)
	require.Equal(t, 1, short.Line)

	requireQty(t, 10, f.entry(t, id).TotalInStock)
	requireQty(t, 40, f.wallet(101, id))
	requireQty(t, 0, f.wallet(102, id))
	require.Equal(t, before, f.store.Counts())
	require.Equal(t, 1, f.metrics.insufficient)
	require.Contains(t, f.metrics.batches, "issuance:insufficient")
	f.requireLedgerConsistent(t)
}

func TestIssuanceChecksCumulativeDemand(t *testing.T) {
	f := newFixture()
	id := f.receive(t, bulkLine("Bolt", "M8", 10)).CatalogEntries[0]
	before := f.store.Counts()

	_, err := f.issue(101, catalogued(id, 6), catalogued(id, 6))
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.Equal(t, 2, short.Line)
	requireQty(t, 2, short.Shortfall)
	require.Equal(t, before, f.store.Counts())
	requireQty(t, 10, f.entry(t, id).TotalInStock)
}

func TestIssuancePostsTransferPairs(t *testing.T) {
	f := newFixture()
	res := f.receive(t, bulkLine("Air Filter", "AF-1", 100), serialLine("Router", "RT-1", "R-1", "R-2", "R-3"))
	bulkID, serialID := res.CatalogEntries[0], res.CatalogEntries[1]

	issued, err := f.issue(101, catalogued(bulkID, 3), catalogued(serialID, 0, "R-1", "r-3"))
	require.NoError(t, err)
	require.Len(t, issued.UnitIDs, 2)
	require.Len(t, issued.EntryIDs, 6)

	requireQty(t, 97, f.entry(t, bulkID).TotalInStock)
	requireQty(t, 3, f.wallet(101, bulkID))
	requireQty(t, 1, f.entry(t, serialID).TotalInStock)
	requireQty(t, 2, f.wallet(101, serialID))

	held, err := f.store.Units().ListUnits(context.Background(), companyID, units.ListFilter{IssuedTo: 101})
	require.NoError(t, err)
	require.Len(t, held, 2)
	for _, u := range held {
		require.Equal(t, units.StatusIssued, u.Status)
	}
	f.requireLedgerConsistent(t)
}

func TestIssuanceRejectsUnitNotInStock(t *testing.T) {
	f := newFixture()
	id := f.receive(t, serialLine("Router", "RT-1", "R-1", "R-2")).CatalogEntries[0]
	_, err := f.issue(101, catalogued(id, 1, "R-1"))
	require.NoError(t, err)
	before := f.store.Counts()

	_, err = f.issue(102, catalogued(id, 0, "R-2", "R-1"))
	var it *shared.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	require.Equal(t, string(units.StatusIssued), it.From)
	require.Equal(t, before, f.store.Counts())

	_, err = f.issue(102, catalogued(id, 0))
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.issue(102, catalogued(id, 0, "NOPE"))
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestAdHocIssuanceStaysWithPersonnel(t *testing.T) {
	f := newFixture()
	res, err := f.issue(101, batch.IssuanceLine{Item: batch.AdHocItem{Name: "Zip  Ties", UnitOfMeasure: "pack"}, Quantity: qty(10)})
	require.NoError(t, err)
	key := ledger.AdHoc("zip ties").Key()
	requireQty(t, 10, f.store.Balance(companyID, ledger.PersonnelOwner(101), key))

	require.NoError(t, f.engine.DeleteBatch(context.Background(), scope, res.Batch.ID))
	requireQty(t, 0, f.store.Balance(companyID, ledger.PersonnelOwner(101), key))
	f.requireLedgerConsistent(t)
}

func TestDeleteIssuanceRestoresBalances(t *testing.T) {
	f := newFixture()
	id := f.receive(t, bulkLine("Air Filter", "AF-1", 100)).CatalogEntries[0]
	issued, err := f.issue(101, catalogued(id, 3))
	require.NoError(t, err)
	requireQty(t, 97, f.entry(t, id).TotalInStock)
	requireQty(t, 3, f.wallet(101, id))

	require.NoError(t, f.engine.DeleteBatch(context.Background(), scope, issued.Batch.ID))
	requireQty(t, 100, f.entry(t, id).TotalInStock)
	requireQty(t, 0, f.wallet(101, id))

	_, err = f.engine.Get(context.Background(), scope, issued.Batch.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Len(t, f.events.deleted, 1)
	require.Equal(t, []string{"reversed"}, f.metrics.reversals)
	f.requireLedgerConsistent(t)
}

func TestCommitThenDeleteIsIdentity(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	base := f.receive(t, bulkLine("Gasket", "GK-1", 12), serialLine("Sensor", "SE-1", "S-1", "S-2", "S-3"))
	bulkID, serialID := base.CatalogEntries[0], base.CatalogEntries[1]

	snapshot := func() map[string]string {
		state := map[string]string{}
		entries, err := f.store.Catalog().ListEntries(ctx, companyID, catalog.ListFilter{})
		require.NoError(t, err)
		for _, e := range entries {
			state["entry:"+strconv.FormatInt(e.ID, 10)] = e.TotalInStock.String()
		}
		all, err := f.store.Units().ListUnits(ctx, companyID, units.ListFilter{})
		require.NoError(t, err)
		for _, u := range all {
			holder := ""
			if u.IssuedTo != nil {
				holder = strconv.FormatInt(*u.IssuedTo, 10)
			}
			state["unit:"+u.Barcode] = string(u.Status) + "/" + holder
		}
		balances, err := f.store.Ledger().ListOwnerBalances(ctx, companyID, "")
		require.NoError(t, err)
		for _, b := range balances {
			state["balance:"+string(b.Owner)+":"+b.Key] = b.Quantity.String()
		}
		state["ledger_entries"] = strconv.Itoa(f.store.Counts().LedgerEntries)
		return state
	}

	first, err := f.issue(101, catalogued(bulkID, 2), catalogued(serialID, 0, "S-1"))
	require.NoError(t, err)
	before := snapshot()

	second, err := f.issue(102, catalogued(bulkID, 5), catalogued(serialID, 0, "S-2", "S-3"),
		batch.IssuanceLine{Item: batch.AdHocItem{Name: "Tape"}, Quantity: qty(1)})
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteBatch(ctx, scope, second.Batch.ID))

	require.Equal(t, before, snapshot())

	require.NoError(t, f.engine.DeleteBatch(ctx, scope, first.Batch.ID))
	require.NoError(t, f.engine.DeleteBatch(ctx, scope, base.Batch.ID))
	counts := f.store.Counts()
	require.Zero(t, counts.Units)
	require.Zero(t, counts.LedgerEntries)
	require.Zero(t, counts.Batches)
	require.Zero(t, counts.Effects)
	requireQty(t, 0, f.entry(t, bulkID).TotalInStock)
	f.requireLedgerConsistent(t)
}

func TestDeleteBlockedByConsumedUnit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.receive(t, serialLine("Meter", "MT-1", "M-1", "M-2")).CatalogEntries[0]
	issued, err := f.issue(101, catalogued(id, 0, "M-1", "M-2"))
	require.NoError(t, err)

	_, err = f.engine.LogConsumption(ctx, scope, batch.ConsumptionInput{
		PersonnelID: 101,
		Item:        batch.CataloguedItem{CatalogEntryID: id},
		Barcodes:    []string{"M-2"},
	})
	require.NoError(t, err)
	before := f.store.Counts()

	err = f.engine.DeleteBatch(ctx, scope, issued.Batch.ID)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Len(t, conflict.Blockers, 1)
	require.Equal(t, "M-2", conflict.Blockers[0].Label)
	require.Equal(t, string(units.StatusFulfilled), conflict.Blockers[0].State)
	require.Equal(t, before, f.store.Counts())
	requireQty(t, 1, f.wallet(101, id))
	require.Equal(t, []string{"blocked"}, f.metrics.reversals)
}

func TestDeleteReceivingBlockedOnceStockLeft(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	received := f.receive(t, bulkLine("Coolant", "CL-1", 10))
	id := received.CatalogEntries[0]
	_, err := f.issue(101, catalogued(id, 4))
	require.NoError(t, err)

	err = f.engine.DeleteBatch(ctx, scope, received.Batch.ID)
	var conflict *shared.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "ledger_entry", conflict.Blockers[0].Entity)
	require.Equal(t, "short by 4", conflict.Blockers[0].State)
	requireQty(t, 6, f.entry(t, id).TotalInStock)

	serial := f.receive(t, serialLine("Tag", "TG-1", "T-1"))
	_, err = f.issue(101, catalogued(serial.CatalogEntries[0], 1, "T-1"))
	require.NoError(t, err)
	err = f.engine.DeleteBatch(ctx, scope, serial.Batch.ID)
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "unit", conflict.Blockers[0].Entity)
	require.Equal(t, string(units.StatusIssued), conflict.Blockers[0].State)
}

func TestDeleteUnknownBatch(t *testing.T) {
	f := newFixture()
	err := f.engine.DeleteBatch(context.Background(), scope, 404)
	require.ErrorIs(t, err, batch.ErrBatchNotFound)
}

func TestIdempotencyKeyGuardsReplays(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	in := batch.ReceivingInput{Reference: "DO-1", Lines: []batch.ReceivingLine{serialLine("Radio", "RD-1", "RAD-1")}}

	_, err := f.engine.CommitReceiving(ctx, scope, in, "scan-42")
	require.NoError(t, err)
	_, err = f.engine.CommitReceiving(ctx, scope, in, "scan-42")
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)

	_, err = f.engine.CommitReceiving(ctx, scope, in, "scan-43")
	require.ErrorIs(t, err, shared.ErrDuplicateBarcode)
	require.False(t, f.idem.Has(shared.IdempotencyKey(companyID, "batch", "scan-43")))
	require.True(t, f.idem.Has(shared.IdempotencyKey(companyID, "batch", "scan-42")))
}

func TestIssuanceSourceIsUnique(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.receive(t, bulkLine("Oil", "", 10)).CatalogEntries[0]
	in := batch.IssuanceInput{PersonnelID: 101, BatchName: "REQ-7", Source: "stock_request:7", Lines: []batch.IssuanceLine{catalogued(id, 2)}}

	res, err := f.engine.CommitIssuance(ctx, scope, in, "")
	require.NoError(t, err)
	_, err = f.engine.CommitIssuance(ctx, scope, in, "")
	require.ErrorIs(t, err, shared.ErrConflict)
	requireQty(t, 8, f.entry(t, id).TotalInStock)

	found, err := f.engine.FindBySource(ctx, scope, "stock_request:7")
	require.NoError(t, err)
	require.Equal(t, res.Batch.ID, found.ID)
}

func TestLogConsumption(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.receive(t, bulkLine("Grease", "GR-1", 10), serialLine("Valve", "VL-1", "V-1", "V-2"))
	bulkID, serialID := res.CatalogEntries[0], res.CatalogEntries[1]
	_, err := f.issue(101, catalogued(bulkID, 5), catalogued(serialID, 0, "V-1"))
	require.NoError(t, err)

	_, err = f.engine.LogConsumption(ctx, scope, batch.ConsumptionInput{PersonnelID: 101, Item: batch.CataloguedItem{CatalogEntryID: bulkID}, Quantity: qty(2)})
	require.NoError(t, err)
	requireQty(t, 3, f.wallet(101, bulkID))

	_, err = f.engine.LogConsumption(ctx, scope, batch.ConsumptionInput{PersonnelID: 101, Item: batch.CataloguedItem{CatalogEntryID: bulkID}, Quantity: qty(4)})
	var short *shared.InsufficientStockError
	require.ErrorAs(t, err, &short)
	requireQty(t, 1, short.Shortfall)
	requireQty(t, 3, f.wallet(101, bulkID))

	_, err = f.engine.LogConsumption(ctx, scope, batch.ConsumptionInput{PersonnelID: 102, Item: batch.CataloguedItem{CatalogEntryID: serialID}, Barcodes: []string{"V-1"}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.engine.LogConsumption(ctx, scope, batch.ConsumptionInput{PersonnelID: 101, Item: batch.CataloguedItem{CatalogEntryID: serialID}, Barcodes: []string{"V-2"}})
	require.ErrorIs(t, err, shared.ErrValidation)

	entries, err := f.engine.LogConsumption(ctx, scope, batch.ConsumptionInput{PersonnelID: 101, Item: batch.CataloguedItem{CatalogEntryID: serialID}, Barcodes: []string{"V-1"}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	requireQty(t, 0, f.wallet(101, serialID))
	requireQty(t, 1, f.entry(t, serialID).TotalInStock)

	fulfilled, err := f.store.Units().ListUnits(ctx, companyID, units.ListFilter{Status: units.StatusFulfilled})
	require.NoError(t, err)
	require.Len(t, fulfilled, 1)
	require.Equal(t, "V-1", fulfilled[0].Barcode)
	f.requireLedgerConsistent(t)
}

func TestRemoveUnitWritesOffStock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	res := f.receive(t, serialLine("Panel", "PN-1", "P-1", "P-2"))

	unit, err := f.engine.RemoveUnit(ctx, scope, res.UnitIDs[0], "cracked housing")
	require.NoError(t, err)
	require.Equal(t, units.StatusRemoved, unit.Status)
	requireQty(t, 1, f.entry(t, res.CatalogEntries[0]).TotalInStock)

	_, err = f.engine.RemoveUnit(ctx, scope, res.UnitIDs[0], "again")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.engine.RemoveUnit(ctx, scope, res.UnitIDs[1], " ")
	require.ErrorIs(t, err, shared.ErrValidation)

	err = f.engine.DeleteBatch(ctx, scope, res.Batch.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Contains(t, f.audit.Actions(), "unit:remove")
	f.requireLedgerConsistent(t)
}

func TestGetReturnsEffectsAndEntries(t *testing.T) {
	f := newFixture()
	res := f.receive(t, bulkLine("Hose", "HS-1", 5), serialLine("Pump", "PM-1", "PU-1"))

	detail, err := f.engine.Get(context.Background(), scope, res.Batch.ID)
	require.NoError(t, err)
	require.Equal(t, batch.KindReceiving, detail.Batch.Kind)
	require.Len(t, detail.Entries, 2)
	kinds := make([]batch.EffectKind, 0, len(detail.Effects))
	for _, e := range detail.Effects {
		kinds = append(kinds, e.Kind)
	}
	require.Equal(t, []batch.EffectKind{batch.EffectLedgerPosted, batch.EffectUnitCreated, batch.EffectLedgerPosted}, kinds)

	list, err := f.engine.List(context.Background(), scope, batch.ListFilter{Kind: batch.KindReceiving})
	require.NoError(t, err)
	require.Len(t, list, 1)
}
