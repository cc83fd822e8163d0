package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/units"
)

// recorder accumulates the effects of one commit in order.
type recorder struct {
	batchID int64
	effects []Effect
}

func (r *recorder) add(e Effect) {
	e.BatchID = r.batchID
	e.Seq = len(r.effects) + 1
	r.effects = append(r.effects, e)
}

func (r *recorder) posted(entry ledger.Entry) {
	id := entry.ID
	r.add(Effect{Kind: EffectLedgerPosted, LedgerEntryID: &id})
}

func (r *recorder) unitCreated(u units.Unit) {
	id := u.ID
	r.add(Effect{Kind: EffectUnitCreated, UnitID: &id, ToStatus: units.StatusInStock})
}

func (r *recorder) unitTransitioned(id int64, from, to units.Status) {
	r.add(Effect{Kind: EffectUnitTransitioned, UnitID: &id, FromStatus: from, ToStatus: to})
}

// commitReceiving registers every line of a delivery under one new batch.
func commitReceiving(ctx context.Context, tx TxRepository, companyID int64, in ReceivingInput) (Result, error) {
	batch, _, err := tx.InsertBatch(ctx, Batch{
		CompanyID:     companyID,
		Kind:          KindReceiving,
		ReferenceName: strings.TrimSpace(in.Reference),
		Counterparty:  strings.TrimSpace(in.Supplier),
		CreatedBy:     in.CreatedBy,
	})
	if err != nil {
		return Result{}, fmt.Errorf("batch: insert: %w", err)
	}
	res := Result{Batch: batch}
	rec := &recorder{batchID: batch.ID}
	batchID := batch.ID

	for i, line := range in.Lines {
		n := i + 1
		entry, _, err := catalog.FindOrCreate(ctx, tx, companyID, catalog.EntryInput{
			ProductName:       line.ProductName,
			PartNo:            line.PartNo,
			Category:          line.Category,
			Manufacturer:      line.Manufacturer,
			UnitOfMeasure:     line.UnitOfMeasure,
			TrackingMode:      line.mode(),
			LastPurchasePrice: line.UnitPrice,
			LowStockThreshold: line.LowStockThreshold,
		})
		if err != nil {
			return Result{}, atLine(err, n)
		}
		res.CatalogEntries = append(res.CatalogEntries, entry.ID)

		qty := line.Quantity
		if entry.TrackingMode == catalog.TrackingSerialized {
			for _, scanned := range line.Units {
				unit, err := units.Register(ctx, tx, companyID, n, units.NewUnit{
					CatalogEntryID: entry.ID,
					Barcode:        scanned.Barcode,
					SKUMetadata:    strings.TrimSpace(scanned.SKUMetadata),
				})
				if err != nil {
					return Result{}, err
				}
				rec.unitCreated(unit)
				res.UnitIDs = append(res.UnitIDs, unit.ID)
			}
			qty = decimal.NewFromInt(int64(len(line.Units)))
		}

		posted, err := ledger.Post(ctx, tx, companyID, ledger.PostInput{
			Item:          ledger.Catalogued(entry.ID),
			Owner:         ledger.Warehouse,
			Quantity:      qty,
			BatchID:       &batchID,
			UnitOfMeasure: entry.UnitOfMeasure,
			Notes:         line.Notes,
			CreatedBy:     in.CreatedBy,
			Line:          n,
		})
		if err != nil {
			return Result{}, err
		}
		rec.posted(posted)
		res.EntryIDs = append(res.EntryIDs, posted.ID)
	}

	if err := tx.InsertEffects(ctx, rec.effects); err != nil {
		return Result{}, fmt.Errorf("batch: record effects: %w", err)
	}
	return res, nil
}

// issuePlan is one validated issuance line.
type issuePlan struct {
	line  int
	entry *catalog.Entry
	units []units.Unit
	adHoc AdHocItem
	qty   decimal.Decimal
	notes string
}

// planIssuance resolves every line and checks warehouse sufficiency before anything
// is written. Catalog rows are locked in ascending id order.
func planIssuance(ctx context.Context, tx TxRepository, companyID int64, in IssuanceInput) ([]issuePlan, error) {
	var ids []int64
	seen := map[int64]bool{}
	for _, line := range in.Lines {
		if item, ok := line.Item.(CataloguedItem); ok && !seen[item.CatalogEntryID] {
			seen[item.CatalogEntryID] = true
			ids = append(ids, item.CatalogEntryID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	entries := make(map[int64]*catalog.Entry, len(ids))
	for _, id := range ids {
		entry, err := tx.GetEntryForUpdate(ctx, companyID, id)
		if errors.Is(err, catalog.ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries[id] = &entry
	}

	plans := make([]issuePlan, 0, len(in.Lines))
	required := map[int64]decimal.Decimal{}
	for i, line := range in.Lines {
		n := i + 1
		plan := issuePlan{line: n, notes: line.Notes}
		switch item := line.Item.(type) {
		case AdHocItem:
			item.Name = strings.Join(strings.Fields(item.Name), " ")
			plan.adHoc = item
			plan.qty = line.Quantity
		case CataloguedItem:
			entry, ok := entries[item.CatalogEntryID]
			if !ok {
				return nil, shared.LineValidation(n, "catalog_entry_id", fmt.Sprintf("unknown catalog entry %d", item.CatalogEntryID))
			}
			plan.entry = entry
			if entry.TrackingMode == catalog.TrackingSerialized {
				resolved, err := resolveIssuedUnits(ctx, tx, companyID, *entry, n, line)
				if err != nil {
					return nil, err
				}
				plan.units = resolved
				plan.qty = decimal.NewFromInt(int64(len(resolved)))
			} else {
				if len(line.Barcodes) > 0 {
					return nil, shared.LineValidation(n, "barcodes", fmt.Sprintf("%s is a bulk item", entry.Label()))
				}
				plan.qty = line.Quantity
			}
			need := required[entry.ID].Add(plan.qty)
			required[entry.ID] = need
			if need.GreaterThan(entry.TotalInStock) {
				err := shared.NewInsufficientStock(string(ledger.Warehouse), entry.Label(), need, entry.TotalInStock)
				err.CatalogEntryID = entry.ID
				err.Line = n
				return nil, err
			}
		}
		plans = append(plans, plan)
	}
	return plans, nil
}

func resolveIssuedUnits(ctx context.Context, tx TxRepository, companyID int64, entry catalog.Entry, n int, line IssuanceLine) ([]units.Unit, error) {
	if len(line.Barcodes) == 0 {
		return nil, shared.LineValidation(n, "barcodes", fmt.Sprintf("%s is serialized; scan the issued units", entry.Label()))
	}
	if !line.Quantity.IsZero() && !line.Quantity.Equal(decimal.NewFromInt(int64(len(line.Barcodes)))) {
		return nil, shared.LineValidation(n, "quantity", "must match the number of scanned barcodes")
	}
	out := make([]units.Unit, 0, len(line.Barcodes))
	for _, barcode := range line.Barcodes {
		unit, err := tx.FindUnitByBarcode(ctx, units.BarcodeKey(barcode))
		if err != nil && !errors.Is(err, units.ErrUnitNotFound) {
			return nil, err
		}
		if err != nil || unit.CompanyID != companyID || unit.CatalogEntryID != entry.ID {
			return nil, shared.LineValidation(n, "barcodes", fmt.Sprintf("barcode %q is not a unit of %s", strings.TrimSpace(barcode), entry.Label()))
		}
		if unit.Status != units.StatusInStock {
			return nil, &shared.InvalidTransitionError{Entity: "unit", ID: unit.ID, From: string(unit.Status), To: string(units.StatusIssued)}
		}
		out = append(out, unit)
	}
	return out, nil
}

// commitIssuance validates every line, then records one transfer pair per unit or
// bulk line, or a single personnel posting for ad-hoc items.
func commitIssuance(ctx context.Context, tx TxRepository, companyID int64, in IssuanceInput) (Result, error) {
	plans, err := planIssuance(ctx, tx, companyID, in)
	if err != nil {
		return Result{}, err
	}

	personnelID := in.PersonnelID
	batch, inserted, err := tx.InsertBatch(ctx, Batch{
		CompanyID:     companyID,
		Kind:          KindIssuance,
		ReferenceName: strings.TrimSpace(in.BatchName),
		Counterparty:  string(ledger.PersonnelOwner(personnelID)),
		PersonnelID:   &personnelID,
		Source:        in.Source,
		CreatedBy:     in.CreatedBy,
	})
	if err != nil {
		return Result{}, fmt.Errorf("batch: insert: %w", err)
	}
	if !inserted {
		return Result{}, &shared.ConflictError{Entity: "batch", Reason: fmt.Sprintf("%s was already issued", in.Source)}
	}

	res := Result{Batch: batch}
	rec := &recorder{batchID: batch.ID}
	batchID := batch.ID
	holder := ledger.PersonnelOwner(personnelID)

	post := func(item ledger.ItemRef, owner ledger.Owner, qty decimal.Decimal, uom string, plan issuePlan) error {
		entry, err := ledger.Post(ctx, tx, companyID, ledger.PostInput{
			Item:          item,
			Owner:         owner,
			Quantity:      qty,
			BatchID:       &batchID,
			UnitOfMeasure: uom,
			Notes:         plan.notes,
			CreatedBy:     in.CreatedBy,
			Line:          plan.line,
		})
		if err != nil {
			return err
		}
		rec.posted(entry)
		res.EntryIDs = append(res.EntryIDs, entry.ID)
		return nil
	}

	for _, plan := range plans {
		if plan.entry == nil {
			if err := post(ledger.AdHoc(plan.adHoc.Name), holder, plan.qty, plan.adHoc.UnitOfMeasure, plan); err != nil {
				return Result{}, err
			}
			continue
		}
		item := ledger.Catalogued(plan.entry.ID)
		uom := plan.entry.UnitOfMeasure
		res.CatalogEntries = append(res.CatalogEntries, plan.entry.ID)
		if plan.entry.TrackingMode == catalog.TrackingSerialized {
			for _, unit := range plan.units {
				if _, err := units.Transition(ctx, tx, companyID, unit.ID, units.StatusIssued, &personnelID); err != nil {
					return Result{}, err
				}
				rec.unitTransitioned(unit.ID, units.StatusInStock, units.StatusIssued)
				res.UnitIDs = append(res.UnitIDs, unit.ID)
				if err := post(item, ledger.Warehouse, decimal.NewFromInt(-1), uom, plan); err != nil {
					return Result{}, err
				}
				if err := post(item, holder, decimal.NewFromInt(1), uom, plan); err != nil {
					return Result{}, err
				}
			}
			continue
		}
		if err := post(item, ledger.Warehouse, plan.qty.Neg(), uom, plan); err != nil {
			return Result{}, err
		}
		if err := post(item, holder, plan.qty, uom, plan); err != nil {
			return Result{}, err
		}
	}

	if err := tx.InsertEffects(ctx, rec.effects); err != nil {
		return Result{}, fmt.Errorf("batch: record effects: %w", err)
	}
	return res, nil
}

// deleteBatch replays the effects of a batch backwards. Units that moved on since the
// commit block the whole reversal.
func deleteBatch(ctx context.Context, tx TxRepository, companyID, id int64) (Batch, []Effect, error) {
	batch, err := tx.GetBatchForUpdate(ctx, companyID, id)
	if err != nil {
		return Batch{}, nil, err
	}
	effects, err := tx.ListEffects(ctx, batch.ID)
	if err != nil {
		return Batch{}, nil, err
	}

	var blockers []shared.Blocker
	for _, e := range effects {
		if e.UnitID == nil {
			continue
		}
		unit, err := tx.GetUnitForUpdate(ctx, companyID, *e.UnitID)
		if err != nil {
			return Batch{}, nil, err
		}
		if unit.Status != e.ToStatus {
			blockers = append(blockers, shared.Blocker{Entity: "unit", ID: unit.ID, Label: unit.Barcode, State: string(unit.Status)})
		}
	}
	if len(blockers) > 0 {
		return Batch{}, nil, &shared.ConflictError{
			Entity:   "batch",
			ID:       batch.ID,
			Reason:   "units have moved on since the batch was committed",
			Blockers: blockers,
		}
	}

	for i := len(effects) - 1; i >= 0; i-- {
		e := effects[i]
		switch e.Kind {
		case EffectLedgerPosted:
			_, err := ledger.Delete(ctx, tx, companyID, *e.LedgerEntryID)
			if errors.Is(err, ledger.ErrEntryNotFound) {
				continue
			}
			var short *shared.InsufficientStockError
			if errors.As(err, &short) {
				return Batch{}, nil, &shared.ConflictError{
					Entity: "batch",
					ID:     batch.ID,
					Reason: "stock from this batch has already been moved on",
					Blockers: []shared.Blocker{{
						Entity: "ledger_entry",
						ID:     *e.LedgerEntryID,
						Label:  fmt.Sprintf("%s held by %s", short.Item, short.Owner),
						State:  "short by " + short.Shortfall.String(),
					}},
				}
			}
			if err != nil {
				return Batch{}, nil, err
			}
		case EffectUnitCreated:
			if err := tx.DeleteUnit(ctx, companyID, *e.UnitID); err != nil {
				return Batch{}, nil, err
			}
		case EffectUnitTransitioned:
			if _, err := units.ReverseToInStock(ctx, tx, companyID, *e.UnitID); err != nil {
				return Batch{}, nil, err
			}
		default:
			return Batch{}, nil, &shared.FatalInvariantError{Invariant: "known batch effect", Detail: fmt.Sprintf("batch %d effect %d has kind %q", batch.ID, e.Seq, e.Kind)}
		}
	}

	if err := tx.DeleteEffects(ctx, batch.ID); err != nil {
		return Batch{}, nil, err
	}
	if err := tx.DeleteBatch(ctx, companyID, batch.ID); err != nil {
		return Batch{}, nil, err
	}
	return batch, effects, nil
}
