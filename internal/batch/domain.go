package batch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/units"
)

// Kind distinguishes receiving from issuance batches.
type Kind string

const (
	// KindReceiving moves stock into the warehouse.
	KindReceiving Kind = "receiving"
	// KindIssuance moves stock from the warehouse to field personnel.
	KindIssuance Kind = "issuance"
)

// ErrBatchNotFound indicates a missing batch.
var ErrBatchNotFound = fmt.Errorf("batch %w", shared.ErrNotFound)

// Batch groups the movements of one receiving or issuance action.
type Batch struct {
	ID            int64     `json:"id"`
	CompanyID     int64     `json:"company_id"`
	Kind          Kind      `json:"kind"`
	ReferenceName string    `json:"reference_name"`
	Counterparty  string    `json:"counterparty"`
	PersonnelID   *int64    `json:"personnel_id,omitempty"`
	Source        string    `json:"source,omitempty"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// EffectKind names one reversible step performed by a commit.
type EffectKind string

const (
	// EffectLedgerPosted records a ledger entry; its inverse deletes the entry.
	EffectLedgerPosted EffectKind = "ledger_posted"
	// EffectUnitCreated records a registered unit; its inverse removes the unit.
	EffectUnitCreated EffectKind = "unit_created"
	// EffectUnitTransitioned records a status change; its inverse restores the old status.
	EffectUnitTransitioned EffectKind = "unit_transitioned"
)

// Effect is one step of a committed batch, replayed backwards on deletion.
type Effect struct {
	BatchID       int64        `json:"batch_id"`
	Seq           int          `json:"seq"`
	Kind          EffectKind   `json:"kind"`
	LedgerEntryID *int64       `json:"ledger_entry_id,omitempty"`
	UnitID        *int64       `json:"unit_id,omitempty"`
	FromStatus    units.Status `json:"from_status,omitempty"`
	ToStatus      units.Status `json:"to_status,omitempty"`
}

// ScannedUnit is one barcode scanned during receiving.
type ScannedUnit struct {
	Barcode     string
	SKUMetadata string
}

// ReceivingLine is one product of a delivery.
type ReceivingLine struct {
	ProductName       string
	PartNo            string
	Category          string
	Manufacturer      string
	UnitOfMeasure     string
	TrackingMode      catalog.TrackingMode
	Quantity          decimal.Decimal
	UnitPrice         *decimal.Decimal
	LowStockThreshold *decimal.Decimal
	Units             []ScannedUnit
	Notes             string
}

// mode returns the declared mode or the one implied by the line's content.
func (l ReceivingLine) mode() catalog.TrackingMode {
	if l.TrackingMode != "" {
		return l.TrackingMode
	}
	if len(l.Units) > 0 {
		return catalog.TrackingSerialized
	}
	return catalog.TrackingBulk
}

// ReceivingInput is a delivery from a supplier.
type ReceivingInput struct {
	Supplier  string
	Reference string
	Lines     []ReceivingLine
	CreatedBy int64
}

// LineItem is either a catalogued item or an ad-hoc name with no catalog match.
type LineItem interface {
	isLineItem()
}

// CataloguedItem refers to a catalog entry.
type CataloguedItem struct {
	CatalogEntryID int64
}

// AdHocItem is a user typed item held only by personnel.
type AdHocItem struct {
	Name          string
	UnitOfMeasure string
}

func (CataloguedItem) isLineItem() {}
func (AdHocItem) isLineItem()      {}

// IssuanceLine is one item handed to personnel.
type IssuanceLine struct {
	Item     LineItem
	Quantity decimal.Decimal
	Barcodes []string
	Notes    string
}

// IssuanceInput is an issuance run to one engineer.
type IssuanceInput struct {
	PersonnelID int64
	BatchName   string
	Lines       []IssuanceLine
	// Source makes the commit unique per company, e.g. the stock request it fulfils.
	Source    string
	CreatedBy int64
}

// Result reports what a commit created.
type Result struct {
	Batch          Batch   `json:"batch"`
	UnitIDs        []int64 `json:"unit_ids"`
	EntryIDs       []int64 `json:"ledger_entry_ids"`
	CatalogEntries []int64 `json:"catalog_entry_ids"`
}

// Detail is a batch with its effects and surviving ledger entries.
type Detail struct {
	Batch   Batch          `json:"batch"`
	Effects []Effect       `json:"effects"`
	Entries []ledger.Entry `json:"ledger_entries"`
}

// ConsumptionInput logs stock used in the field by one engineer.
type ConsumptionInput struct {
	PersonnelID int64
	Item        LineItem
	Quantity    decimal.Decimal
	Barcodes    []string
	Notes       string
}

// ListFilter narrows batch listings.
type ListFilter struct {
	Kind        Kind
	PersonnelID int64
	Limit       int
}

// atLine attaches a batch line to validation errors raised without one.
func atLine(err error, line int) error {
	var ve *shared.ValidationError
	if errors.As(err, &ve) && ve.Line == 0 {
		ve.Line = line
	}
	return err
}

func validateReceiving(in ReceivingInput) error {
	if strings.TrimSpace(in.Reference) == "" {
		return shared.Validation("reference", "is required")
	}
	if len(in.Lines) == 0 {
		return shared.Validation("lines", "at least one line is required")
	}
	staging := units.NewStaging()
	for i, line := range in.Lines {
		n := i + 1
		if strings.TrimSpace(line.ProductName) == "" {
			return shared.LineValidation(n, "product_name", "is required")
		}
		if line.TrackingMode != "" && !line.TrackingMode.Valid() {
			return shared.LineValidation(n, "tracking_mode", fmt.Sprintf("unknown mode %q", line.TrackingMode))
		}
		if line.UnitPrice != nil && line.UnitPrice.IsNegative() {
			return shared.LineValidation(n, "unit_price", "must not be negative")
		}
		switch line.mode() {
		case catalog.TrackingSerialized:
			if len(line.Units) == 0 {
				return shared.LineValidation(n, "units", "serialized lines need at least one barcode")
			}
			if !line.Quantity.IsZero() && !line.Quantity.Equal(decimal.NewFromInt(int64(len(line.Units)))) {
				return shared.LineValidation(n, "quantity", "must match the number of scanned barcodes")
			}
			for _, u := range line.Units {
				if err := staging.Stage(n, u.Barcode); err != nil {
					return err
				}
			}
		case catalog.TrackingBulk:
			if len(line.Units) > 0 {
				return shared.LineValidation(n, "units", "bulk lines take a quantity, not barcodes")
			}
			if !line.Quantity.IsPositive() {
				return shared.LineValidation(n, "quantity", "must be positive")
			}
		}
	}
	return nil
}

func validateIssuance(in IssuanceInput) error {
	if in.PersonnelID <= 0 {
		return shared.Validation("personnel_id", "is required")
	}
	if strings.TrimSpace(in.BatchName) == "" {
		return shared.Validation("batch_name", "is required")
	}
	if len(in.Lines) == 0 {
		return shared.Validation("lines", "at least one line is required")
	}
	staging := units.NewStaging()
	for i, line := range in.Lines {
		n := i + 1
		switch item := line.Item.(type) {
		case CataloguedItem:
			if item.CatalogEntryID <= 0 {
				return shared.LineValidation(n, "catalog_entry_id", "is required")
			}
			for _, b := range line.Barcodes {
				if err := staging.Stage(n, b); err != nil {
					return err
				}
			}
			if len(line.Barcodes) == 0 && !line.Quantity.IsPositive() {
				return shared.LineValidation(n, "quantity", "must be positive")
			}
		case AdHocItem:
			if strings.TrimSpace(item.Name) == "" {
				return shared.LineValidation(n, "item_name", "is required")
			}
			if len(line.Barcodes) > 0 {
				return shared.LineValidation(n, "barcodes", "ad-hoc items have no barcodes")
			}
			if !line.Quantity.IsPositive() {
				return shared.LineValidation(n, "quantity", "must be positive")
			}
		default:
			return shared.LineValidation(n, "item", "catalog_entry_id or item_name is required")
		}
	}
	return nil
}
