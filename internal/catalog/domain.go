package catalog

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// TrackingMode selects per-unit or pooled stock keeping.
type TrackingMode string

const (
	// TrackingSerialized tracks every physical item by barcode.
	TrackingSerialized TrackingMode = "serialized"
	// TrackingBulk tracks a fungible quantity.
	TrackingBulk TrackingMode = "bulk"
)

// Valid reports whether m is a known mode.
func (m TrackingMode) Valid() bool {
	return m == TrackingSerialized || m == TrackingBulk
}

// ErrEntryNotFound indicates a missing catalog entry.
var ErrEntryNotFound = fmt.Errorf("catalog entry %w", shared.ErrNotFound)

// Entry is one product in the warehouse master list.
type Entry struct {
	ID                int64            `json:"id"`
	CompanyID         int64            `json:"company_id"`
	ProductName       string           `json:"product_name"`
	PartNo            string           `json:"part_no"`
	Category          string           `json:"category"`
	Manufacturer      string           `json:"manufacturer"`
	UnitOfMeasure     string           `json:"unit_of_measure"`
	TrackingMode      TrackingMode     `json:"tracking_mode"`
	LastPurchasePrice *decimal.Decimal `json:"last_purchase_price,omitempty"`
	LowStockThreshold decimal.Decimal  `json:"low_stock_threshold"`
	TotalInStock      decimal.Decimal  `json:"total_in_stock"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// IsLowStock reports whether the total has dropped to the threshold. A zero threshold disables the check.
func (e Entry) IsLowStock() bool {
	return e.LowStockThreshold.IsPositive() && e.TotalInStock.LessThanOrEqual(e.LowStockThreshold)
}

// Label is the human readable name used in error messages.
func (e Entry) Label() string {
	if e.PartNo == "" {
		return e.ProductName
	}
	return fmt.Sprintf("%s (%s)", e.ProductName, e.PartNo)
}

// IdentityKey is the normalised identity of an entry inside a company.
type IdentityKey struct {
	NameKey string
	PartKey string
}

// EntryInput carries the attributes accepted by FindOrCreate.
type EntryInput struct {
	ProductName       string
	PartNo            string
	Category          string
	Manufacturer      string
	UnitOfMeasure     string
	TrackingMode      TrackingMode
	LastPurchasePrice *decimal.Decimal
	LowStockThreshold *decimal.Decimal
}

// Key returns the case and whitespace insensitive identity of the input.
func (in EntryInput) Key() IdentityKey {
	return IdentityKey{NameKey: shared.FoldKey(in.ProductName), PartKey: shared.FoldKey(in.PartNo)}
}

// Normalize trims free text fields and applies defaults.
func (in EntryInput) Normalize() EntryInput {
	in.ProductName = strings.Join(strings.Fields(in.ProductName), " ")
	in.PartNo = strings.TrimSpace(in.PartNo)
	in.Category = strings.TrimSpace(in.Category)
	in.Manufacturer = strings.TrimSpace(in.Manufacturer)
	in.UnitOfMeasure = strings.TrimSpace(in.UnitOfMeasure)
	if in.UnitOfMeasure == "" {
		in.UnitOfMeasure = "pcs"
	}
	return in
}

// Validate checks the input for creation.
func (in EntryInput) Validate() error {
	if in.ProductName == "" {
		return shared.Validation("product_name", "is required")
	}
	if in.TrackingMode != "" && !in.TrackingMode.Valid() {
		return shared.Validation("tracking_mode", fmt.Sprintf("unknown mode %q", in.TrackingMode))
	}
	if in.LastPurchasePrice != nil && in.LastPurchasePrice.IsNegative() {
		return shared.Validation("last_purchase_price", "must not be negative")
	}
	if in.LowStockThreshold != nil && in.LowStockThreshold.IsNegative() {
		return shared.Validation("low_stock_threshold", "must not be negative")
	}
	return nil
}

// References counts rows that keep an entry alive.
type References struct {
	Units         int
	LedgerEntries int
}

// Any reports whether anything references the entry.
func (r References) Any() bool {
	return r.Units > 0 || r.LedgerEntries > 0
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Search       string
	Category     string
	TrackingMode TrackingMode
	LowStockOnly bool
	Limit        int
	Offset       int
}

// LowStockItem is one entry at or below its threshold.
type LowStockItem struct {
	CatalogEntryID int64           `json:"catalog_entry_id"`
	ProductName    string          `json:"product_name"`
	PartNo         string          `json:"part_no,omitempty"`
	TotalInStock   decimal.Decimal `json:"total_in_stock"`
	Threshold      decimal.Decimal `json:"low_stock_threshold"`
}

// LowStockEvent reports the low-stock entries of one company found by a scan.
type LowStockEvent struct {
	CompanyID  int64          `json:"company_id"`
	Items      []LowStockItem `json:"items"`
	DetectedAt time.Time      `json:"detected_at"`
}

// NewLowStockEvent builds the event for entries returned by LowStock.
func NewLowStockEvent(companyID int64, entries []Entry, at time.Time) LowStockEvent {
	evt := LowStockEvent{CompanyID: companyID, DetectedAt: at}
	for _, e := range entries {
		evt.Items = append(evt.Items, LowStockItem{
			CatalogEntryID: e.ID,
			ProductName:    e.ProductName,
			PartNo:         e.PartNo,
			TotalInStock:   e.TotalInStock,
			Threshold:      e.LowStockThreshold,
		})
	}
	return evt
}
