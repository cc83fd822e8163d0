package units

import (
	"fmt"
	"strings"
	"time"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Status enumerates the lifecycle of a serialized unit.
type Status string

const (
	// StatusInStock marks a unit held by the warehouse.
	StatusInStock Status = "in_stock"
	// StatusIssued marks a unit handed to field personnel.
	StatusIssued Status = "issued"
	// StatusFulfilled marks a unit consumed in the field. Terminal.
	StatusFulfilled Status = "fulfilled"
	// StatusRemoved marks a unit written off as a correction. Terminal.
	StatusRemoved Status = "removed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusInStock, StatusIssued, StatusFulfilled, StatusRemoved:
		return true
	}
	return false
}

// Terminal reports whether no forward transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusFulfilled || s == StatusRemoved
}

// CanTransitionTo reports whether next is a forward transition from s.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusInStock:
		return next == StatusIssued || next == StatusRemoved
	case StatusIssued:
		return next == StatusFulfilled
	}
	return false
}

// ErrUnitNotFound indicates a missing unit.
var ErrUnitNotFound = fmt.Errorf("stock unit %w", shared.ErrNotFound)

// Unit is one barcoded physical item.
type Unit struct {
	ID             int64     `json:"id"`
	CompanyID      int64     `json:"company_id"`
	CatalogEntryID int64     `json:"catalog_entry_id"`
	Barcode        string    `json:"barcode"`
	SKUMetadata    string    `json:"sku_metadata,omitempty"`
	Status         Status    `json:"status"`
	IssuedTo       *int64    `json:"issued_to,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewUnit describes a unit to register.
type NewUnit struct {
	CatalogEntryID int64
	Barcode        string
	SKUMetadata    string
}

// BarcodeKey normalises a scanned barcode for uniqueness checks.
func BarcodeKey(barcode string) string {
	return shared.FoldKey(barcode)
}

// Staging tracks barcodes scanned into one in-flight batch.
type Staging struct {
	lines map[string]int
}

// NewStaging creates an empty staging area.
func NewStaging() *Staging {
	return &Staging{lines: make(map[string]int)}
}

// Stage records barcode for line. A barcode already staged in this batch fails with
// the same-batch DuplicateBarcodeError.
func (s *Staging) Stage(line int, barcode string) error {
	key := BarcodeKey(barcode)
	if key == "" {
		return shared.LineValidation(line, "barcode", "must not be empty")
	}
	if _, ok := s.lines[key]; ok {
		return &shared.DuplicateBarcodeError{Barcode: strings.TrimSpace(barcode), Scope: shared.DuplicateSameBatch, Line: line}
	}
	s.lines[key] = line
	return nil
}

// Len returns the number of staged barcodes.
func (s *Staging) Len() int { return len(s.lines) }

// ListFilter narrows unit listings.
type ListFilter struct {
	CatalogEntryID int64
	Status         Status
	IssuedTo       int64
	Limit          int
}
