package reconciliation

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Period selects how a window is derived.
type Period string

const (
	PeriodMonthly   Period = "monthly"
	PeriodQuarterly Period = "quarterly"
)

// Window is the half-open range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewWindow validates an explicit range.
func NewWindow(start, end time.Time) (Window, error) {
	if start.IsZero() || end.IsZero() {
		return Window{}, shared.Validation("window", "start and end are required")
	}
	if !end.After(start) {
		return Window{}, shared.Validation("end", "must be after start")
	}
	return Window{Start: start, End: end}, nil
}

// MonthWindow covers calendar month 1-12 of year in loc.
func MonthWindow(year, month int, loc *time.Location) (Window, error) {
	if month < 1 || month > 12 {
		return Window{}, shared.Validation("month", fmt.Sprintf("must be between 1 and 12, got %d", month))
	}
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 1, 0)}, nil
}

// QuarterWindow covers quarter q of year, where q 0-3 spans the 0-indexed
// months 3q, 3q+1 and 3q+2.
func QuarterWindow(year, quarter int, loc *time.Location) (Window, error) {
	if quarter < 0 || quarter > 3 {
		return Window{}, shared.Validation("quarter", fmt.Sprintf("must be between 0 and 3, got %d", quarter))
	}
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, time.Month(3*quarter+1), 1, 0, 0, 0, 0, loc)
	return Window{Start: start, End: start.AddDate(0, 3, 0)}, nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Query is a reconciliation request.
type Query struct {
	Window   Window
	DriverID int64
}

// Allocation is volume loaded onto a trip.
type Allocation struct {
	TripID     int64
	DriverID   int64
	DriverName string
	Quantity   decimal.Decimal
	At         time.Time
}

// DispensingLog is volume delivered from a trip.
type DispensingLog struct {
	TripID     int64
	DriverID   int64
	DriverName string
	Supplied   decimal.Decimal
	Community  decimal.Decimal
	At         time.Time
}

// Row is the per-driver summary over one window.
type Row struct {
	DriverID       int64           `json:"driver_id"`
	FullName       string          `json:"full_name"`
	TripCount      int             `json:"trip_count"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	TotalSupplied  decimal.Decimal `json:"total_supplied"`
	TotalCommunity decimal.Decimal `json:"total_community"`
	Balance        decimal.Decimal `json:"balance"`
}

// Report is what a reconciliation query returns.
type Report struct {
	Window Window `json:"window"`
	Rows   []Row  `json:"rows"`
}
