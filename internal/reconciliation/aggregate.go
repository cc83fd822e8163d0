package reconciliation

import (
	"sort"

	"github.com/shopspring/decimal"
)

type driverTotals struct {
	row   Row
	trips map[int64]struct{}
}

// Summarize groups feed records by driver. Each record counts toward the window
// holding its own timestamp; records outside w are ignored.
func Summarize(w Window, allocations []Allocation, logs []DispensingLog) []Row {
	totals := make(map[int64]*driverTotals)
	get := func(driverID int64, name string) *driverTotals {
		t, ok := totals[driverID]
		if !ok {
			t = &driverTotals{
				row: Row{
					DriverID:       driverID,
					TotalAllocated: decimal.Zero,
					TotalSupplied:  decimal.Zero,
					TotalCommunity: decimal.Zero,
				},
				trips: make(map[int64]struct{}),
			}
			totals[driverID] = t
		}
		if t.row.FullName == "" {
			t.row.FullName = name
		}
		return t
	}

	for _, a := range allocations {
		if !w.Contains(a.At) {
			continue
		}
		t := get(a.DriverID, a.DriverName)
		t.row.TotalAllocated = t.row.TotalAllocated.Add(a.Quantity)
		t.trips[a.TripID] = struct{}{}
	}
	for _, l := range logs {
		if !w.Contains(l.At) {
			continue
		}
		t := get(l.DriverID, l.DriverName)
		t.row.TotalSupplied = t.row.TotalSupplied.Add(l.Supplied)
		t.row.TotalCommunity = t.row.TotalCommunity.Add(l.Community)
		t.trips[l.TripID] = struct{}{}
	}

	rows := make([]Row, 0, len(totals))
	for _, t := range totals {
		t.row.TripCount = len(t.trips)
		t.row.Balance = t.row.TotalAllocated.Sub(t.row.TotalSupplied).Sub(t.row.TotalCommunity)
		rows = append(rows, t.row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].FullName != rows[j].FullName {
			return rows[i].FullName < rows[j].FullName
		}
		return rows[i].DriverID < rows[j].DriverID
	})
	return rows
}
