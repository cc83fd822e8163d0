package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Owner identifies the holder of a quantity: the warehouse or a personnel wallet.
type Owner string

// Warehouse is the central stock owner. Its balance is the catalog total.
const Warehouse Owner = "warehouse"

const personnelPrefix = "personnel:"

// PersonnelOwner returns the wallet owner of a field engineer.
func PersonnelOwner(id int64) Owner {
	return Owner(personnelPrefix + strconv.FormatInt(id, 10))
}

// ParseOwner accepts "warehouse" or "personnel:<id>".
func ParseOwner(raw string) (Owner, error) {
	raw = strings.TrimSpace(raw)
	if raw == string(Warehouse) {
		return Warehouse, nil
	}
	owner := Owner(raw)
	if _, ok := owner.PersonnelID(); ok {
		return owner, nil
	}
	return "", shared.Validation("owner", fmt.Sprintf("unknown owner %q", raw))
}

// IsWarehouse reports whether o is the warehouse.
func (o Owner) IsWarehouse() bool { return o == Warehouse }

// PersonnelID extracts the personnel id of a wallet owner.
func (o Owner) PersonnelID() (int64, bool) {
	rest, ok := strings.CutPrefix(string(o), personnelPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Valid reports whether o names a known owner.
func (o Owner) Valid() bool {
	if o.IsWarehouse() {
		return true
	}
	_, ok := o.PersonnelID()
	return ok
}

// ItemRef names the stock item a movement applies to: a catalog entry, or an ad-hoc
// item name with no catalog match.
type ItemRef struct {
	CatalogEntryID *int64
	ItemName       string
}

// Catalogued refers to a catalog entry.
func Catalogued(id int64) ItemRef {
	return ItemRef{CatalogEntryID: &id}
}

// AdHoc refers to an item by name only.
func AdHoc(name string) ItemRef {
	return ItemRef{ItemName: name}
}

// IsAdHoc reports whether the reference has no catalog entry.
func (r ItemRef) IsAdHoc() bool { return r.CatalogEntryID == nil }

// Key is the balance bucket of the item for one owner.
func (r ItemRef) Key() string {
	if r.CatalogEntryID != nil {
		return "c:" + strconv.FormatInt(*r.CatalogEntryID, 10)
	}
	return "n:" + shared.FoldKey(r.ItemName)
}

// Entry is one signed quantity movement.
type Entry struct {
	ID             int64           `json:"id"`
	CompanyID      int64           `json:"company_id"`
	CatalogEntryID *int64          `json:"catalog_entry_id,omitempty"`
	ItemName       string          `json:"item_name"`
	Owner          Owner           `json:"owner"`
	BatchID        *int64          `json:"batch_id,omitempty"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitOfMeasure  string          `json:"unit_of_measure"`
	Notes          string          `json:"notes,omitempty"`
	CreatedBy      int64           `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Ref returns the item reference of the entry.
func (e Entry) Ref() ItemRef {
	return ItemRef{CatalogEntryID: e.CatalogEntryID, ItemName: e.ItemName}
}

// Balance is the cached holding of one owner for one item.
type Balance struct {
	CompanyID      int64           `json:"company_id"`
	Owner          Owner           `json:"owner"`
	Key            string          `json:"-"`
	CatalogEntryID *int64          `json:"catalog_entry_id,omitempty"`
	ItemName       string          `json:"item_name"`
	Quantity       decimal.Decimal `json:"quantity"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// PostInput describes one ledger posting.
type PostInput struct {
	Item          ItemRef
	Owner         Owner
	Quantity      decimal.Decimal
	BatchID       *int64
	UnitOfMeasure string
	Notes         string
	CreatedBy     int64
	// Line is the 1-based batch line reported in errors.
	Line int
}

// EditInput changes the quantity and optionally the notes of an entry.
type EditInput struct {
	Quantity decimal.Decimal
	Notes    *string
}

// HistoryFilter narrows ledger listings.
type HistoryFilter struct {
	Owner          Owner
	CatalogEntryID int64
	BatchID        int64
	From           time.Time
	To             time.Time
	Limit          int
}

// BalanceView is the answer of a balance query.
type BalanceView struct {
	Owner          Owner            `json:"owner"`
	CatalogEntryID *int64           `json:"catalog_entry_id,omitempty"`
	ItemName       string           `json:"item_name,omitempty"`
	Quantity       decimal.Decimal  `json:"quantity"`
	LedgerSum      *decimal.Decimal `json:"ledger_sum,omitempty"`
}

// ErrEntryNotFound indicates a missing ledger entry.
var ErrEntryNotFound = fmt.Errorf("ledger entry %w", shared.ErrNotFound)

// ErrBalanceNotFound indicates no cached balance row for an owner and item.
var ErrBalanceNotFound = fmt.Errorf("owner balance %w", shared.ErrNotFound)
