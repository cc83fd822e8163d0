// Package memstore is an in-memory stand-in for the PostgreSQL repositories used by
// service tests. Transactions are serialized and roll back on error.
package memstore

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fieldstock/fieldstock/internal/batch"
	"github.com/fieldstock/fieldstock/internal/catalog"
	"github.com/fieldstock/fieldstock/internal/ledger"
	"github.com/fieldstock/fieldstock/internal/shared"
	"github.com/fieldstock/fieldstock/internal/units"
)

type state struct {
	entries  map[int64]catalog.Entry
	units    map[int64]units.Unit
	ledger   map[int64]ledger.Entry
	balances map[string]ledger.Balance
	batches  map[int64]batch.Batch
	effects  map[int64][]batch.Effect
	nextID   int64
}

func newState() state {
	return state{
		entries:  make(map[int64]catalog.Entry),
		units:    make(map[int64]units.Unit),
		ledger:   make(map[int64]ledger.Entry),
		balances: make(map[string]ledger.Balance),
		batches:  make(map[int64]batch.Batch),
		effects:  make(map[int64][]batch.Effect),
	}
}

func (s state) clone() state {
	c := newState()
	c.nextID = s.nextID
	for k, v := range s.entries {
		c.entries[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.ledger {
		c.ledger[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	for k, v := range s.effects {
		c.effects[k] = append([]batch.Effect(nil), v...)
	}
	return c
}

// Store holds every table the domain packages touch.
type Store struct {
	mu  sync.Mutex
	st  state
	Now func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), Now: time.Now}
}

// Catalog returns the catalog repository view.
func (s *Store) Catalog() *CatalogRepo { return &CatalogRepo{s: s} }

// Ledger returns the ledger repository view.
func (s *Store) Ledger() *LedgerRepo { return &LedgerRepo{s: s} }

// Units returns the unit registry repository view.
func (s *Store) Units() *UnitRepo { return &UnitRepo{s: s} }

// Batches returns the batch repository view.
func (s *Store) Batches() *BatchRepo { return &BatchRepo{s: s} }

// withTx runs fn against the live state and restores the snapshot when fn fails.
func (s *Store) withTx(ctx context.Context, fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.st.clone()
	if err := fn(&Tx{s: s}); err != nil {
		s.st = snapshot
		return err
	}
	return ctx.Err()
}

func (s *Store) now() time.Time { return s.Now().UTC() }

func (s *Store) id() int64 {
	s.st.nextID++
	return s.st.nextID
}

// Tx implements every TxRepository of the domain packages.
type Tx struct {
	s *Store
}

func balanceKey(companyID int64, owner ledger.Owner, key string) string {
	return strconv.FormatInt(companyID, 10) + "|" + string(owner) + "|" + key
}

// catalog

func (t *Tx) FindEntryByKey(_ context.Context, companyID int64, key catalog.IdentityKey) (catalog.Entry, error) {
	for _, e := range t.s.st.entries {
		if e.CompanyID == companyID && shared.FoldKey(e.ProductName) == key.NameKey && shared.FoldKey(e.PartNo) == key.PartKey {
			return e, nil
		}
	}
	return catalog.Entry{}, catalog.ErrEntryNotFound
}

func (t *Tx) InsertEntry(ctx context.Context, entry catalog.Entry, key catalog.IdentityKey) (catalog.Entry, bool, error) {
	if existing, err := t.FindEntryByKey(ctx, entry.CompanyID, key); err == nil {
		return existing, false, nil
	}
	entry.ID = t.s.id()
	entry.CreatedAt = t.s.now()
	entry.UpdatedAt = entry.CreatedAt
	t.s.st.entries[entry.ID] = entry
	return entry, true, nil
}

func (t *Tx) RefreshEntryDetails(_ context.Context, id int64, price *decimal.Decimal, manufacturer string) (catalog.Entry, error) {
	e, ok := t.s.st.entries[id]
	if !ok {
		return catalog.Entry{}, catalog.ErrEntryNotFound
	}
	if price != nil {
		p := *price
		e.LastPurchasePrice = &p
	}
	if manufacturer != "" {
		e.Manufacturer = manufacturer
	}
	e.UpdatedAt = t.s.now()
	t.s.st.entries[id] = e
	return e, nil
}

func (t *Tx) GetEntryForUpdate(_ context.Context, companyID, id int64) (catalog.Entry, error) {
	e, ok := t.s.st.entries[id]
	if !ok || e.CompanyID != companyID {
		return catalog.Entry{}, catalog.ErrEntryNotFound
	}
	return e, nil
}

func (t *Tx) SetEntryTotal(_ context.Context, id int64, total decimal.Decimal) error {
	e, ok := t.s.st.entries[id]
	if !ok {
		return catalog.ErrEntryNotFound
	}
	e.TotalInStock = total
	e.UpdatedAt = t.s.now()
	t.s.st.entries[id] = e
	return nil
}

func (t *Tx) CountEntryReferences(_ context.Context, companyID, id int64) (catalog.References, error) {
	var refs catalog.References
	for _, u := range t.s.st.units {
		if u.CompanyID == companyID && u.CatalogEntryID == id {
			refs.Units++
		}
	}
	for _, l := range t.s.st.ledger {
		if l.CompanyID == companyID && l.CatalogEntryID != nil && *l.CatalogEntryID == id {
			refs.LedgerEntries++
		}
	}
	return refs, nil
}

func (t *Tx) DeleteEntry(_ context.Context, companyID, id int64) error {
	e, ok := t.s.st.entries[id]
	if !ok || e.CompanyID != companyID {
		return catalog.ErrEntryNotFound
	}
	delete(t.s.st.entries, id)
	return nil
}

// ledger

func (t *Tx) InsertLedgerEntry(_ context.Context, entry ledger.Entry) (ledger.Entry, error) {
	entry.ID = t.s.id()
	entry.CreatedAt = t.s.now()
	entry.UpdatedAt = entry.CreatedAt
	t.s.st.ledger[entry.ID] = entry
	return entry, nil
}

func (t *Tx) GetLedgerEntryForUpdate(_ context.Context, companyID, id int64) (ledger.Entry, error) {
	e, ok := t.s.st.ledger[id]
	if !ok || e.CompanyID != companyID {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, nil
}

func (t *Tx) UpdateLedgerEntry(_ context.Context, id int64, quantity decimal.Decimal, notes string) (ledger.Entry, error) {
	e, ok := t.s.st.ledger[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	e.Quantity = quantity
	e.Notes = notes
	e.UpdatedAt = t.s.now()
	t.s.st.ledger[id] = e
	return e, nil
}

func (t *Tx) DeleteLedgerEntry(_ context.Context, companyID, id int64) error {
	e, ok := t.s.st.ledger[id]
	if !ok || e.CompanyID != companyID {
		return ledger.ErrEntryNotFound
	}
	delete(t.s.st.ledger, id)
	return nil
}

func (t *Tx) GetOwnerBalanceForUpdate(_ context.Context, companyID int64, owner ledger.Owner, key string) (ledger.Balance, error) {
	b, ok := t.s.st.balances[balanceKey(companyID, owner, key)]
	if !ok {
		return ledger.Balance{}, ledger.ErrBalanceNotFound
	}
	return b, nil
}

func (t *Tx) UpsertOwnerBalance(_ context.Context, b ledger.Balance) error {
	b.UpdatedAt = t.s.now()
	t.s.st.balances[balanceKey(b.CompanyID, b.Owner, b.Key)] = b
	return nil
}

func (t *Tx) SumLedgerEntries(_ context.Context, companyID int64, owner ledger.Owner, key string) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, e := range t.s.st.ledger {
		if e.CompanyID == companyID && e.Owner == owner && e.Ref().Key() == key {
			sum = sum.Add(e.Quantity)
		}
	}
	return sum, nil
}

// units

func (t *Tx) FindUnitByBarcode(_ context.Context, barcodeKey string) (units.Unit, error) {
	for _, u := range t.s.st.units {
		if units.BarcodeKey(u.Barcode) == barcodeKey {
			return u, nil
		}
	}
	return units.Unit{}, units.ErrUnitNotFound
}

func (t *Tx) InsertUnit(ctx context.Context, companyID int64, in units.NewUnit, barcodeKey string) (units.Unit, bool, error) {
	if _, err := t.FindUnitByBarcode(ctx, barcodeKey); err == nil {
		return units.Unit{}, false, nil
	}
	u := units.Unit{
		ID:             t.s.id(),
		CompanyID:      companyID,
		CatalogEntryID: in.CatalogEntryID,
		Barcode:        strings.TrimSpace(in.Barcode),
		SKUMetadata:    in.SKUMetadata,
		Status:         units.StatusInStock,
		CreatedAt:      t.s.now(),
	}
	u.UpdatedAt = u.CreatedAt
	t.s.st.units[u.ID] = u
	return u, true, nil
}

func (t *Tx) GetUnitForUpdate(_ context.Context, companyID, id int64) (units.Unit, error) {
	u, ok := t.s.st.units[id]
	if !ok || u.CompanyID != companyID {
		return units.Unit{}, units.ErrUnitNotFound
	}
	return u, nil
}

func (t *Tx) SetUnitStatus(_ context.Context, id int64, status units.Status, issuedTo *int64) error {
	u, ok := t.s.st.units[id]
	if !ok {
		return units.ErrUnitNotFound
	}
	u.Status = status
	u.IssuedTo = issuedTo
	u.UpdatedAt = t.s.now()
	t.s.st.units[id] = u
	return nil
}

func (t *Tx) DeleteUnit(_ context.Context, companyID, id int64) error {
	u, ok := t.s.st.units[id]
	if !ok || u.CompanyID != companyID {
		return units.ErrUnitNotFound
	}
	delete(t.s.st.units, id)
	return nil
}

// batches

func (t *Tx) InsertBatch(_ context.Context, b batch.Batch) (batch.Batch, bool, error) {
	if b.Source != "" {
		for _, existing := range t.s.st.batches {
			if existing.CompanyID == b.CompanyID && existing.Source == b.Source {
				return batch.Batch{}, false, nil
			}
		}
	}
	b.ID = t.s.id()
	b.CreatedAt = t.s.now()
	t.s.st.batches[b.ID] = b
	return b, true, nil
}

func (t *Tx) GetBatchForUpdate(_ context.Context, companyID, id int64) (batch.Batch, error) {
	b, ok := t.s.st.batches[id]
	if !ok || b.CompanyID != companyID {
		return batch.Batch{}, batch.ErrBatchNotFound
	}
	return b, nil
}

func (t *Tx) InsertEffects(_ context.Context, effects []batch.Effect) error {
	for _, e := range effects {
		t.s.st.effects[e.BatchID] = append(t.s.st.effects[e.BatchID], e)
	}
	return nil
}

func (t *Tx) ListEffects(_ context.Context, batchID int64) ([]batch.Effect, error) {
	return append([]batch.Effect(nil), t.s.st.effects[batchID]...), nil
}

func (t *Tx) DeleteEffects(_ context.Context, batchID int64) error {
	delete(t.s.st.effects, batchID)
	return nil
}

func (t *Tx) DeleteBatch(_ context.Context, companyID, id int64) error {
	b, ok := t.s.st.batches[id]
	if !ok || b.CompanyID != companyID {
		return batch.ErrBatchNotFound
	}
	delete(t.s.st.batches, id)
	return nil
}

// CatalogRepo implements catalog.RepositoryPort.
type CatalogRepo struct{ s *Store }

func (r *CatalogRepo) WithTx(ctx context.Context, fn func(context.Context, catalog.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *CatalogRepo) GetEntry(_ context.Context, companyID, id int64) (catalog.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	e, ok := r.s.st.entries[id]
	if !ok || e.CompanyID != companyID {
		return catalog.Entry{}, catalog.ErrEntryNotFound
	}
	return e, nil
}

func (r *CatalogRepo) ListEntries(_ context.Context, companyID int64, filter catalog.ListFilter) ([]catalog.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	search := shared.FoldKey(filter.Search)
	var out []catalog.Entry
	for _, e := range r.s.st.entries {
		if e.CompanyID != companyID {
			continue
		}
		if search != "" && !strings.Contains(shared.FoldKey(e.ProductName+" "+e.PartNo), search) {
			continue
		}
		if filter.Category != "" && !strings.EqualFold(e.Category, filter.Category) {
			continue
		}
		if filter.TrackingMode != "" && e.TrackingMode != filter.TrackingMode {
			continue
		}
		if filter.LowStockOnly && !e.IsLowStock() {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductName != out[j].ProductName {
			return out[i].ProductName < out[j].ProductName
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *CatalogRepo) ListCompanies(context.Context) ([]int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	seen := make(map[int64]struct{})
	var out []int64
	for _, e := range r.s.st.entries {
		if _, ok := seen[e.CompanyID]; ok {
			continue
		}
		seen[e.CompanyID] = struct{}{}
		out = append(out, e.CompanyID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// LedgerRepo implements ledger.RepositoryPort.
type LedgerRepo struct{ s *Store }

func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *LedgerRepo) ListLedgerEntries(_ context.Context, companyID int64, filter ledger.HistoryFilter) ([]ledger.Entry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []ledger.Entry
	for _, e := range r.s.st.ledger {
		if e.CompanyID != companyID {
			continue
		}
		if filter.Owner != "" && e.Owner != filter.Owner {
			continue
		}
		if filter.CatalogEntryID > 0 && (e.CatalogEntryID == nil || *e.CatalogEntryID != filter.CatalogEntryID) {
			continue
		}
		if filter.BatchID > 0 && (e.BatchID == nil || *e.BatchID != filter.BatchID) {
			continue
		}
		if !filter.From.IsZero() && e.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !e.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *LedgerRepo) ListOwnerBalances(_ context.Context, companyID int64, owner ledger.Owner) ([]ledger.Balance, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []ledger.Balance
	for _, b := range r.s.st.balances {
		if b.CompanyID != companyID || b.Quantity.IsZero() {
			continue
		}
		if owner != "" && b.Owner != owner {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// UnitRepo implements units.RepositoryPort.
type UnitRepo struct{ s *Store }

func (r *UnitRepo) GetUnit(_ context.Context, companyID, id int64) (units.Unit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.units[id]
	if !ok || u.CompanyID != companyID {
		return units.Unit{}, units.ErrUnitNotFound
	}
	return u, nil
}

func (r *UnitRepo) BarcodeRegistered(_ context.Context, barcodeKey string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.st.units {
		if units.BarcodeKey(u.Barcode) == barcodeKey {
			return true, nil
		}
	}
	return false, nil
}

func (r *UnitRepo) ListUnits(_ context.Context, companyID int64, filter units.ListFilter) ([]units.Unit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []units.Unit
	for _, u := range r.s.st.units {
		if u.CompanyID != companyID {
			continue
		}
		if filter.CatalogEntryID > 0 && u.CatalogEntryID != filter.CatalogEntryID {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		if filter.IssuedTo > 0 && (u.IssuedTo == nil || *u.IssuedTo != filter.IssuedTo) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// BatchRepo implements batch.RepositoryPort.
type BatchRepo struct{ s *Store }

func (r *BatchRepo) WithTx(ctx context.Context, fn func(context.Context, batch.TxRepository) error) error {
	return r.s.withTx(ctx, func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *BatchRepo) GetBatch(_ context.Context, companyID, id int64) (batch.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.st.batches[id]
	if !ok || b.CompanyID != companyID {
		return batch.Batch{}, batch.ErrBatchNotFound
	}
	return b, nil
}

func (r *BatchRepo) FindBatchBySource(_ context.Context, companyID int64, source string) (batch.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.st.batches {
		if b.CompanyID == companyID && b.Source == source && source != "" {
			return b, nil
		}
	}
	return batch.Batch{}, batch.ErrBatchNotFound
}

func (r *BatchRepo) ListBatches(_ context.Context, companyID int64, filter batch.ListFilter) ([]batch.Batch, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []batch.Batch
	for _, b := range r.s.st.batches {
		if b.CompanyID != companyID {
			continue
		}
		if filter.Kind != "" && b.Kind != filter.Kind {
			continue
		}
		if filter.PersonnelID > 0 && (b.PersonnelID == nil || *b.PersonnelID != filter.PersonnelID) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *BatchRepo) ListBatchEffects(_ context.Context, batchID int64) ([]batch.Effect, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]batch.Effect(nil), r.s.st.effects[batchID]...), nil
}

// Counts reports table sizes, for asserting that a failed commit wrote nothing.
type Counts struct {
	Entries, Units, LedgerEntries, Balances, Batches, Effects int
}

// Counts returns current table sizes.
func (s *Store) Counts() Counts {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := Counts{
		Entries:       len(s.st.entries),
		Units:         len(s.st.units),
		LedgerEntries: len(s.st.ledger),
		Balances:      len(s.st.balances),
		Batches:       len(s.st.batches),
	}
	for _, e := range s.st.effects {
		c.Effects += len(e)
	}
	return c
}

// Balance returns the cached wallet balance of owner for key, zero when absent.
func (s *Store) Balance(companyID int64, owner ledger.Owner, key string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.balances[balanceKey(companyID, owner, key)].Quantity
}

// Idempotency is an in-memory idempotency store.
type Idempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

// NewIdempotency returns an empty Idempotency.
func NewIdempotency() *Idempotency {
	return &Idempotency{keys: make(map[string]string)}
}

func (i *Idempotency) CheckAndInsert(_ context.Context, key, module string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	i.keys[key] = module
	return nil
}

func (i *Idempotency) Delete(_ context.Context, key string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.keys, key)
	return nil
}

// Has reports whether key is reserved.
func (i *Idempotency) Has(key string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.keys[key]
	return ok
}

// Audit collects audit records.
type Audit struct {
	mu   sync.Mutex
	Logs []shared.AuditLog
}

func (a *Audit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Logs = append(a.Logs, log)
	return nil
}

// Actions lists the recorded actions in order.
func (a *Audit) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.Logs))
	for _, l := range a.Logs {
		out = append(out, l.Action)
	}
	return out
}
