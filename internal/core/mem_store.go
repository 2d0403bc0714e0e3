package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

// DefaultLockTimeout bounds how long Within waits for a stock key.
const DefaultLockTimeout = 2 * time.Second

type rowKey struct {
	org uuid.UUID
	key StockKey
}

// MemStore is an in-process Store. Each unit of work stages its writes and
// publishes them in one step on success.
type MemStore struct {
	mu        sync.RWMutex
	orgs      map[uuid.UUID]Organization
	products  map[uuid.UUID]Product
	locations map[uuid.UUID]Location
	rows      map[rowKey]Inventory
	txs       []Transaction

	locksMu      sync.Mutex
	keyLocks     map[rowKey]*semaphore.Weighted
	productLocks map[uuid.UUID]*semaphore.Weighted

	clockMu     sync.Mutex
	lastStamp   time.Time
	now         func() time.Time
	lockTimeout time.Duration
}

// MemOption configures a MemStore.
type MemOption func(*MemStore)

func WithMemLockTimeout(d time.Duration) MemOption {
	return func(s *MemStore) { s.lockTimeout = d }
}

// WithMemClock replaces time.Now for created_at/updated_at stamps.
func WithMemClock(now func() time.Time) MemOption {
	return func(s *MemStore) { s.now = now }
}

func NewMemStore(opts ...MemOption) *MemStore {
	s := &MemStore{
		orgs:         make(map[uuid.UUID]Organization),
		products:     make(map[uuid.UUID]Product),
		locations:    make(map[uuid.UUID]Location),
		rows:         make(map[rowKey]Inventory),
		keyLocks:     make(map[rowKey]*semaphore.Weighted),
		productLocks: make(map[uuid.UUID]*semaphore.Weighted),
		now:          time.Now,
		lockTimeout:  DefaultLockTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// SaveOrganization, SaveProduct and SaveLocation load catalog data. They
// stand in for the external catalog owner.
func (s *MemStore) SaveOrganization(ctx context.Context, o Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}
	s.orgs[o.ID] = o
	return nil
}

func (s *MemStore) SaveProduct(ctx context.Context, p Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[p.OrgID]; !ok {
		return &NotFoundError{Entity: "organization", ID: p.OrgID.String()}
	}
	s.products[p.ID] = p
	return nil
}

func (s *MemStore) SaveLocation(ctx context.Context, l Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[l.OrgID]; !ok {
		return &NotFoundError{Entity: "organization", ID: l.OrgID.String()}
	}
	s.locations[l.ID] = l
	return nil
}

// stamp returns a strictly increasing timestamp so created_at order matches
// append order.
func (s *MemStore) stamp() time.Time {
	s.clockMu.Lock()
	defer s.clockMu.Unlock()
	t := s.now().UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func (s *MemStore) keyLock(k rowKey) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.keyLocks[k]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.keyLocks[k] = sem
	}
	return sem
}

func (s *MemStore) productLock(id uuid.UUID) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	sem, ok := s.productLocks[id]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.productLocks[id] = sem
	}
	return sem
}

func (s *MemStore) Within(ctx context.Context, org uuid.UUID, keys []StockKey, fn func(tx LedgerTx) error) error {
	sorted := SortKeys(keys)
	lockCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	var held []*semaphore.Weighted
	defer func() {
		for _, sem := range held {
			sem.Release(1)
		}
	}()

	locked := make(map[StockKey]bool, len(sorted))
	for _, k := range sorted {
		sem := s.keyLock(rowKey{org: org, key: k})
		if err := sem.Acquire(lockCtx, 1); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &ConcurrencyTimeoutError{Key: k, Err: err}
		}
		held = append(held, sem)
		locked[k] = true
	}

	tx := &memTx{
		store:    s,
		org:      org,
		lockCtx:  lockCtx,
		locked:   locked,
		rows:     make(map[StockKey]Inventory),
		products: make(map[uuid.UUID]Product),
	}
	defer tx.releaseProducts()

	if err := fn(tx); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, row := range tx.rows {
		s.rows[rowKey{org: tx.org, key: k}] = row
	}
	for id, p := range tx.products {
		s.products[id] = p
	}
	s.txs = append(s.txs, tx.appended...)
}

type memTx struct {
	store   *MemStore
	org     uuid.UUID
	lockCtx context.Context
	locked  map[StockKey]bool

	rows        map[StockKey]Inventory
	products    map[uuid.UUID]Product
	heldProduct []uuid.UUID
	appended    []Transaction
}

func (t *memTx) releaseProducts() {
	for _, id := range t.heldProduct {
		t.store.productLock(id).Release(1)
	}
	t.heldProduct = nil
}

func (t *memTx) Product(ctx context.Context, id uuid.UUID) (*Product, error) {
	if p, ok := t.products[id]; ok {
		return &p, nil
	}
	return t.store.GetProduct(ctx, t.org, id)
}

func (t *memTx) LockProduct(ctx context.Context, id uuid.UUID) (*Product, error) {
	for _, held := range t.heldProduct {
		if held == id {
			return t.Product(ctx, id)
		}
	}
	p, err := t.store.GetProduct(ctx, t.org, id)
	if err != nil {
		return nil, err
	}
	if err := t.store.productLock(id).Acquire(t.lockCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ConcurrencyTimeoutError{Err: fmt.Errorf("product %s: %w", id, err)}
	}
	t.heldProduct = append(t.heldProduct, id)
	// Re-read after acquiring: another unit may have committed a new cost.
	fresh, err := t.store.GetProduct(ctx, t.org, p.ID)
	if err != nil {
		return nil, err
	}
	t.products[id] = *fresh
	return fresh, nil
}

func (t *memTx) Location(ctx context.Context, id uuid.UUID) (*Location, error) {
	return t.store.GetLocation(ctx, t.org, id)
}

func (t *memTx) GetOrCreateInventory(ctx context.Context, key StockKey) (*Inventory, error) {
	if !t.locked[key] {
		return nil, fmt.Errorf("inventory %s is not locked by this unit of work", key)
	}
	if row, ok := t.rows[key]; ok {
		return &row, nil
	}
	t.store.mu.RLock()
	row, ok := t.store.rows[rowKey{org: t.org, key: key}]
	t.store.mu.RUnlock()
	if !ok {
		now := t.store.stamp()
		row = Inventory{
			ID:             uuid.New(),
			OrgID:          t.org,
			ProductID:      key.ProductID,
			LocationID:     key.LocationID,
			CurrentStock:   decimal.Zero,
			CommittedStock: decimal.Zero,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
	}
	t.rows[key] = row
	return &row, nil
}

func (t *memTx) FindInventory(ctx context.Context, key StockKey) (*Inventory, error) {
	if !t.locked[key] {
		return nil, fmt.Errorf("inventory %s is not locked by this unit of work", key)
	}
	if row, ok := t.rows[key]; ok {
		return &row, nil
	}
	t.store.mu.RLock()
	row, ok := t.store.rows[rowKey{org: t.org, key: key}]
	t.store.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (t *memTx) ProductOnHand(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	add := func(row Inventory) {
		if row.CurrentStock.IsPositive() {
			sum = sum.Add(row.CurrentStock)
		}
	}
	t.store.mu.RLock()
	for k, row := range t.store.rows {
		if k.org != t.org || k.key.ProductID != productID {
			continue
		}
		if _, staged := t.rows[k.key]; staged {
			continue
		}
		add(row)
	}
	t.store.mu.RUnlock()
	for k, row := range t.rows {
		if k.ProductID == productID {
			add(row)
		}
	}
	return sum, nil
}

func (t *memTx) AppendTransaction(ctx context.Context, tx Transaction) (*Transaction, error) {
	if tx.Detail == nil {
		return nil, errors.New("transaction detail is required")
	}
	if !t.locked[tx.Key()] {
		return nil, fmt.Errorf("inventory %s is not locked by this unit of work", tx.Key())
	}
	tx.ID = uuid.New()
	tx.OrgID = t.org
	tx.CreatedAt = t.store.stamp()
	t.appended = append(t.appended, tx)
	return &tx, nil
}

func (t *memTx) ApplyDelta(ctx context.Context, key StockKey, dCurrent, dCommitted decimal.Decimal) (*Inventory, error) {
	row, err := t.GetOrCreateInventory(ctx, key)
	if err != nil {
		return nil, err
	}
	row.CurrentStock = row.CurrentStock.Add(dCurrent)
	row.CommittedStock = row.CommittedStock.Add(dCommitted)
	if row.CommittedStock.IsNegative() {
		return nil, fmt.Errorf("committed_stock for %s would become %s", key, row.CommittedStock)
	}
	row.UpdatedAt = t.store.stamp()
	t.rows[key] = *row
	return row, nil
}

func (t *memTx) SetProductCost(ctx context.Context, productID uuid.UUID, avgCost decimal.Decimal, lastPurchase *decimal.Decimal) error {
	p, ok := t.products[productID]
	if !ok {
		return fmt.Errorf("product %s must be locked before its cost is updated", productID)
	}
	p.AvgCost = avgCost
	if lastPurchase != nil {
		lp := *lastPurchase
		p.LastPurchaseCost = &lp
	}
	t.products[productID] = p
	return nil
}

func (t *memTx) FindByReference(ctx context.Context, key StockKey, txType TransactionType, ref Reference) ([]Transaction, error) {
	match := func(tx Transaction) bool {
		return tx.OrgID == t.org && tx.Key() == key && tx.Type() == txType &&
			tx.Reference.ID == ref.ID && tx.Reference.Type == ref.Type
	}
	var out []Transaction
	t.store.mu.RLock()
	for _, tx := range t.store.txs {
		if match(tx) {
			out = append(out, tx)
		}
	}
	t.store.mu.RUnlock()
	for _, tx := range t.appended {
		if match(tx) {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (t *memTx) LedgerSum(ctx context.Context, key StockKey) (decimal.Decimal, error) {
	sum := decimal.Zero
	t.store.mu.RLock()
	for _, tx := range t.store.txs {
		if tx.OrgID == t.org && tx.Key() == key {
			sum = sum.Add(tx.Quantity)
		}
	}
	t.store.mu.RUnlock()
	for _, tx := range t.appended {
		if tx.Key() == key {
			sum = sum.Add(tx.Quantity)
		}
	}
	return sum, nil
}

// ── ReadStore ─────────────────────────────────────────────────────────────────

func (s *MemStore) Organizations(ctx context.Context) ([]Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Organization, 0, len(s.orgs))
	for _, o := range s.orgs {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemStore) GetProduct(ctx context.Context, org, id uuid.UUID) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok || p.OrgID != org {
		return nil, &NotFoundError{Entity: "product", ID: id.String()}
	}
	return &p, nil
}

func (s *MemStore) GetLocation(ctx context.Context, org, id uuid.UUID) (*Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locations[id]
	if !ok || l.OrgID != org {
		return nil, &NotFoundError{Entity: "location", ID: id.String()}
	}
	return &l, nil
}

func (s *MemStore) ListProducts(ctx context.Context, org uuid.UUID) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Product
	for _, p := range s.products {
		if p.OrgID == org {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (s *MemStore) ListLocations(ctx context.Context, org uuid.UUID) ([]Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Location
	for _, l := range s.locations {
		if l.OrgID == org {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemStore) GetInventory(ctx context.Context, org uuid.UUID, key StockKey) (*Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[rowKey{org: org, key: key}]
	if !ok {
		return nil, &NotFoundError{Entity: "inventory", ID: key.String()}
	}
	return &row, nil
}

func (s *MemStore) ListInventory(ctx context.Context, org uuid.UUID, f InventoryFilter) ([]Inventory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Inventory
	for k, row := range s.rows {
		if k.org != org {
			continue
		}
		if f.ProductID != uuid.Nil && row.ProductID != f.ProductID {
			continue
		}
		if f.LocationID != uuid.Nil && row.LocationID != f.LocationID {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().Less(out[j].Key()) })
	return out, nil
}

func (s *MemStore) ListTransactions(ctx context.Context, org uuid.UUID, f TransactionFilter) ([]Transaction, error) {
	s.mu.RLock()
	var out []Transaction
	for _, tx := range s.txs {
		if tx.OrgID == org && f.matches(tx) {
			out = append(out, tx)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out, nil
}
