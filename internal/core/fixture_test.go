package core_test

import (
	"context"
	"testing"
	"time"

	"inventory-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

// fixture is one organization with a single product and two active
// warehouses, backed by a fresh MemStore.
type fixture struct {
	ctx     context.Context
	store   *core.MemStore
	svc     core.StockService
	reports core.ReportingService

	org     uuid.UUID
	product core.Product
	locA    core.Location
	locB    core.Location
}

func newFixture(t *testing.T, policy core.Policy, opts ...core.MemOption) *fixture {
	t.Helper()
	ctx := context.Background()
	store := core.NewMemStore(opts...)

	f := &fixture{ctx: ctx, store: store, org: uuid.New()}
	require.NoError(t, store.SaveOrganization(ctx, core.Organization{ID: f.org, Name: "Acme"}))

	f.product = core.Product{
		ID: uuid.New(), OrgID: f.org, SKU: "WID-1", Name: "Widget",
		UnitOfMeasure: "each", IsActive: true,
	}
	f.locA = core.Location{ID: uuid.New(), OrgID: f.org, Code: "WH-A", Name: "Warehouse A", Type: core.LocationWarehouse, IsActive: true}
	f.locB = core.Location{ID: uuid.New(), OrgID: f.org, Code: "WH-B", Name: "Warehouse B", Type: core.LocationWarehouse, IsActive: true}
	require.NoError(t, store.SaveProduct(ctx, f.product))
	require.NoError(t, store.SaveLocation(ctx, f.locA))
	require.NoError(t, store.SaveLocation(ctx, f.locB))

	f.svc = core.NewStockService(store, policy, nil)
	f.reports = core.NewReportingService(store, nil)
	return f
}

func (f *fixture) target(loc core.Location) core.StockTarget {
	return core.StockTarget{OrgID: f.org, ProductID: f.product.ID, LocationID: loc.ID}
}

func (f *fixture) key(loc core.Location) core.StockKey {
	return core.StockKey{ProductID: f.product.ID, LocationID: loc.ID}
}

func (f *fixture) receive(t *testing.T, loc core.Location, qty, cost string) *core.StockResult {
	t.Helper()
	res, err := f.svc.Receive(f.ctx, core.ReceiveRequest{
		StockTarget: f.target(loc), Quantity: d(qty), UnitCost: d(cost),
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) row(t *testing.T, loc core.Location) core.Inventory {
	t.Helper()
	inv, err := f.store.GetInventory(f.ctx, f.org, f.key(loc))
	require.NoError(t, err)
	return *inv
}

func (f *fixture) avgCost(t *testing.T) decimal.Decimal {
	t.Helper()
	p, err := f.store.GetProduct(f.ctx, f.org, f.product.ID)
	require.NoError(t, err)
	return p.AvgCost
}

func (f *fixture) ledgerSum(t *testing.T, loc core.Location) decimal.Decimal {
	t.Helper()
	sum, err := f.reports.StockAsOf(f.ctx, f.org, f.key(loc), time.Now().Add(time.Hour))
	require.NoError(t, err)
	return sum
}

func (f *fixture) transactions(t *testing.T) []core.Transaction {
	t.Helper()
	txs, err := f.store.ListTransactions(f.ctx, f.org, core.TransactionFilter{ProductID: f.product.ID})
	require.NoError(t, err)
	return txs
}

// skewStore drifts every cached row by one unit without a matching ledger
// entry, the partial application the integrity check exists for.
type skewStore struct {
	core.Store
}

func (s skewStore) Within(ctx context.Context, org uuid.UUID, keys []core.StockKey, fn func(tx core.LedgerTx) error) error {
	return s.Store.Within(ctx, org, keys, func(tx core.LedgerTx) error {
		return fn(skewTx{tx})
	})
}

type skewTx struct {
	core.LedgerTx
}

func (t skewTx) ApplyDelta(ctx context.Context, key core.StockKey, dCurrent, dCommitted decimal.Decimal) (*core.Inventory, error) {
	return t.LedgerTx.ApplyDelta(ctx, key, dCurrent.Add(decimal.NewFromInt(1)), dCommitted)
}
