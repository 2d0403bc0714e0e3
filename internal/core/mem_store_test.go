package core_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"inventory-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStore_FailedUnitLeavesNoTrace(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	key := f.key(f.locA)
	boom := errors.New("boom")

	err := f.store.Within(f.ctx, f.org, []core.StockKey{key}, func(tx core.LedgerTx) error {
		if _, err := tx.AppendTransaction(f.ctx, core.Transaction{
			ProductID: key.ProductID, LocationID: key.LocationID,
			Quantity: d("5"), Detail: core.CountDetail{},
		}); err != nil {
			return err
		}
		if _, err := tx.ApplyDelta(f.ctx, key, d("5"), d("0")); err != nil {
			return err
		}
		sum, err := tx.LedgerSum(f.ctx, key)
		require.NoError(t, err)
		assert.True(t, sum.Equal(d("5")), "the unit sees its own writes")
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = f.store.GetInventory(f.ctx, f.org, key)
	assert.True(t, core.IsNotFound(err))
	assert.Empty(t, f.transactions(t))
}

func TestMemStore_RejectsUnlockedKeys(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	err := f.store.Within(f.ctx, f.org, []core.StockKey{f.key(f.locA)}, func(tx core.LedgerTx) error {
		_, err := tx.GetOrCreateInventory(f.ctx, f.key(f.locB))
		return err
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not locked")
}

func TestMemStore_SetProductCostRequiresLock(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	err := f.store.Within(f.ctx, f.org, []core.StockKey{f.key(f.locA)}, func(tx core.LedgerTx) error {
		return tx.SetProductCost(f.ctx, f.product.ID, d("1"), nil)
	})
	require.Error(t, err)

	err = f.store.Within(f.ctx, f.org, []core.StockKey{f.key(f.locA)}, func(tx core.LedgerTx) error {
		if _, err := tx.LockProduct(f.ctx, f.product.ID); err != nil {
			return err
		}
		return tx.SetProductCost(f.ctx, f.product.ID, d("1.25"), dp("2"))
	})
	require.NoError(t, err)
	assert.True(t, f.avgCost(t).Equal(d("1.25")))
}

func TestMemStore_TenantIsolation(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "3", "1")

	other := uuid.New()
	require.NoError(t, f.store.SaveOrganization(f.ctx, core.Organization{ID: other, Name: "Other"}))

	_, err := f.store.GetProduct(f.ctx, other, f.product.ID)
	assert.True(t, core.IsNotFound(err))
	rows, err := f.store.ListInventory(f.ctx, other, core.InventoryFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
	txs, err := f.store.ListTransactions(f.ctx, other, core.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestMemStore_CatalogNeedsOrganization(t *testing.T) {
	store := core.NewMemStore()
	err := store.SaveProduct(context.Background(), core.Product{ID: uuid.New(), OrgID: uuid.New(), SKU: "X"})
	assert.True(t, core.IsNotFound(err))
}

func TestMemStore_TimestampsStrictlyIncrease(t *testing.T) {
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	f := newFixture(t, core.DefaultPolicy(), core.WithMemClock(func() time.Time { return frozen }))

	for i := 0; i < 5; i++ {
		f.receive(t, f.locA, "1", "1")
	}
	txs := f.transactions(t)
	require.Len(t, txs, 5)
	for i := 1; i < len(txs); i++ {
		assert.True(t, txs[i].CreatedAt.After(txs[i-1].CreatedAt))
	}
}

func TestMemStore_ListTransactionsFilters(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	for i := 0; i < 4; i++ {
		f.receive(t, f.locA, "1", "1")
	}
	_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{
		StockTarget: f.target(f.locB), Audit: core.Audit{Reference: core.Reference{ID: "PO-9"}},
		Quantity: d("2"), UnitCost: d("1"),
	})
	require.NoError(t, err)

	all := f.transactions(t)
	require.Len(t, all, 5)

	recent, err := f.store.ListTransactions(f.ctx, f.org, core.TransactionFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, all[3].ID, recent[0].ID)
	assert.Equal(t, all[4].ID, recent[1].ID)

	byRef, err := f.store.ListTransactions(f.ctx, f.org, core.TransactionFilter{ReferenceID: "PO-9"})
	require.NoError(t, err)
	require.Len(t, byRef, 1)
	assert.Equal(t, f.locB.ID, byRef[0].LocationID)

	window, err := f.store.ListTransactions(f.ctx, f.org, core.TransactionFilter{
		Since: all[1].CreatedAt, Until: all[2].CreatedAt,
	})
	require.NoError(t, err)
	assert.Len(t, window, 2)

	sales, err := f.store.ListTransactions(f.ctx, f.org, core.TransactionFilter{Type: core.TxSale})
	require.NoError(t, err)
	assert.Empty(t, sales)
}
