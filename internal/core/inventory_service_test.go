package core_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"inventory-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

// ── Receive ───────────────────────────────────────────────────────────────────

func TestReceive_FirstReceiptSetsAverageCost(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	res := f.receive(t, f.locA, "10", "5")

	assert.True(t, res.Inventory.CurrentStock.Equal(d("10")))
	assert.True(t, f.avgCost(t).Equal(d("5")))
	require.Len(t, res.Transactions, 1)
	tx := res.Transactions[0]
	assert.Equal(t, core.TxPurchase, tx.Type())
	assert.True(t, tx.Quantity.Equal(d("10")))
	assert.True(t, tx.TotalCost().Equal(d("50")))
	require.NotNil(t, res.Product.LastPurchaseCost)
	assert.True(t, res.Product.LastPurchaseCost.Equal(d("5")))
}

func TestReceive_MovingAverage(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "10", "5")

	res := f.receive(t, f.locA, "10", "7")

	assert.True(t, res.Inventory.CurrentStock.Equal(d("20")))
	assert.True(t, f.avgCost(t).Equal(d("6")), "got %s", f.avgCost(t))
	assert.True(t, res.Product.AvgCost.Equal(d("6")))
}

func TestReceive_RejectsBadInput(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	cases := []struct {
		name string
		qty  string
		cost string
	}{
		{"zero quantity", "0", "5"},
		{"negative quantity", "-1", "5"},
		{"negative cost", "1", "-0.01"},
		{"quantity finer than four places", "0.00001", "5"},
		{"quantity beyond storable range", "100000000000000", "1"},
		{"cost finer than six places", "1", "0.0000001"},
		{"total cost beyond storable range", "100000", "99999999"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{
				StockTarget: f.target(f.locA), Quantity: d(tc.qty), UnitCost: d(tc.cost),
			})
			require.Error(t, err)
			assert.True(t, core.IsValidation(err), "want ValidationError, got %T: %v", err, err)
		})
	}
	assert.Empty(t, f.transactions(t))
}

func TestReceive_AverageWeightsEveryLocation(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "100", "5")

	res := f.receive(t, f.locB, "1", "7")

	assert.True(t, res.Inventory.CurrentStock.Equal(d("1")))
	assert.True(t, f.avgCost(t).Equal(d("5.019802")), "got %s", f.avgCost(t))
}

func TestReceive_AverageIgnoresOversoldLocations(t *testing.T) {
	p := core.DefaultPolicy()
	p.AllowOversell = true
	f := newFixture(t, p)
	f.receive(t, f.locA, "10", "4")
	_, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("12"), AllowOversell: true})
	require.NoError(t, err)

	f.receive(t, f.locB, "10", "6")

	assert.True(t, f.avgCost(t).Equal(d("6")), "negative stock at WH-A weighs nothing; got %s", f.avgCost(t))
}

func TestOperations_RejectUnstorableQuantities(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "10", "1")
	fine := d("0.00005")

	_, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: fine})
	assert.True(t, core.IsValidation(err), "consume: %v", err)
	_, err = f.svc.Reserve(f.ctx, core.ReserveRequest{StockTarget: f.target(f.locA), Quantity: fine})
	assert.True(t, core.IsValidation(err), "reserve: %v", err)
	_, err = f.svc.Release(f.ctx, core.ReleaseRequest{StockTarget: f.target(f.locA), Quantity: fine})
	assert.True(t, core.IsValidation(err), "release: %v", err)
	_, err = f.svc.Adjust(f.ctx, core.AdjustRequest{StockTarget: f.target(f.locA), NewQuantity: d("9.12345"), Reason: core.ReasonCount})
	assert.True(t, core.IsValidation(err), "adjust: %v", err)
	_, err = f.svc.Transfer(f.ctx, core.TransferRequest{
		OrgID: f.org, ProductID: f.product.ID,
		SourceLocationID: f.locA.ID, DestinationLocationID: f.locB.ID, Quantity: fine,
	})
	assert.True(t, core.IsValidation(err), "transfer: %v", err)

	_, err = f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("0.0001")})
	require.NoError(t, err, "four places is storable")
	assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("9.9999")))
	assert.Len(t, f.transactions(t), 2)
}

func TestReceive_MissingIdentifiers(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	target := f.target(f.locA)
	target.ProductID = uuid.Nil
	_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: target, Quantity: d("1"), UnitCost: d("1")})
	require.Error(t, err)
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "product_id", ve.Field)
}

func TestReceive_UnknownProductIsNotFound(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	target := f.target(f.locA)
	target.ProductID = uuid.New()
	_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: target, Quantity: d("1"), UnitCost: d("1")})
	assert.True(t, core.IsNotFound(err), "got %v", err)
}

func TestReceive_InactiveLocationRejected(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	closed := f.locB
	closed.IsActive = false
	require.NoError(t, f.store.SaveLocation(f.ctx, closed))

	_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(closed), Quantity: d("1"), UnitCost: d("1")})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Contains(t, err.Error(), "WH-B is inactive")
}

// ── Consume / Reserve / Release ───────────────────────────────────────────────

func TestReserveThenConsume(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "10", "5")

	res, err := f.svc.Reserve(f.ctx, core.ReserveRequest{StockTarget: f.target(f.locA), Quantity: d("4")})
	require.NoError(t, err)
	assert.True(t, res.Inventory.CommittedStock.Equal(d("4")))
	assert.True(t, res.Available.Equal(d("6")))
	assert.Empty(t, res.Transactions, "reservations are not ledger events")

	_, err = f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("6")})
	require.NoError(t, err)

	_, err = f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("1")})
	var ise *core.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.True(t, ise.Available.IsZero())
	assert.True(t, ise.Requested.Equal(d("1")))

	row := f.row(t, f.locA)
	assert.True(t, row.CurrentStock.Equal(d("4")))
	assert.True(t, row.CommittedStock.Equal(d("4")))
	assert.Len(t, f.transactions(t), 2)
}

func TestConsume_CarriesAverageCost(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "4", "2.50")

	res, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("2")})
	require.NoError(t, err)

	tx := res.Transactions[0]
	assert.Equal(t, core.TxSale, tx.Type())
	assert.True(t, tx.Quantity.Equal(d("-2")))
	require.NotNil(t, tx.UnitCost())
	assert.True(t, tx.UnitCost().Equal(d("2.5")))
	assert.True(t, tx.TotalCost().Equal(d("-5")))
}

func TestConsume_OversellNeedsPolicyAndRequest(t *testing.T) {
	t.Run("policy off", func(t *testing.T) {
		f := newFixture(t, core.DefaultPolicy())
		f.receive(t, f.locA, "1", "1")
		_, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("3"), AllowOversell: true})
		assert.True(t, core.IsInsufficientStock(err))
	})

	t.Run("policy on, request does not opt in", func(t *testing.T) {
		p := core.DefaultPolicy()
		p.AllowOversell = true
		f := newFixture(t, p)
		f.receive(t, f.locA, "1", "1")
		_, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("3")})
		assert.True(t, core.IsInsufficientStock(err))
	})

	t.Run("both", func(t *testing.T) {
		p := core.DefaultPolicy()
		p.AllowOversell = true
		f := newFixture(t, p)
		f.receive(t, f.locA, "1", "1")
		res, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("3"), AllowOversell: true})
		require.NoError(t, err)
		assert.True(t, res.Inventory.CurrentStock.Equal(d("-2")))
		assert.Contains(t, res.Warnings, "oversold by 2")
		assert.True(t, f.ledgerSum(t, f.locA).Equal(d("-2")))
	})
}

func TestReserve_MoreThanAvailable(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "3", "1")

	_, err := f.svc.Reserve(f.ctx, core.ReserveRequest{StockTarget: f.target(f.locA), Quantity: d("3.5")})
	assert.True(t, core.IsInsufficientStock(err))
	assert.True(t, f.row(t, f.locA).CommittedStock.IsZero())
}

func TestRelease_FloorsAtZero(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "10", "1")
	_, err := f.svc.Reserve(f.ctx, core.ReserveRequest{StockTarget: f.target(f.locA), Quantity: d("3")})
	require.NoError(t, err)

	res, err := f.svc.Release(f.ctx, core.ReleaseRequest{StockTarget: f.target(f.locA), Quantity: d("5")})
	require.NoError(t, err)

	assert.True(t, res.Released.Equal(d("3")))
	assert.True(t, res.Shortfall.Equal(d("2")))
	assert.True(t, res.Inventory.CommittedStock.IsZero())
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "shortfall 2")

	res, err = f.svc.Release(f.ctx, core.ReleaseRequest{StockTarget: f.target(f.locA), Quantity: d("1")})
	require.NoError(t, err)
	assert.True(t, res.Released.IsZero())
	assert.True(t, res.Shortfall.Equal(d("1")))
}

// ── Adjust ────────────────────────────────────────────────────────────────────

func TestAdjust_DamageWritesNegativeAdjustment(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "8", "4")

	res, err := f.svc.Adjust(f.ctx, core.AdjustRequest{
		StockTarget: f.target(f.locA), NewQuantity: d("5"), Reason: core.ReasonDamage,
	})
	require.NoError(t, err)

	require.Len(t, res.Transactions, 1)
	tx := res.Transactions[0]
	assert.Equal(t, core.TxAdjustment, tx.Type())
	assert.True(t, tx.Quantity.Equal(d("-3")))
	detail, ok := tx.Detail.(core.AdjustmentDetail)
	require.True(t, ok)
	assert.Equal(t, core.ReasonDamage, detail.Reason)
	assert.True(t, res.Inventory.CurrentStock.Equal(d("5")))
	assert.True(t, f.avgCost(t).Equal(d("4")))
}

func TestAdjust_IncreaseKeepsAverageCost(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "2", "10")

	res, err := f.svc.Adjust(f.ctx, core.AdjustRequest{
		StockTarget: f.target(f.locA), NewQuantity: d("6"), Reason: core.ReasonCount,
	})
	require.NoError(t, err)

	tx := res.Transactions[0]
	assert.True(t, tx.Quantity.Equal(d("4")))
	require.NotNil(t, tx.UnitCost())
	assert.True(t, tx.UnitCost().Equal(d("10")), "valued at avg_cost")
	assert.True(t, f.avgCost(t).Equal(d("10")))
}

func TestAdjust_UncostedProductHasNoUnitCost(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	res, err := f.svc.Adjust(f.ctx, core.AdjustRequest{
		StockTarget: f.target(f.locA), NewQuantity: d("3"), Reason: core.ReasonCount,
	})
	require.NoError(t, err)
	assert.Nil(t, res.Transactions[0].UnitCost())
	assert.Nil(t, res.Transactions[0].TotalCost())
}

func TestAdjust_NoChangeIsAnError(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "5", "1")

	_, err := f.svc.Adjust(f.ctx, core.AdjustRequest{
		StockTarget: f.target(f.locA), NewQuantity: d("5.000"), Reason: core.ReasonCount,
	})
	require.Error(t, err)
	assert.True(t, core.IsValidation(err))
	assert.Contains(t, err.Error(), "no adjustment to make")
	assert.Len(t, f.transactions(t), 1)
}

func TestAdjust_RejectsNegativeAndUnknownReason(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	_, err := f.svc.Adjust(f.ctx, core.AdjustRequest{StockTarget: f.target(f.locA), NewQuantity: d("-1"), Reason: core.ReasonLoss})
	assert.True(t, core.IsValidation(err))

	_, err = f.svc.Adjust(f.ctx, core.AdjustRequest{StockTarget: f.target(f.locA), NewQuantity: d("1"), Reason: "theft"})
	assert.True(t, core.IsValidation(err))

	_, err = f.svc.Adjust(f.ctx, core.AdjustRequest{StockTarget: f.target(f.locA), NewQuantity: d("1")})
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reason", ve.Field)
}

func TestAdjust_BelowCommitted(t *testing.T) {
	setup := func(t *testing.T, mode core.BelowCommittedPolicy) *fixture {
		p := core.DefaultPolicy()
		p.AdjustBelowCommitted = mode
		f := newFixture(t, p)
		f.receive(t, f.locA, "10", "1")
		_, err := f.svc.Reserve(f.ctx, core.ReserveRequest{StockTarget: f.target(f.locA), Quantity: d("6")})
		require.NoError(t, err)
		return f
	}

	t.Run("reject", func(t *testing.T) {
		f := setup(t, core.BelowCommittedReject)
		_, err := f.svc.Adjust(f.ctx, core.AdjustRequest{StockTarget: f.target(f.locA), NewQuantity: d("4"), Reason: core.ReasonLoss})
		assert.True(t, core.IsInsufficientStock(err))
		assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("10")))
	})

	t.Run("warn", func(t *testing.T) {
		f := setup(t, core.BelowCommittedWarn)
		res, err := f.svc.Adjust(f.ctx, core.AdjustRequest{StockTarget: f.target(f.locA), NewQuantity: d("4"), Reason: core.ReasonLoss})
		require.NoError(t, err)
		assert.True(t, res.Inventory.CurrentStock.Equal(d("4")))
		assert.True(t, res.Inventory.CommittedStock.Equal(d("6")))
		assert.True(t, res.Available.Equal(d("-2")))
		require.NotEmpty(t, res.Warnings)
		assert.Contains(t, res.Warnings[0], "committed stock 6 exceeds adjusted quantity 4")
	})
}

// ── Transfer ──────────────────────────────────────────────────────────────────

func TestTransfer_CarriesSourceCost(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "5", "10")

	res, err := f.svc.Transfer(f.ctx, core.TransferRequest{
		OrgID: f.org, ProductID: f.product.ID,
		SourceLocationID: f.locA.ID, DestinationLocationID: f.locB.ID,
		Quantity: d("3"),
	})
	require.NoError(t, err)

	assert.True(t, res.Source.CurrentStock.Equal(d("2")))
	assert.True(t, res.Destination.CurrentStock.Equal(d("3")))
	require.Len(t, res.Transactions, 2)

	out, in := res.Transactions[0], res.Transactions[1]
	assert.Equal(t, core.TxTransferOut, out.Type())
	assert.True(t, out.Quantity.Equal(d("-3")))
	assert.Equal(t, f.locB.ID, out.Detail.(core.TransferOutDetail).DestinationLocationID)
	assert.Equal(t, core.TxTransferIn, in.Type())
	assert.True(t, in.Quantity.Equal(d("3")))
	assert.Equal(t, f.locA.ID, in.Detail.(core.TransferInDetail).SourceLocationID)
	assert.True(t, in.UnitCost().Equal(d("10")))
	assert.True(t, f.avgCost(t).Equal(d("10")))
}

func TestTransfer_RoundTrip(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "7", "2")
	f.receive(t, f.locB, "1", "2")
	before := len(f.transactions(t))

	move := func(from, to core.Location) {
		_, err := f.svc.Transfer(f.ctx, core.TransferRequest{
			OrgID: f.org, ProductID: f.product.ID,
			SourceLocationID: from.ID, DestinationLocationID: to.ID,
			Quantity: d("4"),
		})
		require.NoError(t, err)
	}
	move(f.locA, f.locB)
	move(f.locB, f.locA)

	assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("7")))
	assert.True(t, f.row(t, f.locB).CurrentStock.Equal(d("1")))
	assert.Len(t, f.transactions(t), before+4)
}

func TestTransfer_Rejections(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.receive(t, f.locA, "2", "1")

	_, err := f.svc.Transfer(f.ctx, core.TransferRequest{
		OrgID: f.org, ProductID: f.product.ID,
		SourceLocationID: f.locA.ID, DestinationLocationID: f.locA.ID, Quantity: d("1"),
	})
	assert.True(t, core.IsValidation(err))

	_, err = f.svc.Transfer(f.ctx, core.TransferRequest{
		OrgID: f.org, ProductID: f.product.ID,
		SourceLocationID: f.locA.ID, DestinationLocationID: f.locB.ID, Quantity: d("3"),
	})
	assert.True(t, core.IsInsufficientStock(err))

	_, err = f.reports.StockLevel(f.ctx, f.org, f.key(f.locB))
	assert.True(t, core.IsNotFound(err), "failed transfer must not create the destination row")
}

func TestRelease_NeverStockedCreatesNoRow(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())

	res, err := f.svc.Release(f.ctx, core.ReleaseRequest{StockTarget: f.target(f.locA), Quantity: d("2")})
	require.NoError(t, err)

	assert.True(t, res.Released.IsZero())
	assert.True(t, res.Shortfall.Equal(d("2")))
	assert.True(t, res.Inventory.CommittedStock.IsZero())
	_, err = f.store.GetInventory(f.ctx, f.org, f.key(f.locA))
	assert.True(t, core.IsNotFound(err), "release with nothing committed must not create a row")
}

// ── Reference deduplication ───────────────────────────────────────────────────

func TestDedupe_Receive(t *testing.T) {
	ref := core.Reference{ID: "PO-1001", Type: "purchase_order"}
	req := func(f *fixture) core.ReceiveRequest {
		return core.ReceiveRequest{
			StockTarget: f.target(f.locA), Audit: core.Audit{Reference: ref},
			Quantity: d("10"), UnitCost: d("3"),
		}
	}

	t.Run("disabled", func(t *testing.T) {
		f := newFixture(t, core.DefaultPolicy())
		for i := 0; i < 2; i++ {
			_, err := f.svc.Receive(f.ctx, req(f))
			require.NoError(t, err)
		}
		assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("20")))
	})

	t.Run("enabled", func(t *testing.T) {
		p := core.DefaultPolicy()
		p.DedupeReferences = true
		f := newFixture(t, p)

		first, err := f.svc.Receive(f.ctx, req(f))
		require.NoError(t, err)
		second, err := f.svc.Receive(f.ctx, req(f))
		require.NoError(t, err)

		assert.False(t, first.Duplicate)
		assert.True(t, second.Duplicate)
		require.Len(t, second.Transactions, 1)
		assert.Equal(t, first.Transactions[0].ID, second.Transactions[0].ID)
		assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("10")))
		assert.Len(t, f.transactions(t), 1)
	})
}

func TestDedupe_TransferReturnsBothLegs(t *testing.T) {
	p := core.DefaultPolicy()
	p.DedupeReferences = true
	f := newFixture(t, p)
	f.receive(t, f.locA, "10", "1")

	req := core.TransferRequest{
		Audit: core.Audit{Reference: core.Reference{ID: "TR-7"}},
		OrgID: f.org, ProductID: f.product.ID,
		SourceLocationID: f.locA.ID, DestinationLocationID: f.locB.ID, Quantity: d("4"),
	}
	_, err := f.svc.Transfer(f.ctx, req)
	require.NoError(t, err)
	again, err := f.svc.Transfer(f.ctx, req)
	require.NoError(t, err)

	assert.True(t, again.Duplicate)
	assert.Len(t, again.Transactions, 2)
	assert.True(t, again.Source.CurrentStock.Equal(d("6")))
	assert.True(t, again.Destination.CurrentStock.Equal(d("4")))
}

// ── Warnings ──────────────────────────────────────────────────────────────────

func TestThresholdWarnings(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	f.product.MinStockLevel = dp("5")
	f.product.MaxStockLevel = dp("20")
	require.NoError(t, f.store.SaveProduct(f.ctx, f.product))

	res := f.receive(t, f.locA, "25", "1")
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "WID-1 at WH-A is above maximum stock level (25 > 20)", res.Warnings[0])

	res2, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("22")})
	require.NoError(t, err)
	require.Len(t, res2.Warnings, 1)
	assert.Contains(t, res2.Warnings[0], "below minimum stock level (3 < 5)")
}

// ── Integrity and concurrency ─────────────────────────────────────────────────

func TestIntegrity_MismatchRollsBack(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy())
	svc := core.NewStockService(skewStore{f.store}, core.DefaultPolicy(), nil)

	_, err := svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(f.locA), Quantity: d("2"), UnitCost: d("1")})
	require.Error(t, err)
	var ie *core.IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.True(t, ie.Cached.Equal(d("3")))
	assert.True(t, ie.LedgerSum.Equal(d("2")))
	assert.Equal(t, "receive", ie.Operation)

	_, err = f.store.GetInventory(f.ctx, f.org, f.key(f.locA))
	assert.True(t, core.IsNotFound(err), "nothing from the failed unit is visible")
	assert.Empty(t, f.transactions(t))
	assert.True(t, f.avgCost(t).IsZero())
}

func TestLockTimeout_IsRetryable(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy(), core.WithMemLockTimeout(30*time.Millisecond))

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = f.store.Within(context.Background(), f.org, []core.StockKey{f.key(f.locA)}, func(core.LedgerTx) error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(f.locA), Quantity: d("1"), UnitCost: d("1")})
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err), "got %T: %v", err, err)

	// Other keys are independent.
	_, err = f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(f.locB), Quantity: d("1"), UnitCost: d("1")})
	assert.NoError(t, err)
}

func TestConcurrentConsume_NeverOversells(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy(), core.WithMemLockTimeout(5*time.Second))
	f.receive(t, f.locA, "10", "1")

	var ok, short atomic.Int32
	var g errgroup.Group
	for i := 0; i < 25; i++ {
		g.Go(func() error {
			_, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("1")})
			switch {
			case err == nil:
				ok.Add(1)
			case core.IsInsufficientStock(err):
				short.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(10), ok.Load())
	assert.Equal(t, int32(15), short.Load())
	row := f.row(t, f.locA)
	assert.True(t, row.CurrentStock.IsZero())
	assert.True(t, f.ledgerSum(t, f.locA).Equal(row.CurrentStock))
}

func TestConcurrentTransfers_OppositeDirections(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy(), core.WithMemLockTimeout(5*time.Second))
	f.receive(t, f.locA, "100", "1")
	f.receive(t, f.locB, "100", "1")

	var g errgroup.Group
	for i := 0; i < 20; i++ {
		from, to := f.locA, f.locB
		if i%2 == 1 {
			from, to = to, from
		}
		g.Go(func() error {
			_, err := f.svc.Transfer(f.ctx, core.TransferRequest{
				OrgID: f.org, ProductID: f.product.ID,
				SourceLocationID: from.ID, DestinationLocationID: to.ID, Quantity: d("1"),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	a, b := f.row(t, f.locA), f.row(t, f.locB)
	assert.True(t, a.CurrentStock.Add(b.CurrentStock).Equal(d("200")))
	assert.True(t, a.CurrentStock.Equal(d("100")))
	assert.True(t, f.ledgerSum(t, f.locA).Equal(a.CurrentStock))
	assert.True(t, f.ledgerSum(t, f.locB).Equal(b.CurrentStock))
	assert.Len(t, f.transactions(t), 42)
}

func TestCommittedNeverExceedsCurrent(t *testing.T) {
	f := newFixture(t, core.DefaultPolicy(), core.WithMemLockTimeout(5*time.Second))
	f.receive(t, f.locA, "12", "1")

	var g errgroup.Group
	for i := 0; i < 30; i++ {
		i := i
		g.Go(func() error {
			var err error
			switch i % 3 {
			case 0:
				_, err = f.svc.Reserve(f.ctx, core.ReserveRequest{StockTarget: f.target(f.locA), Quantity: d("2")})
			case 1:
				_, err = f.svc.Release(f.ctx, core.ReleaseRequest{StockTarget: f.target(f.locA), Quantity: d("1")})
			default:
				_, err = f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Quantity: d("1")})
			}
			if err != nil && !core.IsInsufficientStock(err) {
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	row := f.row(t, f.locA)
	assert.False(t, row.CommittedStock.IsNegative())
	assert.True(t, row.CommittedStock.LessThanOrEqual(row.CurrentStock))
	assert.True(t, f.ledgerSum(t, f.locA).Equal(row.CurrentStock))
	assert.True(t, row.Available().GreaterThanOrEqual(decimal.Zero))
}

func TestDedupe_RejectsReusedReference(t *testing.T) {
	p := core.DefaultPolicy()
	p.DedupeReferences = true
	ref := core.Audit{Reference: core.Reference{ID: "PO-2002", Type: "purchase_order"}}

	t.Run("receive with a different quantity", func(t *testing.T) {
		f := newFixture(t, p)
		_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(f.locA), Audit: ref, Quantity: d("10"), UnitCost: d("3")})
		require.NoError(t, err)

		_, err = f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(f.locA), Audit: ref, Quantity: d("12"), UnitCost: d("3")})
		var ve *core.ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Equal(t, "reference_id", ve.Field)
		assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("10")))
		assert.Len(t, f.transactions(t), 1)
	})

	t.Run("receive with a different cost", func(t *testing.T) {
		f := newFixture(t, p)
		_, err := f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(f.locA), Audit: ref, Quantity: d("10"), UnitCost: d("3")})
		require.NoError(t, err)

		_, err = f.svc.Receive(f.ctx, core.ReceiveRequest{StockTarget: f.target(f.locA), Audit: ref, Quantity: d("10"), UnitCost: d("4")})
		assert.True(t, core.IsValidation(err), "got %v", err)
		assert.True(t, f.avgCost(t).Equal(d("3")))
	})

	t.Run("consume with a different quantity", func(t *testing.T) {
		f := newFixture(t, p)
		f.receive(t, f.locA, "10", "1")
		so := core.Audit{Reference: core.Reference{ID: "SO-9", Type: "sales_order"}}
		first, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Audit: so, Quantity: d("2")})
		require.NoError(t, err)
		again, err := f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Audit: so, Quantity: d("2")})
		require.NoError(t, err)
		assert.True(t, again.Duplicate)
		assert.Equal(t, first.Transactions[0].ID, again.Transactions[0].ID)

		_, err = f.svc.Consume(f.ctx, core.ConsumeRequest{StockTarget: f.target(f.locA), Audit: so, Quantity: d("5")})
		assert.True(t, core.IsValidation(err), "got %v", err)
		assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("8")))
	})
}

func TestDedupe_TransferChecksDestination(t *testing.T) {
	p := core.DefaultPolicy()
	p.DedupeReferences = true
	f := newFixture(t, p)
	locC := core.Location{ID: uuid.New(), OrgID: f.org, Code: "WH-C", Name: "Warehouse C", Type: core.LocationWarehouse, IsActive: true}
	require.NoError(t, f.store.SaveLocation(f.ctx, locC))
	f.receive(t, f.locA, "10", "1")

	transfer := func(dst core.Location, qty string) (*core.TransferResult, error) {
		return f.svc.Transfer(f.ctx, core.TransferRequest{
			Audit: core.Audit{Reference: core.Reference{ID: "TR-1"}},
			OrgID: f.org, ProductID: f.product.ID,
			SourceLocationID: f.locA.ID, DestinationLocationID: dst.ID, Quantity: d(qty),
		})
	}
	first, err := transfer(f.locB, "2")
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	_, err = transfer(locC, "3")
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reference_id", ve.Field)

	_, err = transfer(f.locB, "3")
	assert.True(t, core.IsValidation(err), "same legs with another quantity: %v", err)

	assert.True(t, f.row(t, f.locA).CurrentStock.Equal(d("8")))
	assert.True(t, f.row(t, f.locB).CurrentStock.Equal(d("2")))
	_, err = f.store.GetInventory(f.ctx, f.org, f.key(locC))
	assert.True(t, core.IsNotFound(err))
	assert.Len(t, f.transactions(t), 3)
}
