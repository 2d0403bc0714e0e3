package core_test

import (
	"context"
	"fmt"
	"testing"

	"inventory-ledger/internal/core"

	"github.com/cucumber/godog"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ledgerTestContext struct {
	ctx       context.Context
	store     *core.MemStore
	svc       core.StockService
	org       uuid.UUID
	products  map[string]core.Product
	locations map[string]core.Location

	lastTxs  []core.Transaction
	released *core.ReleaseResult
	err      error
}

func (c *ledgerTestContext) reset() {
	c.ctx = context.Background()
	c.store = core.NewMemStore()
	c.svc = core.NewStockService(c.store, core.DefaultPolicy(), nil)
	c.org = uuid.New()
	c.products = map[string]core.Product{}
	c.locations = map[string]core.Location{}
	c.lastTxs = nil
	c.released = nil
	c.err = nil
}

func (c *ledgerTestContext) target(sku, loc string) (core.StockTarget, error) {
	p, ok := c.products[sku]
	if !ok {
		return core.StockTarget{}, fmt.Errorf("unknown product %q", sku)
	}
	l, ok := c.locations[loc]
	if !ok {
		return core.StockTarget{}, fmt.Errorf("unknown location %q", loc)
	}
	return core.StockTarget{OrgID: c.org, ProductID: p.ID, LocationID: l.ID}, nil
}

func parseDecimal(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}

// ── Given ─────────────────────────────────────────────────────────────────────

func (c *ledgerTestContext) aProductAndLocations(sku, a, b string) error {
	if err := c.store.SaveOrganization(c.ctx, core.Organization{ID: c.org, Name: "Feature Org"}); err != nil {
		return err
	}
	p := core.Product{ID: uuid.New(), OrgID: c.org, SKU: sku, Name: sku, UnitOfMeasure: "each", IsActive: true}
	if err := c.store.SaveProduct(c.ctx, p); err != nil {
		return err
	}
	c.products[sku] = p
	for _, code := range []string{a, b} {
		l := core.Location{ID: uuid.New(), OrgID: c.org, Code: code, Name: code, Type: core.LocationWarehouse, IsActive: true}
		if err := c.store.SaveLocation(c.ctx, l); err != nil {
			return err
		}
		c.locations[code] = l
	}
	return nil
}

func (c *ledgerTestContext) locationHolds(loc, qty, sku, cost string) error {
	if err := c.iReceive(qty, sku, loc, cost); err != nil {
		return err
	}
	return c.err
}

// ── When ──────────────────────────────────────────────────────────────────────

func (c *ledgerTestContext) iReceive(qty, sku, loc, cost string) error {
	t, err := c.target(sku, loc)
	if err != nil {
		return err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return err
	}
	uc, err := parseDecimal(cost)
	if err != nil {
		return err
	}
	res, err := c.svc.Receive(c.ctx, core.ReceiveRequest{StockTarget: t, Quantity: q, UnitCost: uc})
	c.record(res, err)
	return nil
}

func (c *ledgerTestContext) iReserve(qty, sku, loc string) error {
	t, err := c.target(sku, loc)
	if err != nil {
		return err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return err
	}
	res, err := c.svc.Reserve(c.ctx, core.ReserveRequest{StockTarget: t, Quantity: q})
	c.record(res, err)
	return nil
}

func (c *ledgerTestContext) iConsume(qty, sku, loc string) error {
	t, err := c.target(sku, loc)
	if err != nil {
		return err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return err
	}
	res, err := c.svc.Consume(c.ctx, core.ConsumeRequest{StockTarget: t, Quantity: q})
	c.record(res, err)
	return nil
}

func (c *ledgerTestContext) iRelease(qty, sku, loc string) error {
	t, err := c.target(sku, loc)
	if err != nil {
		return err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return err
	}
	res, err := c.svc.Release(c.ctx, core.ReleaseRequest{StockTarget: t, Quantity: q})
	c.released = res
	if res != nil {
		c.record(&res.StockResult, err)
	} else {
		c.record(nil, err)
	}
	return nil
}

func (c *ledgerTestContext) iAdjust(sku, loc, qty, reason string) error {
	t, err := c.target(sku, loc)
	if err != nil {
		return err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return err
	}
	res, err := c.svc.Adjust(c.ctx, core.AdjustRequest{StockTarget: t, NewQuantity: q, Reason: core.AdjustReason(reason)})
	c.record(res, err)
	return nil
}

func (c *ledgerTestContext) iTransfer(qty, sku, from, to string) error {
	src, err := c.target(sku, from)
	if err != nil {
		return err
	}
	dst, err := c.target(sku, to)
	if err != nil {
		return err
	}
	q, err := parseDecimal(qty)
	if err != nil {
		return err
	}
	res, err := c.svc.Transfer(c.ctx, core.TransferRequest{
		OrgID: c.org, ProductID: src.ProductID,
		SourceLocationID: src.LocationID, DestinationLocationID: dst.LocationID,
		Quantity: q,
	})
	c.err = err
	c.lastTxs = nil
	if res != nil {
		c.lastTxs = res.Transactions
	}
	return nil
}

func (c *ledgerTestContext) record(res *core.StockResult, err error) {
	c.err = err
	c.lastTxs = nil
	if res != nil {
		c.lastTxs = res.Transactions
	}
}

// ── Then ──────────────────────────────────────────────────────────────────────

func (c *ledgerTestContext) row(loc string) (*core.Inventory, error) {
	var sku string
	for s := range c.products {
		sku = s
	}
	t, err := c.target(sku, loc)
	if err != nil {
		return nil, err
	}
	return c.store.GetInventory(c.ctx, c.org, t.Key())
}

func (c *ledgerTestContext) hasCurrentStock(loc, want string) error {
	row, err := c.row(loc)
	if err != nil {
		return err
	}
	w, err := parseDecimal(want)
	if err != nil {
		return err
	}
	if !row.CurrentStock.Equal(w) {
		return fmt.Errorf("expected current stock %s at %s, got %s", w, loc, row.CurrentStock)
	}
	return nil
}

func (c *ledgerTestContext) hasCommittedAndAvailable(loc, committed, available string) error {
	row, err := c.row(loc)
	if err != nil {
		return err
	}
	wc, err := parseDecimal(committed)
	if err != nil {
		return err
	}
	wa, err := parseDecimal(available)
	if err != nil {
		return err
	}
	if !row.CommittedStock.Equal(wc) || !row.Available().Equal(wa) {
		return fmt.Errorf("expected committed %s / available %s at %s, got %s / %s",
			wc, wa, loc, row.CommittedStock, row.Available())
	}
	return nil
}

func (c *ledgerTestContext) averageCostIs(sku, want string) error {
	p, err := c.store.GetProduct(c.ctx, c.org, c.products[sku].ID)
	if err != nil {
		return err
	}
	w, err := parseDecimal(want)
	if err != nil {
		return err
	}
	if !p.AvgCost.Equal(w) {
		return fmt.Errorf("expected avg_cost %s, got %s", w, p.AvgCost)
	}
	return nil
}

func (c *ledgerTestContext) operationSucceeds() error {
	if c.err != nil {
		return fmt.Errorf("expected success, got %v", c.err)
	}
	return nil
}

func (c *ledgerTestContext) operationFailsWithInsufficientStock() error {
	if !core.IsInsufficientStock(c.err) {
		return fmt.Errorf("expected InsufficientStockError, got %v", c.err)
	}
	return nil
}

func (c *ledgerTestContext) lastOperationWrote(n int, txType, qty string) error {
	if c.err != nil {
		return c.err
	}
	if len(c.lastTxs) != n {
		return fmt.Errorf("expected %d transactions, got %d", n, len(c.lastTxs))
	}
	w, err := parseDecimal(qty)
	if err != nil {
		return err
	}
	for _, tx := range c.lastTxs {
		if string(tx.Type()) != txType {
			return fmt.Errorf("expected %s transaction, got %s", txType, tx.Type())
		}
		if !tx.Quantity.Equal(w) {
			return fmt.Errorf("expected quantity %s, got %s", w, tx.Quantity)
		}
	}
	return nil
}

func (c *ledgerTestContext) everyTransferLegValuedAt(cost string) error {
	if c.err != nil {
		return c.err
	}
	w, err := parseDecimal(cost)
	if err != nil {
		return err
	}
	if len(c.lastTxs) != 2 {
		return fmt.Errorf("expected 2 transfer legs, got %d", len(c.lastTxs))
	}
	for _, tx := range c.lastTxs {
		if u := tx.UnitCost(); u == nil || !u.Equal(w) {
			return fmt.Errorf("%s leg valued at %v, want %s", tx.Type(), u, w)
		}
	}
	return nil
}

func (c *ledgerTestContext) ledgerHolds(n int) error {
	txs, err := c.store.ListTransactions(c.ctx, c.org, core.TransactionFilter{})
	if err != nil {
		return err
	}
	if len(txs) != n {
		return fmt.Errorf("expected %d ledger records, got %d", n, len(txs))
	}
	return nil
}

func (c *ledgerTestContext) releasedWithShortfall(released, shortfall string) error {
	if c.err != nil {
		return c.err
	}
	wr, err := parseDecimal(released)
	if err != nil {
		return err
	}
	ws, err := parseDecimal(shortfall)
	if err != nil {
		return err
	}
	if !c.released.Released.Equal(wr) || !c.released.Shortfall.Equal(ws) {
		return fmt.Errorf("expected released %s shortfall %s, got %s / %s",
			wr, ws, c.released.Released, c.released.Shortfall)
	}
	return nil
}

func InitializeScenario(ctx *godog.ScenarioContext) {
	tc := &ledgerTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		tc.reset()
		return ctx, nil
	})

	// Given steps
	ctx.Step(`^a product "([^"]*)" and locations "([^"]*)" and "([^"]*)"$`, tc.aProductAndLocations)
	ctx.Step(`^"([^"]*)" holds (\S+) units of "([^"]*)" costing (\S+)$`, tc.locationHolds)

	// When steps
	ctx.Step(`^I receive (\S+) units of "([^"]*)" at "([^"]*)" costing (\S+)$`, tc.iReceive)
	ctx.Step(`^I reserve (\S+) units of "([^"]*)" at "([^"]*)"$`, tc.iReserve)
	ctx.Step(`^I consume (\S+) units of "([^"]*)" at "([^"]*)"$`, tc.iConsume)
	ctx.Step(`^I release (\S+) units of "([^"]*)" at "([^"]*)"$`, tc.iRelease)
	ctx.Step(`^I adjust "([^"]*)" at "([^"]*)" to (\S+) because of "([^"]*)"$`, tc.iAdjust)
	ctx.Step(`^I transfer (\S+) units of "([^"]*)" from "([^"]*)" to "([^"]*)"$`, tc.iTransfer)

	// Then steps
	ctx.Step(`^"([^"]*)" has current stock (\S+)$`, tc.hasCurrentStock)
	ctx.Step(`^"([^"]*)" has committed stock (\S+) and available stock (\S+)$`, tc.hasCommittedAndAvailable)
	ctx.Step(`^the average cost of "([^"]*)" is (\S+)$`, tc.averageCostIs)
	ctx.Step(`^the operation succeeds$`, tc.operationSucceeds)
	ctx.Step(`^the operation fails with insufficient stock$`, tc.operationFailsWithInsufficientStock)
	ctx.Step(`^the last operation wrote (\d+) "([^"]*)" transaction with quantity (\S+)$`, tc.lastOperationWrote)
	ctx.Step(`^every transfer leg is valued at (\S+)$`, tc.everyTransferLegValuedAt)
	ctx.Step(`^the ledger holds (\d+) transactions$`, tc.ledgerHolds)
	ctx.Step(`^(\S+) units were released with a shortfall of (\S+)$`, tc.releasedWithShortfall)
}

func TestFeatures(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"../../features/ledger.feature"},
			TestingT: t,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
