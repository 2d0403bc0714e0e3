package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ── Report types ──────────────────────────────────────────────────────────────

// HistoryLine is one ledger record with catalog labels. RunningBalance is
// set only when the history is for a single (product, location).
type HistoryLine struct {
	Transaction
	ProductSKU     string           `json:"product_sku"`
	LocationCode   string           `json:"location_code"`
	RunningBalance *decimal.Decimal `json:"running_balance,omitempty"`
}

func (h HistoryLine) MarshalJSON() ([]byte, error) {
	type line struct {
		TransactionRecord
		ProductSKU     string           `json:"product_sku"`
		LocationCode   string           `json:"location_code"`
		RunningBalance *decimal.Decimal `json:"running_balance,omitempty"`
	}
	return json.Marshal(line{h.Record(), h.ProductSKU, h.LocationCode, h.RunningBalance})
}

// ProductSummary rolls one product up across every location holding it.
type ProductSummary struct {
	Product        Product         `json:"product"`
	Lines          []StockLevel    `json:"lines"`
	TotalCurrent   decimal.Decimal `json:"total_current_stock"`
	TotalCommitted decimal.Decimal `json:"total_committed_stock"`
	TotalAvailable decimal.Decimal `json:"total_available_stock"`
	TotalValuation decimal.Decimal `json:"total_valuation"`
	BelowMinimum   bool            `json:"below_minimum"`
}

// LocationSummary lists what one location holds. Quantities of different
// products are not summed; valuation is.
type LocationSummary struct {
	Location       Location        `json:"location"`
	Lines          []StockLevel    `json:"lines"`
	ProductCount   int             `json:"product_count"`
	LowStockCount  int             `json:"low_stock_count"`
	TotalValuation decimal.Decimal `json:"total_valuation"`
}

// Discrepancy is a cached row whose current_stock differs from its ledger sum.
type Discrepancy struct {
	Key          StockKey        `json:"key"`
	ProductSKU   string          `json:"product_sku"`
	LocationCode string          `json:"location_code"`
	Cached       decimal.Decimal `json:"cached_current_stock"`
	LedgerSum    decimal.Decimal `json:"ledger_sum"`
	Difference   decimal.Decimal `json:"difference"`
}

type ReconcileReport struct {
	OrgID         uuid.UUID     `json:"org_id"`
	RowsChecked   int           `json:"rows_checked"`
	Discrepancies []Discrepancy `json:"discrepancies"`
	CheckedAt     time.Time     `json:"checked_at"`
}

func (r *ReconcileReport) OK() bool { return len(r.Discrepancies) == 0 }

// ── Interface ─────────────────────────────────────────────────────────────────

// ReportingService is the read model. It never writes to the ledger.
type ReportingService interface {
	// StockLevels is the available_inventory projection with catalog labels.
	StockLevels(ctx context.Context, org uuid.UUID, f InventoryFilter) ([]StockLevel, error)
	StockLevel(ctx context.Context, org uuid.UUID, key StockKey) (*StockLevel, error)
	ProductSummary(ctx context.Context, org, productID uuid.UUID) (*ProductSummary, error)
	LocationSummary(ctx context.Context, org, locationID uuid.UUID) (*LocationSummary, error)
	TransactionHistory(ctx context.Context, org uuid.UUID, f TransactionFilter) ([]HistoryLine, error)
	// StockAsOf sums quantities for key with created_at ≤ at.
	StockAsOf(ctx context.Context, org uuid.UUID, key StockKey, at time.Time) (decimal.Decimal, error)
	LowStock(ctx context.Context, org uuid.UUID) ([]StockLevel, error)
	// Reconcile compares every cached row with its ledger sum under the row's
	// lock. Discrepancies are reported and logged, never repaired.
	Reconcile(ctx context.Context, org uuid.UUID) (*ReconcileReport, error)
}

type reportingService struct {
	store Store
	log   *zap.Logger
}

func NewReportingService(store Store, log *zap.Logger) ReportingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &reportingService{store: store, log: log.Named("reporting")}
}

type catalog struct {
	products  map[uuid.UUID]Product
	locations map[uuid.UUID]Location
}

func (s *reportingService) loadCatalog(ctx context.Context, org uuid.UUID) (*catalog, error) {
	products, err := s.store.ListProducts(ctx, org)
	if err != nil {
		return nil, err
	}
	locations, err := s.store.ListLocations(ctx, org)
	if err != nil {
		return nil, err
	}
	c := &catalog{
		products:  make(map[uuid.UUID]Product, len(products)),
		locations: make(map[uuid.UUID]Location, len(locations)),
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	for _, l := range locations {
		c.locations[l.ID] = l
	}
	return c, nil
}

func (c *catalog) level(row Inventory) StockLevel {
	p := c.products[row.ProductID]
	l := c.locations[row.LocationID]
	sl := StockLevel{
		Inventory:     row,
		ProductSKU:    p.SKU,
		ProductName:   p.Name,
		UnitOfMeasure: p.UnitOfMeasure,
		LocationCode:  l.Code,
		LocationName:  l.Name,
		LocationType:  l.Type,
		AvailableQty:  row.Available(),
		AvgCost:       p.AvgCost,
		Valuation:     row.CurrentStock.Mul(p.AvgCost),
	}
	if p.MinStockLevel != nil {
		sl.BelowMinimum = row.CurrentStock.LessThan(*p.MinStockLevel)
	}
	if p.MaxStockLevel != nil {
		sl.AboveMaximum = row.CurrentStock.GreaterThan(*p.MaxStockLevel)
	}
	return sl
}

func (s *reportingService) StockLevels(ctx context.Context, org uuid.UUID, f InventoryFilter) ([]StockLevel, error) {
	c, err := s.loadCatalog(ctx, org)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListInventory(ctx, org, f)
	if err != nil {
		return nil, err
	}
	levels := make([]StockLevel, 0, len(rows))
	for _, row := range rows {
		levels = append(levels, c.level(row))
	}
	return levels, nil
}

func (s *reportingService) StockLevel(ctx context.Context, org uuid.UUID, key StockKey) (*StockLevel, error) {
	row, err := s.store.GetInventory(ctx, org, key)
	if err != nil {
		return nil, err
	}
	p, err := s.store.GetProduct(ctx, org, key.ProductID)
	if err != nil {
		return nil, err
	}
	l, err := s.store.GetLocation(ctx, org, key.LocationID)
	if err != nil {
		return nil, err
	}
	c := &catalog{
		products:  map[uuid.UUID]Product{p.ID: *p},
		locations: map[uuid.UUID]Location{l.ID: *l},
	}
	sl := c.level(*row)
	return &sl, nil
}

func (s *reportingService) ProductSummary(ctx context.Context, org, productID uuid.UUID) (*ProductSummary, error) {
	product, err := s.store.GetProduct(ctx, org, productID)
	if err != nil {
		return nil, err
	}
	lines, err := s.StockLevels(ctx, org, InventoryFilter{ProductID: productID})
	if err != nil {
		return nil, err
	}
	sum := &ProductSummary{Product: *product, Lines: lines}
	for _, l := range lines {
		sum.TotalCurrent = sum.TotalCurrent.Add(l.CurrentStock)
		sum.TotalCommitted = sum.TotalCommitted.Add(l.CommittedStock)
		sum.TotalAvailable = sum.TotalAvailable.Add(l.AvailableQty)
		sum.TotalValuation = sum.TotalValuation.Add(l.Valuation)
	}
	if product.MinStockLevel != nil {
		sum.BelowMinimum = sum.TotalCurrent.LessThan(*product.MinStockLevel)
	}
	return sum, nil
}

func (s *reportingService) LocationSummary(ctx context.Context, org, locationID uuid.UUID) (*LocationSummary, error) {
	location, err := s.store.GetLocation(ctx, org, locationID)
	if err != nil {
		return nil, err
	}
	lines, err := s.StockLevels(ctx, org, InventoryFilter{LocationID: locationID})
	if err != nil {
		return nil, err
	}
	sum := &LocationSummary{Location: *location, Lines: lines}
	for _, l := range lines {
		if !l.CurrentStock.IsZero() {
			sum.ProductCount++
		}
		if l.BelowMinimum {
			sum.LowStockCount++
		}
		sum.TotalValuation = sum.TotalValuation.Add(l.Valuation)
	}
	return sum, nil
}

func (s *reportingService) TransactionHistory(ctx context.Context, org uuid.UUID, f TransactionFilter) ([]HistoryLine, error) {
	c, err := s.loadCatalog(ctx, org)
	if err != nil {
		return nil, err
	}
	singleKey := f.ProductID != uuid.Nil && f.LocationID != uuid.Nil

	query := f
	if singleKey {
		// Running balances need every earlier record for the key.
		query = TransactionFilter{ProductID: f.ProductID, LocationID: f.LocationID, Until: f.Until}
	}
	txs, err := s.store.ListTransactions(ctx, org, query)
	if err != nil {
		return nil, err
	}

	var lines []HistoryLine
	balance := decimal.Zero
	for _, t := range txs {
		line := HistoryLine{
			Transaction:  t,
			ProductSKU:   c.products[t.ProductID].SKU,
			LocationCode: c.locations[t.LocationID].Code,
		}
		if singleKey {
			balance = balance.Add(t.Quantity)
			b := balance
			line.RunningBalance = &b
			if !f.matches(t) {
				continue
			}
		}
		lines = append(lines, line)
	}
	if singleKey && f.Limit > 0 && len(lines) > f.Limit {
		lines = lines[len(lines)-f.Limit:]
	}
	return lines, nil
}

func (s *reportingService) StockAsOf(ctx context.Context, org uuid.UUID, key StockKey, at time.Time) (decimal.Decimal, error) {
	if at.IsZero() {
		return decimal.Zero, validationErrorf("as_of", "is required")
	}
	if _, err := s.store.GetProduct(ctx, org, key.ProductID); err != nil {
		return decimal.Zero, err
	}
	if _, err := s.store.GetLocation(ctx, org, key.LocationID); err != nil {
		return decimal.Zero, err
	}
	txs, err := s.store.ListTransactions(ctx, org, TransactionFilter{
		ProductID:  key.ProductID,
		LocationID: key.LocationID,
		Until:      at,
	})
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, t := range txs {
		sum = sum.Add(t.Quantity)
	}
	return sum, nil
}

func (s *reportingService) LowStock(ctx context.Context, org uuid.UUID) ([]StockLevel, error) {
	levels, err := s.StockLevels(ctx, org, InventoryFilter{})
	if err != nil {
		return nil, err
	}
	var low []StockLevel
	for _, l := range levels {
		if l.BelowMinimum {
			low = append(low, l)
		}
	}
	return low, nil
}

func (s *reportingService) Reconcile(ctx context.Context, org uuid.UUID) (*ReconcileReport, error) {
	c, err := s.loadCatalog(ctx, org)
	if err != nil {
		return nil, err
	}
	rows, err := s.store.ListInventory(ctx, org, InventoryFilter{})
	if err != nil {
		return nil, err
	}

	report := &ReconcileReport{OrgID: org, Discrepancies: []Discrepancy{}}
	for _, r := range rows {
		key := r.Key()
		var cached, sum decimal.Decimal
		err := s.store.Within(ctx, org, []StockKey{key}, func(tx LedgerTx) error {
			row, err := tx.GetOrCreateInventory(ctx, key)
			if err != nil {
				return err
			}
			cached = row.CurrentStock
			sum, err = tx.LedgerSum(ctx, key)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reconcile %s: %w", key, err)
		}
		report.RowsChecked++
		if cached.Equal(sum) {
			continue
		}
		d := Discrepancy{
			Key:          key,
			ProductSKU:   c.products[key.ProductID].SKU,
			LocationCode: c.locations[key.LocationID].Code,
			Cached:       cached,
			LedgerSum:    sum,
			Difference:   cached.Sub(sum),
		}
		report.Discrepancies = append(report.Discrepancies, d)
		s.log.Error("inventory row disagrees with ledger",
			zap.Stringer("org_id", org),
			zap.String("product_sku", d.ProductSKU),
			zap.String("location_code", d.LocationCode),
			zap.String("cached_current_stock", cached.String()),
			zap.String("ledger_sum", sum.String()),
		)
	}
	report.CheckedAt = time.Now().UTC()
	s.log.Info("reconcile finished",
		zap.Stringer("org_id", org),
		zap.Int("rows_checked", report.RowsChecked),
		zap.Int("discrepancies", len(report.Discrepancies)),
	)
	return report, nil
}
