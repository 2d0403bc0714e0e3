package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockService is the only entry point that mutates the ledger. Each call is
// one unit of work on the Store: preconditions, transaction append, cached
// row update and cost recomputation commit together or not at all.
type StockService interface {
	// Receive books a purchase and recomputes the product's moving average cost.
	Receive(ctx context.Context, req ReceiveRequest) (*StockResult, error)
	// Consume books a sale against available stock.
	Consume(ctx context.Context, req ConsumeRequest) (*StockResult, error)
	// Reserve commits available stock to outstanding demand. No ledger entry.
	Reserve(ctx context.Context, req ReserveRequest) (*StockResult, error)
	// Release returns committed stock; it never drives committed below zero.
	Release(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error)
	// Adjust sets current stock to an absolute counted quantity.
	Adjust(ctx context.Context, req AdjustRequest) (*StockResult, error)
	// Transfer moves stock between two locations as one linked pair of legs.
	Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error)
}

// StockTarget names the (product, location) row an operation applies to.
type StockTarget struct {
	OrgID      uuid.UUID `json:"org_id" validate:"uuid_required"`
	ProductID  uuid.UUID `json:"product_id" validate:"uuid_required"`
	LocationID uuid.UUID `json:"location_id" validate:"uuid_required"`
}

func (t StockTarget) Key() StockKey {
	return StockKey{ProductID: t.ProductID, LocationID: t.LocationID}
}

// Audit is copied onto every transaction the operation writes.
type Audit struct {
	Reference Reference `json:"reference"`
	Notes     string    `json:"notes,omitempty" validate:"max=1000"`
	CreatedBy string    `json:"created_by,omitempty" validate:"max=128"`
}

type ReceiveRequest struct {
	StockTarget
	Audit
	Quantity decimal.Decimal `json:"quantity"`
	UnitCost decimal.Decimal `json:"unit_cost"`
}

type ConsumeRequest struct {
	StockTarget
	Audit
	Quantity decimal.Decimal `json:"quantity"`
	// AllowOversell only takes effect when Policy.AllowOversell is set.
	AllowOversell bool `json:"allow_oversell,omitempty"`
}

type ReserveRequest struct {
	StockTarget
	Audit
	Quantity decimal.Decimal `json:"quantity"`
}

type ReleaseRequest struct {
	StockTarget
	Audit
	Quantity decimal.Decimal `json:"quantity"`
}

type AdjustRequest struct {
	StockTarget
	Audit
	NewQuantity decimal.Decimal `json:"new_quantity"`
	Reason      AdjustReason    `json:"reason" validate:"required"`
}

type TransferRequest struct {
	Audit
	OrgID                 uuid.UUID       `json:"org_id" validate:"uuid_required"`
	ProductID             uuid.UUID       `json:"product_id" validate:"uuid_required"`
	SourceLocationID      uuid.UUID       `json:"source_location_id" validate:"uuid_required"`
	DestinationLocationID uuid.UUID       `json:"destination_location_id" validate:"uuid_required"`
	Quantity              decimal.Decimal `json:"quantity"`
}

// StockResult is the updated row plus whatever the operation wrote.
type StockResult struct {
	Inventory    Inventory       `json:"inventory"`
	Available    decimal.Decimal `json:"available_stock"`
	Transactions []Transaction   `json:"transactions"`
	Product      Product         `json:"product"`
	// Duplicate is set when the reference matched an earlier operation and
	// nothing new was written.
	Duplicate bool     `json:"duplicate,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

type ReleaseResult struct {
	StockResult
	Released  decimal.Decimal `json:"released"`
	Shortfall decimal.Decimal `json:"shortfall"`
}

type TransferResult struct {
	Source       Inventory     `json:"source"`
	Destination  Inventory     `json:"destination"`
	Transactions []Transaction `json:"transactions"`
	Product      Product       `json:"product"`
	Duplicate    bool          `json:"duplicate,omitempty"`
	Warnings     []string      `json:"warnings,omitempty"`
}

type stockService struct {
	store  Store
	policy Policy
	log    *zap.Logger
}

func NewStockService(store Store, policy Policy, log *zap.Logger) StockService {
	if log == nil {
		log = zap.NewNop()
	}
	return &stockService{store: store, policy: policy, log: log.Named("stock")}
}

// ── Operations ────────────────────────────────────────────────────────────────

func (s *stockService) Receive(ctx context.Context, req ReceiveRequest) (*StockResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requirePositive("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if err := requireQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if err := requireNonNegative("unit_cost", req.UnitCost); err != nil {
		return nil, err
	}
	if err := requireCost("unit_cost", req.UnitCost); err != nil {
		return nil, err
	}
	if total := req.UnitCost.Mul(req.Quantity); total.GreaterThanOrEqual(maxCost) {
		return nil, validationErrorf("unit_cost", "total cost %s exceeds the storable range", total.String())
	}
	key := req.Key()

	var res *StockResult
	err := s.run(ctx, "receive", req.OrgID, []StockKey{key}, func(tx LedgerTx) error {
		loc, err := activeLocation(ctx, tx, "location_id", key.LocationID)
		if err != nil {
			return err
		}
		samePurchase := func(t Transaction) bool {
			c := t.UnitCost()
			return t.Quantity.Equal(req.Quantity) && c != nil && c.Equal(req.UnitCost)
		}
		if res, err = s.duplicate(ctx, tx, key, TxPurchase, req.Reference, samePurchase); res != nil || err != nil {
			return err
		}

		row, err := tx.GetOrCreateInventory(ctx, key)
		if err != nil {
			return err
		}
		product, err := tx.LockProduct(ctx, key.ProductID)
		if err != nil {
			return err
		}
		onHand, err := tx.ProductOnHand(ctx, key.ProductID)
		if err != nil {
			return fmt.Errorf("failed to read product stock: %w", err)
		}
		newAvg := MovingAverage(product.AvgCost, onHand, req.UnitCost, req.Quantity)

		rec, err := tx.AppendTransaction(ctx, Transaction{
			ProductID:  key.ProductID,
			LocationID: key.LocationID,
			Quantity:   req.Quantity,
			Detail:     PurchaseDetail{UnitCost: req.UnitCost},
			Reference:  req.Reference,
			Notes:      req.Notes,
			CreatedBy:  req.CreatedBy,
		})
		if err != nil {
			return fmt.Errorf("failed to append purchase: %w", err)
		}
		if row, err = tx.ApplyDelta(ctx, key, req.Quantity, decimal.Zero); err != nil {
			return fmt.Errorf("failed to update inventory: %w", err)
		}

		cost := req.UnitCost
		if err := tx.SetProductCost(ctx, product.ID, newAvg, &cost); err != nil {
			return fmt.Errorf("failed to update product cost: %w", err)
		}
		product.AvgCost = newAvg
		product.LastPurchaseCost = &cost

		if err := s.verify(ctx, tx, "receive", []Transaction{*rec}, row); err != nil {
			return err
		}
		res = newStockResult(row, product, []Transaction{*rec}, thresholdWarnings(product, loc, row))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logResult("stock received", req.OrgID, res, zap.String("unit_cost", req.UnitCost.String()))
	return res, nil
}

func (s *stockService) Consume(ctx context.Context, req ConsumeRequest) (*StockResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requirePositive("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if err := requireQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}
	key := req.Key()
	oversell := req.AllowOversell && s.policy.AllowOversell

	var res *StockResult
	err := s.run(ctx, "consume", req.OrgID, []StockKey{key}, func(tx LedgerTx) error {
		loc, err := activeLocation(ctx, tx, "location_id", key.LocationID)
		if err != nil {
			return err
		}
		sameSale := func(t Transaction) bool { return t.Quantity.Equal(req.Quantity.Neg()) }
		if res, err = s.duplicate(ctx, tx, key, TxSale, req.Reference, sameSale); res != nil || err != nil {
			return err
		}

		row, err := tx.GetOrCreateInventory(ctx, key)
		if err != nil {
			return err
		}
		var warnings []string
		if available := row.Available(); available.LessThan(req.Quantity) {
			if !oversell {
				return &InsufficientStockError{Key: key, Available: available, Requested: req.Quantity}
			}
			warnings = append(warnings, fmt.Sprintf("oversold by %s", req.Quantity.Sub(available).String()))
		}
		product, err := tx.Product(ctx, key.ProductID)
		if err != nil {
			return err
		}

		rec, err := tx.AppendTransaction(ctx, Transaction{
			ProductID:  key.ProductID,
			LocationID: key.LocationID,
			Quantity:   req.Quantity.Neg(),
			Detail:     SaleDetail{UnitCost: carriedCost(product)},
			Reference:  req.Reference,
			Notes:      req.Notes,
			CreatedBy:  req.CreatedBy,
		})
		if err != nil {
			return fmt.Errorf("failed to append sale: %w", err)
		}
		if row, err = tx.ApplyDelta(ctx, key, req.Quantity.Neg(), decimal.Zero); err != nil {
			return fmt.Errorf("failed to update inventory: %w", err)
		}
		if err := s.verify(ctx, tx, "consume", []Transaction{*rec}, row); err != nil {
			return err
		}
		warnings = append(warnings, thresholdWarnings(product, loc, row)...)
		res = newStockResult(row, product, []Transaction{*rec}, warnings)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logResult("stock consumed", req.OrgID, res)
	return res, nil
}

func (s *stockService) Reserve(ctx context.Context, req ReserveRequest) (*StockResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requirePositive("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if err := requireQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}
	key := req.Key()

	var res *StockResult
	err := s.run(ctx, "reserve", req.OrgID, []StockKey{key}, func(tx LedgerTx) error {
		loc, err := activeLocation(ctx, tx, "location_id", key.LocationID)
		if err != nil {
			return err
		}
		product, err := tx.Product(ctx, key.ProductID)
		if err != nil {
			return err
		}
		row, err := tx.GetOrCreateInventory(ctx, key)
		if err != nil {
			return err
		}
		if available := row.Available(); req.Quantity.GreaterThan(available) {
			return &InsufficientStockError{Key: key, Available: available, Requested: req.Quantity, Reason: "reservation"}
		}
		if row, err = tx.ApplyDelta(ctx, key, decimal.Zero, req.Quantity); err != nil {
			return fmt.Errorf("failed to update inventory: %w", err)
		}
		if err := s.verify(ctx, tx, "reserve", nil, row); err != nil {
			return err
		}
		res = newStockResult(row, product, nil, thresholdWarnings(product, loc, row))
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logResult("stock reserved", req.OrgID, res, zap.String("quantity", req.Quantity.String()), zap.String("reference_id", req.Reference.ID))
	return res, nil
}

func (s *stockService) Release(ctx context.Context, req ReleaseRequest) (*ReleaseResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requirePositive("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if err := requireQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}
	key := req.Key()

	var res *ReleaseResult
	err := s.run(ctx, "release", req.OrgID, []StockKey{key}, func(tx LedgerTx) error {
		loc, err := activeLocation(ctx, tx, "location_id", key.LocationID)
		if err != nil {
			return err
		}
		product, err := tx.Product(ctx, key.ProductID)
		if err != nil {
			return err
		}
		row, err := tx.FindInventory(ctx, key)
		if err != nil {
			return err
		}
		if row == nil {
			// Nothing was ever stocked here, so nothing is committed. No row is created.
			row = &Inventory{
				OrgID:          req.OrgID,
				ProductID:      key.ProductID,
				LocationID:     key.LocationID,
				CurrentStock:   decimal.Zero,
				CommittedStock: decimal.Zero,
			}
		}

		released := decimal.Min(req.Quantity, row.CommittedStock)
		shortfall := req.Quantity.Sub(released)
		if released.IsPositive() {
			if row, err = tx.ApplyDelta(ctx, key, decimal.Zero, released.Neg()); err != nil {
				return fmt.Errorf("failed to update inventory: %w", err)
			}
		}
		if released.IsPositive() {
			if err := s.verify(ctx, tx, "release", nil, row); err != nil {
				return err
			}
		}

		var warnings []string
		if shortfall.IsPositive() {
			warnings = append(warnings, fmt.Sprintf("only %s of %s was committed; shortfall %s",
				released.String(), req.Quantity.String(), shortfall.String()))
		}
		warnings = append(warnings, thresholdWarnings(product, loc, row)...)
		res = &ReleaseResult{
			StockResult: *newStockResult(row, product, nil, warnings),
			Released:    released,
			Shortfall:   shortfall,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logResult("stock released", req.OrgID, &res.StockResult,
		zap.String("released", res.Released.String()), zap.String("shortfall", res.Shortfall.String()))
	return res, nil
}

func (s *stockService) Adjust(ctx context.Context, req AdjustRequest) (*StockResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requireNonNegative("new_quantity", req.NewQuantity); err != nil {
		return nil, err
	}
	if err := requireQuantity("new_quantity", req.NewQuantity); err != nil {
		return nil, err
	}
	if !req.Reason.Valid() {
		return nil, validationErrorf("reason", "must be one of count, damage, return, loss, correction, other; got %q", req.Reason)
	}
	key := req.Key()

	var res *StockResult
	err := s.run(ctx, "adjust", req.OrgID, []StockKey{key}, func(tx LedgerTx) error {
		loc, err := activeLocation(ctx, tx, "location_id", key.LocationID)
		if err != nil {
			return err
		}
		sameAdjustment := func(t Transaction) bool {
			d, ok := t.Detail.(AdjustmentDetail)
			return ok && d.Reason == req.Reason
		}
		if res, err = s.duplicate(ctx, tx, key, TxAdjustment, req.Reference, sameAdjustment); res != nil || err != nil {
			return err
		}

		row, err := tx.GetOrCreateInventory(ctx, key)
		if err != nil {
			return err
		}
		delta := req.NewQuantity.Sub(row.CurrentStock)
		if delta.IsZero() {
			return validationErrorf("new_quantity", "no adjustment to make: current stock is already %s", row.CurrentStock.String())
		}

		var warnings []string
		if req.NewQuantity.LessThan(row.CommittedStock) {
			if s.policy.AdjustBelowCommitted != BelowCommittedWarn {
				return &InsufficientStockError{
					Key:       key,
					Available: req.NewQuantity,
					Requested: row.CommittedStock,
					Reason:    "adjustment would leave committed stock uncovered",
				}
			}
			warnings = append(warnings, fmt.Sprintf("committed stock %s exceeds adjusted quantity %s",
				row.CommittedStock.String(), req.NewQuantity.String()))
		}
		product, err := tx.Product(ctx, key.ProductID)
		if err != nil {
			return err
		}

		rec, err := tx.AppendTransaction(ctx, Transaction{
			ProductID:  key.ProductID,
			LocationID: key.LocationID,
			Quantity:   delta,
			Detail:     AdjustmentDetail{Reason: req.Reason, UnitCost: carriedCost(product)},
			Reference:  req.Reference,
			Notes:      req.Notes,
			CreatedBy:  req.CreatedBy,
		})
		if err != nil {
			return fmt.Errorf("failed to append adjustment: %w", err)
		}
		if row, err = tx.ApplyDelta(ctx, key, delta, decimal.Zero); err != nil {
			return fmt.Errorf("failed to update inventory: %w", err)
		}
		if err := s.verify(ctx, tx, "adjust", []Transaction{*rec}, row); err != nil {
			return err
		}
		warnings = append(warnings, thresholdWarnings(product, loc, row)...)
		res = newStockResult(row, product, []Transaction{*rec}, warnings)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logResult("stock adjusted", req.OrgID, res, zap.String("reason", string(req.Reason)))
	return res, nil
}

func (s *stockService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}
	if err := requirePositive("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if err := requireQuantity("quantity", req.Quantity); err != nil {
		return nil, err
	}
	if req.SourceLocationID == req.DestinationLocationID {
		return nil, validationErrorf("destination_location_id", "must differ from source_location_id")
	}
	src := StockKey{ProductID: req.ProductID, LocationID: req.SourceLocationID}
	dst := StockKey{ProductID: req.ProductID, LocationID: req.DestinationLocationID}

	var res *TransferResult
	err := s.run(ctx, "transfer", req.OrgID, []StockKey{src, dst}, func(tx LedgerTx) error {
		srcLoc, err := activeLocation(ctx, tx, "source_location_id", src.LocationID)
		if err != nil {
			return err
		}
		dstLoc, err := activeLocation(ctx, tx, "destination_location_id", dst.LocationID)
		if err != nil {
			return err
		}

		if res, err = s.duplicateTransfer(ctx, tx, src, dst, req); res != nil || err != nil {
			return err
		}

		srcRow, err := tx.GetOrCreateInventory(ctx, src)
		if err != nil {
			return err
		}
		if available := srcRow.Available(); req.Quantity.GreaterThan(available) {
			return &InsufficientStockError{Key: src, Available: available, Requested: req.Quantity, Reason: "transfer source"}
		}
		dstRow, err := tx.GetOrCreateInventory(ctx, dst)
		if err != nil {
			return err
		}
		product, err := tx.LockProduct(ctx, req.ProductID)
		if err != nil {
			return err
		}
		// Moving stock at the average cost leaves the product-wide average unchanged.
		unitCost := product.AvgCost

		out, err := tx.AppendTransaction(ctx, Transaction{
			ProductID:  req.ProductID,
			LocationID: src.LocationID,
			Quantity:   req.Quantity.Neg(),
			Detail:     TransferOutDetail{DestinationLocationID: dst.LocationID, UnitCost: unitCost},
			Reference:  req.Reference,
			Notes:      req.Notes,
			CreatedBy:  req.CreatedBy,
		})
		if err != nil {
			return fmt.Errorf("failed to append transfer_out: %w", err)
		}
		in, err := tx.AppendTransaction(ctx, Transaction{
			ProductID:  req.ProductID,
			LocationID: dst.LocationID,
			Quantity:   req.Quantity,
			Detail:     TransferInDetail{SourceLocationID: src.LocationID, UnitCost: unitCost},
			Reference:  req.Reference,
			Notes:      req.Notes,
			CreatedBy:  req.CreatedBy,
		})
		if err != nil {
			return fmt.Errorf("failed to append transfer_in: %w", err)
		}

		if srcRow, err = tx.ApplyDelta(ctx, src, req.Quantity.Neg(), decimal.Zero); err != nil {
			return fmt.Errorf("failed to update source inventory: %w", err)
		}
		if dstRow, err = tx.ApplyDelta(ctx, dst, req.Quantity, decimal.Zero); err != nil {
			return fmt.Errorf("failed to update destination inventory: %w", err)
		}

		legs := []Transaction{*out, *in}
		if err := s.verify(ctx, tx, "transfer", legs, srcRow, dstRow); err != nil {
			return err
		}
		warnings := thresholdWarnings(product, srcLoc, srcRow)
		warnings = append(warnings, thresholdWarnings(product, dstLoc, dstRow)...)
		res = &TransferResult{
			Source:       *srcRow,
			Destination:  *dstRow,
			Transactions: legs,
			Product:      *product,
			Warnings:     warnings,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.Duplicate {
		s.log.Info("duplicate transfer ignored", zap.Stringer("org_id", req.OrgID), zap.String("reference_id", req.Reference.ID))
	} else {
		s.log.Info("stock transferred",
			zap.Stringer("org_id", req.OrgID),
			zap.Stringer("product_id", req.ProductID),
			zap.Stringer("source_location_id", req.SourceLocationID),
			zap.Stringer("destination_location_id", req.DestinationLocationID),
			zap.String("quantity", req.Quantity.String()),
			zap.String("source_stock", res.Source.CurrentStock.String()),
			zap.String("destination_stock", res.Destination.CurrentStock.String()),
			zap.String("reference_id", req.Reference.ID),
		)
	}
	s.logWarnings(res.Warnings)
	return res, nil
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// run wraps Store.Within and logs the lock timeouts callers will retry.
func (s *stockService) run(ctx context.Context, op string, org uuid.UUID, keys []StockKey, fn func(tx LedgerTx) error) error {
	err := s.store.Within(ctx, org, keys, fn)
	if err != nil && IsRetryable(err) {
		s.log.Warn("stock lock timeout", zap.String("operation", op), zap.Stringer("org_id", org), zap.Error(err))
	}
	return err
}

// duplicate returns the earlier result for ref when dedup is enabled and a
// transaction of txType already carries it. A nil result means proceed. A
// prior record that same rejects means the reference was reused for a
// different movement.
func (s *stockService) duplicate(ctx context.Context, tx LedgerTx, key StockKey, txType TransactionType, ref Reference, same func(Transaction) bool) (*StockResult, error) {
	if !s.policy.DedupeReferences || ref.IsZero() {
		return nil, nil
	}
	prior, err := tx.FindByReference(ctx, key, txType, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference: %w", err)
	}
	if len(prior) == 0 {
		return nil, nil
	}
	for _, t := range prior {
		if !same(t) {
			return nil, validationErrorf("reference_id", "reference %q is already recorded with a different %s",
				ref.ID, describeMovement(t))
		}
	}
	row, err := tx.GetOrCreateInventory(ctx, key)
	if err != nil {
		return nil, err
	}
	product, err := tx.Product(ctx, key.ProductID)
	if err != nil {
		return nil, err
	}
	res := newStockResult(row, product, prior, nil)
	res.Duplicate = true
	return res, nil
}

// duplicateTransfer matches ref against an earlier transfer between the same
// two locations. Both legs must be present and carry the same quantity.
func (s *stockService) duplicateTransfer(ctx context.Context, tx LedgerTx, src, dst StockKey, req TransferRequest) (*TransferResult, error) {
	ref := req.Reference
	if !s.policy.DedupeReferences || ref.IsZero() {
		return nil, nil
	}
	outs, err := tx.FindByReference(ctx, src, TxTransferOut, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference: %w", err)
	}
	if len(outs) == 0 {
		return nil, nil
	}
	var out *Transaction
	for i, t := range outs {
		if d, ok := t.Detail.(TransferOutDetail); ok && d.DestinationLocationID == dst.LocationID {
			out = &outs[i]
			break
		}
	}
	if out == nil {
		return nil, validationErrorf("reference_id", "reference %q is already recorded for a transfer to another location", ref.ID)
	}
	if !out.Quantity.Equal(req.Quantity.Neg()) {
		return nil, validationErrorf("reference_id", "reference %q is already recorded with a different quantity (%s)",
			ref.ID, out.Quantity.Neg().String())
	}
	ins, err := tx.FindByReference(ctx, dst, TxTransferIn, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference: %w", err)
	}
	var in *Transaction
	for i, t := range ins {
		if d, ok := t.Detail.(TransferInDetail); ok && d.SourceLocationID == src.LocationID && t.Quantity.Equal(req.Quantity) {
			in = &ins[i]
			break
		}
	}
	if in == nil {
		return nil, validationErrorf("reference_id", "reference %q matches a transfer_out with no transfer_in", ref.ID)
	}
	res, err := s.transferResult(ctx, tx, src, dst, []Transaction{*out, *in})
	if err != nil {
		return nil, err
	}
	res.Duplicate = true
	return res, nil
}

func (s *stockService) transferResult(ctx context.Context, tx LedgerTx, src, dst StockKey, legs []Transaction) (*TransferResult, error) {
	srcRow, err := tx.GetOrCreateInventory(ctx, src)
	if err != nil {
		return nil, err
	}
	dstRow, err := tx.GetOrCreateInventory(ctx, dst)
	if err != nil {
		return nil, err
	}
	product, err := tx.Product(ctx, src.ProductID)
	if err != nil {
		return nil, err
	}
	return &TransferResult{Source: *srcRow, Destination: *dstRow, Transactions: legs, Product: *product}, nil
}

// verify fails the unit with an IntegrityError when any row's cached
// current_stock differs from the sum of its ledger.
func (s *stockService) verify(ctx context.Context, tx LedgerTx, op string, pending []Transaction, rows ...*Inventory) error {
	if !s.policy.VerifyIntegrity {
		return nil
	}
	for _, row := range rows {
		sum, err := tx.LedgerSum(ctx, row.Key())
		if err != nil {
			return fmt.Errorf("failed to sum ledger: %w", err)
		}
		if sum.Equal(row.CurrentStock) {
			continue
		}
		ierr := &IntegrityError{Key: row.Key(), Cached: row.CurrentStock, LedgerSum: sum, Operation: op}
		s.log.Error("ledger integrity violation",
			zap.String("operation", op),
			zap.Stringer("org_id", row.OrgID),
			zap.Stringer("product_id", row.ProductID),
			zap.Stringer("location_id", row.LocationID),
			zap.String("cached_current_stock", row.CurrentStock.String()),
			zap.String("committed_stock", row.CommittedStock.String()),
			zap.String("ledger_sum", sum.String()),
			zap.Any("pending_transactions", records(pending)),
		)
		return ierr
	}
	return nil
}

func (s *stockService) logResult(msg string, org uuid.UUID, res *StockResult, extra ...zap.Field) {
	if res.Duplicate {
		msg = "duplicate reference ignored"
	}
	fields := []zap.Field{
		zap.Stringer("org_id", org),
		zap.Stringer("product_id", res.Inventory.ProductID),
		zap.Stringer("location_id", res.Inventory.LocationID),
		zap.String("current_stock", res.Inventory.CurrentStock.String()),
		zap.String("committed_stock", res.Inventory.CommittedStock.String()),
	}
	for _, t := range res.Transactions {
		fields = append(fields, zap.String("transaction_id", t.ID.String()))
	}
	s.log.Info(msg, append(fields, extra...)...)
	s.logWarnings(res.Warnings)
}

func (s *stockService) logWarnings(warnings []string) {
	for _, w := range warnings {
		s.log.Warn("stock warning", zap.String("warning", w))
	}
}

func activeLocation(ctx context.Context, tx LedgerTx, field string, id uuid.UUID) (*Location, error) {
	loc, err := tx.Location(ctx, id)
	if err != nil {
		return nil, err
	}
	if !loc.IsActive {
		return nil, validationErrorf(field, "location %s is inactive", loc.Code)
	}
	return loc, nil
}

// carriedCost is the valuation written on outbound and adjustment rows. A
// product that was never costed yields nil.
func describeMovement(t Transaction) string {
	if c := t.UnitCost(); c != nil {
		return fmt.Sprintf("movement (quantity %s at %s)", t.Quantity.String(), c.String())
	}
	if d, ok := t.Detail.(AdjustmentDetail); ok {
		return fmt.Sprintf("movement (quantity %s, reason %s)", t.Quantity.String(), d.Reason)
	}
	return fmt.Sprintf("movement (quantity %s)", t.Quantity.String())
}

func carriedCost(p *Product) *decimal.Decimal {
	if p.AvgCost.IsZero() && p.LastPurchaseCost == nil {
		return nil
	}
	c := p.AvgCost
	return &c
}

func thresholdWarnings(p *Product, l *Location, row *Inventory) []string {
	var out []string
	if p.MinStockLevel != nil && row.CurrentStock.LessThan(*p.MinStockLevel) {
		out = append(out, fmt.Sprintf("%s is below minimum stock level (%s < %s)",
			describeKey(p, l), row.CurrentStock.String(), p.MinStockLevel.String()))
	}
	if p.MaxStockLevel != nil && row.CurrentStock.GreaterThan(*p.MaxStockLevel) {
		out = append(out, fmt.Sprintf("%s is above maximum stock level (%s > %s)",
			describeKey(p, l), row.CurrentStock.String(), p.MaxStockLevel.String()))
	}
	return out
}

func newStockResult(row *Inventory, p *Product, txs []Transaction, warnings []string) *StockResult {
	return &StockResult{
		Inventory:    *row,
		Available:    row.Available(),
		Transactions: txs,
		Product:      *p,
		Warnings:     warnings,
	}
}

func records(txs []Transaction) []TransactionRecord {
	out := make([]TransactionRecord, len(txs))
	for i, t := range txs {
		out[i] = t.Record()
	}
	return out
}
