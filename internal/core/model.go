package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxPurchase    TransactionType = "purchase"
	TxSale        TransactionType = "sale"
	TxAdjustment  TransactionType = "adjustment"
	TxTransferIn  TransactionType = "transfer_in"
	TxTransferOut TransactionType = "transfer_out"
	TxReturn      TransactionType = "return"
	TxCount       TransactionType = "count"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxPurchase, TxSale, TxAdjustment, TxTransferIn, TxTransferOut, TxReturn, TxCount:
		return true
	}
	return false
}

// AdjustReason is stored for audit and never interpreted by the ledger.
type AdjustReason string

const (
	ReasonCount      AdjustReason = "count"
	ReasonDamage     AdjustReason = "damage"
	ReasonReturn     AdjustReason = "return"
	ReasonLoss       AdjustReason = "loss"
	ReasonCorrection AdjustReason = "correction"
	ReasonOther      AdjustReason = "other"
)

func (r AdjustReason) Valid() bool {
	switch r {
	case ReasonCount, ReasonDamage, ReasonReturn, ReasonLoss, ReasonCorrection, ReasonOther:
		return true
	}
	return false
}

// Reference is a caller-supplied correlation key such as a purchase order number.
type Reference struct {
	ID   string `json:"reference_id,omitempty" validate:"max=128"`
	Type string `json:"reference_type,omitempty" validate:"max=64"`
}

func (r Reference) IsZero() bool { return r.ID == "" }

// TransactionDetail is the closed set of per-type payloads. Only the
// variants in this file implement it.
type TransactionDetail interface {
	Type() TransactionType
	isTransactionDetail()
}

// PurchaseDetail values a receipt; it is the only variant that moves avg_cost.
type PurchaseDetail struct {
	UnitCost decimal.Decimal
}

// SaleDetail carries the average cost at the time of sale, if known.
type SaleDetail struct {
	UnitCost *decimal.Decimal
}

type AdjustmentDetail struct {
	Reason   AdjustReason
	UnitCost *decimal.Decimal
}

// TransferOutDetail is the source leg of a transfer.
type TransferOutDetail struct {
	DestinationLocationID uuid.UUID
	UnitCost              decimal.Decimal
}

// TransferInDetail is the destination leg of a transfer.
type TransferInDetail struct {
	SourceLocationID uuid.UUID
	UnitCost         decimal.Decimal
}

// ReturnDetail and CountDetail exist for rows written by the legacy console;
// no operation in this package produces them but history and sums include them.
type ReturnDetail struct {
	UnitCost *decimal.Decimal
}

type CountDetail struct{}

func (PurchaseDetail) Type() TransactionType    { return TxPurchase }
func (SaleDetail) Type() TransactionType        { return TxSale }
func (AdjustmentDetail) Type() TransactionType  { return TxAdjustment }
func (TransferOutDetail) Type() TransactionType { return TxTransferOut }
func (TransferInDetail) Type() TransactionType  { return TxTransferIn }
func (ReturnDetail) Type() TransactionType      { return TxReturn }
func (CountDetail) Type() TransactionType       { return TxCount }

func (PurchaseDetail) isTransactionDetail()    {}
func (SaleDetail) isTransactionDetail()        {}
func (AdjustmentDetail) isTransactionDetail()  {}
func (TransferOutDetail) isTransactionDetail() {}
func (TransferInDetail) isTransactionDetail()  {}
func (ReturnDetail) isTransactionDetail()      {}
func (CountDetail) isTransactionDetail()       {}

// Transaction is one immutable ledger record. Quantity is the signed delta
// applied to current_stock.
type Transaction struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	ProductID  uuid.UUID
	LocationID uuid.UUID
	Quantity   decimal.Decimal
	Detail     TransactionDetail
	Reference  Reference
	Notes      string
	CreatedBy  string
	CreatedAt  time.Time
}

func (t Transaction) Type() TransactionType {
	if t.Detail == nil {
		return ""
	}
	return t.Detail.Type()
}

func (t Transaction) Key() StockKey {
	return StockKey{ProductID: t.ProductID, LocationID: t.LocationID}
}

// UnitCost returns the per-unit valuation, or nil when the record carries none.
func (t Transaction) UnitCost() *decimal.Decimal {
	switch d := t.Detail.(type) {
	case PurchaseDetail:
		return &d.UnitCost
	case TransferOutDetail:
		return &d.UnitCost
	case TransferInDetail:
		return &d.UnitCost
	case SaleDetail:
		return d.UnitCost
	case AdjustmentDetail:
		return d.UnitCost
	case ReturnDetail:
		return d.UnitCost
	}
	return nil
}

// TotalCost is unit_cost × quantity, signed like the quantity.
func (t Transaction) TotalCost() *decimal.Decimal {
	u := t.UnitCost()
	if u == nil {
		return nil
	}
	total := u.Mul(t.Quantity)
	return &total
}

// TransactionRecord is the flat, nullable-column shape of a transaction used
// on the wire and in inventory_transactions.
type TransactionRecord struct {
	ID                    uuid.UUID        `json:"id"`
	OrgID                 uuid.UUID        `json:"org_id"`
	ProductID             uuid.UUID        `json:"product_id"`
	LocationID            uuid.UUID        `json:"location_id"`
	TransactionType       TransactionType  `json:"transaction_type"`
	Quantity              decimal.Decimal  `json:"quantity"`
	UnitCost              *decimal.Decimal `json:"unit_cost"`
	TotalCost             *decimal.Decimal `json:"total_cost"`
	ReferenceID           *string          `json:"reference_id"`
	ReferenceType         *string          `json:"reference_type"`
	SourceLocationID      *uuid.UUID       `json:"source_location_id"`
	DestinationLocationID *uuid.UUID       `json:"destination_location_id"`
	AdjustmentReason      *string          `json:"adjustment_reason"`
	Notes                 *string          `json:"notes"`
	CreatedBy             *string          `json:"created_by"`
	CreatedAt             time.Time        `json:"created_at"`
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Record flattens t.
func (t Transaction) Record() TransactionRecord {
	rec := TransactionRecord{
		ID:              t.ID,
		OrgID:           t.OrgID,
		ProductID:       t.ProductID,
		LocationID:      t.LocationID,
		TransactionType: t.Type(),
		Quantity:        t.Quantity,
		UnitCost:        t.UnitCost(),
		TotalCost:       t.TotalCost(),
		ReferenceID:     optString(t.Reference.ID),
		ReferenceType:   optString(t.Reference.Type),
		Notes:           optString(t.Notes),
		CreatedBy:       optString(t.CreatedBy),
		CreatedAt:       t.CreatedAt,
	}
	switch d := t.Detail.(type) {
	case TransferOutDetail:
		id := d.DestinationLocationID
		rec.DestinationLocationID = &id
	case TransferInDetail:
		id := d.SourceLocationID
		rec.SourceLocationID = &id
	case AdjustmentDetail:
		rec.AdjustmentReason = optString(string(d.Reason))
	}
	return rec
}

// Transaction rebuilds the tagged form, rejecting rows whose columns do not
// fit their transaction type.
func (rec TransactionRecord) Transaction() (Transaction, error) {
	t := Transaction{
		ID:         rec.ID,
		OrgID:      rec.OrgID,
		ProductID:  rec.ProductID,
		LocationID: rec.LocationID,
		Quantity:   rec.Quantity,
		Reference:  Reference{ID: derefString(rec.ReferenceID), Type: derefString(rec.ReferenceType)},
		Notes:      derefString(rec.Notes),
		CreatedBy:  derefString(rec.CreatedBy),
		CreatedAt:  rec.CreatedAt,
	}
	requireCost := func() (decimal.Decimal, error) {
		if rec.UnitCost == nil {
			return decimal.Zero, fmt.Errorf("transaction %s: %s without unit_cost", rec.ID, rec.TransactionType)
		}
		return *rec.UnitCost, nil
	}

	switch rec.TransactionType {
	case TxPurchase:
		c, err := requireCost()
		if err != nil {
			return Transaction{}, err
		}
		t.Detail = PurchaseDetail{UnitCost: c}
	case TxSale:
		t.Detail = SaleDetail{UnitCost: rec.UnitCost}
	case TxAdjustment:
		t.Detail = AdjustmentDetail{Reason: AdjustReason(derefString(rec.AdjustmentReason)), UnitCost: rec.UnitCost}
	case TxTransferOut:
		c, err := requireCost()
		if err != nil {
			return Transaction{}, err
		}
		if rec.DestinationLocationID == nil {
			return Transaction{}, fmt.Errorf("transaction %s: transfer_out without destination_location_id", rec.ID)
		}
		t.Detail = TransferOutDetail{DestinationLocationID: *rec.DestinationLocationID, UnitCost: c}
	case TxTransferIn:
		c, err := requireCost()
		if err != nil {
			return Transaction{}, err
		}
		if rec.SourceLocationID == nil {
			return Transaction{}, fmt.Errorf("transaction %s: transfer_in without source_location_id", rec.ID)
		}
		t.Detail = TransferInDetail{SourceLocationID: *rec.SourceLocationID, UnitCost: c}
	case TxReturn:
		t.Detail = ReturnDetail{UnitCost: rec.UnitCost}
	case TxCount:
		t.Detail = CountDetail{}
	default:
		return Transaction{}, fmt.Errorf("transaction %s: unknown transaction_type %q", rec.ID, rec.TransactionType)
	}
	return t, nil
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Record())
}
