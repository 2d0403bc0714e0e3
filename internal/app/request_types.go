package app

import "github.com/google/uuid"

// AuditInput is copied onto every ledger record an operation writes.
// CreatedBy is set by the adapter from the caller's identity.
type AuditInput struct {
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	Notes         string `json:"notes,omitempty"`
	CreatedBy     string `json:"-"`
}

// StockInput names the row an operation touches. Product is a SKU or a UUID;
// Location is a location code or a UUID.
type StockInput struct {
	OrgID    uuid.UUID `json:"-"`
	Product  string    `json:"product" jsonschema:"required"`
	Location string    `json:"location" jsonschema:"required"`
}

// ReceiveStockRequest is the input for recording a purchase receipt.
type ReceiveStockRequest struct {
	StockInput
	AuditInput
	Quantity string `json:"quantity" jsonschema:"required"`
	UnitCost string `json:"unit_cost" jsonschema:"required"`
}

// ConsumeStockRequest is the input for recording a sale.
type ConsumeStockRequest struct {
	StockInput
	AuditInput
	Quantity      string `json:"quantity" jsonschema:"required"`
	AllowOversell bool   `json:"allow_oversell,omitempty"`
}

// ReserveStockRequest is the input for committing stock to demand.
type ReserveStockRequest struct {
	StockInput
	AuditInput
	Quantity string `json:"quantity" jsonschema:"required"`
}

// ReleaseStockRequest is the input for releasing committed stock.
type ReleaseStockRequest struct {
	StockInput
	AuditInput
	Quantity string `json:"quantity" jsonschema:"required"`
}

// AdjustStockRequest is the input for a count or write-off.
type AdjustStockRequest struct {
	StockInput
	AuditInput
	NewQuantity string `json:"new_quantity" jsonschema:"required"`
	Reason      string `json:"reason" jsonschema:"required,enum=count,enum=damage,enum=return,enum=loss,enum=correction,enum=other"`
}

// TransferStockRequest is the input for moving stock between locations.
type TransferStockRequest struct {
	AuditInput
	OrgID               uuid.UUID `json:"-"`
	Product             string    `json:"product" jsonschema:"required"`
	SourceLocation      string    `json:"source_location" jsonschema:"required"`
	DestinationLocation string    `json:"destination_location" jsonschema:"required"`
	Quantity            string    `json:"quantity" jsonschema:"required"`
}

// StockQuery narrows GetStockLevels. Empty fields match everything.
type StockQuery struct {
	Product  string
	Location string
}

// HistoryQuery narrows GetTransactionHistory. Since and Until accept RFC 3339
// or YYYY-MM-DD; a bare Until date covers the whole day.
type HistoryQuery struct {
	Product     string
	Location    string
	Type        string
	ReferenceID string
	Since       string
	Until       string
	Limit       int
}
