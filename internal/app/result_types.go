package app

import (
	"time"

	"inventory-ledger/internal/ai"
	"inventory-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StockLevelsResult is returned by GetStockLevels and GetLowStock.
type StockLevelsResult struct {
	OrgID  uuid.UUID         `json:"org_id"`
	Levels []core.StockLevel `json:"levels"`
}

// ProductListResult is returned by ListProducts.
type ProductListResult struct {
	Products []core.Product `json:"products"`
}

// LocationListResult is returned by ListLocations.
type LocationListResult struct {
	Locations []core.Location `json:"locations"`
}

// HistoryResult is returned by GetTransactionHistory.
type HistoryResult struct {
	OrgID uuid.UUID          `json:"org_id"`
	Lines []core.HistoryLine `json:"lines"`
}

// StockAsOfResult is returned by GetStockAsOf.
type StockAsOfResult struct {
	ProductSKU   string          `json:"product_sku"`
	LocationCode string          `json:"location_code"`
	AsOf         time.Time       `json:"as_of"`
	CurrentStock decimal.Decimal `json:"current_stock"`
}

// AIResult is returned by InterpretStockEvent.
type AIResult struct {
	Intent               *ai.StockIntent `json:"intent,omitempty"`
	ClarificationMessage string          `json:"clarification_message,omitempty"`
	IsClarification      bool            `json:"is_clarification"`
}

// IntentResult is returned by ExecuteIntent. Exactly one of Stock, Release
// and Transfer is set, depending on Operation.
type IntentResult struct {
	Operation ai.Operation         `json:"operation"`
	Stock     *core.StockResult    `json:"stock,omitempty"`
	Release   *core.ReleaseResult  `json:"release,omitempty"`
	Transfer  *core.TransferResult `json:"transfer,omitempty"`
}

// Warnings returns the warnings of whichever result is set.
func (r *IntentResult) Warnings() []string {
	switch {
	case r.Stock != nil:
		return r.Stock.Warnings
	case r.Release != nil:
		return r.Release.Warnings
	case r.Transfer != nil:
		return r.Transfer.Warnings
	}
	return nil
}
