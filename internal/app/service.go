package app

import (
	"context"

	"inventory-ledger/internal/ai"
	"inventory-ledger/internal/core"

	"github.com/google/uuid"
)

// ApplicationService is the single interface all UI adapters (REPL, CLI, Web) call.
// It decouples presentation from business logic: adapters pass raw textual
// input, and products and locations may be named by SKU/code or by UUID.
// Implementations must contain no display logic of any kind.
type ApplicationService interface {
	// Receive books a purchase receipt and recomputes the moving average cost.
	Receive(ctx context.Context, req ReceiveStockRequest) (*core.StockResult, error)

	// Consume books a sale against available stock.
	Consume(ctx context.Context, req ConsumeStockRequest) (*core.StockResult, error)

	// Reserve commits available stock to outstanding demand.
	Reserve(ctx context.Context, req ReserveStockRequest) (*core.StockResult, error)

	// Release returns committed stock. Releasing more than is committed
	// releases what there is and reports the shortfall.
	Release(ctx context.Context, req ReleaseStockRequest) (*core.ReleaseResult, error)

	// Adjust sets current stock to a counted quantity, booking the difference.
	Adjust(ctx context.Context, req AdjustStockRequest) (*core.StockResult, error)

	// Transfer moves stock between two locations of the same organization.
	Transfer(ctx context.Context, req TransferStockRequest) (*core.TransferResult, error)

	// ListProducts returns the organization's catalog.
	ListProducts(ctx context.Context, org uuid.UUID) (*ProductListResult, error)

	// ListLocations returns the organization's locations.
	ListLocations(ctx context.Context, org uuid.UUID) (*LocationListResult, error)

	// GetStockLevels returns stock levels, optionally narrowed to one product and/or location.
	GetStockLevels(ctx context.Context, org uuid.UUID, q StockQuery) (*StockLevelsResult, error)

	// GetStockLevel returns the level of one (product, location) row.
	GetStockLevel(ctx context.Context, org uuid.UUID, product, location string) (*core.StockLevel, error)

	// GetProductSummary rolls a product up across locations.
	GetProductSummary(ctx context.Context, org uuid.UUID, product string) (*core.ProductSummary, error)

	// GetLocationSummary lists what a location holds.
	GetLocationSummary(ctx context.Context, org uuid.UUID, location string) (*core.LocationSummary, error)

	// GetTransactionHistory returns ledger records in chronological order.
	GetTransactionHistory(ctx context.Context, org uuid.UUID, q HistoryQuery) (*HistoryResult, error)

	// GetStockAsOf reconstructs current stock from the ledger at a point in time.
	// asOf is RFC 3339 or YYYY-MM-DD (end of that day, UTC).
	GetStockAsOf(ctx context.Context, org uuid.UUID, product, location, asOf string) (*StockAsOfResult, error)

	// GetLowStock returns rows below their product's minimum stock level.
	GetLowStock(ctx context.Context, org uuid.UUID) (*StockLevelsResult, error)

	// Reconcile compares cached rows with ledger sums. It never repairs.
	Reconcile(ctx context.Context, org uuid.UUID) (*core.ReconcileReport, error)

	// InterpretStockEvent sends a natural language stock event to the AI agent and
	// returns either a proposed StockIntent or a clarification request.
	// Nothing is executed.
	InterpretStockEvent(ctx context.Context, org uuid.UUID, text string) (*AIResult, error)

	// ExecuteIntent runs a previously proposed intent after human confirmation.
	ExecuteIntent(ctx context.Context, org uuid.UUID, intent ai.StockIntent, createdBy string) (*IntentResult, error)

	// LoadDefaultOrganization returns the configured default organization, or the
	// only organization when none is configured.
	LoadDefaultOrganization(ctx context.Context) (*core.Organization, error)
}
