package core

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerTx is the view of the store inside one unit of work. Every method is
// scoped to the organization passed to Store.Within. Nothing written through
// a LedgerTx is visible to other callers until the unit commits.
type LedgerTx interface {
	Product(ctx context.Context, id uuid.UUID) (*Product, error)
	// LockProduct returns the product held exclusively until the unit ends.
	// Callers take it after their stock keys.
	LockProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	Location(ctx context.Context, id uuid.UUID) (*Location, error)

	// GetOrCreateInventory returns the cached row, creating a zeroed one if
	// none exists. The key must be one of the keys locked by Within.
	GetOrCreateInventory(ctx context.Context, key StockKey) (*Inventory, error)

	// AppendTransaction stores tx with a generated ID and timestamp and
	// returns the stored record. Existing records are never touched.
	AppendTransaction(ctx context.Context, tx Transaction) (*Transaction, error)

	// FindInventory returns the cached row for key, or nil if none exists.
	// It never creates one. The key must be locked by Within.
	FindInventory(ctx context.Context, key StockKey) (*Inventory, error)

	// ProductOnHand sums the product's positive current_stock over every
	// location, including rows staged in this unit. Callers hold LockProduct.
	ProductOnHand(ctx context.Context, productID uuid.UUID) (decimal.Decimal, error)

	// ApplyDelta is the only mutation point for cached rows.
	ApplyDelta(ctx context.Context, key StockKey, dCurrent, dCommitted decimal.Decimal) (*Inventory, error)

	// SetProductCost writes the recomputed average cost. lastPurchase nil
	// leaves last_purchase_cost unchanged.
	SetProductCost(ctx context.Context, productID uuid.UUID, avgCost decimal.Decimal, lastPurchase *decimal.Decimal) error

	// FindByReference returns transactions of txType for key carrying ref.ID.
	FindByReference(ctx context.Context, key StockKey, txType TransactionType, ref Reference) ([]Transaction, error)

	// LedgerSum is the sum of quantity over every transaction for key,
	// including those appended in this unit.
	LedgerSum(ctx context.Context, key StockKey) (decimal.Decimal, error)
}

// InventoryFilter narrows ListInventory. Zero values match everything.
type InventoryFilter struct {
	ProductID  uuid.UUID
	LocationID uuid.UUID
}

// TransactionFilter narrows ListTransactions. Results are ordered by
// created_at ascending; a positive Limit keeps the most recent records.
type TransactionFilter struct {
	ProductID   uuid.UUID
	LocationID  uuid.UUID
	Type        TransactionType
	ReferenceID string
	Since       time.Time // inclusive
	Until       time.Time // inclusive
	Limit       int
}

// ReadStore is the read-only side used by the reporting layer.
type ReadStore interface {
	Organizations(ctx context.Context) ([]Organization, error)
	GetProduct(ctx context.Context, org, id uuid.UUID) (*Product, error)
	GetLocation(ctx context.Context, org, id uuid.UUID) (*Location, error)
	ListProducts(ctx context.Context, org uuid.UUID) ([]Product, error)
	ListLocations(ctx context.Context, org uuid.UUID) ([]Location, error)
	GetInventory(ctx context.Context, org uuid.UUID, key StockKey) (*Inventory, error)
	ListInventory(ctx context.Context, org uuid.UUID, f InventoryFilter) ([]Inventory, error)
	ListTransactions(ctx context.Context, org uuid.UUID, f TransactionFilter) ([]Transaction, error)
}

// Store is the ledger's persistence dependency. It is injected into the
// services; there is no package-level handle.
type Store interface {
	ReadStore
	// Within runs fn holding exclusive locks on keys, acquired in SortKeys
	// order with a bounded wait. fn's writes commit only if it returns nil.
	Within(ctx context.Context, org uuid.UUID, keys []StockKey, fn func(tx LedgerTx) error) error
}

// CatalogWriter loads reference data. The ledger itself never calls it; it
// serves seeding and tests.
type CatalogWriter interface {
	SaveOrganization(ctx context.Context, o Organization) error
	SaveProduct(ctx context.Context, p Product) error
	SaveLocation(ctx context.Context, l Location) error
}

func (f TransactionFilter) matches(t Transaction) bool {
	if f.ProductID != uuid.Nil && t.ProductID != f.ProductID {
		return false
	}
	if f.LocationID != uuid.Nil && t.LocationID != f.LocationID {
		return false
	}
	if f.Type != "" && t.Type() != f.Type {
		return false
	}
	if f.ReferenceID != "" && t.Reference.ID != f.ReferenceID {
		return false
	}
	if !f.Since.IsZero() && t.CreatedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && t.CreatedAt.After(f.Until) {
		return false
	}
	return true
}
