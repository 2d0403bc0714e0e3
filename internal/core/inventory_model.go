package core

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocationType classifies a stock location. It is reference data only.
type LocationType string

const (
	LocationWarehouse LocationType = "warehouse"
	LocationStore     LocationType = "store"
	LocationSupplier  LocationType = "supplier"
	LocationCustomer  LocationType = "customer"
	LocationTransit   LocationType = "transit"
	LocationOther     LocationType = "other"
)

// Valid reports whether t is one of the known location types.
func (t LocationType) Valid() bool {
	switch t {
	case LocationWarehouse, LocationStore, LocationSupplier, LocationCustomer, LocationTransit, LocationOther:
		return true
	}
	return false
}

// Organization is the tenant every product, location and ledger row belongs to.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Product is catalog data owned by external collaborators. The ledger only
// writes AvgCost and LastPurchaseCost.
type Product struct {
	ID               uuid.UUID        `json:"id"`
	OrgID            uuid.UUID        `json:"org_id"`
	SKU              string           `json:"sku"`
	Name             string           `json:"name"`
	UnitOfMeasure    string           `json:"unit_of_measure"`
	MinStockLevel    *decimal.Decimal `json:"min_stock_level,omitempty"`
	MaxStockLevel    *decimal.Decimal `json:"max_stock_level,omitempty"`
	AvgCost          decimal.Decimal  `json:"avg_cost"`
	LastPurchaseCost *decimal.Decimal `json:"last_purchase_cost,omitempty"`
	IsActive         bool             `json:"is_active"`
}

// Location is a place stock can be held.
type Location struct {
	ID       uuid.UUID    `json:"id"`
	OrgID    uuid.UUID    `json:"org_id"`
	Code     string       `json:"code"`
	Name     string       `json:"name"`
	Type     LocationType `json:"type"`
	IsActive bool         `json:"is_active"`
}

// StockKey identifies one cached inventory row within an organization.
type StockKey struct {
	ProductID  uuid.UUID `json:"product_id"`
	LocationID uuid.UUID `json:"location_id"`
}

// Less orders keys lexicographically on (product id, location id). Every
// multi-key lock acquisition uses this order.
func (k StockKey) Less(o StockKey) bool {
	if c := bytes.Compare(k.ProductID[:], o.ProductID[:]); c != 0 {
		return c < 0
	}
	return bytes.Compare(k.LocationID[:], o.LocationID[:]) < 0
}

func (k StockKey) String() string {
	return k.ProductID.String() + "@" + k.LocationID.String()
}

// SortKeys returns keys deduplicated and in lock order.
func SortKeys(keys []StockKey) []StockKey {
	seen := make(map[StockKey]bool, len(keys))
	out := make([]StockKey, 0, len(keys))
	for _, k := range keys {
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Inventory is the cached projection of the ledger for one (product, location).
type Inventory struct {
	ID             uuid.UUID       `json:"id"`
	OrgID          uuid.UUID       `json:"org_id"`
	ProductID      uuid.UUID       `json:"product_id"`
	LocationID     uuid.UUID       `json:"location_id"`
	CurrentStock   decimal.Decimal `json:"current_stock"`
	CommittedStock decimal.Decimal `json:"committed_stock"`
	ShelfLocation  string          `json:"shelf_location,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Key returns the row's stock key.
func (i Inventory) Key() StockKey {
	return StockKey{ProductID: i.ProductID, LocationID: i.LocationID}
}

// Available = current − committed; never stored.
func (i Inventory) Available() decimal.Decimal {
	return i.CurrentStock.Sub(i.CommittedStock)
}

// StockLevel is a read view of an inventory row joined with catalog labels.
type StockLevel struct {
	Inventory
	ProductSKU    string          `json:"product_sku"`
	ProductName   string          `json:"product_name"`
	UnitOfMeasure string          `json:"unit_of_measure"`
	LocationCode  string          `json:"location_code"`
	LocationName  string          `json:"location_name"`
	LocationType  LocationType    `json:"location_type"`
	AvailableQty  decimal.Decimal `json:"available_stock"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	Valuation     decimal.Decimal `json:"valuation"` // current_stock × avg_cost
	BelowMinimum  bool            `json:"below_minimum"`
	AboveMaximum  bool            `json:"above_maximum"`
}
