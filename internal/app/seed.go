package app

import (
	"context"
	"fmt"

	"inventory-ledger/internal/core"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// seedNamespace derives stable IDs so seeding twice touches the same rows.
var seedNamespace = uuid.MustParse("6f1c2a4e-3b7d-4e52-9a0c-8d5e1f2b3c4d")

// SeedID returns the deterministic ID Seed uses for name.
func SeedID(name string) uuid.UUID {
	return uuid.NewSHA1(seedNamespace, []byte(name))
}

// SeedResult describes the demo catalog.
type SeedResult struct {
	Organization core.Organization
	Products     []core.Product
	Locations    []core.Location
	Created      int
}

// Seed writes a demo organization with a small catalog. Rows that already
// exist are left alone so their average cost survives a re-seed.
func Seed(ctx context.Context, store core.ReadStore, w core.CatalogWriter, orgName string) (*SeedResult, error) {
	if orgName == "" {
		orgName = "Demo Trading Co"
	}
	org := core.Organization{ID: SeedID("org:" + orgName), Name: orgName}
	res := &SeedResult{Organization: org}

	orgs, err := store.Organizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	exists := false
	for _, o := range orgs {
		if o.ID == org.ID {
			res.Organization, exists = o, true
		}
	}
	if !exists {
		if err := w.SaveOrganization(ctx, org); err != nil {
			return nil, fmt.Errorf("failed to save organization: %w", err)
		}
		res.Created++
	}

	five, fifty, twenty, hundred := decimal.NewFromInt(5), decimal.NewFromInt(50), decimal.NewFromInt(20), decimal.NewFromInt(100)
	products := []core.Product{
		{SKU: "WID-1", Name: "Widget", UnitOfMeasure: "each", MinStockLevel: &five, MaxStockLevel: &fifty},
		{SKU: "BOLT-M8", Name: "M8 hex bolt", UnitOfMeasure: "box", MinStockLevel: &twenty, MaxStockLevel: &hundred},
		{SKU: "OIL-5L", Name: "Machine oil 5L", UnitOfMeasure: "can"},
	}
	for _, p := range products {
		p.ID = SeedID("product:" + orgName + ":" + p.SKU)
		p.OrgID = org.ID
		p.IsActive = true
		existing, err := store.GetProduct(ctx, org.ID, p.ID)
		switch {
		case err == nil:
			res.Products = append(res.Products, *existing)
			continue
		case !core.IsNotFound(err):
			return nil, err
		}
		if err := w.SaveProduct(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to save product %s: %w", p.SKU, err)
		}
		res.Products = append(res.Products, p)
		res.Created++
	}

	locations := []core.Location{
		{Code: "WH-A", Name: "Main warehouse", Type: core.LocationWarehouse},
		{Code: "WH-B", Name: "Overflow warehouse", Type: core.LocationWarehouse},
		{Code: "SHOP", Name: "Retail store", Type: core.LocationStore},
	}
	for _, l := range locations {
		l.ID = SeedID("location:" + orgName + ":" + l.Code)
		l.OrgID = org.ID
		l.IsActive = true
		existing, err := store.GetLocation(ctx, org.ID, l.ID)
		switch {
		case err == nil:
			res.Locations = append(res.Locations, *existing)
			continue
		case !core.IsNotFound(err):
			return nil, err
		}
		if err := w.SaveLocation(ctx, l); err != nil {
			return nil, fmt.Errorf("failed to save location %s: %w", l.Code, err)
		}
		res.Locations = append(res.Locations, l)
		res.Created++
	}
	return res, nil
}
