package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"inventory-ledger/internal/ai"
	"inventory-ledger/internal/core"

	"github.com/google/uuid"
)

type appService struct {
	store        core.ReadStore
	stock        core.StockService
	reports      core.ReportingService
	agent        ai.AgentService
	defaultOrgID string
}

// NewAppService constructs an appService that satisfies ApplicationService.
// agent may be nil, in which case InterpretStockEvent reports that AI intake
// is not configured.
func NewAppService(
	store core.ReadStore,
	stock core.StockService,
	reports core.ReportingService,
	agent ai.AgentService,
	defaultOrgID string,
) ApplicationService {
	return &appService{
		store:        store,
		stock:        stock,
		reports:      reports,
		agent:        agent,
		defaultOrgID: defaultOrgID,
	}
}

// ── Stock operations ──────────────────────────────────────────────────────────

func (s *appService) Receive(ctx context.Context, req ReceiveStockRequest) (*core.StockResult, error) {
	target, err := s.resolveTarget(ctx, req.StockInput)
	if err != nil {
		return nil, err
	}
	qty, err := core.ParseQuantity("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	cost, err := core.ParseQuantity("unit_cost", req.UnitCost)
	if err != nil {
		return nil, err
	}
	return s.stock.Receive(ctx, core.ReceiveRequest{
		StockTarget: target, Audit: req.audit(), Quantity: qty, UnitCost: cost,
	})
}

func (s *appService) Consume(ctx context.Context, req ConsumeStockRequest) (*core.StockResult, error) {
	target, err := s.resolveTarget(ctx, req.StockInput)
	if err != nil {
		return nil, err
	}
	qty, err := core.ParseQuantity("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	return s.stock.Consume(ctx, core.ConsumeRequest{
		StockTarget: target, Audit: req.audit(), Quantity: qty, AllowOversell: req.AllowOversell,
	})
}

func (s *appService) Reserve(ctx context.Context, req ReserveStockRequest) (*core.StockResult, error) {
	target, err := s.resolveTarget(ctx, req.StockInput)
	if err != nil {
		return nil, err
	}
	qty, err := core.ParseQuantity("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	return s.stock.Reserve(ctx, core.ReserveRequest{StockTarget: target, Audit: req.audit(), Quantity: qty})
}

func (s *appService) Release(ctx context.Context, req ReleaseStockRequest) (*core.ReleaseResult, error) {
	target, err := s.resolveTarget(ctx, req.StockInput)
	if err != nil {
		return nil, err
	}
	qty, err := core.ParseQuantity("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	return s.stock.Release(ctx, core.ReleaseRequest{StockTarget: target, Audit: req.audit(), Quantity: qty})
}

func (s *appService) Adjust(ctx context.Context, req AdjustStockRequest) (*core.StockResult, error) {
	target, err := s.resolveTarget(ctx, req.StockInput)
	if err != nil {
		return nil, err
	}
	qty, err := core.ParseQuantity("new_quantity", req.NewQuantity)
	if err != nil {
		return nil, err
	}
	return s.stock.Adjust(ctx, core.AdjustRequest{
		StockTarget: target, Audit: req.audit(), NewQuantity: qty,
		Reason: core.AdjustReason(strings.ToLower(strings.TrimSpace(req.Reason))),
	})
}

func (s *appService) Transfer(ctx context.Context, req TransferStockRequest) (*core.TransferResult, error) {
	p, err := s.resolveProduct(ctx, req.OrgID, req.Product)
	if err != nil {
		return nil, err
	}
	src, err := s.resolveLocation(ctx, req.OrgID, "source_location", req.SourceLocation)
	if err != nil {
		return nil, err
	}
	dst, err := s.resolveLocation(ctx, req.OrgID, "destination_location", req.DestinationLocation)
	if err != nil {
		return nil, err
	}
	qty, err := core.ParseQuantity("quantity", req.Quantity)
	if err != nil {
		return nil, err
	}
	return s.stock.Transfer(ctx, core.TransferRequest{
		Audit:                 req.audit(),
		OrgID:                 req.OrgID,
		ProductID:             p.ID,
		SourceLocationID:      src.ID,
		DestinationLocationID: dst.ID,
		Quantity:              qty,
	})
}

// ── Reads ─────────────────────────────────────────────────────────────────────

func (s *appService) ListProducts(ctx context.Context, org uuid.UUID) (*ProductListResult, error) {
	products, err := s.store.ListProducts(ctx, org)
	if err != nil {
		return nil, err
	}
	return &ProductListResult{Products: products}, nil
}

func (s *appService) ListLocations(ctx context.Context, org uuid.UUID) (*LocationListResult, error) {
	locations, err := s.store.ListLocations(ctx, org)
	if err != nil {
		return nil, err
	}
	return &LocationListResult{Locations: locations}, nil
}

func (s *appService) GetStockLevels(ctx context.Context, org uuid.UUID, q StockQuery) (*StockLevelsResult, error) {
	var f core.InventoryFilter
	if q.Product != "" {
		p, err := s.resolveProduct(ctx, org, q.Product)
		if err != nil {
			return nil, err
		}
		f.ProductID = p.ID
	}
	if q.Location != "" {
		l, err := s.resolveLocation(ctx, org, "location", q.Location)
		if err != nil {
			return nil, err
		}
		f.LocationID = l.ID
	}
	levels, err := s.reports.StockLevels(ctx, org, f)
	if err != nil {
		return nil, err
	}
	return &StockLevelsResult{OrgID: org, Levels: levels}, nil
}

func (s *appService) GetStockLevel(ctx context.Context, org uuid.UUID, product, location string) (*core.StockLevel, error) {
	target, err := s.resolveTarget(ctx, StockInput{OrgID: org, Product: product, Location: location})
	if err != nil {
		return nil, err
	}
	return s.reports.StockLevel(ctx, org, target.Key())
}

func (s *appService) GetProductSummary(ctx context.Context, org uuid.UUID, product string) (*core.ProductSummary, error) {
	p, err := s.resolveProduct(ctx, org, product)
	if err != nil {
		return nil, err
	}
	return s.reports.ProductSummary(ctx, org, p.ID)
}

func (s *appService) GetLocationSummary(ctx context.Context, org uuid.UUID, location string) (*core.LocationSummary, error) {
	l, err := s.resolveLocation(ctx, org, "location", location)
	if err != nil {
		return nil, err
	}
	return s.reports.LocationSummary(ctx, org, l.ID)
}

func (s *appService) GetTransactionHistory(ctx context.Context, org uuid.UUID, q HistoryQuery) (*HistoryResult, error) {
	f := core.TransactionFilter{ReferenceID: strings.TrimSpace(q.ReferenceID), Limit: q.Limit}
	if q.Limit < 0 {
		return nil, &core.ValidationError{Field: "limit", Message: "cannot be negative"}
	}
	if q.Product != "" {
		p, err := s.resolveProduct(ctx, org, q.Product)
		if err != nil {
			return nil, err
		}
		f.ProductID = p.ID
	}
	if q.Location != "" {
		l, err := s.resolveLocation(ctx, org, "location", q.Location)
		if err != nil {
			return nil, err
		}
		f.LocationID = l.ID
	}
	if q.Type != "" {
		f.Type = core.TransactionType(strings.ToLower(strings.TrimSpace(q.Type)))
		if !f.Type.Valid() {
			return nil, &core.ValidationError{Field: "type", Message: fmt.Sprintf("unknown transaction type %q", q.Type)}
		}
	}
	var err error
	if f.Since, err = parseTime("since", q.Since, false); err != nil {
		return nil, err
	}
	if f.Until, err = parseTime("until", q.Until, true); err != nil {
		return nil, err
	}

	lines, err := s.reports.TransactionHistory(ctx, org, f)
	if err != nil {
		return nil, err
	}
	return &HistoryResult{OrgID: org, Lines: lines}, nil
}

func (s *appService) GetStockAsOf(ctx context.Context, org uuid.UUID, product, location, asOf string) (*StockAsOfResult, error) {
	p, err := s.resolveProduct(ctx, org, product)
	if err != nil {
		return nil, err
	}
	l, err := s.resolveLocation(ctx, org, "location", location)
	if err != nil {
		return nil, err
	}
	at, err := parseTime("as_of", asOf, true)
	if err != nil {
		return nil, err
	}
	if at.IsZero() {
		return nil, &core.ValidationError{Field: "as_of", Message: "is required"}
	}
	qty, err := s.reports.StockAsOf(ctx, org, core.StockKey{ProductID: p.ID, LocationID: l.ID}, at)
	if err != nil {
		return nil, err
	}
	return &StockAsOfResult{ProductSKU: p.SKU, LocationCode: l.Code, AsOf: at, CurrentStock: qty}, nil
}

func (s *appService) GetLowStock(ctx context.Context, org uuid.UUID) (*StockLevelsResult, error) {
	levels, err := s.reports.LowStock(ctx, org)
	if err != nil {
		return nil, err
	}
	return &StockLevelsResult{OrgID: org, Levels: levels}, nil
}

func (s *appService) Reconcile(ctx context.Context, org uuid.UUID) (*core.ReconcileReport, error) {
	return s.reports.Reconcile(ctx, org)
}

// LoadDefaultOrganization returns the organization named by DEFAULT_ORG_ID, or
// the only organization in the store.
func (s *appService) LoadDefaultOrganization(ctx context.Context) (*core.Organization, error) {
	orgs, err := s.store.Organizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}

	if s.defaultOrgID != "" {
		id, err := uuid.Parse(s.defaultOrgID)
		if err != nil {
			return nil, fmt.Errorf("DEFAULT_ORG_ID is not a UUID: %w", err)
		}
		for i := range orgs {
			if orgs[i].ID == id {
				return &orgs[i], nil
			}
		}
		return nil, &core.NotFoundError{Entity: "organization", ID: s.defaultOrgID}
	}

	switch len(orgs) {
	case 0:
		return nil, fmt.Errorf("no organization found, has the catalog been seeded?")
	case 1:
		return &orgs[0], nil
	}
	return nil, fmt.Errorf("multiple organizations found; set DEFAULT_ORG_ID")
}

// ── private helpers ───────────────────────────────────────────────────────────

func (a AuditInput) audit() core.Audit {
	return core.Audit{
		Reference: core.Reference{ID: strings.TrimSpace(a.ReferenceID), Type: strings.TrimSpace(a.ReferenceType)},
		Notes:     a.Notes,
		CreatedBy: a.CreatedBy,
	}
}

func (s *appService) resolveTarget(ctx context.Context, in StockInput) (core.StockTarget, error) {
	p, err := s.resolveProduct(ctx, in.OrgID, in.Product)
	if err != nil {
		return core.StockTarget{}, err
	}
	l, err := s.resolveLocation(ctx, in.OrgID, "location", in.Location)
	if err != nil {
		return core.StockTarget{}, err
	}
	return core.StockTarget{OrgID: in.OrgID, ProductID: p.ID, LocationID: l.ID}, nil
}

// resolveProduct looks a product up by UUID or SKU. An exact SKU match wins
// over a case-insensitive one.
func (s *appService) resolveProduct(ctx context.Context, org uuid.UUID, ref string) (*core.Product, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &core.ValidationError{Field: "product", Message: "is required"}
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetProduct(ctx, org, id)
	}
	products, err := s.store.ListProducts(ctx, org)
	if err != nil {
		return nil, err
	}
	var folded *core.Product
	for i := range products {
		if products[i].SKU == ref {
			return &products[i], nil
		}
		if folded == nil && strings.EqualFold(products[i].SKU, ref) {
			folded = &products[i]
		}
	}
	if folded != nil {
		return folded, nil
	}
	return nil, &core.NotFoundError{Entity: "product", ID: ref}
}

// resolveLocation looks a location up by UUID or code.
func (s *appService) resolveLocation(ctx context.Context, org uuid.UUID, field, ref string) (*core.Location, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &core.ValidationError{Field: field, Message: "is required"}
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetLocation(ctx, org, id)
	}
	locations, err := s.store.ListLocations(ctx, org)
	if err != nil {
		return nil, err
	}
	var folded *core.Location
	for i := range locations {
		if locations[i].Code == ref {
			return &locations[i], nil
		}
		if folded == nil && strings.EqualFold(locations[i].Code, ref) {
			folded = &locations[i]
		}
	}
	if folded != nil {
		return folded, nil
	}
	return nil, &core.NotFoundError{Entity: "location", ID: ref}
}

// parseTime accepts RFC 3339 or YYYY-MM-DD. With endOfDay a bare date means
// the last instant of that day. Empty input returns the zero time.
func parseTime(field, s string, endOfDay bool) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, &core.ValidationError{Field: field, Message: fmt.Sprintf("expected RFC 3339 or YYYY-MM-DD, got %q", s)}
	}
	if endOfDay {
		d = d.Add(24*time.Hour - time.Nanosecond)
	}
	return d, nil
}
