package app

import (
	"context"
	"errors"
	"fmt"

	"inventory-ledger/internal/ai"

	"github.com/google/uuid"
)

// ErrAgentUnavailable is returned by InterpretStockEvent when no agent is configured.
var ErrAgentUnavailable = errors.New("AI intake is not configured; set OPENAI_API_KEY")

func (s *appService) InterpretStockEvent(ctx context.Context, org uuid.UUID, text string) (*AIResult, error) {
	if s.agent == nil {
		return nil, ErrAgentUnavailable
	}
	products, err := s.store.ListProducts(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch products: %w", err)
	}
	locations, err := s.store.ListLocations(ctx, org)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch locations: %w", err)
	}

	response, err := s.agent.InterpretStockEvent(ctx, text, ai.Catalog{Products: products, Locations: locations})
	if err != nil {
		return nil, err
	}

	if response.IsClarificationRequest {
		return &AIResult{
			IsClarification:      true,
			ClarificationMessage: response.Clarification.Message,
		}, nil
	}
	return &AIResult{Intent: response.Intent}, nil
}

// ExecuteIntent maps a confirmed intent onto the matching stock operation.
func (s *appService) ExecuteIntent(ctx context.Context, org uuid.UUID, intent ai.StockIntent, createdBy string) (*IntentResult, error) {
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("cannot execute intent: %w", err)
	}

	target := StockInput{OrgID: org, Product: intent.ProductSKU, Location: intent.LocationCode}
	audit := AuditInput{
		ReferenceID:   intent.ReferenceID,
		ReferenceType: intent.ReferenceType,
		Notes:         intent.Notes,
		CreatedBy:     createdBy,
	}
	out := &IntentResult{Operation: intent.Operation}

	var err error
	switch intent.Operation {
	case ai.OpReceive:
		out.Stock, err = s.Receive(ctx, ReceiveStockRequest{StockInput: target, AuditInput: audit, Quantity: intent.Quantity, UnitCost: intent.UnitCost})
	case ai.OpConsume:
		out.Stock, err = s.Consume(ctx, ConsumeStockRequest{StockInput: target, AuditInput: audit, Quantity: intent.Quantity})
	case ai.OpReserve:
		out.Stock, err = s.Reserve(ctx, ReserveStockRequest{StockInput: target, AuditInput: audit, Quantity: intent.Quantity})
	case ai.OpRelease:
		out.Release, err = s.Release(ctx, ReleaseStockRequest{StockInput: target, AuditInput: audit, Quantity: intent.Quantity})
	case ai.OpAdjust:
		out.Stock, err = s.Adjust(ctx, AdjustStockRequest{StockInput: target, AuditInput: audit, NewQuantity: intent.NewQuantity, Reason: intent.Reason})
	case ai.OpTransfer:
		out.Transfer, err = s.Transfer(ctx, TransferStockRequest{
			AuditInput: audit, OrgID: org, Product: intent.ProductSKU,
			SourceLocation: intent.LocationCode, DestinationLocation: intent.DestinationLocationCode,
			Quantity: intent.Quantity,
		})
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}
