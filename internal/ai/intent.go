package ai

import (
	"fmt"
	"strconv"
	"strings"
)

// Operation names a stock operation the agent may propose.
type Operation string

const (
	OpReceive  Operation = "receive"
	OpConsume  Operation = "consume"
	OpReserve  Operation = "reserve"
	OpRelease  Operation = "release"
	OpAdjust   Operation = "adjust"
	OpTransfer Operation = "transfer"
)

// Operations lists every operation in display order.
var Operations = []Operation{OpReceive, OpConsume, OpReserve, OpRelease, OpAdjust, OpTransfer}

func (o Operation) Valid() bool {
	for _, op := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// StockIntent is a proposed stock operation. It is only a proposal: nothing
// runs until a human confirms it. Quantities and costs are decimal strings;
// fields that do not apply to the operation are empty.
type StockIntent struct {
	Operation               Operation `json:"operation" jsonschema:"enum=receive,enum=consume,enum=reserve,enum=release,enum=adjust,enum=transfer"`
	ProductSKU              string    `json:"product_sku" jsonschema_description:"SKU from the product list"`
	LocationCode            string    `json:"location_code" jsonschema_description:"Location code; the source location for transfers"`
	DestinationLocationCode string    `json:"destination_location_code" jsonschema_description:"Transfer destination location code, empty otherwise"`
	Quantity                string    `json:"quantity" jsonschema_description:"Positive decimal quantity; empty for adjust"`
	UnitCost                string    `json:"unit_cost" jsonschema_description:"Per-unit cost for receive, empty otherwise"`
	NewQuantity             string    `json:"new_quantity" jsonschema_description:"Counted absolute quantity for adjust, empty otherwise"`
	Reason                  string    `json:"reason" jsonschema:"enum=,enum=count,enum=damage,enum=return,enum=loss,enum=correction,enum=other"`
	ReferenceID             string    `json:"reference_id" jsonschema_description:"External document number such as a PO or order number, if mentioned"`
	ReferenceType           string    `json:"reference_type"`
	Notes                   string    `json:"notes"`
	Confidence              float64   `json:"confidence" jsonschema_description:"0.0 to 1.0"`
	Reasoning               string    `json:"reasoning"`
}

// Normalize trims whitespace and lower-cases the enum fields.
func (i *StockIntent) Normalize() {
	i.Operation = Operation(strings.ToLower(strings.TrimSpace(string(i.Operation))))
	i.ProductSKU = strings.TrimSpace(i.ProductSKU)
	i.LocationCode = strings.TrimSpace(i.LocationCode)
	i.DestinationLocationCode = strings.TrimSpace(i.DestinationLocationCode)
	i.Quantity = strings.TrimSpace(i.Quantity)
	i.UnitCost = strings.TrimSpace(i.UnitCost)
	i.NewQuantity = strings.TrimSpace(i.NewQuantity)
	i.Reason = strings.ToLower(strings.TrimSpace(i.Reason))
	i.ReferenceID = strings.TrimSpace(i.ReferenceID)
	i.ReferenceType = strings.TrimSpace(i.ReferenceType)
}

// Validate checks the intent is complete enough to show for confirmation.
// Catalog lookups and quantity rules are left to the stock operations.
func (i StockIntent) Validate() error {
	if !i.Operation.Valid() {
		return fmt.Errorf("unknown operation %q", i.Operation)
	}
	if i.ProductSKU == "" {
		return fmt.Errorf("product_sku is required")
	}
	if i.LocationCode == "" {
		return fmt.Errorf("location_code is required")
	}
	if i.Confidence < 0 || i.Confidence > 1 {
		return fmt.Errorf("confidence must be between 0 and 1, got %v", i.Confidence)
	}
	switch i.Operation {
	case OpAdjust:
		if i.NewQuantity == "" {
			return fmt.Errorf("new_quantity is required for adjust")
		}
		if i.Reason == "" {
			return fmt.Errorf("reason is required for adjust")
		}
	case OpTransfer:
		if i.DestinationLocationCode == "" {
			return fmt.Errorf("destination_location_code is required for transfer")
		}
		fallthrough
	default:
		if i.Quantity == "" {
			return fmt.Errorf("quantity is required for %s", i.Operation)
		}
	}
	if i.Operation == OpReceive && i.UnitCost == "" {
		return fmt.Errorf("unit_cost is required for receive")
	}
	return nil
}

// Summary renders the intent as one line for confirmation prompts.
func (i StockIntent) Summary() string {
	var b strings.Builder
	switch i.Operation {
	case OpReceive:
		fmt.Fprintf(&b, "receive %s × %s at %s @ %s", i.Quantity, i.ProductSKU, i.LocationCode, i.UnitCost)
	case OpAdjust:
		fmt.Fprintf(&b, "adjust %s at %s to %s (%s)", i.ProductSKU, i.LocationCode, i.NewQuantity, i.Reason)
	case OpTransfer:
		fmt.Fprintf(&b, "transfer %s × %s from %s to %s", i.Quantity, i.ProductSKU, i.LocationCode, i.DestinationLocationCode)
	default:
		fmt.Fprintf(&b, "%s %s × %s at %s", i.Operation, i.Quantity, i.ProductSKU, i.LocationCode)
	}
	if i.ReferenceID != "" {
		fmt.Fprintf(&b, " ref %s", i.ReferenceID)
	}
	b.WriteString(" [confidence " + strconv.FormatFloat(i.Confidence, 'f', 2, 64) + "]")
	return b.String()
}

// ClarificationRequest is returned when the agent needs more information.
type ClarificationRequest struct {
	Message string `json:"message"`
}

// AgentResponse carries either an intent or a clarification request, never both.
type AgentResponse struct {
	IsClarificationRequest bool
	Clarification          *ClarificationRequest
	Intent                 *StockIntent
}

// agentOutput is the structured-output envelope. Strict schemas require every
// property, so the unused half is sent empty.
type agentOutput struct {
	IsClarificationRequest bool        `json:"is_clarification_request"`
	ClarificationMessage   string      `json:"clarification_message"`
	Intent                 StockIntent `json:"intent"`
}
