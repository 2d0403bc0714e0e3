package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"inventory-ledger/internal/core"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
	"github.com/openai/openai-go/shared/constant"
	"go.uber.org/zap"
)

// AgentService turns a natural-language stock event into a proposed intent.
type AgentService interface {
	InterpretStockEvent(ctx context.Context, text string, catalog Catalog) (*AgentResponse, error)
}

// Catalog is the organization's reference data given to the model.
type Catalog struct {
	Products  []core.Product
	Locations []core.Location
}

type Agent struct {
	client *openai.Client
	model  string
	log    *zap.Logger
}

func NewAgent(apiKey, model string, log *zap.Logger) *Agent {
	if model == "" {
		model = string(shared.ChatModelGPT4o)
	}
	if log == nil {
		log = zap.NewNop()
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Agent{client: &client, model: model, log: log.Named("ai")}
}

func (a *Agent) InterpretStockEvent(ctx context.Context, text string, catalog Catalog) (*AgentResponse, error) {
	schemaMap, err := outputSchema()
	if err != nil {
		return nil, err
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(a.model),
		Input: responses.ResponseNewParamsInputUnion{
			OfString: param.NewOpt(buildPrompt(text, catalog)),
		},
		Text: responses.ResponseTextConfigParam{
			Format: responses.ResponseFormatTextConfigUnionParam{
				OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
					Type:        constant.JSONSchema("json_schema"),
					Name:        "stock_intent",
					Strict:      param.NewOpt(true),
					Schema:      schemaMap,
					Description: param.NewOpt("A proposed inventory operation or a clarification request"),
				},
			},
		},
	}

	resp, err := a.client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai responses error: %w", err)
	}

	content := resp.OutputText()
	if content == "" {
		return nil, fmt.Errorf("empty response content")
	}

	out, err := parseOutput(content)
	if err != nil {
		a.log.Warn("unusable model output", zap.Error(err), zap.String("content", content))
		return nil, err
	}
	if out.Intent != nil {
		a.log.Info("intent proposed",
			zap.String("operation", string(out.Intent.Operation)),
			zap.String("sku", out.Intent.ProductSKU),
			zap.Float64("confidence", out.Intent.Confidence))
	}
	return out, nil
}

func buildPrompt(text string, catalog Catalog) string {
	var products, locations strings.Builder
	for _, p := range catalog.Products {
		if !p.IsActive {
			continue
		}
		fmt.Fprintf(&products, "- %s %s (%s)\n", p.SKU, p.Name, p.UnitOfMeasure)
	}
	for _, l := range catalog.Locations {
		if !l.IsActive {
			continue
		}
		fmt.Fprintf(&locations, "- %s %s (%s)\n", l.Code, l.Name, l.Type)
	}

	return fmt.Sprintf(`You are an inventory clerk.
Your goal is to interpret a stock event described in natural language and propose exactly one inventory operation.
Operations:
- receive: goods arrived at a location (needs quantity and unit_cost)
- consume: goods sold or used up at a location (needs quantity)
- reserve: set stock aside for an order without moving it (needs quantity)
- release: undo a reservation (needs quantity)
- adjust: a count or write-off sets the absolute quantity on hand (needs new_quantity and reason)
- transfer: move goods from location_code to destination_location_code (needs quantity)
Rules:
1. Use ONLY SKUs and location codes from the lists below.
2. Quantities and costs must be plain decimal strings (e.g. "12", "4.50").
3. Leave fields that do not apply to the operation empty.
4. If the event is ambiguous or names something not in the lists, set is_clarification_request and ask one question.
5. Provide a confidence score (0.0-1.0) and explain your reasoning.

Products:
%s
Locations:
%s
Event: %s`, products.String(), locations.String(), text)
}

// parseOutput decodes and checks the structured output.
func parseOutput(content string) (*AgentResponse, error) {
	var out agentOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, fmt.Errorf("failed to parse completion: %w", err)
	}

	if out.IsClarificationRequest {
		msg := strings.TrimSpace(out.ClarificationMessage)
		if msg == "" {
			return nil, fmt.Errorf("clarification request without a message")
		}
		return &AgentResponse{
			IsClarificationRequest: true,
			Clarification:          &ClarificationRequest{Message: msg},
		}, nil
	}

	intent := out.Intent
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		return nil, fmt.Errorf("intent validation failed: %w", err)
	}
	return &AgentResponse{Intent: &intent}, nil
}

func outputSchema() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	schemaJSON, err := json.Marshal(reflector.Reflect(&agentOutput{}))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	var schemaMap map[string]any
	if err := json.Unmarshal(schemaJSON, &schemaMap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema to map: %w", err)
	}
	return schemaMap, nil
}
