// verify-agent sends one sample stock event to the configured model and
// prints the structured result. It needs OPENAI_API_KEY.
package main

import (
	"context"
	"fmt"
	"os"

	"inventory-ledger/internal/ai"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/logging"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log, err := logging.New("debug", "console")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.OpenAIKey == "" {
		log.Fatal("OPENAI_API_KEY not set")
	}
	agent := ai.NewAgent(cfg.OpenAIKey, cfg.OpenAIModel, log)

	catalog := ai.Catalog{
		Products: []core.Product{
			{SKU: "WID-1", Name: "Widget", UnitOfMeasure: "each", IsActive: true},
			{SKU: "OIL-5L", Name: "Engine oil 5L", UnitOfMeasure: "can", IsActive: true},
		},
		Locations: []core.Location{
			{Code: "WH-A", Name: "Main warehouse", Type: core.LocationWarehouse, IsActive: true},
			{Code: "SHOP", Name: "Shop floor", Type: core.LocationStore, IsActive: true},
		},
	}

	event := "PO-1042 arrived at the main warehouse: 24 widgets at 3.10 each."
	if len(os.Args) > 1 {
		event = os.Args[1]
	}

	fmt.Printf("INTERPRETING EVENT: %s\n", event)
	resp, err := agent.InterpretStockEvent(context.Background(), event, catalog)
	if err != nil {
		log.Fatal("agent", zap.Error(err))
	}
	if resp.IsClarificationRequest {
		fmt.Printf("\nCLARIFICATION: %s\n", resp.Clarification.Message)
		return
	}
	fmt.Printf("\n--- INTENT ---\n%s\n", resp.Intent.Summary())
	fmt.Printf("Reasoning: %s\n", resp.Intent.Reasoning)
}
