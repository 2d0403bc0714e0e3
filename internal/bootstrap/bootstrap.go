// Package bootstrap wires the configured store, services and AI agent for
// the command binaries.
package bootstrap

import (
	"context"
	"fmt"

	"inventory-ledger/internal/ai"
	"inventory-ledger/internal/app"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/db"

	"go.uber.org/zap"
)

// Store is what the binaries need from a backend: the ledger plus catalog loading.
type Store interface {
	core.Store
	core.CatalogWriter
}

// Runtime holds the wired services. Close releases the database pool, if any.
type Runtime struct {
	Store   Store
	Stock   core.StockService
	Reports core.ReportingService
	App     app.ApplicationService
	Close   func()
}

// New builds a Runtime from cfg. The memory store is seeded with the demo
// catalog so it is usable straight away; Postgres is expected to be migrated.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Runtime, error) {
	rt := &Runtime{Close: func() {}}

	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		rt.Store = core.NewPgStore(pool, cfg.LockTimeout)
		rt.Close = pool.Close
	case config.StoreMemory:
		mem := core.NewMemStore(core.WithMemLockTimeout(cfg.LockTimeout))
		seeded, err := app.Seed(ctx, mem, mem, "")
		if err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
		if cfg.DefaultOrgID == "" {
			cfg.DefaultOrgID = seeded.Organization.ID.String()
		}
		log.Info("memory store seeded", zap.String("org", seeded.Organization.Name), zap.Int("rows", seeded.Created))
		rt.Store = mem
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	// A nil *ai.Agent in the interface would not compare equal to nil.
	var agent ai.AgentService
	if cfg.OpenAIKey != "" {
		agent = ai.NewAgent(cfg.OpenAIKey, cfg.OpenAIModel, log.Named("ai"))
	} else {
		log.Warn("OPENAI_API_KEY is not set; natural language input is disabled")
	}

	rt.Stock = core.NewStockService(rt.Store, cfg.Policy(), log.Named("stock"))
	rt.Reports = core.NewReportingService(rt.Store, log.Named("reports"))
	rt.App = app.NewAppService(rt.Store, rt.Stock, rt.Reports, agent, cfg.DefaultOrgID)
	return rt, nil
}
