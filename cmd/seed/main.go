// seed loads the demo catalog into DATABASE_URL. Existing rows are left
// alone, so it is safe to run repeatedly.
//
// Usage: go run ./cmd/seed [organization name]
package main

import (
	"context"
	"fmt"
	"os"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/core"
	"inventory-ledger/internal/db"
	"inventory-ledger/internal/logging"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("connect", zap.Error(err))
	}
	defer pool.Close()

	name := ""
	if len(os.Args) > 1 {
		name = os.Args[1]
	}
	store := core.NewPgStore(pool, cfg.LockTimeout)
	res, err := app.Seed(ctx, store, store, name)
	if err != nil {
		log.Fatal("seed", zap.Error(err))
	}
	log.Info("seed complete",
		zap.String("org", res.Organization.Name),
		zap.Stringer("org_id", res.Organization.ID),
		zap.Int("created", res.Created))
	fmt.Printf("DEFAULT_ORG_ID=%s\n", res.Organization.ID)
}
