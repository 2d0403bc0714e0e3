// ledger is the operator binary: an interactive REPL by default, or one-shot
// commands such as `ledger receive WID-1 WH-A 10 --cost 4.50`.
//
// `ledger token <subject> [role]` prints a bearer token for the HTTP API.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inventory-ledger/internal/adapters/cli"
	"inventory-ledger/internal/adapters/repl"
	"inventory-ledger/internal/adapters/web"
	"inventory-ledger/internal/bootstrap"
	"inventory-ledger/internal/config"
	"inventory-ledger/internal/logging"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	log, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 2
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, &cfg, log)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return 1
	}
	defer rt.Close()

	args := os.Args[1:]
	switch {
	case len(args) == 0 || args[0] == "repl":
		err = repl.Run(ctx, rt.App, bufio.NewReader(os.Stdin), os.Stdout, operator())
	case args[0] == "token":
		err = issueToken(ctx, rt, &cfg, args[1:])
	default:
		err = cli.Run(ctx, rt.App, args, os.Stdin, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, cli.ErrUsage) {
			return 2
		}
		return 1
	}
	return 0
}

func operator() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func issueToken(ctx context.Context, rt *bootstrap.Runtime, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: token <subject> [role]", cli.ErrUsage)
	}
	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	role := "clerk"
	if len(args) > 1 {
		role = args[1]
	}
	org, err := rt.App.LoadDefaultOrganization(ctx)
	if err != nil {
		return err
	}
	tok, err := web.IssueToken(cfg.JWTSecret, args[0], org.ID, role, 24*time.Hour)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
