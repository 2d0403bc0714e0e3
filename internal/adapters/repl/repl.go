package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"
)

var errExit = errors.New("exit")

// session is one interactive REPL bound to an organization and an operator.
type session struct {
	ctx    context.Context
	svc    app.ApplicationService
	org    *core.Organization
	user   string
	reader *bufio.Reader
	out    io.Writer
}

// Run starts the interactive REPL loop.
// It reads commands from reader, dispatches slash commands deterministically,
// and routes natural language input through the AI agent. user is recorded as
// created_by on every transaction.
func Run(ctx context.Context, svc app.ApplicationService, reader *bufio.Reader, out io.Writer, user string) error {
	org, err := svc.LoadDefaultOrganization(ctx)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}
	s := &session{ctx: ctx, svc: svc, org: org, user: user, reader: reader, out: out}

	fmt.Fprintln(out, "Inventory Ledger")
	fmt.Fprintf(out, "Organization: %s (%s)\n", org.Name, org.ID)
	fmt.Fprintln(out, "Describe a stock event to record it, or use /help for commands.")
	fmt.Fprintln(out, strings.Repeat("-", 70))

	for {
		fmt.Fprint(out, "\n> ")
		input, readErr := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "" {
			if readErr != nil {
				return nil
			}
			continue
		}

		// Slash prefix → deterministic command dispatcher, no AI invoked.
		if strings.HasPrefix(input, "/") {
			if err := s.dispatchSlash(input); err != nil {
				if errors.Is(err, errExit) {
					fmt.Fprintln(out, "Goodbye!")
					return nil
				}
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			continue
		}

		if err := s.interpret(input); err != nil {
			if errors.Is(err, errExit) {
				fmt.Fprintln(out, "Goodbye!")
				return nil
			}
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		if readErr != nil {
			return nil
		}
	}
}

func (s *session) dispatchSlash(input string) error {
	tokens := strings.Fields(strings.TrimPrefix(input, "/"))
	if len(tokens) == 0 {
		return nil
	}
	cmd := strings.ToLower(tokens[0])
	args := tokens[1:]
	ctx, org := s.ctx, s.org.ID

	switch cmd {
	case "stock":
		q := app.StockQuery{}
		if len(args) > 0 {
			q.Product = args[0]
		}
		if len(args) > 1 {
			q.Location = args[1]
		}
		res, err := s.svc.GetStockLevels(ctx, org, q)
		if err != nil {
			return err
		}
		PrintStockLevels(s.out, "STOCK LEVELS — "+s.org.Name, res.Levels)

	case "low":
		res, err := s.svc.GetLowStock(ctx, org)
		if err != nil {
			return err
		}
		PrintStockLevels(s.out, "LOW STOCK — "+s.org.Name, res.Levels)

	case "products":
		res, err := s.svc.ListProducts(ctx, org)
		if err != nil {
			return err
		}
		printProducts(s.out, res.Products)

	case "locations":
		res, err := s.svc.ListLocations(ctx, org)
		if err != nil {
			return err
		}
		printLocations(s.out, res.Locations)

	case "summary":
		if len(args) < 1 {
			fmt.Fprintln(s.out, "Usage: /summary <sku>")
			return nil
		}
		res, err := s.svc.GetProductSummary(ctx, org, args[0])
		if err != nil {
			return err
		}
		PrintStockLevels(s.out, fmt.Sprintf("%s %s — total %s, available %s, valuation %s",
			res.Product.SKU, res.Product.Name, res.TotalCurrent, res.TotalAvailable, res.TotalValuation.StringFixed(2)), res.Lines)

	case "location":
		if len(args) < 1 {
			fmt.Fprintln(s.out, "Usage: /location <code>")
			return nil
		}
		res, err := s.svc.GetLocationSummary(ctx, org, args[0])
		if err != nil {
			return err
		}
		PrintStockLevels(s.out, fmt.Sprintf("%s %s — %d products, %d low, valuation %s",
			res.Location.Code, res.Location.Name, res.ProductCount, res.LowStockCount, res.TotalValuation.StringFixed(2)), res.Lines)

	case "history":
		q := app.HistoryQuery{Limit: 50}
		if len(args) > 0 {
			q.Product = args[0]
		}
		if len(args) > 1 {
			q.Location = args[1]
		}
		res, err := s.svc.GetTransactionHistory(ctx, org, q)
		if err != nil {
			return err
		}
		PrintHistory(s.out, res.Lines)

	case "asof":
		if len(args) < 3 {
			fmt.Fprintln(s.out, "Usage: /asof <sku> <location> <time>")
			return nil
		}
		res, err := s.svc.GetStockAsOf(ctx, org, args[0], args[1], args[2])
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "%s at %s as of %s: %s\n", res.ProductSKU, res.LocationCode,
			res.AsOf.Format("2006-01-02 15:04:05"), res.CurrentStock.String())

	case "reconcile":
		res, err := s.svc.Reconcile(ctx, org)
		if err != nil {
			return err
		}
		PrintReconcile(s.out, res)

	case "receive":
		if len(args) < 4 {
			fmt.Fprintln(s.out, "Usage: /receive <sku> <location> <qty> <unit-cost> [reference]")
			return nil
		}
		res, err := s.svc.Receive(ctx, app.ReceiveStockRequest{
			StockInput: s.target(args[0], args[1]), AuditInput: s.audit(args, 4),
			Quantity: args[2], UnitCost: args[3],
		})
		if err != nil {
			return err
		}
		PrintStockResult(s.out, "receive", res)

	case "consume", "reserve", "release":
		if len(args) < 3 {
			fmt.Fprintf(s.out, "Usage: /%s <sku> <location> <qty> [reference]\n", cmd)
			return nil
		}
		return s.simple(cmd, args)

	case "adjust":
		if len(args) < 4 {
			fmt.Fprintln(s.out, "Usage: /adjust <sku> <location> <new-qty> <reason> [reference]")
			fmt.Fprintln(s.out, "  reasons: count, damage, return, loss, correction, other")
			return nil
		}
		res, err := s.svc.Adjust(ctx, app.AdjustStockRequest{
			StockInput: s.target(args[0], args[1]), AuditInput: s.audit(args, 4),
			NewQuantity: args[2], Reason: args[3],
		})
		if err != nil {
			return err
		}
		PrintStockResult(s.out, "adjust", res)

	case "transfer":
		if len(args) < 4 {
			fmt.Fprintln(s.out, "Usage: /transfer <sku> <from> <to> <qty> [reference]")
			return nil
		}
		res, err := s.svc.Transfer(ctx, app.TransferStockRequest{
			AuditInput: s.audit(args, 4), OrgID: org,
			Product: args[0], SourceLocation: args[1], DestinationLocation: args[2], Quantity: args[3],
		})
		if err != nil {
			return err
		}
		PrintTransferResult(s.out, res)

	case "help", "h":
		printHelp(s.out)

	case "exit", "quit", "e", "q":
		return errExit

	default:
		fmt.Fprintf(s.out, "Unknown command: /%s  (type /help for all commands)\n", cmd)
	}
	return nil
}

func (s *session) simple(cmd string, args []string) error {
	in, audit := s.target(args[0], args[1]), s.audit(args, 3)
	switch cmd {
	case "consume":
		res, err := s.svc.Consume(s.ctx, app.ConsumeStockRequest{StockInput: in, AuditInput: audit, Quantity: args[2]})
		if err != nil {
			return err
		}
		PrintStockResult(s.out, cmd, res)
	case "reserve":
		res, err := s.svc.Reserve(s.ctx, app.ReserveStockRequest{StockInput: in, AuditInput: audit, Quantity: args[2]})
		if err != nil {
			return err
		}
		PrintStockResult(s.out, cmd, res)
	case "release":
		res, err := s.svc.Release(s.ctx, app.ReleaseStockRequest{StockInput: in, AuditInput: audit, Quantity: args[2]})
		if err != nil {
			return err
		}
		PrintReleaseResult(s.out, res)
	}
	return nil
}

func (s *session) target(product, location string) app.StockInput {
	return app.StockInput{OrgID: s.org.ID, Product: product, Location: location}
}

// audit takes the optional reference from args[refAt].
func (s *session) audit(args []string, refAt int) app.AuditInput {
	a := app.AuditInput{CreatedBy: s.user}
	if len(args) > refAt {
		a.ReferenceID = args[refAt]
	}
	return a
}

// interpret routes free text through the AI agent: up to three clarification
// rounds, then an explicit approval before anything is executed.
func (s *session) interpret(input string) error {
	fmt.Fprintln(s.out, "[AI] Processing...")
	accumulated := input

	for rounds := 1; ; rounds++ {
		if rounds > 3 {
			fmt.Fprintln(s.out, "Could not produce a proposal. Try a slash command instead — type /help.")
			return nil
		}

		result, err := s.svc.InterpretStockEvent(s.ctx, s.org.ID, accumulated)
		if err != nil {
			return err
		}

		if result.IsClarification {
			fmt.Fprintf(s.out, "\n[AI]: %s\n", result.ClarificationMessage)
			fmt.Fprint(s.out, "> ")
			followUp, _ := s.reader.ReadString('\n')
			followUp = strings.TrimSpace(followUp)

			// Slash command during clarification cancels the AI flow and runs it.
			if strings.HasPrefix(followUp, "/") {
				fmt.Fprintln(s.out, "(AI session cancelled)")
				return s.dispatchSlash(followUp)
			}
			if followUp == "" || strings.EqualFold(followUp, "cancel") {
				fmt.Fprintln(s.out, "Cancelled.")
				return nil
			}
			accumulated = fmt.Sprintf("Original Event: %s\nClarification requested: %s\nUser response: %s",
				accumulated, result.ClarificationMessage, followUp)
			fmt.Fprintln(s.out, "[AI] Thinking...")
			continue
		}

		intent := result.Intent
		printIntent(s.out, intent)
		if intent.Confidence < 0.6 {
			fmt.Fprintln(s.out, "\nWARNING: Low confidence proposal.")
		}

		fmt.Fprint(s.out, "\nApprove this operation? (y/n): ")
		choice, _ := s.reader.ReadString('\n')
		choice = strings.TrimSpace(strings.ToLower(choice))
		if choice != "y" && choice != "yes" {
			fmt.Fprintln(s.out, "Operation cancelled.")
			return nil
		}

		res, err := s.svc.ExecuteIntent(s.ctx, s.org.ID, *intent, s.user)
		if err != nil {
			fmt.Fprintf(s.out, "Operation FAILED: %v\n", err)
			return nil
		}
		PrintIntentResult(s.out, res)
		return nil
	}
}
