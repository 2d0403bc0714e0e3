package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"inventory-ledger/internal/adapters/repl"
	"inventory-ledger/internal/ai"
	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"

	"github.com/spf13/pflag"
)

// ErrDiscrepancies is returned by reconcile when cached stock disagrees with
// the ledger, so scripts can alert on a non-zero exit.
var ErrDiscrepancies = errors.New("reconcile found discrepancies")

// ErrUsage marks a malformed command line.
var ErrUsage = errors.New("usage")

// Commands lists the one-shot subcommands Run understands.
var Commands = []string{
	"receive", "consume", "reserve", "release", "adjust", "transfer",
	"stock", "history", "low-stock", "as-of", "reconcile", "propose", "execute",
}

// Run executes a one-shot CLI command against the default organization.
// args is os.Args[1:]; the first element is the subcommand name. execute
// reads an intent as JSON from stdin.
func Run(ctx context.Context, svc app.ApplicationService, args []string, stdin io.Reader, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: no command given; available: %s", ErrUsage, strings.Join(Commands, ", "))
	}
	org, err := svc.LoadDefaultOrganization(ctx)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}
	c := &command{ctx: ctx, svc: svc, org: org, stdin: stdin, out: out}

	name, rest := args[0], args[1:]
	switch name {
	case "receive":
		return c.receive(rest)
	case "consume", "reserve", "release":
		return c.movement(name, rest)
	case "adjust":
		return c.adjust(rest)
	case "transfer":
		return c.transfer(rest)
	case "stock":
		return c.stock(rest)
	case "history":
		return c.history(rest)
	case "low-stock", "low":
		return c.lowStock(rest)
	case "as-of", "asof":
		return c.asOf(rest)
	case "reconcile":
		return c.reconcile(rest)
	case "propose", "prop", "p":
		return c.propose(rest)
	case "execute", "exec":
		return c.execute(rest)
	default:
		return fmt.Errorf("%w: unknown command %q; available: %s", ErrUsage, name, strings.Join(Commands, ", "))
	}
}

type command struct {
	ctx   context.Context
	svc   app.ApplicationService
	org   *core.Organization
	stdin io.Reader
	out   io.Writer
}

// auditFlags are shared by every write command.
type auditFlags struct {
	ref, refType, notes, by string
}

func (c *command) flagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(c.out)
	return fs
}

func bindAudit(fs *pflag.FlagSet) *auditFlags {
	a := &auditFlags{}
	fs.StringVar(&a.ref, "ref", "", "external reference id (PO, order, count sheet)")
	fs.StringVar(&a.refType, "ref-type", "", "reference type")
	fs.StringVar(&a.notes, "notes", "", "free-form notes")
	fs.StringVar(&a.by, "by", os.Getenv("USER"), "operator recorded as created_by")
	return a
}

func (a *auditFlags) input() app.AuditInput {
	return app.AuditInput{ReferenceID: a.ref, ReferenceType: a.refType, Notes: a.notes, CreatedBy: a.by}
}

// parse parses args and requires exactly n positionals.
func parse(fs *pflag.FlagSet, args []string, n int, usage string) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() != n {
		return nil, fmt.Errorf("%w: %s", ErrUsage, usage)
	}
	return fs.Args(), nil
}

func (c *command) target(product, location string) app.StockInput {
	return app.StockInput{OrgID: c.org.ID, Product: product, Location: location}
}

func (c *command) receive(args []string) error {
	fs := c.flagSet("receive")
	audit := bindAudit(fs)
	cost := fs.String("cost", "", "unit cost (required)")
	pos, err := parse(fs, args, 3, "receive <sku> <location> <qty> --cost <unit-cost>")
	if err != nil {
		return err
	}
	res, err := c.svc.Receive(c.ctx, app.ReceiveStockRequest{
		StockInput: c.target(pos[0], pos[1]), AuditInput: audit.input(),
		Quantity: pos[2], UnitCost: *cost,
	})
	if err != nil {
		return err
	}
	repl.PrintStockResult(c.out, "receive", res)
	return nil
}

func (c *command) movement(name string, args []string) error {
	fs := c.flagSet(name)
	audit := bindAudit(fs)
	var oversell bool
	if name == "consume" {
		fs.BoolVar(&oversell, "oversell", false, "allow stock to go negative")
	}
	pos, err := parse(fs, args, 3, name+" <sku> <location> <qty>")
	if err != nil {
		return err
	}
	in, a := c.target(pos[0], pos[1]), audit.input()

	switch name {
	case "consume":
		res, err := c.svc.Consume(c.ctx, app.ConsumeStockRequest{StockInput: in, AuditInput: a, Quantity: pos[2], AllowOversell: oversell})
		if err != nil {
			return err
		}
		repl.PrintStockResult(c.out, name, res)
	case "reserve":
		res, err := c.svc.Reserve(c.ctx, app.ReserveStockRequest{StockInput: in, AuditInput: a, Quantity: pos[2]})
		if err != nil {
			return err
		}
		repl.PrintStockResult(c.out, name, res)
	default:
		res, err := c.svc.Release(c.ctx, app.ReleaseStockRequest{StockInput: in, AuditInput: a, Quantity: pos[2]})
		if err != nil {
			return err
		}
		repl.PrintReleaseResult(c.out, res)
	}
	return nil
}

func (c *command) adjust(args []string) error {
	fs := c.flagSet("adjust")
	audit := bindAudit(fs)
	reason := fs.String("reason", "count", "count, damage, return, loss, correction or other")
	pos, err := parse(fs, args, 3, "adjust <sku> <location> <new-qty> [--reason <reason>]")
	if err != nil {
		return err
	}
	res, err := c.svc.Adjust(c.ctx, app.AdjustStockRequest{
		StockInput: c.target(pos[0], pos[1]), AuditInput: audit.input(),
		NewQuantity: pos[2], Reason: *reason,
	})
	if err != nil {
		return err
	}
	repl.PrintStockResult(c.out, "adjust", res)
	return nil
}

func (c *command) transfer(args []string) error {
	fs := c.flagSet("transfer")
	audit := bindAudit(fs)
	pos, err := parse(fs, args, 4, "transfer <sku> <from> <to> <qty>")
	if err != nil {
		return err
	}
	res, err := c.svc.Transfer(c.ctx, app.TransferStockRequest{
		AuditInput: audit.input(), OrgID: c.org.ID,
		Product: pos[0], SourceLocation: pos[1], DestinationLocation: pos[2], Quantity: pos[3],
	})
	if err != nil {
		return err
	}
	repl.PrintTransferResult(c.out, res)
	return nil
}

func (c *command) stock(args []string) error {
	fs := c.flagSet("stock")
	product := fs.String("product", "", "filter by SKU or id")
	location := fs.String("location", "", "filter by location code or id")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parse(fs, args, 0, "stock [--product <sku>] [--location <code>]"); err != nil {
		return err
	}
	res, err := c.svc.GetStockLevels(c.ctx, c.org.ID, app.StockQuery{Product: *product, Location: *location})
	if err != nil {
		return err
	}
	if *asJSON {
		return c.writeJSON(res)
	}
	repl.PrintStockLevels(c.out, "STOCK LEVELS — "+c.org.Name, res.Levels)
	return nil
}

func (c *command) lowStock(args []string) error {
	fs := c.flagSet("low-stock")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parse(fs, args, 0, "low-stock"); err != nil {
		return err
	}
	res, err := c.svc.GetLowStock(c.ctx, c.org.ID)
	if err != nil {
		return err
	}
	if *asJSON {
		return c.writeJSON(res)
	}
	repl.PrintStockLevels(c.out, "LOW STOCK — "+c.org.Name, res.Levels)
	return nil
}

func (c *command) history(args []string) error {
	fs := c.flagSet("history")
	q := app.HistoryQuery{}
	fs.StringVar(&q.Product, "product", "", "filter by SKU or id")
	fs.StringVar(&q.Location, "location", "", "filter by location code or id")
	fs.StringVar(&q.Type, "type", "", "filter by transaction type")
	fs.StringVar(&q.ReferenceID, "ref", "", "filter by reference id")
	fs.StringVar(&q.Since, "since", "", "earliest time (RFC 3339 or YYYY-MM-DD)")
	fs.StringVar(&q.Until, "until", "", "latest time (RFC 3339 or YYYY-MM-DD)")
	fs.IntVar(&q.Limit, "limit", 0, "most recent N transactions")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parse(fs, args, 0, "history [filters]"); err != nil {
		return err
	}
	res, err := c.svc.GetTransactionHistory(c.ctx, c.org.ID, q)
	if err != nil {
		return err
	}
	if *asJSON {
		return c.writeJSON(res)
	}
	repl.PrintHistory(c.out, res.Lines)
	return nil
}

func (c *command) asOf(args []string) error {
	fs := c.flagSet("as-of")
	pos, err := parse(fs, args, 3, "as-of <sku> <location> <time>")
	if err != nil {
		return err
	}
	res, err := c.svc.GetStockAsOf(c.ctx, c.org.ID, pos[0], pos[1], pos[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s at %s as of %s: %s\n", res.ProductSKU, res.LocationCode,
		res.AsOf.Format("2006-01-02 15:04:05"), res.CurrentStock.String())
	return nil
}

func (c *command) reconcile(args []string) error {
	fs := c.flagSet("reconcile")
	asJSON := fs.Bool("json", false, "print JSON")
	if _, err := parse(fs, args, 0, "reconcile"); err != nil {
		return err
	}
	report, err := c.svc.Reconcile(c.ctx, c.org.ID)
	if err != nil {
		return err
	}
	if *asJSON {
		err = c.writeJSON(report)
	} else {
		repl.PrintReconcile(c.out, report)
	}
	if err == nil && !report.OK() {
		return ErrDiscrepancies
	}
	return err
}

func (c *command) propose(args []string) error {
	fs := c.flagSet("propose")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("%w: propose \"<event description>\"", ErrUsage)
	}
	result, err := c.svc.InterpretStockEvent(c.ctx, c.org.ID, strings.Join(fs.Args(), " "))
	if err != nil {
		return err
	}
	if result.IsClarification {
		return fmt.Errorf("AI needs clarification: %s", result.ClarificationMessage)
	}
	return c.writeJSON(result.Intent)
}

func (c *command) execute(args []string) error {
	fs := c.flagSet("execute")
	by := fs.String("by", os.Getenv("USER"), "operator recorded as created_by")
	if _, err := parse(fs, args, 0, "execute < intent.json"); err != nil {
		return err
	}
	var intent ai.StockIntent
	dec := json.NewDecoder(c.stdin)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&intent); err != nil {
		return fmt.Errorf("invalid intent JSON: %w", err)
	}
	res, err := c.svc.ExecuteIntent(c.ctx, c.org.ID, intent, *by)
	if err != nil {
		return err
	}
	repl.PrintIntentResult(c.out, res)
	return nil
}

func (c *command) writeJSON(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
