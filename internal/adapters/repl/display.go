package repl

import (
	"fmt"
	"io"
	"strings"

	"inventory-ledger/internal/ai"
	"inventory-ledger/internal/app"
	"inventory-ledger/internal/core"

	"github.com/shopspring/decimal"
)

// PrintStockLevels renders stock levels as a table.
func PrintStockLevels(w io.Writer, title string, levels []core.StockLevel) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("=", 86))
	fmt.Fprintf(w, "  %s\n", title)
	fmt.Fprintln(w, strings.Repeat("=", 86))
	if len(levels) == 0 {
		fmt.Fprintln(w, "  No stock found.")
		fmt.Fprintln(w, strings.Repeat("=", 86))
		return
	}
	fmt.Fprintf(w, "  %-12s %-10s %10s %10s %10s %12s %14s  %s\n",
		"SKU", "LOCATION", "CURRENT", "COMMITTED", "AVAILABLE", "AVG COST", "VALUATION", "FLAGS")
	fmt.Fprintln(w, strings.Repeat("-", 86))
	for _, l := range levels {
		var flags []string
		if l.BelowMinimum {
			flags = append(flags, "LOW")
		}
		if l.AboveMaximum {
			flags = append(flags, "HIGH")
		}
		fmt.Fprintf(w, "  %-12s %-10s %10s %10s %10s %12s %14s  %s\n",
			l.ProductSKU, l.LocationCode, l.CurrentStock.String(), l.CommittedStock.String(),
			l.AvailableQty.String(), l.AvgCost.StringFixed(4), l.Valuation.StringFixed(2), strings.Join(flags, ","))
	}
	fmt.Fprintln(w, strings.Repeat("=", 86))
}

// PrintHistory renders ledger lines in chronological order.
func PrintHistory(w io.Writer, lines []core.HistoryLine) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %-20s %-12s %-12s %-10s %10s %12s %10s  %s\n",
		"TIME", "TYPE", "SKU", "LOCATION", "QTY", "UNIT COST", "BALANCE", "REFERENCE")
	fmt.Fprintln(w, strings.Repeat("-", 100))
	if len(lines) == 0 {
		fmt.Fprintln(w, "  No transactions found.")
		return
	}
	for _, l := range lines {
		cost, balance := "", ""
		if uc := l.UnitCost(); uc != nil {
			cost = uc.StringFixed(4)
		}
		if l.RunningBalance != nil {
			balance = l.RunningBalance.String()
		}
		fmt.Fprintf(w, "  %-20s %-12s %-12s %-10s %10s %12s %10s  %s\n",
			l.CreatedAt.Format("2006-01-02 15:04:05"), l.Type(), l.ProductSKU, l.LocationCode,
			l.Quantity.String(), cost, balance, l.Reference.ID)
	}
}

// PrintStockResult renders the outcome of a single-row operation.
func PrintStockResult(w io.Writer, op string, res *core.StockResult) {
	if res.Duplicate {
		fmt.Fprintf(w, "Duplicate reference: %s was already recorded; nothing written.\n", op)
	} else {
		fmt.Fprintf(w, "%s OK.\n", strings.ToUpper(op[:1])+op[1:])
	}
	fmt.Fprintf(w, "  %s: current %s, committed %s, available %s (avg cost %s)\n",
		res.Product.SKU, res.Inventory.CurrentStock.String(), res.Inventory.CommittedStock.String(),
		res.Available.String(), res.Product.AvgCost.StringFixed(4))
	printWarnings(w, res.Warnings)
}

// PrintReleaseResult renders a release, including any shortfall.
func PrintReleaseResult(w io.Writer, res *core.ReleaseResult) {
	PrintStockResult(w, "release", &res.StockResult)
	fmt.Fprintf(w, "  released %s", res.Released.String())
	if res.Shortfall.IsPositive() {
		fmt.Fprintf(w, ", shortfall %s", res.Shortfall.String())
	}
	fmt.Fprintln(w)
}

// PrintTransferResult renders both legs of a transfer.
func PrintTransferResult(w io.Writer, res *core.TransferResult) {
	if res.Duplicate {
		fmt.Fprintln(w, "Duplicate reference: transfer was already recorded; nothing written.")
	} else {
		fmt.Fprintln(w, "Transfer OK.")
	}
	fmt.Fprintf(w, "  source current %s, destination current %s (avg cost %s)\n",
		res.Source.CurrentStock.String(), res.Destination.CurrentStock.String(), res.Product.AvgCost.StringFixed(4))
	printWarnings(w, res.Warnings)
}

// PrintIntentResult renders whatever ExecuteIntent returned.
func PrintIntentResult(w io.Writer, res *app.IntentResult) {
	switch {
	case res.Stock != nil:
		PrintStockResult(w, string(res.Operation), res.Stock)
	case res.Release != nil:
		PrintReleaseResult(w, res.Release)
	case res.Transfer != nil:
		PrintTransferResult(w, res.Transfer)
	}
}

// PrintReconcile renders a reconciliation report.
func PrintReconcile(w io.Writer, r *core.ReconcileReport) {
	fmt.Fprintf(w, "Checked %d rows at %s.\n", r.RowsChecked, r.CheckedAt.Format("2006-01-02 15:04:05"))
	if r.OK() {
		fmt.Fprintln(w, "Cached stock matches the ledger.")
		return
	}
	fmt.Fprintf(w, "%d discrepancies:\n", len(r.Discrepancies))
	for _, d := range r.Discrepancies {
		fmt.Fprintf(w, "  %s at %s: cached %s, ledger %s (difference %s)\n",
			d.ProductSKU, d.LocationCode, d.Cached.String(), d.LedgerSum.String(), d.Difference.String())
	}
}

func printIntent(w io.Writer, i *ai.StockIntent) {
	fmt.Fprintf(w, "\nPROPOSED:   %s\n", i.Summary())
	if i.Notes != "" {
		fmt.Fprintf(w, "NOTES:      %s\n", i.Notes)
	}
	fmt.Fprintf(w, "REASONING:  %s\n", i.Reasoning)
}

func printProducts(w io.Writer, products []core.Product) {
	fmt.Fprintf(w, "  %-12s %-28s %-6s %10s %10s %12s\n", "SKU", "NAME", "UNIT", "MIN", "MAX", "AVG COST")
	fmt.Fprintln(w, strings.Repeat("-", 84))
	for _, p := range products {
		fmt.Fprintf(w, "  %-12s %-28s %-6s %10s %10s %12s\n",
			p.SKU, p.Name, p.UnitOfMeasure, optDecimal(p.MinStockLevel), optDecimal(p.MaxStockLevel), p.AvgCost.StringFixed(4))
	}
}

func printLocations(w io.Writer, locations []core.Location) {
	fmt.Fprintf(w, "  %-10s %-28s %-10s %s\n", "CODE", "NAME", "TYPE", "ACTIVE")
	fmt.Fprintln(w, strings.Repeat("-", 60))
	for _, l := range locations {
		fmt.Fprintf(w, "  %-10s %-28s %-10s %t\n", l.Code, l.Name, l.Type, l.IsActive)
	}
}

func printWarnings(w io.Writer, warnings []string) {
	for _, msg := range warnings {
		fmt.Fprintf(w, "  WARNING: %s\n", msg)
	}
}

func optDecimal(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

func printHelp(w io.Writer) {
	fmt.Fprintln(w, `
Reads:
  /stock [sku] [location]         Stock levels
  /low                            Rows below minimum stock level
  /products  /locations           Catalog
  /summary <sku>                  Product rollup across locations
  /location <code>                What a location holds
  /history [sku] [location]       Ledger history (running balance for one row)
  /asof <sku> <location> <time>   Stock reconstructed at a time (RFC 3339 or YYYY-MM-DD)
  /reconcile                      Compare cached stock with the ledger

Writes:
  /receive <sku> <location> <qty> <unit-cost> [reference]
  /consume <sku> <location> <qty> [reference]
  /reserve <sku> <location> <qty> [reference]
  /release <sku> <location> <qty> [reference]
  /adjust <sku> <location> <new-qty> <reason> [reference]
  /transfer <sku> <from> <to> <qty> [reference]

Anything else is sent to the AI clerk, which proposes an operation for you to approve.
  /help  /exit`)
}
