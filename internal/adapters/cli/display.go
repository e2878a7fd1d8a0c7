package cli

import (
	"fmt"
	"io"
	"strings"

	"invoice-recon/internal/app"
	"invoice-recon/internal/core"
)

func str(p *string) string {
	if p == nil {
		return "-"
	}
	return *p
}

func queueNames(qs []core.Queue) string {
	if len(qs) == 0 {
		return "-"
	}
	names := make([]string, len(qs))
	for i, q := range qs {
		names[i] = string(q)
	}
	return strings.Join(names, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func printProcess(out io.Writer, res *app.ProcessResult) {
	fmt.Fprintf(out, "\nSTAGE:      %s\n", res.Stage)
	fmt.Fprintf(out, "METHOD:     %s\n", res.Method)
	fmt.Fprintf(out, "CONFIDENCE: %.2f\n", res.Confidence)
	fmt.Fprintf(out, "MATCHED:    %d\n", res.Matched)
	if res.Warning != "" {
		fmt.Fprintf(out, "WARNING:    %s\n", res.Warning)
	}
	if res.Invoice != nil {
		printInvoice(out, res.Invoice, res.Queues)
	}
}

func printInvoice(out io.Writer, inv *core.Invoice, queues []core.Queue) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 96))
	fmt.Fprintf(out, "  INVOICE %d  %s\n", inv.ID, str(inv.InvoiceNumber))
	fmt.Fprintf(out, "  Supplier : %s\n", str(inv.SupplierName))
	fmt.Fprintf(out, "  Date     : %s   Due: %s\n", str(inv.InvoiceDate), str(inv.DueDate))
	total := "-"
	if inv.TotalAmount != nil {
		total = inv.TotalAmount.StringFixed(2) + " " + str(inv.Currency)
	}
	fmt.Fprintf(out, "  Total    : %s\n", total)
	fmt.Fprintf(out, "  Status   : %s   Queues: %s\n", inv.Status, queueNames(queues))
	if inv.ParsingError != nil {
		fmt.Fprintf(out, "  Error    : %s\n", *inv.ParsingError)
	}
	fmt.Fprintln(out, strings.Repeat("=", 96))
	if len(inv.LineItems) == 0 {
		fmt.Fprintln(out, "  No line items.")
		fmt.Fprintln(out, strings.Repeat("=", 96))
		return
	}
	fmt.Fprintf(out, "  %-4s %-30s %8s %-6s %10s  %-22s %-8s %9s\n",
		"#", "DESCRIPTION", "QTY", "UNIT", "TOTAL", "MATCHED ITEM", "METHOD", "EFFECTIVE")
	fmt.Fprintln(out, strings.Repeat("-", 96))
	for _, l := range inv.LineItems {
		method := "-"
		if l.MatchMethod != nil {
			method = string(*l.MatchMethod)
		}
		effective := "-"
		if l.EffectiveQuantity != nil {
			effective = l.EffectiveQuantity.String()
		}
		fmt.Fprintf(out, "  %-4d %-30s %8s %-6s %10s  %-22s %-8s %9s\n",
			l.LineNumber, truncate(l.Description, 30), l.Quantity.String(), str(l.Unit),
			l.Total.StringFixed(2), truncate(str(l.MatchedItemName), 22), method, effective)
	}
	fmt.Fprintln(out, strings.Repeat("=", 96))
}

func printInvoiceList(out io.Writer, res *app.InvoiceListResult) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("=", 84))
	fmt.Fprintf(out, "  INVOICES  page %d  (%d total, %s)\n", res.Page, res.Total, res.TotalAmount.StringFixed(2))
	fmt.Fprintln(out, strings.Repeat("=", 84))
	if len(res.Invoices) == 0 {
		fmt.Fprintln(out, "  No invoices found.")
		fmt.Fprintln(out, strings.Repeat("=", 84))
		return
	}
	fmt.Fprintf(out, "  %-6s %-14s %-24s %-10s %s\n", "ID", "NUMBER", "SUPPLIER", "STATUS", "QUEUES")
	fmt.Fprintln(out, strings.Repeat("-", 84))
	for _, row := range res.Invoices {
		inv := row.Invoice
		fmt.Fprintf(out, "  %-6d %-14s %-24s %-10s %s\n",
			inv.ID, truncate(str(inv.InvoiceNumber), 14), truncate(str(inv.SupplierName), 24), inv.Status, queueNames(row.Queues))
	}
	fmt.Fprintln(out, strings.Repeat("=", 84))
}

func printCandidates(out io.Writer, res *app.CandidatesResult) {
	fmt.Fprintf(out, "\nLINE: %s\n", res.LineItem.Description)
	if len(res.Candidates) == 0 {
		fmt.Fprintln(out, "  No candidates.")
		return
	}
	fmt.Fprintf(out, "  %-6s %-30s %6s %10s\n", "ITEM", "NAME", "SCORE", "MULTIPLIER")
	for _, c := range res.Candidates {
		marker := " "
		if res.Best != nil && res.Best.ItemID == c.ItemID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-6d %-30s %6.2f %10s\n", marker, c.ItemID, truncate(c.Name, 30), c.Score, c.Multiplier.String())
	}
	if res.Best != nil {
		fmt.Fprintf(out, "EFFECTIVE QUANTITY: %s\n", res.Effective.String())
	}
}
