// Package export renders reconciled invoices as xlsx workbooks.
package export

import (
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"invoice-recon/internal/core"
)

const (
	SheetLines   = "Reconciliation"
	SheetSummary = "Summary"
)

var lineHeaders = []string{
	"Line", "Description", "Quantity", "Unit", "Unit Price", "Total",
	"Matched Item", "Match Method", "Match Confidence", "Unit Multiplier", "Effective Quantity",
	"Reviewed", "Notes",
}

// WriteInvoiceWorkbook writes the invoice's lines with their matches and a summary
// sheet. link may be nil when no purchase order is linked.
func WriteInvoiceWorkbook(w io.Writer, inv *core.Invoice, link *core.OrderInvoiceMatch) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetLines); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	for i, h := range lineHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetLines, cell, h); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	}
	if bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(lineHeaders), 1)
		_ = f.SetCellStyle(SheetLines, "A1", last, bold)
	}

	for r, l := range inv.LineItems {
		row := r + 2
		values := []any{
			l.LineNumber, l.Description, l.Quantity.InexactFloat64(), deref(l.Unit),
			l.UnitPrice.InexactFloat64(), l.Total.InexactFloat64(),
			deref(l.MatchedItemName), matchMethod(l.MatchMethod), optFloat(l.MatchConfidence),
			optDecimal(l.UnitMultiplier), optDecimal(l.EffectiveQuantity),
			yesNo(l.Reviewed), deref(l.ReviewNotes),
		}
		for c, v := range values {
			cell, _ := excelize.CoordinatesToCellName(c+1, row)
			if err := f.SetCellValue(SheetLines, cell, v); err != nil {
				return fmt.Errorf("write line %d: %w", l.LineNumber, err)
			}
		}
	}
	_ = f.SetColWidth(SheetLines, "B", "B", 40)
	_ = f.SetColWidth(SheetLines, "G", "G", 28)
	_ = f.SetColWidth(SheetLines, "M", "M", 40)

	summary := [][2]any{
		{"Invoice ID", inv.ID},
		{"Invoice Number", deref(inv.InvoiceNumber)},
		{"Supplier", deref(inv.SupplierName)},
		{"Invoice Date", deref(inv.InvoiceDate)},
		{"Currency", deref(inv.Currency)},
		{"Total Amount", optDecimal(inv.TotalAmount)},
		{"Status", string(inv.Status)},
		{"Extraction Method", deref(inv.ExtractionMethod)},
		{"Validation Confidence", inv.TextAnalysis.ValidationConfidence},
		{"Parsing Confidence", optFloat(inv.ParsingConfidence)},
		{"Lines", len(inv.LineItems)},
		{"Lines Resolved", resolvedCount(inv)},
	}
	if link != nil {
		summary = append(summary,
			[2]any{"Purchase Order", link.PONumber},
			[2]any{"Link Status", string(link.Status)},
			[2]any{"Quantity Variance", link.QuantityVariance.InexactFloat64()},
			[2]any{"Amount Variance", link.AmountVariance.InexactFloat64()},
			[2]any{"Variance Notes", deref(link.VarianceNotes)},
		)
	}
	for i, kv := range summary {
		row := i + 1
		if err := f.SetCellValue(SheetSummary, fmt.Sprintf("A%d", row), kv[0]); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
		if err := f.SetCellValue(SheetSummary, fmt.Sprintf("B%d", row), kv[1]); err != nil {
			return fmt.Errorf("write summary: %w", err)
		}
	}
	_ = f.SetColWidth(SheetSummary, "A", "A", 24)
	_ = f.SetColWidth(SheetSummary, "B", "B", 48)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func resolvedCount(inv *core.Invoice) int {
	n := 0
	for i := range inv.LineItems {
		if inv.LineItems[i].Resolved() {
			n++
		}
	}
	return n
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func matchMethod(m *core.MatchMethod) string {
	if m == nil {
		return ""
	}
	return string(*m)
}

func optFloat(f *float64) any {
	if f == nil {
		return ""
	}
	return *f
}

func optDecimal(d *decimal.Decimal) any {
	if d == nil {
		return ""
	}
	return d.InexactFloat64()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
