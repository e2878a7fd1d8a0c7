package export

import (
	"bytes"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"invoice-recon/internal/core"
)

func strPtr(s string) *string { return &s }

func TestWriteInvoiceWorkbook(t *testing.T) {
	manual := core.MatchMethodManual
	skipped := core.MatchMethodSkipped
	mult := decimal.NewFromInt(250)
	eff := decimal.NewFromInt(500)
	conf := 1.0
	total := decimal.RequireFromString("100.00")

	inv := &core.Invoice{
		ID:            7,
		InvoiceNumber: strPtr("INV-1001"),
		SupplierName:  strPtr("Fresh Foods Ltd"),
		TotalAmount:   &total,
		Status:        core.InvoiceStatusReviewing,
		LineItems: []core.InvoiceLineItem{
			{
				LineNumber: 1, Description: "Paper Cups (Case of 250)", Quantity: decimal.NewFromInt(2), Unit: strPtr("case"),
				UnitPrice: decimal.NewFromInt(20), Total: decimal.NewFromInt(40),
				MatchedItemID: new(int), MatchedItemName: strPtr("Paper Cups"), MatchMethod: &manual, MatchConfidence: &conf,
				UnitMultiplier: &mult, EffectiveQuantity: &eff, Reviewed: true,
			},
			{
				LineNumber: 2, Description: "Delivery", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(5),
				Total: decimal.NewFromInt(5), MatchMethod: &skipped, Reviewed: true, ReviewNotes: strPtr("fee"),
			},
		},
	}
	link := &core.OrderInvoiceMatch{PONumber: "PO-000001", Status: core.LinkStatusConfirmed, AmountVariance: decimal.RequireFromString("-2.5")}

	var buf bytes.Buffer
	if err := WriteInvoiceWorkbook(&buf, inv, link); err != nil {
		t.Fatalf("WriteInvoiceWorkbook: %v", err)
	}

	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(SheetLines)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header + 2 lines, got %d rows", len(rows))
	}
	checks := map[string]string{"G2": "Paper Cups", "H2": "manual", "K2": "500", "H3": "skipped", "M3": "fee"}
	for cell, want := range checks {
		got, _ := f.GetCellValue(SheetLines, cell)
		if got != want {
			t.Errorf("%s: got %q, want %q", cell, got, want)
		}
	}

	summary, _ := f.GetRows(SheetSummary)
	found := map[string]string{}
	for _, r := range summary {
		if len(r) == 2 {
			found[r[0]] = r[1]
		}
	}
	if found["Invoice Number"] != "INV-1001" || found["Lines Resolved"] != "2" || found["Purchase Order"] != "PO-000001" {
		t.Errorf("unexpected summary %v", found)
	}
}
