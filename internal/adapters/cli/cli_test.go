package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"invoice-recon/internal/app"
	"invoice-recon/internal/core"
	"invoice-recon/internal/matching"
)

type fakeService struct {
	app.ApplicationService

	submitted *app.SubmitInvoiceRequest
	listed    *app.ListInvoicesRequest
}

func strPtr(s string) *string { return &s }

func sampleInvoice() *core.Invoice {
	total := decimal.RequireFromString("118.00")
	eff := decimal.NewFromInt(100)
	method := core.MatchMethodAuto
	item := 10
	return &core.Invoice{
		ID:            1,
		InvoiceNumber: strPtr("INV-1001"),
		SupplierName:  strPtr("Fresh Foods Ltd"),
		TotalAmount:   &total,
		Currency:      strPtr("USD"),
		Status:        core.InvoiceStatusParsed,
		LineItems: []core.InvoiceLineItem{{
			LineNumber:        1,
			Description:       "Paper Cups (Case of 50)",
			Quantity:          decimal.NewFromInt(2),
			Unit:              strPtr("case"),
			Total:             decimal.NewFromInt(100),
			MatchedItemID:     &item,
			MatchedItemName:   strPtr("Paper Cups"),
			MatchMethod:       &method,
			EffectiveQuantity: &eff,
		}},
	}
}

func (f *fakeService) SubmitInvoice(_ context.Context, req app.SubmitInvoiceRequest) (*app.SubmitResult, error) {
	f.submitted = &req
	inv := sampleInvoice()
	return &app.SubmitResult{Invoice: inv, Process: &app.ProcessResult{
		Invoice: inv, Stage: app.StageMatched, Method: "native", Confidence: 0.92, Matched: 1,
		Queues: []core.Queue{core.QueueHighConfidence, core.QueueAll},
	}}, nil
}

func (f *fakeService) ListInvoices(_ context.Context, req app.ListInvoicesRequest) (*app.InvoiceListResult, error) {
	f.listed = &req
	return &app.InvoiceListResult{Page: 1, Total: 1, Invoices: []app.InvoiceSummary{{Invoice: *sampleInvoice()}}}, nil
}

func (f *fakeService) GetInvoice(_ context.Context, id int) (*app.InvoiceResult, error) {
	if id != 1 {
		return nil, core.Errorf(core.KindNotFound, "invoice %d not found", id)
	}
	return &app.InvoiceResult{Invoice: sampleInvoice()}, nil
}

func (f *fakeService) MatchCandidates(_ context.Context, _ int) (*app.CandidatesResult, error) {
	best := matching.Candidate{ItemID: 10, Name: "Paper Cups", Score: 0.91, Multiplier: decimal.NewFromInt(50)}
	return &app.CandidatesResult{
		LineItem:   &sampleInvoice().LineItems[0],
		Candidates: []matching.Candidate{best, {ItemID: 11, Name: "Paper Plates", Score: 0.55, Multiplier: decimal.NewFromInt(1)}},
		Best:       &best,
		Effective:  decimal.NewFromInt(100),
	}, nil
}

func (f *fakeService) ExportInvoice(_ context.Context, _ int, w io.Writer) error {
	_, err := w.Write([]byte("PK"))
	return err
}

func TestSubmit_ReadsFileAndPrintsResult(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inv-1001.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 test"), 0o600); err != nil {
		t.Fatal(err)
	}
	svc := &fakeService{}
	var out bytes.Buffer
	err := Run(context.Background(), svc, "alice", []string{"submit", "-supplier-id", "7", "-supplier", "Fresh Foods", path}, &out)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := svc.submitted
	if got.FileName != "inv-1001.pdf" || got.MimeType != "application/pdf" || got.Actor != "alice" {
		t.Errorf("request = %+v", *got)
	}
	if got.SupplierID == nil || *got.SupplierID != 7 || got.SupplierHint != "Fresh Foods" {
		t.Errorf("supplier = %v %q", got.SupplierID, got.SupplierHint)
	}
	for _, want := range []string{"STAGE:      matched", "INV-1001", "Paper Cups", "high-confidence", "100"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
}

func TestList_PassesFilters(t *testing.T) {
	svc := &fakeService{}
	var out bytes.Buffer
	if err := Run(context.Background(), svc, "alice", []string{"list", "-queue", "needs-ocr", "-page", "2"}, &out); err != nil {
		t.Fatal(err)
	}
	if svc.listed.Queue != "needs-ocr" || svc.listed.Page != 2 {
		t.Errorf("request = %+v", *svc.listed)
	}
	if !strings.Contains(out.String(), "Fresh Foods Ltd") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestShow_JSON(t *testing.T) {
	var out bytes.Buffer
	if err := Run(context.Background(), &fakeService{}, "alice", []string{"show", "-json", "1"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), `"invoice_number": "INV-1001"`) {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestCandidates_MarksBest(t *testing.T) {
	var out bytes.Buffer
	if err := Run(context.Background(), &fakeService{}, "alice", []string{"candidates", "5"}, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "* 10") || !strings.Contains(out.String(), "EFFECTIVE QUANTITY: 100") {
		t.Errorf("output:\n%s", out.String())
	}
}

func TestExport_WritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.xlsx")
	var out bytes.Buffer
	if err := Run(context.Background(), &fakeService{}, "alice", []string{"export", "1", path}, &out); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil || string(b) != "PK" {
		t.Errorf("file = %q, %v", b, err)
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		kind core.Kind
	}{
		{"no command", nil, ""},
		{"unknown command", []string{"frobnicate"}, ""},
		{"missing id", []string{"process"}, ""},
		{"bad id", []string{"show", "abc"}, core.KindInvalidRequest},
		{"not found", []string{"show", "99"}, core.KindNotFound},
		{"submit without file", []string{"submit"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Run(context.Background(), &fakeService{}, "alice", tt.args, io.Discard)
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.kind != "" && core.KindOf(err) != tt.kind {
				t.Errorf("kind = %s, want %s", core.KindOf(err), tt.kind)
			}
			if tt.kind == "" && !strings.Contains(err.Error(), "Usage:") && !errors.Is(err, ErrUsage) {
				t.Errorf("expected usage in %q", err)
			}
		})
	}
}
