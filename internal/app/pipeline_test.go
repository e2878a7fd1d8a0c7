package app

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoice-recon/internal/core"
	"invoice-recon/internal/extract"
	"invoice-recon/internal/storage"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func intPtr(i int) *int { return &i }

// fakeInvoices keeps one invoice in memory. Unimplemented methods panic via the nil
// embedded interface.
type fakeInvoices struct {
	core.InvoiceService

	mu          sync.Mutex
	inv         *core.Invoice
	extractions []core.ExtractionRecord
	parsing     int
	errors      []string
	suggestions []core.LineMatchSuggestion
	parseErr    error
	setSupplier error
}

func (f *fakeInvoices) CreateInvoice(_ context.Context, in core.NewInvoiceInput) (*core.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inv = &core.Invoice{ID: 1, SupplierID: in.SupplierID, FilePath: in.FilePath, MimeType: in.MimeType,
		Status: core.InvoiceStatusUploaded, UploadedBy: in.UploadedBy}
	if in.SupplierID != nil {
		name := "Fresh Foods Ltd"
		f.inv.SupplierName = &name
	}
	cp := *f.inv
	return &cp, nil
}

func (f *fakeInvoices) GetInvoice(_ context.Context, id int) (*core.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inv == nil || f.inv.ID != id {
		return nil, core.Errorf(core.KindNotFound, "invoice %d not found", id)
	}
	cp := *f.inv
	cp.LineItems = append([]core.InvoiceLineItem(nil), f.inv.LineItems...)
	return &cp, nil
}

func (f *fakeInvoices) RecordExtraction(_ context.Context, _ int, rec core.ExtractionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extractions = append(f.extractions, rec)
	f.inv.Status = core.InvoiceStatusUploaded
	f.inv.TextAnalysis = rec.Analysis
	return nil
}

func (f *fakeInvoices) MarkParsing(context.Context, int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.parsing++
	f.inv.Status = core.InvoiceStatusParsing
	return nil
}

func (f *fakeInvoices) MarkError(_ context.Context, _ int, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, msg)
	f.inv.Status = core.InvoiceStatusError
	return nil
}

func (f *fakeInvoices) RecordParseResult(_ context.Context, _ int, res core.ParseResult) (*core.Invoice, error) {
	f.mu.Lock()
	if f.parseErr != nil {
		f.mu.Unlock()
		return nil, f.parseErr
	}
	if !res.Success {
		msg := strings.Join(res.Errors, "; ")
		f.inv.Status = core.InvoiceStatusError
		f.inv.ParsingError = &msg
	} else {
		f.inv.Status = core.InvoiceStatusParsed
		f.inv.ParsingConfidence = &res.Confidence
		f.inv.LineItems = nil
		for i, pl := range res.Invoice.Lines {
			unit := pl.Unit
			f.inv.LineItems = append(f.inv.LineItems, core.InvoiceLineItem{
				ID: 100 + i, InvoiceID: f.inv.ID, LineNumber: i + 1, Description: pl.Description,
				Quantity: dec(pl.Quantity), Unit: &unit, UnitPrice: dec(pl.UnitPrice), Total: dec(pl.Total),
			})
		}
	}
	f.mu.Unlock()
	return f.GetInvoice(context.Background(), f.inv.ID)
}

func (f *fakeInvoices) ApplySuggestions(_ context.Context, _ int, s []core.LineMatchSuggestion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.suggestions = append(f.suggestions, s...)
	return nil
}

func (f *fakeInvoices) SetSupplier(_ context.Context, _ int, supplierID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setSupplier != nil {
		return f.setSupplier
	}
	f.inv.SupplierID = &supplierID
	return nil
}

func (f *fakeInvoices) SupplierItemRecency(context.Context, int) (map[int]time.Time, error) {
	return map[int]time.Time{}, nil
}

type fakeInventory struct {
	core.InventoryService
	items []core.InventoryItem
}

func (f *fakeInventory) ListItems(_ context.Context, supplierID *int) ([]core.InventoryItem, error) {
	var out []core.InventoryItem
	for _, it := range f.items {
		if supplierID == nil || (it.SupplierID != nil && *it.SupplierID == *supplierID) {
			out = append(out, it)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	core.CatalogService
	suppliers []core.Supplier
}

func (f *fakeCatalog) GetSupplier(_ context.Context, id int) (*core.Supplier, error) {
	for i := range f.suppliers {
		if f.suppliers[i].ID == id {
			return &f.suppliers[i], nil
		}
	}
	return nil, core.Errorf(core.KindNotFound, "supplier %d not found", id)
}

func (f *fakeCatalog) FindSupplierByName(_ context.Context, name string) (*core.Supplier, error) {
	for i := range f.suppliers {
		if strings.EqualFold(f.suppliers[i].Name, name) {
			return &f.suppliers[i], nil
		}
	}
	return nil, core.Errorf(core.KindNotFound, "supplier %q not found", name)
}

type fakeExtractor struct {
	res  *extract.Result
	err  error
	opts []extract.Options
}

func (f *fakeExtractor) Extract(_ context.Context, data []byte, _ string, opts extract.Options) (*extract.Result, error) {
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.res, nil
}

type fakeParser struct {
	res   core.ParseResult
	calls int
	hint  string
}

func (f *fakeParser) Parse(_ context.Context, _ string, hint string) core.ParseResult {
	f.calls++
	f.hint = hint
	return f.res
}

type fakeQueue struct{ ids []int }

func (q *fakeQueue) Enqueue(id int) error {
	q.ids = append(q.ids, id)
	return nil
}

type pipelineFixture struct {
	svc       *appService
	invoices  *fakeInvoices
	extractor *fakeExtractor
	parser    *fakeParser
}

func goodExtraction() *extract.Result {
	return &extract.Result{
		Text:       "INVOICE INV-1001 ...",
		Confidence: 0.9,
		Method:     extract.MethodNative,
		Analysis:   core.TextAnalysis{ValidationConfidence: 0.9, LineItemCandidates: 3},
	}
}

func goodParse() core.ParseResult {
	return core.ParseResult{
		Success:    true,
		Confidence: 0.9,
		Invoice: core.ParsedInvoice{
			InvoiceNumber: "INV-1001",
			SupplierName:  "Fresh Foods Ltd",
			Total:         "66.00",
			Lines: []core.ParsedLine{
				{Description: "Coffee Beans 2 lbs", Quantity: "1", UnitPrice: "12.00", Total: "12.00", Confidence: 0.9},
				{Description: "Paper Cups (Case of 50)", Quantity: "2", Unit: "case", UnitPrice: "25.00", Total: "50.00", Confidence: 0.9},
				{Description: "Delivery Fee", Quantity: "1", UnitPrice: "4.00", Total: "4.00", Confidence: 0.9},
			},
		},
	}
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	f := &pipelineFixture{
		invoices:  &fakeInvoices{},
		extractor: &fakeExtractor{res: goodExtraction()},
		parser:    &fakeParser{res: goodParse()},
	}
	f.svc = newAppService(Deps{
		Invoices: f.invoices,
		Inventory: &fakeInventory{items: []core.InventoryItem{
			{ID: 1, Name: "Coffee Beans", UnitType: "lb", PackSize: dec("1")},
			{ID: 10, Name: "Paper Cups", UnitType: "each", PackSize: dec("1")},
		}},
		Catalog:    &fakeCatalog{suppliers: []core.Supplier{{ID: 7, Name: "Fresh Foods Ltd", IsActive: true}}},
		Extractor:  f.extractor,
		Parser:     f.parser,
		Store:      store,
		Thresholds: core.DefaultThresholds,
		Log:        zerolog.Nop(),
	})
	return f
}

func submitText(t *testing.T, f *pipelineFixture, supplierID *int) (*SubmitResult, error) {
	t.Helper()
	return f.svc.SubmitInvoice(context.Background(), SubmitInvoiceRequest{
		FileName:   "inv-1001.txt",
		MimeType:   "text/plain; charset=utf-8",
		Data:       []byte("INVOICE INV-1001"),
		SupplierID: supplierID,
		Actor:      "alice",
	})
}

func TestSubmitInvoice_ProcessesInline(t *testing.T) {
	f := newPipelineFixture(t)

	res, err := submitText(t, f, intPtr(7))
	if err != nil {
		t.Fatalf("SubmitInvoice: %v", err)
	}
	if res.Queued || res.Process == nil {
		t.Fatalf("expected inline processing, got %+v", res)
	}
	if res.Process.Stage != StageMatched || res.Process.Matched != 2 {
		t.Errorf("stage %s matched %d, want matched/2", res.Process.Stage, res.Process.Matched)
	}
	if res.Invoice.Status != core.InvoiceStatusParsed {
		t.Errorf("status: got %s", res.Invoice.Status)
	}
	if f.parser.hint != "Fresh Foods Ltd" {
		t.Errorf("parser hint: got %q", f.parser.hint)
	}
	if !strings.HasPrefix(res.Invoice.FilePath, "file://") || res.Invoice.MimeType != extract.MIMEText {
		t.Errorf("stored document: %s %s", res.Invoice.FilePath, res.Invoice.MimeType)
	}

	byLine := map[int]core.LineMatchSuggestion{}
	for _, s := range f.invoices.suggestions {
		byLine[s.LineItemID] = s
	}
	if s := byLine[100]; s.ItemID != 1 || !s.EffectiveQuantity.Equal(dec("2")) {
		t.Errorf("coffee suggestion: %+v", s)
	}
	if s := byLine[101]; s.ItemID != 10 || !s.EffectiveQuantity.Equal(dec("100")) {
		t.Errorf("cups suggestion: %+v", s)
	}
	if _, ok := byLine[102]; ok {
		t.Error("delivery fee should stay unmatched")
	}
}

func TestSubmitInvoice_Queued(t *testing.T) {
	f := newPipelineFixture(t)
	q := &fakeQueue{}
	f.svc.queue = q

	res, err := submitText(t, f, nil)
	if err != nil {
		t.Fatalf("SubmitInvoice: %v", err)
	}
	if !res.Queued || len(q.ids) != 1 || q.ids[0] != res.Invoice.ID {
		t.Errorf("expected invoice queued, got %+v / %v", res, q.ids)
	}
	if len(f.extractor.opts) != 0 {
		t.Error("queued submission must not extract inline")
	}
}

func TestSubmitInvoice_Rejections(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SubmitInvoiceRequest
		kind core.Kind
	}{
		{"unsupported type", SubmitInvoiceRequest{FileName: "a.docx", MimeType: "application/msword", Data: []byte("x"), Actor: "a"}, core.KindInvalidRequest},
		{"empty document", SubmitInvoiceRequest{FileName: "a.pdf", MimeType: "application/pdf", Data: []byte{}, Actor: "a"}, core.KindInvalidRequest},
		{"missing actor", SubmitInvoiceRequest{FileName: "a.pdf", MimeType: "application/pdf", Data: []byte("x")}, core.KindInvalidRequest},
		{"unknown supplier", SubmitInvoiceRequest{FileName: "a.txt", MimeType: "text/plain", Data: []byte("x"), SupplierID: intPtr(99), Actor: "a"}, core.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.SubmitInvoice(ctx, tt.req)
			if got := core.KindOf(err); got != tt.kind {
				t.Errorf("kind: got %s (%v), want %s", got, err, tt.kind)
			}
		})
	}
}

func TestProcessInvoice_StopsWhenOCRNeeded(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, nil)
	f.extractor.res = &extract.Result{
		Text: "blurry", Confidence: 0.3, Method: extract.MethodOCR,
		Analysis: core.TextAnalysis{ValidationConfidence: 0.3, NeedsOCR: true},
	}

	res, err := f.svc.ProcessInvoice(context.Background(), sub.Invoice.ID)
	if err != nil {
		t.Fatalf("ProcessInvoice: %v", err)
	}
	if res.Stage != StageNeedsOCR || f.parser.calls != 0 || f.invoices.parsing != 0 {
		t.Errorf("stage %s, parser calls %d, parsing marks %d", res.Stage, f.parser.calls, f.invoices.parsing)
	}
	if res.Queues[0] != core.QueueNeedsOCR {
		t.Errorf("queues: %v", res.Queues)
	}
}

func TestProcessInvoice_ExtractionFailureRecorded(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, nil)
	f.extractor.err = core.Errorf(core.KindExtractionTimeout, "ocr timed out after 30s")

	_, err := f.svc.ProcessInvoice(context.Background(), sub.Invoice.ID)
	if !errors.Is(err, core.ErrExtractionTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !core.Retryable(core.KindOf(err)) {
		t.Error("timeouts should be retryable")
	}
	last := f.invoices.extractions[len(f.invoices.extractions)-1]
	if !last.Analysis.NeedsOCR || last.Failure == "" {
		t.Errorf("failure not recorded: %+v", last)
	}
}

func TestProcessInvoice_ParseFailure(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, nil)
	f.parser.res = core.ParseResult{Success: false, Errors: []string{"model returned no line items"}}

	_, err := f.svc.ProcessInvoice(context.Background(), sub.Invoice.ID)
	if !errors.Is(err, core.ErrParsingFailed) {
		t.Fatalf("expected PARSING_FAILED, got %v", err)
	}
	if core.Retryable(core.KindOf(err)) {
		t.Error("parse failures are not retryable as-is")
	}
	inv, _ := f.invoices.GetInvoice(context.Background(), sub.Invoice.ID)
	if inv.Status != core.InvoiceStatusError || inv.ParsingError == nil {
		t.Errorf("invoice should be in error with a reason, got %s", inv.Status)
	}
}

func TestProcessInvoice_DuplicateNumberMarksError(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, intPtr(7))
	f.invoices.parseErr = core.Errorf(core.KindInvariantViolation, "invoice INV-1001 already exists for supplier 7")

	_, err := f.svc.ProcessInvoice(context.Background(), sub.Invoice.ID)
	if !errors.Is(err, core.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	if len(f.invoices.errors) != 1 {
		t.Errorf("expected MarkError once, got %v", f.invoices.errors)
	}
}

func TestProcessInvoice_ResolvesPrintedSupplier(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, nil)

	res, err := f.svc.ProcessInvoice(context.Background(), sub.Invoice.ID)
	if err != nil {
		t.Fatalf("ProcessInvoice: %v", err)
	}
	if f.parser.hint != "" {
		t.Errorf("no hint expected without a supplier, got %q", f.parser.hint)
	}
	if res.Invoice.SupplierID == nil || *res.Invoice.SupplierID != 7 {
		t.Errorf("supplier should be resolved from the printed name, got %v", res.Invoice.SupplierID)
	}
}

func TestProcessInvoice_RefusesReviewedInvoice(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, nil)
	f.invoices.inv.Status = core.InvoiceStatusReviewing

	_, err := f.svc.ProcessInvoice(context.Background(), sub.Invoice.ID)
	if !errors.Is(err, core.ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
	if len(f.extractor.opts) != 0 {
		t.Error("extractor must not run")
	}
}

func TestReextractInvoice_ForcesOCR(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, nil)

	if _, err := f.svc.ReextractInvoice(context.Background(), ReextractRequest{
		InvoiceID: sub.Invoice.ID, Language: "deu", Actor: "bob",
	}); err != nil {
		t.Fatalf("ReextractInvoice: %v", err)
	}
	got := f.extractor.opts[len(f.extractor.opts)-1]
	if !got.ForceOCR || got.Language != "deu" {
		t.Errorf("options: %+v", got)
	}

	_, err := f.svc.ReextractInvoice(context.Background(), ReextractRequest{
		InvoiceID: sub.Invoice.ID, Language: "../etc", Actor: "bob",
	})
	if core.KindOf(err) != core.KindInvalidRequest {
		t.Errorf("expected invalid language to be rejected, got %v", err)
	}
}

func TestReextractInvoice_MovesWeakScanToReadyToMatch(t *testing.T) {
	f := newPipelineFixture(t)
	f.svc.queue = &fakeQueue{}
	sub, _ := submitText(t, f, intPtr(7))
	ctx := context.Background()

	f.extractor.res = &extract.Result{
		Text: "blurry", Confidence: 0.3, Method: extract.MethodNative,
		Analysis: core.TextAnalysis{ValidationConfidence: 0.3, NeedsOCR: true},
	}
	first, err := f.svc.ProcessInvoice(ctx, sub.Invoice.ID)
	if err != nil {
		t.Fatalf("ProcessInvoice: %v", err)
	}
	if first.Stage != StageNeedsOCR || !slices.Contains(first.Queues, core.QueueNeedsOCR) {
		t.Fatalf("first pass: stage %s queues %v", first.Stage, first.Queues)
	}
	if slices.Contains(first.Queues, core.QueueReadyToMatch) {
		t.Errorf("weak scan must not be ready to match: %v", first.Queues)
	}

	f.extractor.res = &extract.Result{
		Text: "INVOICE INV-1001 ...", Confidence: 0.85, Method: extract.MethodOCR,
		Analysis: core.TextAnalysis{ValidationConfidence: 0.85, LineItemCandidates: 3},
	}
	second, err := f.svc.ReextractInvoice(ctx, ReextractRequest{InvoiceID: sub.Invoice.ID, Language: "eng", Actor: "bob"})
	if err != nil {
		t.Fatalf("ReextractInvoice: %v", err)
	}
	if second.Stage != StageMatched || f.parser.calls != 1 {
		t.Errorf("second pass: stage %s parser calls %d", second.Stage, f.parser.calls)
	}
	if !slices.Contains(second.Queues, core.QueueReadyToMatch) || slices.Contains(second.Queues, core.QueueNeedsOCR) {
		t.Errorf("second pass queues: %v", second.Queues)
	}
	if second.Invoice.Status != core.InvoiceStatusParsed {
		t.Errorf("status: got %s", second.Invoice.Status)
	}
	if got := f.extractor.opts[len(f.extractor.opts)-1]; !got.ForceOCR {
		t.Errorf("re-extraction options: %+v", got)
	}
}
