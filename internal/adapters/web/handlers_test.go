package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoice-recon/internal/app"
	"invoice-recon/internal/core"
)

// fakeService records the last request of the operations under test. Calling an
// operation it does not override panics on the nil embedded interface.
type fakeService struct {
	app.ApplicationService

	submitted  *app.SubmitInvoiceRequest
	listed     *app.ListInvoicesRequest
	matched    *app.ConfirmMatchRequest
	reextract  *app.ReextractRequest
	invoiceErr error
	exportErr  error
}

func (f *fakeService) SubmitInvoice(_ context.Context, req app.SubmitInvoiceRequest) (*app.SubmitResult, error) {
	f.submitted = &req
	return &app.SubmitResult{Invoice: &core.Invoice{ID: 1, Status: core.InvoiceStatusUploaded}, Queued: true}, nil
}

func (f *fakeService) ListInvoices(_ context.Context, req app.ListInvoicesRequest) (*app.InvoiceListResult, error) {
	f.listed = &req
	return &app.InvoiceListResult{Page: 1, PageSize: 25}, nil
}

func (f *fakeService) GetInvoice(_ context.Context, id int) (*app.InvoiceResult, error) {
	if f.invoiceErr != nil {
		return nil, f.invoiceErr
	}
	return &app.InvoiceResult{Invoice: &core.Invoice{ID: id, Status: core.InvoiceStatusParsed}}, nil
}

func (f *fakeService) ReextractInvoice(_ context.Context, req app.ReextractRequest) (*app.ProcessResult, error) {
	f.reextract = &req
	return &app.ProcessResult{Stage: app.StageMatched}, nil
}

func (f *fakeService) ConfirmMatch(_ context.Context, req app.ConfirmMatchRequest) (*app.LineItemResult, error) {
	f.matched = &req
	qty := decimal.NewFromInt(2)
	return &app.LineItemResult{LineItem: &core.InvoiceLineItem{
		ID:                req.LineItemID,
		MatchedItemID:     &req.ItemID,
		EffectiveQuantity: &qty,
		Reviewed:          true,
	}}, nil
}

func (f *fakeService) ExportInvoice(_ context.Context, _ int, w io.Writer) error {
	if f.exportErr != nil {
		return f.exportErr
	}
	_, err := w.Write([]byte("PK\x03\x04workbook"))
	return err
}

func newTestHandler(svc app.ApplicationService) http.Handler {
	return NewHandler(svc, Options{AllowedOrigins: "https://review.example.com", MaxUploadBytes: 1 << 20}, zerolog.Nop())
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestHandler(&fakeService{}), http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated X-Request-ID")
	}
}

func TestRequestID_KeepsSafeCallerID(t *testing.T) {
	h := newTestHandler(&fakeService{})
	rec := do(t, h, http.MethodGet, "/api/health", nil, map[string]string{"X-Request-ID": "abc-123"})
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("request id = %q, want abc-123", got)
	}
	rec = do(t, h, http.MethodGet, "/api/health", nil, map[string]string{"X-Request-ID": "bad id;drop"})
	if got := rec.Header().Get("X-Request-ID"); got == "bad id;drop" || got == "" {
		t.Errorf("unsafe request id should be replaced, got %q", got)
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		code      string
		retryable bool
	}{
		{"not found", core.Errorf(core.KindNotFound, "invoice 9 not found"), http.StatusNotFound, "NOT_FOUND", false},
		{"invalid transition", core.Errorf(core.KindInvalidTransition, "invoice is confirmed"), http.StatusConflict, "INVALID_TRANSITION", false},
		{"invariant", core.Errorf(core.KindInvariantViolation, "duplicate invoice number"), http.StatusUnprocessableEntity, "INVARIANT_VIOLATION", false},
		{"parsing failed", core.Errorf(core.KindParsingFailed, "no line items"), http.StatusUnprocessableEntity, "PARSING_FAILED", false},
		{"conflict", core.Errorf(core.KindConflict, "invoice is locked"), http.StatusConflict, "CONFLICT", true},
		{"extraction timeout", core.Errorf(core.KindExtractionTimeout, "ocr timed out"), http.StatusGatewayTimeout, "EXTRACTION_TIMEOUT", true},
		{"asset unavailable", core.Errorf(core.KindAssetUnavailable, "tessdata missing"), http.StatusServiceUnavailable, "ASSET_UNAVAILABLE", true},
		{"unclassified", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&fakeService{invoiceErr: tt.err})
			rec := do(t, h, http.MethodGet, "/api/invoices/9", nil, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.code || resp.Retryable != tt.retryable {
				t.Errorf("body = %+v, want code %s retryable %v", resp, tt.code, tt.retryable)
			}
			if resp.RequestID == "" {
				t.Error("request_id missing from error body")
			}
			if tt.code == "INTERNAL_ERROR" && strings.Contains(resp.Error, "connection reset") {
				t.Error("internal error detail leaked to the client")
			}
		})
	}
}

func TestConfirmMatch_TakesActorAndPathID(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestHandler(svc), http.MethodPost, "/api/line-items/12/match",
		strings.NewReader(`{"item_id": 3, "notes": "same beans"}`),
		map[string]string{ActorHeader: "alice", "Content-Type": "application/json"})

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if svc.matched == nil {
		t.Fatal("service not called")
	}
	if svc.matched.LineItemID != 12 || svc.matched.ItemID != 3 || svc.matched.Actor != "alice" || svc.matched.Notes != "same beans" {
		t.Errorf("request = %+v", *svc.matched)
	}

	var body struct {
		LineItem struct {
			ID                int    `json:"id"`
			MatchedItemID     int    `json:"matched_item_id"`
			EffectiveQuantity string `json:"effective_quantity"`
		} `json:"line_item"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.LineItem.ID != 12 || body.LineItem.MatchedItemID != 3 || body.LineItem.EffectiveQuantity != "2" {
		t.Errorf("response = %+v", body)
	}
}

func TestDecode_RejectsUnknownFields(t *testing.T) {
	svc := &fakeService{}
	rec := do(t, newTestHandler(svc), http.MethodPost, "/api/line-items/12/match",
		strings.NewReader(`{"item_id": 3, "actor": "mallory"}`), map[string]string{ActorHeader: "alice"})

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "INVALID_REQUEST" {
		t.Errorf("code = %s", resp.Code)
	}
	if svc.matched != nil {
		t.Error("service should not be called with a rejected body")
	}
}

func TestValidationErrorsListFields(t *testing.T) {
	// Validation runs before any collaborator is touched.
	svc := app.NewAppService(app.Deps{Log: zerolog.Nop()})
	rec := do(t, newTestHandler(svc), http.MethodPost, "/api/line-items/5/skip",
		strings.NewReader(`{"reason": ""}`), nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeError(t, rec)
	if resp.Fields["actor"] != "required" || resp.Fields["reason"] != "required" {
		t.Errorf("fields = %v", resp.Fields)
	}
}

func TestInvalidPathID(t *testing.T) {
	rec := do(t, newTestHandler(&fakeService{}), http.MethodGet, "/api/invoices/abc", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, fileName string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if fileName != "" {
		part, err := mw.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestSubmitInvoice_Multipart(t *testing.T) {
	svc := &fakeService{}
	body, ctype := multipartUpload(t, map[string]string{"supplier_id": "7", "supplier_hint": " Fresh Foods "},
		"inv-1001.txt", []byte("INVOICE INV-1001\nCoffee Beans 2 lbs  1  18.00\n"))

	rec := do(t, newTestHandler(svc), http.MethodPost, "/api/invoices", body,
		map[string]string{"Content-Type": ctype, ActorHeader: "alice"})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := svc.submitted
	if got == nil {
		t.Fatal("service not called")
	}
	if got.FileName != "inv-1001.txt" || got.Actor != "alice" || got.SupplierHint != "Fresh Foods" {
		t.Errorf("request = %+v", *got)
	}
	if got.SupplierID == nil || *got.SupplierID != 7 {
		t.Errorf("supplier id = %v", got.SupplierID)
	}
	// CreateFormFile declares application/octet-stream, so the type is sniffed.
	if !strings.HasPrefix(got.MimeType, "text/plain") {
		t.Errorf("mime type = %q", got.MimeType)
	}
}

func TestSubmitInvoice_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]string
		file   string
		data   []byte
		status int
	}{
		{"missing file", nil, "", nil, http.StatusBadRequest},
		{"bad supplier id", map[string]string{"supplier_id": "seven"}, "a.txt", []byte("x"), http.StatusBadRequest},
		{"too large", nil, "big.txt", bytes.Repeat([]byte("a"), 3<<20), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			body, ctype := multipartUpload(t, tt.fields, tt.file, tt.data)
			rec := do(t, newTestHandler(svc), http.MethodPost, "/api/invoices", body,
				map[string]string{"Content-Type": ctype, ActorHeader: "alice"})
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.status, rec.Body.String())
			}
			if svc.submitted != nil {
				t.Error("service should not be called")
			}
		})
	}
}

func TestListInvoices_Query(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(svc)
	rec := do(t, h, http.MethodGet, "/api/invoices?queue=needs-ocr&supplier_id=3&page=2&page_size=10&from=2026-01-01", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	got := svc.listed
	if got.Queue != "needs-ocr" || got.Page != 2 || got.PageSize != 10 {
		t.Errorf("request = %+v", *got)
	}
	if got.SupplierID == nil || *got.SupplierID != 3 {
		t.Errorf("supplier id = %v", got.SupplierID)
	}
	if got.From == nil || got.From.Format("2006-01-02") != "2026-01-01" || got.To != nil {
		t.Errorf("date range = %v..%v", got.From, got.To)
	}

	for _, q := range []string{"page=two", "from=01/02/2026", "supplier_id=x"} {
		rec := do(t, h, http.MethodGet, "/api/invoices?"+q, nil, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestReextract_BodyIsOptional(t *testing.T) {
	svc := &fakeService{}
	h := newTestHandler(svc)

	rec := do(t, h, http.MethodPost, "/api/invoices/4/reextract", nil, map[string]string{ActorHeader: "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if svc.reextract.InvoiceID != 4 || svc.reextract.Language != "" {
		t.Errorf("request = %+v", *svc.reextract)
	}

	rec = do(t, h, http.MethodPost, "/api/invoices/4/reextract", strings.NewReader(`{"language":"deu"}`),
		map[string]string{ActorHeader: "alice"})
	if rec.Code != http.StatusOK || svc.reextract.Language != "deu" {
		t.Errorf("status = %d, language = %q", rec.Code, svc.reextract.Language)
	}
}

func TestExportInvoice(t *testing.T) {
	rec := do(t, newTestHandler(&fakeService{}), http.MethodGet, "/api/invoices/3/export", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
		t.Errorf("content type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "invoice-3.xlsx") {
		t.Errorf("content disposition = %q", cd)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Error("expected the workbook bytes")
	}

	rec = do(t, newTestHandler(&fakeService{exportErr: core.Errorf(core.KindNotFound, "invoice 3 not found")}),
		http.MethodGet, "/api/invoices/3/export", nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("error content type = %q", ct)
	}
}

func TestCORS(t *testing.T) {
	h := newTestHandler(&fakeService{})

	rec := do(t, h, http.MethodOptions, "/api/invoices", nil, map[string]string{"Origin": "https://review.example.com"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://review.example.com" {
		t.Error("allowed origin not echoed")
	}

	rec = do(t, h, http.MethodGet, "/api/health", nil, map[string]string{"Origin": "https://evil.example.com"})
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("unknown origin must not be allowed")
	}
}

func TestRecoverer(t *testing.T) {
	// ListItems is not overridden, so the call panics on the nil embedded interface.
	rec := do(t, newTestHandler(&fakeService{}), http.MethodGet, "/api/items", nil, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "INTERNAL_ERROR" {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestListInvoices_HugePageIsBadRequest(t *testing.T) {
	svc := app.NewAppService(app.Deps{Log: zerolog.Nop()})
	rec := do(t, newTestHandler(svc), http.MethodGet, "/api/invoices?page=9223372036854775807", nil, nil)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeError(t, rec); resp.Fields["page"] != "lte" {
		t.Errorf("fields = %v", resp.Fields)
	}
}
