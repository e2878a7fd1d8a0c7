package web

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"invoice-recon/internal/app"
	"invoice-recon/internal/core"
)

// submitInvoice handles POST /api/invoices.
// Multipart form: file (required), supplier_id?, supplier_hint?
func (h *Handler) submitInvoice(w http.ResponseWriter, r *http.Request) {
	// Allow room for the multipart envelope around the document itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+(1<<20))
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "upload too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, r, "invalid multipart form: "+err.Error(), string(core.KindInvalidRequest), http.StatusBadRequest)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, "file is required", string(core.KindInvalidRequest), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, "failed to read upload", string(core.KindInvalidRequest), http.StatusBadRequest)
		return
	}

	req := app.SubmitInvoiceRequest{
		FileName:     header.Filename,
		MimeType:     uploadMIME(header.Header.Get("Content-Type"), data),
		Data:         data,
		SupplierHint: strings.TrimSpace(r.FormValue("supplier_hint")),
		Actor:        actor(r),
	}
	if raw := r.FormValue("supplier_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, r, "supplier_id must be an integer", string(core.KindInvalidRequest), http.StatusBadRequest)
			return
		}
		req.SupplierID = &id
	}

	result, err := h.svc.SubmitInvoice(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Queued {
		status = http.StatusAccepted
	}
	writeJSONStatus(w, status, result)
}

// uploadMIME trusts the part's declared type unless it is missing or generic.
func uploadMIME(declared string, data []byte) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	return http.DetectContentType(data)
}

// listInvoices handles GET /api/invoices.
// Query: queue?, status?, supplier_id?, from?, to? (YYYY-MM-DD or RFC 3339), page?, page_size?
func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.ListInvoicesRequest{
		Queue:  q.Get("queue"),
		Status: q.Get("status"),
	}
	if !queryIntPtr(w, r, "supplier_id", &req.SupplierID) ||
		!queryInt(w, r, "page", &req.Page) ||
		!queryInt(w, r, "page_size", &req.PageSize) {
		return
	}
	for name, dst := range map[string]**time.Time{"from": &req.From, "to": &req.To} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		t, err := parseDate(raw)
		if err != nil {
			writeError(w, r, fmt.Sprintf("%s: %v", name, err), string(core.KindInvalidRequest), http.StatusBadRequest)
			return
		}
		*dst = &t
	}

	result, err := h.svc.ListInvoices(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	return t, nil
}

// getInvoice handles GET /api/invoices/{id}.
func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// processInvoice handles POST /api/invoices/{id}/process.
func (h *Handler) processInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.ProcessInvoice(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// reextractInvoice handles POST /api/invoices/{id}/reextract.
// Body (optional): { language? }
func (h *Handler) reextractInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.ReextractRequest
	if !decodeOptionalJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	req.Actor = actor(r)

	result, err := h.svc.ReextractInvoice(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// linkPurchaseOrder handles POST /api/invoices/{id}/purchase-order.
// Body: { order_id, method?, variance?: { quantity_variance, amount_variance, notes, confidence } }
func (h *Handler) linkPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.LinkPurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	req.Actor = actor(r)

	result, err := h.svc.LinkPurchaseOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// resolvePurchaseOrderLink handles POST /api/invoices/{id}/purchase-order/resolve.
// Body: { accept, notes? }
func (h *Handler) resolvePurchaseOrderLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.ResolveLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.InvoiceID = id
	req.Actor = actor(r)

	result, err := h.svc.ResolvePurchaseOrderLink(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// confirmInvoice handles POST /api/invoices/{id}/confirm.
func (h *Handler) confirmInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.ConfirmInvoice(r.Context(), app.ConfirmInvoiceRequest{InvoiceID: id, Actor: actor(r)})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// exportInvoice handles GET /api/invoices/{id}/export and returns an xlsx workbook.
func (h *Handler) exportInvoice(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	// Buffer so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.svc.ExportInvoice(r.Context(), id, &buf); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="invoice-%d.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = buf.WriteTo(w)
}
