package web

import (
	"net/http"

	"invoice-recon/internal/app"
)

// listItems handles GET /api/items?supplier_id=.
func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	var supplierID *int
	if !queryIntPtr(w, r, "supplier_id", &supplierID) {
		return
	}
	result, err := h.svc.ListItems(r.Context(), supplierID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// getItem handles GET /api/items/{id}.
func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetItem(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// adjustStock handles POST /api/items/{id}/adjust.
// Body: { target, notes? }
func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.AdjustStockRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ItemID = id
	req.Actor = actor(r)

	result, err := h.svc.AdjustStock(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// revertCost handles POST /api/items/{id}/revert-cost.
// Body: { target_cost, reason, source_reference? }
func (h *Handler) revertCost(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.RevertCostRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.ItemID = id
	req.Actor = actor(r)

	result, err := h.svc.RevertCost(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
