package web

import (
	"net/http"

	"invoice-recon/internal/app"
)

// listPurchaseOrders handles GET /api/purchase-orders?supplier_id=&status=.
func (h *Handler) listPurchaseOrders(w http.ResponseWriter, r *http.Request) {
	req := app.ListPurchaseOrdersRequest{Status: r.URL.Query().Get("status")}
	if !queryIntPtr(w, r, "supplier_id", &req.SupplierID) {
		return
	}
	result, err := h.svc.ListPurchaseOrders(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// createPurchaseOrder handles POST /api/purchase-orders.
// Body: { supplier_id, notes?, lines: [{inventory_item_id?, description, quantity, unit_cost}] }
func (h *Handler) createPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	var req app.CreatePurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Actor = actor(r)

	result, err := h.svc.CreatePurchaseOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// getPurchaseOrder handles GET /api/purchase-orders/{id}.
func (h *Handler) getPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.GetPurchaseOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// transitionPurchaseOrder handles POST /api/purchase-orders/{id}/transition.
// Body: { status, note? }
func (h *Handler) transitionPurchaseOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.TransitionPurchaseOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.OrderID = id
	req.Actor = actor(r)

	result, err := h.svc.TransitionPurchaseOrder(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}
