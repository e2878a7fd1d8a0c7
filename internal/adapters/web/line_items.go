package web

import (
	"net/http"

	"invoice-recon/internal/app"
)

// matchCandidates handles GET /api/line-items/{id}/candidates.
func (h *Handler) matchCandidates(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	result, err := h.svc.MatchCandidates(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, result)
}

// confirmMatch handles POST /api/line-items/{id}/match.
// Body: { item_id, notes? }
func (h *Handler) confirmMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.ConfirmMatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.LineItemID = id
	req.Actor = actor(r)
	h.lineItemResult(w, r)(h.svc.ConfirmMatch(r.Context(), req))
}

// skipLineItem handles POST /api/line-items/{id}/skip.
// Body: { reason }
func (h *Handler) skipLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.SkipLineItemRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.LineItemID = id
	req.Actor = actor(r)
	h.lineItemResult(w, r)(h.svc.SkipLineItem(r.Context(), req))
}

// createAndMatch handles POST /api/line-items/{id}/create-item.
// Body: { item: { name, sku?, unit_type, unit_cost, pack_size?, minimum_threshold?, reorder_point?, supplier_id?, item_class? } }
func (h *Handler) createAndMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req app.CreateAndMatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.LineItemID = id
	req.Actor = actor(r)

	result, err := h.svc.CreateAndMatch(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, result)
}

// removeMatch handles POST /api/line-items/{id}/unmatch.
func (h *Handler) removeMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req := app.LineActionRequest{LineItemID: id, Actor: actor(r)}
	h.lineItemResult(w, r)(h.svc.RemoveMatch(r.Context(), req))
}

// reopenLineItem handles POST /api/line-items/{id}/reopen.
func (h *Handler) reopenLineItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	req := app.LineActionRequest{LineItemID: id, Actor: actor(r)}
	h.lineItemResult(w, r)(h.svc.ReopenLineItem(r.Context(), req))
}

// lineItemResult renders the outcome of a reviewer action.
func (h *Handler) lineItemResult(w http.ResponseWriter, r *http.Request) func(*app.LineItemResult, error) {
	return func(result *app.LineItemResult, err error) {
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, result)
	}
}
