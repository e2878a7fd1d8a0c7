package web

import (
	"net/http"
	"strconv"

	"invoice-recon/internal/app"
	"invoice-recon/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ActorHeader carries the reviewer identity set by the authenticating proxy.
const ActorHeader = "X-Actor"

// Options configures the HTTP adapter.
type Options struct {
	AllowedOrigins string
	// JWTSecret enables bearer-token authentication. Empty trusts the X-Actor header.
	JWTSecret string
	// MaxUploadBytes caps the multipart body of an invoice upload.
	MaxUploadBytes int64
}

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc       app.ApplicationService
	router    chi.Router
	log       zerolog.Logger
	maxUpload int64
}

// NewHandler creates and wires the chi router with all routes.
func NewHandler(svc app.ApplicationService, opts Options, log zerolog.Logger) http.Handler {
	h := &Handler{
		svc:       svc,
		log:       log.With().Str("component", "http").Logger(),
		maxUpload: opts.MaxUploadBytes,
	}
	if h.maxUpload <= 0 {
		h.maxUpload = 20 << 20
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(h.log))
	r.Use(Recoverer(h.log))
	r.Use(CORS(opts.AllowedOrigins))

	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(RequireAuth(opts.JWTSecret))

		// Uploads manage their own body limit.
		r.Post("/api/invoices", h.submitInvoice)

		r.Group(func(r chi.Router) {
			r.Use(RequestBodyLimit(1 << 20))

			// ── Invoices ─────────────────────────────────────────────────────────
			r.Get("/api/invoices", h.listInvoices)
			r.Get("/api/invoices/{id}", h.getInvoice)
			r.Post("/api/invoices/{id}/process", h.processInvoice)
			r.Post("/api/invoices/{id}/reextract", h.reextractInvoice)
			r.Post("/api/invoices/{id}/purchase-order", h.linkPurchaseOrder)
			r.Post("/api/invoices/{id}/purchase-order/resolve", h.resolvePurchaseOrderLink)
			r.Post("/api/invoices/{id}/confirm", h.confirmInvoice)
			r.Get("/api/invoices/{id}/export", h.exportInvoice)

			// ── Line items ───────────────────────────────────────────────────────
			r.Get("/api/line-items/{id}/candidates", h.matchCandidates)
			r.Post("/api/line-items/{id}/match", h.confirmMatch)
			r.Post("/api/line-items/{id}/skip", h.skipLineItem)
			r.Post("/api/line-items/{id}/create-item", h.createAndMatch)
			r.Post("/api/line-items/{id}/unmatch", h.removeMatch)
			r.Post("/api/line-items/{id}/reopen", h.reopenLineItem)

			// ── Inventory ────────────────────────────────────────────────────────
			r.Get("/api/items", h.listItems)
			r.Get("/api/items/{id}", h.getItem)
			r.Post("/api/items/{id}/adjust", h.adjustStock)
			r.Post("/api/items/{id}/revert-cost", h.revertCost)

			// ── Purchase orders ──────────────────────────────────────────────────
			r.Get("/api/purchase-orders", h.listPurchaseOrders)
			r.Post("/api/purchase-orders", h.createPurchaseOrder)
			r.Get("/api/purchase-orders/{id}", h.getPurchaseOrder)
			r.Post("/api/purchase-orders/{id}/transition", h.transitionPurchaseOrder)
		})
	})

	h.router = r
	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// pathID parses the {id} URL parameter, writing a 400 when it is not a positive integer.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		writeError(w, r, "invalid id "+strconv.Quote(raw), string(core.KindInvalidRequest), http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// queryInt parses an optional integer query parameter into dst.
func queryInt(w http.ResponseWriter, r *http.Request, name string, dst *int) bool {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, name+" must be an integer", string(core.KindInvalidRequest), http.StatusBadRequest)
		return false
	}
	*dst = v
	return true
}

// queryIntPtr is queryInt for optional filters, leaving dst nil when absent.
func queryIntPtr(w http.ResponseWriter, r *http.Request, name string, dst **int) bool {
	if r.URL.Query().Get(name) == "" {
		return true
	}
	var v int
	if !queryInt(w, r, name, &v) {
		return false
	}
	*dst = &v
	return true
}
