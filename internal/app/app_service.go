package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"invoice-recon/internal/core"
	"invoice-recon/internal/export"
	"invoice-recon/internal/extract"
	"invoice-recon/internal/matching"
	"invoice-recon/internal/storage"
)

const (
	defaultSignedURLTTL = 15 * time.Minute
	defaultMaxDocument  = 20 << 20
	recentMovements     = 50
)

// TextExtractor is the text extraction stage.
type TextExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType string, opts extract.Options) (*extract.Result, error)
}

// JobQueue accepts invoices for background processing.
type JobQueue interface {
	Enqueue(invoiceID int) error
}

// Deps are the collaborators of the application service. Queue is optional: without
// it SubmitInvoice processes inline.
type Deps struct {
	Invoices   core.InvoiceService
	Inventory  core.InventoryService
	Orders     core.PurchaseOrderService
	Recon      core.ReconciliationService
	Catalog    core.CatalogService
	Extractor  TextExtractor
	Parser     core.InvoiceParser
	Store      storage.FileStore
	Units      *matching.UnitTable
	Queue      JobQueue
	Thresholds core.Thresholds

	SignedURLTTL     time.Duration
	MaxDocumentBytes int64
	HTTPClient       *http.Client
	Log              zerolog.Logger
}

type appService struct {
	invoices  core.InvoiceService
	inventory core.InventoryService
	orders    core.PurchaseOrderService
	recon     core.ReconciliationService
	catalog   core.CatalogService
	extractor TextExtractor
	parser    core.InvoiceParser
	store     storage.FileStore
	units     *matching.UnitTable
	queue     JobQueue
	th        core.Thresholds

	signedURLTTL time.Duration
	maxBytes     int64
	fetch        func(ctx context.Context, url string) ([]byte, error)
	validate     *validator.Validate
	log          zerolog.Logger
}

// NewAppService constructs an appService that satisfies ApplicationService.
func NewAppService(d Deps) ApplicationService {
	return newAppService(d)
}

func newAppService(d Deps) *appService {
	s := &appService{
		invoices:     d.Invoices,
		inventory:    d.Inventory,
		orders:       d.Orders,
		recon:        d.Recon,
		catalog:      d.Catalog,
		extractor:    d.Extractor,
		parser:       d.Parser,
		store:        d.Store,
		units:        d.Units,
		queue:        d.Queue,
		th:           d.Thresholds,
		signedURLTTL: d.SignedURLTTL,
		maxBytes:     d.MaxDocumentBytes,
		validate:     newValidator(),
		log:          d.Log.With().Str("component", "app").Logger(),
	}
	if s.units == nil {
		s.units = matching.NewUnitTable()
	}
	if s.signedURLTTL <= 0 {
		s.signedURLTTL = defaultSignedURLTTL
	}
	if s.maxBytes <= 0 {
		s.maxBytes = defaultMaxDocument
	}
	client := d.HTTPClient
	s.fetch = func(ctx context.Context, url string) ([]byte, error) {
		return storage.Fetch(ctx, client, url, s.maxBytes)
	}
	return s
}

// ListInvoices returns one page of invoices with summary statistics.
func (s *appService) ListInvoices(ctx context.Context, req ListInvoicesRequest) (*InvoiceListResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	q, err := core.ParseQueue(req.Queue)
	if err != nil {
		return nil, err
	}
	page, err := s.invoices.ListInvoices(ctx, core.InvoiceFilter{
		Queue:      q,
		Status:     core.InvoiceStatus(req.Status),
		SupplierID: req.SupplierID,
		From:       req.From,
		To:         req.To,
		Page:       req.Page,
		PageSize:   req.PageSize,
	})
	if err != nil {
		return nil, err
	}
	out := &InvoiceListResult{
		Invoices:     make([]InvoiceSummary, 0, len(page.Invoices)),
		Total:        page.Total,
		Page:         page.Page,
		PageSize:     page.PageSize,
		TotalAmount:  page.TotalAmount,
		QueueCounts:  page.QueueCounts,
		StatusCounts: page.StatusCounts,
	}
	for i := range page.Invoices {
		inv := page.Invoices[i]
		out.Invoices = append(out.Invoices, InvoiceSummary{Invoice: inv, Queues: inv.Queues(s.th)})
	}
	return out, nil
}

// GetInvoice returns the invoice with its queues and active purchase order link.
func (s *appService) GetInvoice(ctx context.Context, invoiceID int) (*InvoiceResult, error) {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	link, err := s.activeLink(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv, Queues: inv.Queues(s.th), Link: link}, nil
}

// activeLink returns nil when the invoice has no live link.
func (s *appService) activeLink(ctx context.Context, invoiceID int) (*core.OrderInvoiceMatch, error) {
	link, err := s.recon.ActiveLink(ctx, invoiceID)
	if errors.Is(err, core.ErrNotFound) {
		return nil, nil
	}
	return link, err
}

// MatchCandidates ranks the catalog for one line without persisting anything.
func (s *appService) MatchCandidates(ctx context.Context, lineItemID int) (*CandidatesResult, error) {
	line, err := s.invoices.GetLineItem(ctx, lineItemID)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetInvoice(ctx, line.InvoiceID)
	if err != nil {
		return nil, err
	}
	engine, recency, err := s.matcher(ctx, inv.SupplierID)
	if err != nil {
		return nil, err
	}
	r := engine.Match(lineInput(line), recency)
	return &CandidatesResult{LineItem: line, Candidates: r.Candidates, Best: r.Best, Effective: r.EffectiveQuantity}, nil
}

func (s *appService) ConfirmMatch(ctx context.Context, req ConfirmMatchRequest) (*LineItemResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	line, err := s.recon.ConfirmMatch(ctx, core.ConfirmMatchInput{
		LineItemID: req.LineItemID,
		ItemID:     req.ItemID,
		Actor:      req.Actor,
		Notes:      req.Notes,
	})
	if err != nil {
		return nil, err
	}
	return &LineItemResult{LineItem: line}, nil
}

func (s *appService) SkipLineItem(ctx context.Context, req SkipLineItemRequest) (*LineItemResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	line, err := s.recon.SkipLineItem(ctx, core.SkipInput{LineItemID: req.LineItemID, Reason: req.Reason, Actor: req.Actor})
	if err != nil {
		return nil, err
	}
	return &LineItemResult{LineItem: line}, nil
}

func (s *appService) CreateAndMatch(ctx context.Context, req CreateAndMatchRequest) (*LineItemResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	it := req.Item
	class := core.ItemClass(it.ItemClass)
	if class == "" {
		class = core.ItemClassIngredient
	}
	line, item, err := s.recon.CreateAndMatch(ctx, core.CreateAndMatchInput{
		LineItemID: req.LineItemID,
		Actor:      req.Actor,
		Item: core.NewItemInput{
			Name:             it.Name,
			SKU:              it.SKU,
			MinimumThreshold: it.MinimumThreshold,
			ReorderPoint:     it.ReorderPoint,
			UnitCost:         it.UnitCost,
			UnitType:         it.UnitType,
			PackSize:         it.PackSize,
			SupplierID:       it.SupplierID,
			ItemClass:        class,
		},
	})
	if err != nil {
		return nil, err
	}
	return &LineItemResult{LineItem: line, Item: item}, nil
}

func (s *appService) RemoveMatch(ctx context.Context, req LineActionRequest) (*LineItemResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	line, err := s.recon.RemoveMatch(ctx, req.LineItemID, req.Actor)
	if err != nil {
		return nil, err
	}
	return &LineItemResult{LineItem: line}, nil
}

func (s *appService) ReopenLineItem(ctx context.Context, req LineActionRequest) (*LineItemResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	line, err := s.recon.ReopenLineItem(ctx, req.LineItemID, req.Actor)
	if err != nil {
		return nil, err
	}
	return &LineItemResult{LineItem: line}, nil
}

// LinkPurchaseOrder links the invoice to an order. A supplied variance is stored as given.
func (s *appService) LinkPurchaseOrder(ctx context.Context, req LinkPurchaseOrderRequest) (*LinkResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	in := core.LinkInput{InvoiceID: req.InvoiceID, OrderID: req.OrderID, Method: req.Method, Actor: req.Actor}
	if v := req.Variance; v != nil {
		in.Supplied = &core.VarianceInput{
			QuantityVariance: v.QuantityVariance,
			AmountVariance:   v.AmountVariance,
			Notes:            v.Notes,
			Confidence:       v.Confidence,
		}
	}
	link, err := s.recon.LinkPurchaseOrder(ctx, in)
	if err != nil {
		return nil, err
	}
	return &LinkResult{Link: link}, nil
}

func (s *appService) ResolvePurchaseOrderLink(ctx context.Context, req ResolveLinkRequest) (*LinkResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	link, err := s.recon.ResolvePurchaseOrderLink(ctx, req.InvoiceID, req.Accept, req.Actor, req.Notes)
	if err != nil {
		return nil, err
	}
	return &LinkResult{Link: link}, nil
}

// ConfirmInvoice posts stock for every matched line and closes the invoice.
func (s *appService) ConfirmInvoice(ctx context.Context, req ConfirmInvoiceRequest) (*InvoiceResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	inv, err := s.recon.ConfirmInvoice(ctx, req.InvoiceID, req.Actor)
	if err != nil {
		return nil, err
	}
	link, err := s.activeLink(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &InvoiceResult{Invoice: inv, Queues: inv.Queues(s.th), Link: link}, nil
}

func (s *appService) AdjustStock(ctx context.Context, req AdjustStockRequest) (*MovementResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	mv, err := s.inventory.AdjustStock(ctx, core.StockAdjustment{
		ItemID: req.ItemID,
		Target: req.Target,
		Actor:  req.Actor,
		Notes:  req.Notes,
	})
	if err != nil {
		return nil, err
	}
	item, err := s.inventory.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	return &MovementResult{Movement: mv, Item: item}, nil
}

func (s *appService) RevertCost(ctx context.Context, req RevertCostRequest) (*CostResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	entry, err := s.inventory.RevertCost(ctx, core.CostRevert{
		ItemID:          req.ItemID,
		TargetCost:      req.TargetCost,
		Actor:           req.Actor,
		Reason:          req.Reason,
		SourceReference: req.SourceReference,
	})
	if err != nil {
		return nil, err
	}
	item, err := s.inventory.GetItem(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	return &CostResult{Entry: entry, Item: item}, nil
}

func (s *appService) ListItems(ctx context.Context, supplierID *int) (*ItemListResult, error) {
	items, err := s.inventory.ListItems(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	return &ItemListResult{Items: items}, nil
}

func (s *appService) GetItem(ctx context.Context, itemID int) (*ItemResult, error) {
	item, err := s.inventory.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	movements, err := s.inventory.ListMovements(ctx, itemID, recentMovements)
	if err != nil {
		return nil, err
	}
	costs, err := s.inventory.ListCostHistory(ctx, itemID)
	if err != nil {
		return nil, err
	}
	alerts, err := s.inventory.OpenAlerts(ctx, &itemID)
	if err != nil {
		return nil, err
	}
	return &ItemResult{Item: item, Movements: movements, CostHistory: costs, Alerts: alerts}, nil
}

// CreatePurchaseOrder creates a new draft purchase order.
func (s *appService) CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*PurchaseOrderResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	lines := make([]core.PurchaseOrderLineInput, len(req.Lines))
	for i, l := range req.Lines {
		lines[i] = core.PurchaseOrderLineInput{
			InventoryItemID: l.InventoryItemID,
			Description:     l.Description,
			Quantity:        l.Quantity,
			UnitCost:        l.UnitCost,
		}
	}
	po, err := s.orders.CreatePurchaseOrder(ctx, core.NewPurchaseOrderInput{
		SupplierID: req.SupplierID,
		Lines:      lines,
		Notes:      req.Notes,
		Actor:      req.Actor,
	})
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po, Next: core.NextStatuses(po.Status)}, nil
}

// GetPurchaseOrder returns a single purchase order with its status history.
func (s *appService) GetPurchaseOrder(ctx context.Context, orderID int) (*PurchaseOrderResult, error) {
	po, err := s.orders.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	history, err := s.orders.GetStatusHistory(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po, History: history, Next: core.NextStatuses(po.Status)}, nil
}

func (s *appService) ListPurchaseOrders(ctx context.Context, req ListPurchaseOrdersRequest) (*PurchaseOrdersResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	orders, err := s.orders.ListPurchaseOrders(ctx, req.SupplierID, core.POStatus(req.Status))
	if err != nil {
		return nil, err
	}
	return &PurchaseOrdersResult{Orders: orders}, nil
}

// TransitionPurchaseOrder applies a state machine transition.
func (s *appService) TransitionPurchaseOrder(ctx context.Context, req TransitionPurchaseOrderRequest) (*PurchaseOrderResult, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}
	to := core.POStatus(req.Status)
	if !to.Valid() {
		return nil, core.Errorf(core.KindInvalidRequest, "unknown purchase order status %q", req.Status)
	}
	po, err := s.orders.TransitionStatus(ctx, req.OrderID, to, req.Actor, req.Note)
	if err != nil {
		return nil, err
	}
	return &PurchaseOrderResult{Order: po, Next: core.NextStatuses(po.Status)}, nil
}

// ExportInvoice writes the reconciliation workbook for the invoice.
func (s *appService) ExportInvoice(ctx context.Context, invoiceID int, w io.Writer) error {
	inv, err := s.invoices.GetInvoice(ctx, invoiceID)
	if err != nil {
		return err
	}
	link, err := s.activeLink(ctx, invoiceID)
	if err != nil {
		return err
	}
	if err := export.WriteInvoiceWorkbook(w, inv, link); err != nil {
		return fmt.Errorf("export invoice %d: %w", invoiceID, err)
	}
	return nil
}
