package app

import (
	"context"
	"io"
)

// ApplicationService is the single interface the HTTP adapter and the CLI call.
// It decouples presentation from business logic. Implementations contain no
// display logic of any kind.
type ApplicationService interface {
	// SubmitInvoice stores the uploaded document, creates the invoice in status uploaded
	// and hands it to the processor. Without a processor the pipeline runs inline.
	SubmitInvoice(ctx context.Context, req SubmitInvoiceRequest) (*SubmitResult, error)

	// ProcessInvoice runs extraction, validation, parsing and matching for an uploaded invoice.
	ProcessInvoice(ctx context.Context, invoiceID int) (*ProcessResult, error)

	// ReextractInvoice forces OCR on an invoice that is not yet under review and reruns
	// the rest of the pipeline.
	ReextractInvoice(ctx context.Context, req ReextractRequest) (*ProcessResult, error)

	// ListInvoices returns one page of invoices with summary statistics and queue counts.
	ListInvoices(ctx context.Context, req ListInvoicesRequest) (*InvoiceListResult, error)

	// GetInvoice returns the invoice, its line items, queues and active order link.
	GetInvoice(ctx context.Context, invoiceID int) (*InvoiceResult, error)

	// MatchCandidates ranks inventory items for one line item without changing it.
	MatchCandidates(ctx context.Context, lineItemID int) (*CandidatesResult, error)

	// ConfirmMatch matches a line item to an existing inventory item.
	ConfirmMatch(ctx context.Context, req ConfirmMatchRequest) (*LineItemResult, error)

	// SkipLineItem marks a line item as not stocked, with a reason.
	SkipLineItem(ctx context.Context, req SkipLineItemRequest) (*LineItemResult, error)

	// CreateAndMatch creates an inventory item and matches the line to it.
	CreateAndMatch(ctx context.Context, req CreateAndMatchRequest) (*LineItemResult, error)

	// RemoveMatch returns a matched line item to the unmatched state.
	RemoveMatch(ctx context.Context, req LineActionRequest) (*LineItemResult, error)

	// ReopenLineItem returns a skipped line item to the unmatched state.
	ReopenLineItem(ctx context.Context, req LineActionRequest) (*LineItemResult, error)

	// LinkPurchaseOrder links an invoice to a purchase order, optionally with a
	// caller-computed variance.
	LinkPurchaseOrder(ctx context.Context, req LinkPurchaseOrderRequest) (*LinkResult, error)

	// ResolvePurchaseOrderLink accepts or rejects a pending order link.
	ResolvePurchaseOrderLink(ctx context.Context, req ResolveLinkRequest) (*LinkResult, error)

	// ConfirmInvoice receives every matched line into stock and closes the invoice.
	ConfirmInvoice(ctx context.Context, req ConfirmInvoiceRequest) (*InvoiceResult, error)

	// AdjustStock sets an item's stock to an absolute target.
	AdjustStock(ctx context.Context, req AdjustStockRequest) (*MovementResult, error)

	// RevertCost sets an item's unit cost back to a previous value.
	RevertCost(ctx context.Context, req RevertCostRequest) (*CostResult, error)

	// ListItems returns inventory items, optionally of one supplier.
	ListItems(ctx context.Context, supplierID *int) (*ItemListResult, error)

	// GetItem returns an item with its recent movements, cost history and open alerts.
	GetItem(ctx context.Context, itemID int) (*ItemResult, error)

	// CreatePurchaseOrder opens a draft purchase order.
	CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*PurchaseOrderResult, error)

	// GetPurchaseOrder returns a purchase order with its lines and status history.
	GetPurchaseOrder(ctx context.Context, orderID int) (*PurchaseOrderResult, error)

	// ListPurchaseOrders returns purchase orders, optionally filtered.
	ListPurchaseOrders(ctx context.Context, req ListPurchaseOrdersRequest) (*PurchaseOrdersResult, error)

	// TransitionPurchaseOrder moves a purchase order along its state machine.
	TransitionPurchaseOrder(ctx context.Context, req TransitionPurchaseOrderRequest) (*PurchaseOrderResult, error)

	// ExportInvoice writes the invoice's reconciliation workbook (xlsx) to w.
	ExportInvoice(ctx context.Context, invoiceID int, w io.Writer) error
}

// Compile-time check.
var _ ApplicationService = (*appService)(nil)

