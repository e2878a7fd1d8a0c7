package app

import (
	"github.com/shopspring/decimal"

	"invoice-recon/internal/core"
	"invoice-recon/internal/matching"
)

// Pipeline stages reported in ProcessResult.Stage.
const (
	StageNeedsOCR = "needs_ocr"
	StageParsed   = "parsed"
	StageMatched  = "matched"
)

// SubmitResult is returned by SubmitInvoice. Process is nil when the invoice was queued.
type SubmitResult struct {
	Invoice *core.Invoice  `json:"invoice,omitempty"`
	Queued  bool           `json:"queued"`
	Process *ProcessResult `json:"process,omitempty"`
}

// ProcessResult is the outcome of one pipeline run.
type ProcessResult struct {
	Invoice    *core.Invoice `json:"invoice,omitempty"`
	Queues     []core.Queue  `json:"queues"`
	Stage      string        `json:"stage"`
	Method     string        `json:"method"`
	Confidence float64       `json:"confidence"`
	Matched    int           `json:"matched"`
	// Warning carries a non-fatal extraction problem, e.g. OCR failed and native text was kept.
	Warning string `json:"warning"`
}

// InvoiceResult is an invoice with its derived queues and active purchase order link.
type InvoiceResult struct {
	Invoice *core.Invoice           `json:"invoice,omitempty"`
	Queues  []core.Queue            `json:"queues"`
	Link    *core.OrderInvoiceMatch `json:"link,omitempty"`
}

// InvoiceListResult is returned by ListInvoices.
type InvoiceListResult struct {
	Invoices     []InvoiceSummary           `json:"invoices"`
	Total        int                        `json:"total"`
	Page         int                        `json:"page"`
	PageSize     int                        `json:"page_size"`
	TotalAmount  decimal.Decimal            `json:"total_amount"`
	QueueCounts  map[core.Queue]int         `json:"queue_counts"`
	StatusCounts map[core.InvoiceStatus]int `json:"status_counts"`
}

// InvoiceSummary is one row of the invoice list.
type InvoiceSummary struct {
	Invoice core.Invoice `json:"invoice"`
	Queues  []core.Queue `json:"queues"`
}

type CandidatesResult struct {
	LineItem   *core.InvoiceLineItem `json:"line_item,omitempty"`
	Candidates []matching.Candidate  `json:"candidates"`
	Best       *matching.Candidate   `json:"best,omitempty"`
	Effective  decimal.Decimal       `json:"effective"`
}

type LineItemResult struct {
	LineItem *core.InvoiceLineItem `json:"line_item,omitempty"`
	Item     *core.InventoryItem   `json:"item,omitempty"`
}

type LinkResult struct {
	Link *core.OrderInvoiceMatch `json:"link,omitempty"`
}

type MovementResult struct {
	Movement *core.StockMovement `json:"movement,omitempty"`
	Item     *core.InventoryItem `json:"item,omitempty"`
}

type CostResult struct {
	Entry *core.CostHistoryEntry `json:"entry,omitempty"`
	Item  *core.InventoryItem    `json:"item,omitempty"`
}

type ItemListResult struct {
	Items []core.InventoryItem `json:"items"`
}

// ItemResult is an item with its recent ledger activity.
type ItemResult struct {
	Item        *core.InventoryItem     `json:"item,omitempty"`
	Movements   []core.StockMovement    `json:"movements"`
	CostHistory []core.CostHistoryEntry `json:"cost_history"`
	Alerts      []core.LowStockAlert    `json:"alerts"`
}

// PurchaseOrderResult is returned by purchase order operations.
type PurchaseOrderResult struct {
	Order   *core.PurchaseOrder   `json:"order,omitempty"`
	History []core.POStatusChange `json:"history"`
	Next    []core.POStatus       `json:"next"`
}

type PurchaseOrdersResult struct {
	Orders []core.PurchaseOrder `json:"orders"`
}
