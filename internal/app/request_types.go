package app

import (
	"time"

	"github.com/shopspring/decimal"
)

// Actor fields are filled by the adapter (X-Actor header, CLI flag), never from the body.

// SubmitInvoiceRequest is an uploaded invoice document.
type SubmitInvoiceRequest struct {
	FileName     string `json:"file_name" validate:"required,max=255"`
	MimeType     string `json:"mime_type" validate:"required,max=100"`
	Data         []byte `json:"-" validate:"min=1"`
	SupplierID   *int   `json:"supplier_id" validate:"omitempty,gt=0"`
	SupplierHint string `json:"supplier_hint" validate:"max=200"`
	Actor        string `json:"-" validate:"required,max=100"`
}

// ReextractRequest forces OCR on a document, optionally in another language.
type ReextractRequest struct {
	InvoiceID int    `json:"-" validate:"required,gt=0"`
	Language  string `json:"language" validate:"omitempty,alphanum_underscore,max=32"`
	Actor     string `json:"-" validate:"required,max=100"`
}

// ListInvoicesRequest filters the review screens. Zero values mean "no filter".
type ListInvoicesRequest struct {
	Queue      string     `json:"queue" validate:"omitempty,oneof=needs-ocr manual-review high-confidence ready-to-match all"`
	Status     string     `json:"status" validate:"omitempty,oneof=uploaded parsing parsed reviewing confirmed cancelled error"`
	SupplierID *int       `json:"supplier_id" validate:"omitempty,gt=0"`
	From       *time.Time `json:"from"`
	To         *time.Time `json:"to"`
	Page       int        `json:"page" validate:"gte=0,lte=100000"`
	PageSize   int        `json:"page_size" validate:"gte=0,lte=200"`
}

type ConfirmMatchRequest struct {
	LineItemID int    `json:"-" validate:"required,gt=0"`
	ItemID     int    `json:"item_id" validate:"required,gt=0"`
	Notes      string `json:"notes" validate:"max=500"`
	Actor      string `json:"-" validate:"required,max=100"`
}

type SkipLineItemRequest struct {
	LineItemID int    `json:"-" validate:"required,gt=0"`
	Reason     string `json:"reason" validate:"required,max=500"`
	Actor      string `json:"-" validate:"required,max=100"`
}

// LineActionRequest is used by remove-match and reopen.
type LineActionRequest struct {
	LineItemID int    `json:"-" validate:"required,gt=0"`
	Actor      string `json:"-" validate:"required,max=100"`
}

// NewItemRequest describes an inventory item to create.
type NewItemRequest struct {
	Name             string          `json:"name" validate:"required,max=200"`
	SKU              string          `json:"sku" validate:"max=64"`
	MinimumThreshold decimal.Decimal `json:"minimum_threshold" validate:"gte=0"`
	ReorderPoint     decimal.Decimal `json:"reorder_point" validate:"gte=0"`
	UnitCost         decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	UnitType         string          `json:"unit_type" validate:"required,max=20"`
	PackSize         decimal.Decimal `json:"pack_size" validate:"gte=0"`
	SupplierID       *int            `json:"supplier_id" validate:"omitempty,gt=0"`
	ItemClass        string          `json:"item_class" validate:"omitempty,oneof=ingredient prepared prepackaged"`
}

type CreateAndMatchRequest struct {
	LineItemID int            `json:"-" validate:"required,gt=0"`
	Item       NewItemRequest `json:"item"`
	Actor      string         `json:"-" validate:"required,max=100"`
}

// VarianceRequest is a variance computed by the caller.
type VarianceRequest struct {
	QuantityVariance decimal.Decimal `json:"quantity_variance"`
	AmountVariance   decimal.Decimal `json:"amount_variance"`
	Notes            string          `json:"notes" validate:"max=1000"`
	Confidence       *float64        `json:"confidence" validate:"omitempty,gte=0,lte=1"`
}

type LinkPurchaseOrderRequest struct {
	InvoiceID int              `json:"-" validate:"required,gt=0"`
	OrderID   int              `json:"order_id" validate:"required,gt=0"`
	Method    string           `json:"method" validate:"omitempty,oneof=manual auto"`
	Variance  *VarianceRequest `json:"variance"`
	Actor     string           `json:"-" validate:"required,max=100"`
}

type ResolveLinkRequest struct {
	InvoiceID int    `json:"-" validate:"required,gt=0"`
	Accept    bool   `json:"accept"`
	Notes     string `json:"notes" validate:"max=500"`
	Actor     string `json:"-" validate:"required,max=100"`
}

type ConfirmInvoiceRequest struct {
	InvoiceID int    `json:"-" validate:"required,gt=0"`
	Actor     string `json:"-" validate:"required,max=100"`
}

// AdjustStockRequest sets stock to an absolute target.
type AdjustStockRequest struct {
	ItemID int             `json:"-" validate:"required,gt=0"`
	Target decimal.Decimal `json:"target" validate:"gte=0"`
	Notes  string          `json:"notes" validate:"max=500"`
	Actor  string          `json:"-" validate:"required,max=100"`
}

// RevertCostRequest restores a previous unit cost.
type RevertCostRequest struct {
	ItemID          int             `json:"-" validate:"required,gt=0"`
	TargetCost      decimal.Decimal `json:"target_cost" validate:"gte=0"`
	Reason          string          `json:"reason" validate:"required,max=500"`
	SourceReference string          `json:"source_reference" validate:"max=100"`
	Actor           string          `json:"-" validate:"required,max=100"`
}

// CreatePurchaseOrderRequest is the input for creating a new purchase order.
type CreatePurchaseOrderRequest struct {
	SupplierID int             `json:"supplier_id" validate:"required,gt=0"`
	Notes      string          `json:"notes" validate:"max=1000"`
	Lines      []POLineRequest `json:"lines" validate:"required,min=1,dive"`
	Actor      string          `json:"-" validate:"required,max=100"`
}

// POLineRequest is a single line within a CreatePurchaseOrderRequest.
type POLineRequest struct {
	InventoryItemID *int            `json:"inventory_item_id" validate:"omitempty,gt=0"`
	Description     string          `json:"description" validate:"required,max=300"`
	Quantity        decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitCost        decimal.Decimal `json:"unit_cost" validate:"gte=0"`
}

type ListPurchaseOrdersRequest struct {
	SupplierID *int   `json:"supplier_id" validate:"omitempty,gt=0"`
	Status     string `json:"status" validate:"omitempty,oneof=draft pending_approval approved confirmed sent received cancelled"`
}

type TransitionPurchaseOrderRequest struct {
	OrderID int    `json:"-" validate:"required,gt=0"`
	Status  string `json:"status" validate:"required,max=30"`
	Note    string `json:"note" validate:"max=500"`
	Actor   string `json:"-" validate:"required,max=100"`
}
