package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseOrder represents a purchase order header.
type PurchaseOrder struct {
	ID           int                 `json:"id"`
	PONumber     string              `json:"po_number"`
	SupplierID   int                 `json:"supplier_id"`
	SupplierName string              `json:"supplier_name"`
	Status       POStatus            `json:"status"`
	TotalAmount  decimal.Decimal     `json:"total_amount"`
	Notes        *string             `json:"notes,omitempty"`
	CreatedBy    string              `json:"created_by"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	Lines        []PurchaseOrderLine `json:"lines"`
}

// TotalQuantity sums the ordered quantity across lines.
func (po *PurchaseOrder) TotalQuantity() decimal.Decimal {
	total := decimal.Zero
	for _, l := range po.Lines {
		total = total.Add(l.Quantity)
	}
	return total
}

// PurchaseOrderLine represents a single line on a purchase order.
type PurchaseOrderLine struct {
	ID              int             `json:"id"`
	OrderID         int             `json:"order_id"`
	LineNumber      int             `json:"line_number"`
	InventoryItemID *int            `json:"inventory_item_id,omitempty"`
	ItemName        *string         `json:"item_name,omitempty"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	LineTotal       decimal.Decimal `json:"line_total"`
}

// PurchaseOrderLineInput holds the fields required to create a purchase order line.
type PurchaseOrderLineInput struct {
	InventoryItemID *int
	Description     string
	Quantity        decimal.Decimal
	UnitCost        decimal.Decimal
}

// NewPurchaseOrderInput is the data needed to open a draft purchase order.
type NewPurchaseOrderInput struct {
	SupplierID int
	Lines      []PurchaseOrderLineInput
	Notes      string
	Actor      string
}

// POStatusChange is an immutable audit row written for every applied transition.
type POStatusChange struct {
	ID             int       `json:"id"`
	OrderID        int       `json:"order_id"`
	PreviousStatus POStatus  `json:"previous_status"`
	NewStatus      POStatus  `json:"new_status"`
	Actor          string    `json:"actor"`
	Note           *string   `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// PurchaseOrderService provides purchase order lifecycle operations.
type PurchaseOrderService interface {
	// CreatePurchaseOrder creates a draft purchase order with a gapless PO number
	// and computed line totals.
	CreatePurchaseOrder(ctx context.Context, in NewPurchaseOrderInput) (*PurchaseOrder, error)

	// GetPurchaseOrder returns a purchase order by its internal ID, including all lines.
	GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error)

	// ListPurchaseOrders returns purchase orders, optionally filtered by supplier and status.
	ListPurchaseOrders(ctx context.Context, supplierID *int, status POStatus) ([]PurchaseOrder, error)

	// TransitionStatus moves the order to status to. Same-status requests succeed without
	// change; transitions outside the state machine fail with InvalidTransition and leave
	// the order untouched. The history row is written after the status change commits and
	// a failure to write it is logged, not returned.
	TransitionStatus(ctx context.Context, id int, to POStatus, actor, note string) (*PurchaseOrder, error)

	// GetStatusHistory returns the transitions applied to the order, oldest first.
	GetStatusHistory(ctx context.Context, id int) ([]POStatusChange, error)
}
