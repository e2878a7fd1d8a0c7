package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type LinkStatus string

const (
	LinkStatusPending   LinkStatus = "pending"
	LinkStatusConfirmed LinkStatus = "confirmed"
	LinkStatusRejected  LinkStatus = "rejected"
)

// Where a link's variance figures came from. Computed variances are checked again
// against the current lines when the invoice is confirmed.
const (
	VarianceComputed = "computed"
	VarianceSupplied = "supplied"
)

// OrderInvoiceMatch links an invoice to a purchase order. At most one non-rejected
// match exists per invoice; re-linking rejects the previous one.
type OrderInvoiceMatch struct {
	ID               int             `json:"id"`
	InvoiceID        int             `json:"invoice_id"`
	OrderID          int             `json:"order_id"`
	PONumber         string          `json:"po_number"`
	MatchConfidence  float64         `json:"match_confidence"`
	MatchMethod      string          `json:"match_method"`
	Status           LinkStatus      `json:"status"`
	QuantityVariance decimal.Decimal `json:"quantity_variance"`
	AmountVariance   decimal.Decimal `json:"amount_variance"`
	VarianceSource   string          `json:"variance_source"`
	VarianceNotes    *string         `json:"variance_notes,omitempty"`
	LinkedBy         string          `json:"linked_by"`
	ResolvedBy       *string         `json:"resolved_by,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// LineItemEvent is the audit row appended by every reviewer action on a line.
type LineItemEvent struct {
	ID         int       `json:"id"`
	LineItemID int       `json:"line_item_id"`
	Action     string    `json:"action"`
	ItemID     *int      `json:"item_id,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	Notes      *string   `json:"notes,omitempty"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

// Reviewer actions recorded in line_item_events.
const (
	ActionConfirm     = "confirm"
	ActionSkip        = "skip"
	ActionCreateMatch = "create_and_match"
	ActionRemoveMatch = "remove_match"
	ActionReopen      = "reopen"
)

// VarianceInput is a caller-computed variance supplied with a link request.
type VarianceInput struct {
	QuantityVariance decimal.Decimal
	AmountVariance   decimal.Decimal
	Notes            string
	Confidence       *float64
}

type ConfirmMatchInput struct {
	LineItemID int
	ItemID     int
	Actor      string
	Notes      string
}

type SkipInput struct {
	LineItemID int
	Reason     string
	Actor      string
}

type CreateAndMatchInput struct {
	LineItemID int
	Item       NewItemInput
	Actor      string
}

type LinkInput struct {
	InvoiceID int
	OrderID   int
	Method    string // "manual" (default) or "auto"
	Supplied  *VarianceInput
	Actor     string
}

// Variance is the computed discrepancy between an invoice and a purchase order.
type Variance struct {
	QuantityVariance decimal.Decimal `json:"quantity_variance"`
	AmountVariance   decimal.Decimal `json:"amount_variance"`
	Notes            []string        `json:"notes,omitempty"`
	WithinTolerance  bool            `json:"within_tolerance"`
	Confidence       float64         `json:"confidence"`
}

// ComputeVariance compares invoiced amounts and received quantities with the order.
// Skipped lines do not count towards the received quantity.
func ComputeVariance(inv *Invoice, po *PurchaseOrder, tolerance float64) Variance {
	invoiced := decimal.Zero
	if inv.TotalAmount != nil {
		invoiced = *inv.TotalAmount
	} else {
		for _, l := range inv.LineItems {
			invoiced = invoiced.Add(l.Total)
		}
	}

	received := decimal.Zero
	byItem := map[int]decimal.Decimal{}
	for i := range inv.LineItems {
		l := &inv.LineItems[i]
		if l.Skipped() {
			continue
		}
		received = received.Add(l.ReceivedQuantity())
		if l.MatchedItemID != nil {
			byItem[*l.MatchedItemID] = byItem[*l.MatchedItemID].Add(l.ReceivedQuantity())
		}
	}

	v := Variance{
		AmountVariance:   invoiced.Sub(po.TotalAmount).Round(2),
		QuantityVariance: received.Sub(po.TotalQuantity()),
	}

	ordered := map[int]bool{}
	for _, pl := range po.Lines {
		if pl.InventoryItemID == nil {
			continue
		}
		id := *pl.InventoryItemID
		ordered[id] = true
		got := byItem[id]
		if !got.Equal(pl.Quantity) {
			name := pl.Description
			if pl.ItemName != nil {
				name = *pl.ItemName
			}
			v.Notes = append(v.Notes, fmt.Sprintf("%s: ordered %s, invoiced %s", name, pl.Quantity, got))
		}
	}
	var extra []int
	for id := range byItem {
		if !ordered[id] {
			extra = append(extra, id)
		}
	}
	sort.Ints(extra)
	for _, id := range extra {
		v.Notes = append(v.Notes, fmt.Sprintf("item %d invoiced but not on %s", id, po.PONumber))
	}

	v.WithinTolerance, v.Confidence = assessVariance(v.AmountVariance, v.QuantityVariance, po, tolerance)
	return v
}

// assessVariance checks both variances against tolerance relative to the order totals.
func assessVariance(amount, qty decimal.Decimal, po *PurchaseOrder, tolerance float64) (bool, float64) {
	relAmt := relative(amount, po.TotalAmount)
	relQty := relative(qty, po.TotalQuantity())
	worst := max(relAmt, relQty)
	confidence := 1 - min(worst, 1)
	return worst <= tolerance+1e-9, decimal.NewFromFloat(confidence).Round(4).InexactFloat64()
}

func relative(diff, base decimal.Decimal) float64 {
	if diff.IsZero() {
		return 0
	}
	if base.IsZero() {
		return 1
	}
	return diff.Abs().Div(base.Abs()).InexactFloat64()
}

func joinNotes(notes []string) string {
	return strings.Join(notes, "; ")
}

// ReconciliationService applies reviewer actions. Every action holds the invoice lock,
// is atomic, and is idempotent when retried with the same arguments.
type ReconciliationService interface {
	// ConfirmMatch matches the line to an existing item and marks it reviewed.
	// Fails with NotFound if the item does not exist and InvalidTransition if the
	// line is skipped or the invoice is no longer under review.
	ConfirmMatch(ctx context.Context, in ConfirmMatchInput) (*InvoiceLineItem, error)

	// SkipLineItem clears any match and marks the line skipped with a reason. A skipped
	// line stays skipped for the review cycle until ReopenLineItem.
	SkipLineItem(ctx context.Context, in SkipInput) (*InvoiceLineItem, error)

	// CreateAndMatch creates an item with zero stock and matches the line to it. If the
	// match fails the item is deleted again.
	CreateAndMatch(ctx context.Context, in CreateAndMatchInput) (*InvoiceLineItem, *InventoryItem, error)

	// RemoveMatch returns a matched line to the unmatched state, open for re-matching.
	RemoveMatch(ctx context.Context, lineItemID int, actor string) (*InvoiceLineItem, error)

	// ReopenLineItem returns a skipped line to the unmatched state.
	ReopenLineItem(ctx context.Context, lineItemID int, actor string) (*InvoiceLineItem, error)

	// LinkPurchaseOrder links the invoice to an order, replacing any earlier link. The
	// variance is computed unless supplied; within tolerance the link is confirmed,
	// otherwise it stays pending until resolved.
	LinkPurchaseOrder(ctx context.Context, in LinkInput) (*OrderInvoiceMatch, error)

	// ResolvePurchaseOrderLink accepts or rejects the active link.
	ResolvePurchaseOrderLink(ctx context.Context, invoiceID int, accept bool, actor, notes string) (*OrderInvoiceMatch, error)

	// ActiveLink returns the invoice's non-rejected link.
	ActiveLink(ctx context.Context, invoiceID int) (*OrderInvoiceMatch, error)

	// ConfirmInvoice posts purchase movements for every matched line and moves the
	// invoice to confirmed. All lines must be resolved and the order link confirmed.
	ConfirmInvoice(ctx context.Context, invoiceID int, actor string) (*Invoice, error)

	// LineEvents returns the audit trail of a line, oldest first.
	LineEvents(ctx context.Context, lineItemID int) ([]LineItemEvent, error)
}
