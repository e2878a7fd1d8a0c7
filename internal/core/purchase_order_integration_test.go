package core_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"invoice-recon/internal/core"
)

func createDraftPO(t *testing.T, svc services) *core.PurchaseOrder {
	t.Helper()
	po, err := svc.orders.CreatePurchaseOrder(context.Background(), core.NewPurchaseOrderInput{
		SupplierID: 1,
		Actor:      "buyer",
		Lines: []core.PurchaseOrderLineInput{
			{Description: "Coffee Beans", Quantity: decimal.NewFromInt(10), UnitCost: decimal.RequireFromString("6.00")},
			{Description: "Paper Cups", Quantity: decimal.NewFromInt(500), UnitCost: decimal.RequireFromString("0.08")},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	return po
}

func TestPurchaseOrder_Create(t *testing.T) {
	pool, _ := setupTestDB(t)
	svc := newServices(pool)

	po := createDraftPO(t, svc)
	if po.PONumber != "PO-000001" {
		t.Errorf("PO number: got %s, want PO-000001", po.PONumber)
	}
	if po.Status != core.POStatusDraft {
		t.Errorf("status: got %s, want draft", po.Status)
	}
	if !po.TotalAmount.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("total: got %s, want 100.00", po.TotalAmount)
	}
	if len(po.Lines) != 2 {
		t.Errorf("lines: got %d, want 2", len(po.Lines))
	}

	second := createDraftPO(t, svc)
	if second.PONumber != "PO-000002" {
		t.Errorf("second PO number: got %s, want PO-000002", second.PONumber)
	}
}

func TestPurchaseOrder_TransitionStatus(t *testing.T) {
	pool, c := setupTestDB(t)
	svc := newServices(pool)
	po := createDraftPO(t, svc)

	t.Run("illegal transition leaves status and history untouched", func(t *testing.T) {
		_, err := svc.orders.TransitionStatus(c, po.ID, core.POStatusSent, "buyer", "")
		if !errors.Is(err, core.ErrInvalidTransition) {
			t.Fatalf("expected InvalidTransition, got %v", err)
		}
		got, _ := svc.orders.GetPurchaseOrder(c, po.ID)
		if got.Status != core.POStatusDraft {
			t.Errorf("status changed to %s", got.Status)
		}
		history, _ := svc.orders.GetStatusHistory(c, po.ID)
		if len(history) != 0 {
			t.Errorf("expected no history, got %d rows", len(history))
		}
	})

	t.Run("legal transition writes history", func(t *testing.T) {
		got, err := svc.orders.TransitionStatus(c, po.ID, core.POStatusApproved, "manager", "budget ok")
		if err != nil {
			t.Fatalf("TransitionStatus: %v", err)
		}
		if got.Status != core.POStatusApproved {
			t.Errorf("status: got %s, want approved", got.Status)
		}
		history, _ := svc.orders.GetStatusHistory(c, po.ID)
		if len(history) != 1 {
			t.Fatalf("expected 1 history row, got %d", len(history))
		}
		h := history[0]
		if h.PreviousStatus != core.POStatusDraft || h.NewStatus != core.POStatusApproved || h.Actor != "manager" {
			t.Errorf("unexpected history row %+v", h)
		}
		if h.Note == nil || *h.Note != "budget ok" {
			t.Errorf("note not recorded: %v", h.Note)
		}
	})

	t.Run("same status is a no-op success", func(t *testing.T) {
		if _, err := svc.orders.TransitionStatus(c, po.ID, core.POStatusApproved, "manager", ""); err != nil {
			t.Fatalf("same-status transition: %v", err)
		}
		history, _ := svc.orders.GetStatusHistory(c, po.ID)
		if len(history) != 1 {
			t.Errorf("same-status transition should not add history, got %d rows", len(history))
		}
	})

	t.Run("cancelled is terminal", func(t *testing.T) {
		if _, err := svc.orders.TransitionStatus(c, po.ID, core.POStatusCancelled, "manager", ""); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		if _, err := svc.orders.TransitionStatus(c, po.ID, core.POStatusDraft, "manager", ""); !errors.Is(err, core.ErrInvalidTransition) {
			t.Errorf("expected InvalidTransition out of cancelled, got %v", err)
		}
	})

	t.Run("unknown purchase order", func(t *testing.T) {
		if _, err := svc.orders.TransitionStatus(c, 9999, core.POStatusApproved, "manager", ""); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("expected NotFound, got %v", err)
		}
	})
}
