package core_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoice-recon/internal/core"
	"invoice-recon/internal/lock"
)

func TestInventory_AdjustStock(t *testing.T) {
	pool, ctx := setupTestDB(t)
	svc := newServices(pool)

	item, err := svc.inventory.CreateItem(ctx, core.NewItemInput{
		Name:             "Whole Milk",
		UnitType:         "gal",
		MinimumThreshold: decimal.NewFromInt(5),
		ReorderPoint:     decimal.NewFromInt(10),
		UnitCost:         decimal.RequireFromString("3.50"),
	})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	if !item.CurrentStock.IsZero() {
		t.Fatalf("new items start at zero stock, got %s", item.CurrentStock)
	}

	adjust := func(target int64) (*core.StockMovement, error) {
		return svc.inventory.AdjustStock(ctx, core.StockAdjustment{ItemID: item.ID, Target: decimal.NewFromInt(target), Actor: "admin"})
	}

	t.Run("positive adjustment appends movement", func(t *testing.T) {
		m, err := adjust(20)
		if err != nil {
			t.Fatalf("AdjustStock: %v", err)
		}
		if !m.PreviousStock.IsZero() || !m.QuantityChange.Equal(decimal.NewFromInt(20)) || !m.NewStock.Equal(decimal.NewFromInt(20)) {
			t.Errorf("unexpected movement %+v", m)
		}
	})

	t.Run("same value is rejected without a movement", func(t *testing.T) {
		before, _ := svc.inventory.ListMovements(ctx, item.ID, 0)
		_, err := adjust(20)
		if !errors.Is(err, core.ErrInvariantViolation) {
			t.Fatalf("expected InvariantViolation, got %v", err)
		}
		after, _ := svc.inventory.ListMovements(ctx, item.ID, 0)
		if len(after) != len(before) {
			t.Errorf("movement count changed from %d to %d", len(before), len(after))
		}
	})

	t.Run("negative target is rejected", func(t *testing.T) {
		if _, err := adjust(-1); !errors.Is(err, core.ErrInvariantViolation) {
			t.Fatalf("expected InvariantViolation, got %v", err)
		}
	})

	t.Run("dropping below minimum opens an alert", func(t *testing.T) {
		if _, err := adjust(3); err != nil {
			t.Fatalf("AdjustStock: %v", err)
		}
		alerts, err := svc.inventory.OpenAlerts(ctx, &item.ID)
		if err != nil {
			t.Fatalf("OpenAlerts: %v", err)
		}
		if len(alerts) != 1 {
			t.Fatalf("expected 1 open alert, got %d", len(alerts))
		}
	})

	t.Run("crossing the reorder point acknowledges alerts", func(t *testing.T) {
		if _, err := adjust(15); err != nil {
			t.Fatalf("AdjustStock: %v", err)
		}
		alerts, err := svc.inventory.OpenAlerts(ctx, &item.ID)
		if err != nil {
			t.Fatalf("OpenAlerts: %v", err)
		}
		if len(alerts) != 0 {
			t.Errorf("expected alerts acknowledged, %d still open", len(alerts))
		}
	})

	t.Run("every movement balances", func(t *testing.T) {
		movements, err := svc.inventory.ListMovements(ctx, item.ID, 0)
		if err != nil {
			t.Fatalf("ListMovements: %v", err)
		}
		if len(movements) != 3 {
			t.Errorf("expected 3 movements, got %d", len(movements))
		}
		for _, m := range movements {
			if !m.PreviousStock.Add(m.QuantityChange).Equal(m.NewStock) || m.NewStock.IsNegative() {
				t.Errorf("unbalanced movement %+v", m)
			}
		}
		current, _ := svc.inventory.GetItem(ctx, item.ID)
		if !current.CurrentStock.Equal(movements[0].NewStock) {
			t.Errorf("current stock %s does not match last movement %s", current.CurrentStock, movements[0].NewStock)
		}
	})
}

func TestInventory_RevertCost(t *testing.T) {
	pool, ctx := setupTestDB(t)
	svc := newServices(pool)

	item, err := svc.inventory.CreateItem(ctx, core.NewItemInput{Name: "Espresso Beans", UnitType: "lb", UnitCost: decimal.RequireFromString("12.50")})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	entry, err := svc.inventory.RevertCost(ctx, core.CostRevert{ItemID: item.ID, TargetCost: decimal.RequireFromString("11.00"), Actor: "admin", Reason: "supplier credit"})
	if err != nil {
		t.Fatalf("RevertCost: %v", err)
	}
	if !entry.PreviousCost.Equal(decimal.RequireFromString("12.50")) || !entry.NewCost.Equal(decimal.RequireFromString("11.00")) {
		t.Errorf("unexpected history entry %+v", entry)
	}
	if entry.Source != core.CostSourceRevert {
		t.Errorf("source: got %s, want revert", entry.Source)
	}

	current, _ := svc.inventory.GetItem(ctx, item.ID)
	if !current.UnitCost.Equal(decimal.RequireFromString("11.00")) {
		t.Errorf("unit cost not updated: %s", current.UnitCost)
	}

	tests := []struct {
		name   string
		target string
	}{
		{"same cost", "11.00"},
		{"negative cost", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.inventory.RevertCost(ctx, core.CostRevert{ItemID: item.ID, TargetCost: decimal.RequireFromString(tt.target), Actor: "admin"})
			if !errors.Is(err, core.ErrInvariantViolation) {
				t.Errorf("expected InvariantViolation, got %v", err)
			}
		})
	}

	history, _ := svc.inventory.ListCostHistory(ctx, item.ID)
	if len(history) != 1 {
		t.Errorf("rejected reverts must not write history, got %d rows", len(history))
	}
}

func TestInventory_DeleteItem(t *testing.T) {
	pool, ctx := setupTestDB(t)
	svc := newServices(pool)

	fresh, _ := svc.inventory.CreateItem(ctx, core.NewItemInput{Name: "Lids"})
	moved, _ := svc.inventory.CreateItem(ctx, core.NewItemInput{Name: "Straws"})
	if _, err := svc.inventory.AdjustStock(ctx, core.StockAdjustment{ItemID: moved.ID, Target: decimal.NewFromInt(5), Actor: "admin"}); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}

	if err := svc.inventory.DeleteItem(ctx, fresh.ID); err != nil {
		t.Errorf("deleting an unused item: %v", err)
	}
	if err := svc.inventory.DeleteItem(ctx, moved.ID); !errors.Is(err, core.ErrInvariantViolation) {
		t.Errorf("expected InvariantViolation for item with movements, got %v", err)
	}
	if err := svc.inventory.DeleteItem(ctx, 9999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestInventory_ConcurrentWritesChainMovements(t *testing.T) {
	pool, ctx := setupTestDB(t)
	inventory := core.NewInventoryService(pool, lock.NewLocalLocker(10*time.Second), nil, zerolog.Nop())

	item, err := inventory.CreateItem(ctx, core.NewItemInput{Name: "Oat Milk", UnitType: "l"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 1; i <= n; i++ {
		wg.Add(2)
		// Distinct targets never equal the stock they replace, so none is a no-op.
		go func(target int64) {
			defer wg.Done()
			_, err := inventory.AdjustStock(ctx, core.StockAdjustment{ItemID: item.ID, Target: decimal.NewFromInt(target * 100), Actor: "admin"})
			errs <- err
		}(int64(i))
		go func(i int) {
			defer wg.Done()
			tx, err := pool.Begin(ctx)
			if err != nil {
				errs <- err
				return
			}
			defer tx.Rollback(ctx)
			lines := []core.ReceiptLine{{ItemID: item.ID, Quantity: decimal.NewFromInt(1), ReferenceID: fmt.Sprintf("receipt:%d", i)}}
			if _, err := inventory.ReceiveTx(ctx, tx, lines, "receiver", fmt.Sprintf("receipt:%d", i)); err != nil {
				errs <- err
				return
			}
			errs <- tx.Commit(ctx)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent write: %v", err)
		}
	}

	movements, err := inventory.ListMovements(ctx, item.ID, 0)
	if err != nil {
		t.Fatalf("ListMovements: %v", err)
	}
	if len(movements) != 2*n {
		t.Fatalf("expected %d movements, got %d", 2*n, len(movements))
	}
	// Newest first: each row starts where the row before it (next in the slice) ended.
	for k := 0; k < len(movements)-1; k++ {
		newer, older := movements[k], movements[k+1]
		if !newer.PreviousStock.Equal(older.NewStock) {
			t.Errorf("movement %d starts at %s but movement %d ended at %s", newer.ID, newer.PreviousStock, older.ID, older.NewStock)
		}
	}
	if first := movements[len(movements)-1]; !first.PreviousStock.IsZero() {
		t.Errorf("first movement starts at %s, want 0", first.PreviousStock)
	}
	current, err := inventory.GetItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if !current.CurrentStock.Equal(movements[0].NewStock) {
		t.Errorf("current stock %s does not match last movement %s", current.CurrentStock, movements[0].NewStock)
	}
}

func TestInventory_KeepsSixDecimalQuantities(t *testing.T) {
	pool, ctx := setupTestDB(t)
	svc := newServices(pool)

	item, err := svc.inventory.CreateItem(ctx, core.NewItemInput{Name: "Vanilla Syrup", UnitType: "gal"})
	if err != nil {
		t.Fatalf("CreateItem: %v", err)
	}
	// 1 ml expressed in gallons.
	target := decimal.RequireFromString("0.000264")
	if _, err := svc.inventory.AdjustStock(ctx, core.StockAdjustment{ItemID: item.ID, Target: target, Actor: "admin"}); err != nil {
		t.Fatalf("AdjustStock: %v", err)
	}
	movements, err := svc.inventory.ListMovements(ctx, item.ID, 0)
	if err != nil || len(movements) != 1 {
		t.Fatalf("ListMovements: %d rows, %v", len(movements), err)
	}
	if !movements[0].QuantityChange.Equal(target) || !movements[0].NewStock.Equal(target) {
		t.Errorf("movement stored %s -> %s, want %s", movements[0].QuantityChange, movements[0].NewStock, target)
	}
}
