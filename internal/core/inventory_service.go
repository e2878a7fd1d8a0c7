package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type inventoryService struct {
	pool     *pgxpool.Pool
	locker   Locker
	notifier AlertNotifier
	log      zerolog.Logger
}

// NewInventoryService constructs an InventoryService. locker and notifier may be nil.
func NewInventoryService(pool *pgxpool.Pool, locker Locker, notifier AlertNotifier, log zerolog.Logger) InventoryService {
	return &inventoryService{
		pool:     pool,
		locker:   locker,
		notifier: notifier,
		log:      log.With().Str("component", "inventory").Logger(),
	}
}

const itemColumns = `id, name, sku, current_stock, minimum_threshold, reorder_point, unit_cost,
	unit_type, pack_size, supplier_id, item_class, created_at, updated_at`

func scanItem(row pgx.Row, it *InventoryItem) error {
	return row.Scan(
		&it.ID, &it.Name, &it.SKU, &it.CurrentStock, &it.MinimumThreshold, &it.ReorderPoint, &it.UnitCost,
		&it.UnitType, &it.PackSize, &it.SupplierID, &it.ItemClass, &it.CreatedAt, &it.UpdatedAt,
	)
}

// CreateItem inserts a new item with zero stock.
func (s *inventoryService) CreateItem(ctx context.Context, in NewItemInput) (*InventoryItem, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, Errorf(KindInvalidRequest, "item name is required")
	}
	if in.MinimumThreshold.IsNegative() || in.UnitCost.IsNegative() {
		return nil, Errorf(KindInvariantViolation, "minimum threshold and unit cost must not be negative")
	}
	if in.ReorderPoint.LessThan(in.MinimumThreshold) {
		return nil, Errorf(KindInvariantViolation, "reorder point %s is below minimum threshold %s", in.ReorderPoint, in.MinimumThreshold)
	}
	packSize := in.PackSize
	if packSize.IsZero() {
		packSize = decimal.NewFromInt(1)
	}
	if packSize.IsNegative() {
		return nil, Errorf(KindInvariantViolation, "pack size must be positive")
	}
	unitType := strings.ToLower(strings.TrimSpace(in.UnitType))
	if unitType == "" {
		unitType = "each"
	}
	class := in.ItemClass
	if class == "" {
		class = ItemClassIngredient
	}
	var sku *string
	if in.SKU != "" {
		sku = &in.SKU
	}

	it := &InventoryItem{}
	err := scanItem(s.pool.QueryRow(ctx, `
		INSERT INTO inventory_items (name, sku, current_stock, minimum_threshold, reorder_point, unit_cost,
		                             unit_type, pack_size, supplier_id, item_class)
		VALUES ($1, $2, 0, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+itemColumns,
		strings.TrimSpace(in.Name), sku, in.MinimumThreshold, in.ReorderPoint, in.UnitCost,
		unitType, packSize, in.SupplierID, string(class),
	), it)
	if err != nil {
		return nil, translatePgError(err, fmt.Sprintf("inventory item %q", in.Name))
	}
	s.log.Info().Int("item_id", it.ID).Str("name", it.Name).Msg("inventory item created")
	return it, nil
}

// DeleteItem removes an item only if nothing references it.
func (s *inventoryService) DeleteItem(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM inventory_items ii
		WHERE ii.id = $1
		  AND NOT EXISTS (SELECT 1 FROM stock_movements m WHERE m.inventory_item_id = ii.id)
		  AND NOT EXISTS (SELECT 1 FROM invoice_line_items l WHERE l.matched_item_id = ii.id)`,
		id,
	)
	if err != nil {
		return translatePgError(err, fmt.Sprintf("inventory item %d", id))
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM inventory_items WHERE id = $1)", id).Scan(&exists); err != nil {
			return fmt.Errorf("check inventory item %d: %w", id, err)
		}
		if !exists {
			return Errorf(KindNotFound, "inventory item %d not found", id)
		}
		return Errorf(KindInvariantViolation, "inventory item %d has stock history or matches and cannot be deleted", id)
	}
	return nil
}

func (s *inventoryService) GetItem(ctx context.Context, id int) (*InventoryItem, error) {
	it := &InventoryItem{}
	if err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE id = $1`, id), it); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("inventory item %d", id))
	}
	return it, nil
}

func (s *inventoryService) ListItems(ctx context.Context, supplierID *int) ([]InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items`
	var args []any
	if supplierID != nil {
		query += ` WHERE supplier_id = $1`
		args = append(args, *supplierID)
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", err)
	}
	defer rows.Close()

	var items []InventoryItem
	for rows.Next() {
		var it InventoryItem
		if err := scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// lockedItem is the row state read under FOR UPDATE.
type lockedItem struct {
	stock, minimum, reorder, unitCost, packSize decimal.Decimal
}

func lockItemTx(ctx context.Context, tx pgx.Tx, id int) (*lockedItem, error) {
	var li lockedItem
	err := tx.QueryRow(ctx, `
		SELECT current_stock, minimum_threshold, reorder_point, unit_cost, pack_size
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE`,
		id,
	).Scan(&li.stock, &li.minimum, &li.reorder, &li.unitCost, &li.packSize)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "inventory item %d not found", id)
		}
		return nil, fmt.Errorf("lock inventory item %d: %w", id, err)
	}
	return &li, nil
}

// applyMovementTx writes the new stock and its ledger row in tx. The caller holds the
// row lock from lockItemTx.
func applyMovementTx(ctx context.Context, tx pgx.Tx, itemID int, li *lockedItem, delta decimal.Decimal,
	mt MovementType, unitCost decimal.Decimal, ref, notes, actor string) (*StockMovement, error) {

	newStock := li.stock.Add(delta)
	if newStock.IsNegative() {
		return nil, Errorf(KindInvariantViolation, "inventory item %d: stock would become %s", itemID, newStock)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE inventory_items SET current_stock = $1, updated_at = NOW() WHERE id = $2",
		newStock, itemID,
	); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("update stock for item %d", itemID))
	}

	m := &StockMovement{}
	err := tx.QueryRow(ctx, `
		INSERT INTO stock_movements (inventory_item_id, movement_type, quantity_change, previous_stock,
		                             new_stock, unit_cost, reference_id, notes, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, inventory_item_id, movement_type, quantity_change, previous_stock, new_stock,
		          unit_cost, reference_id, notes, actor, created_at`,
		itemID, string(mt), delta, li.stock, newStock, unitCost, nullIfEmpty(ref), nullIfEmpty(notes), actor,
	).Scan(
		&m.ID, &m.InventoryItemID, &m.MovementType, &m.QuantityChange, &m.PreviousStock, &m.NewStock,
		&m.UnitCost, &m.ReferenceID, &m.Notes, &m.Actor, &m.CreatedAt,
	)
	if err != nil {
		return nil, translatePgError(err, fmt.Sprintf("stock movement for item %d", itemID))
	}
	li.stock = newStock
	return m, nil
}

func insertCostHistoryTx(ctx context.Context, tx pgx.Tx, itemID int, li *lockedItem, newCost decimal.Decimal,
	src CostSource, ref, actor string) (*CostHistoryEntry, error) {

	e := &CostHistoryEntry{}
	err := tx.QueryRow(ctx, `
		INSERT INTO cost_history (inventory_item_id, previous_cost, new_cost, pack_size, source, source_reference, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, inventory_item_id, previous_cost, new_cost, pack_size, source, source_reference, actor, created_at`,
		itemID, li.unitCost, newCost, li.packSize, string(src), nullIfEmpty(ref), actor,
	).Scan(&e.ID, &e.InventoryItemID, &e.PreviousCost, &e.NewCost, &e.PackSize, &e.Source, &e.SourceReference, &e.Actor, &e.CreatedAt)
	if err != nil {
		return nil, translatePgError(err, fmt.Sprintf("cost history for item %d", itemID))
	}
	if _, err := tx.Exec(ctx,
		"UPDATE inventory_items SET unit_cost = $1, updated_at = NOW() WHERE id = $2",
		newCost, itemID,
	); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("update unit cost for item %d", itemID))
	}
	li.unitCost = newCost
	return e, nil
}

// AdjustStock sets stock to an absolute target under the item lock.
func (s *inventoryService) AdjustStock(ctx context.Context, adj StockAdjustment) (*StockMovement, error) {
	if adj.Target.IsNegative() {
		return nil, Errorf(KindInvariantViolation, "target stock %s is negative", adj.Target)
	}

	var (
		movement *StockMovement
		change   StockChange
	)
	err := withLocks(ctx, s.locker, s.log, []string{itemLockKey(adj.ItemID)}, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		li, err := lockItemTx(ctx, tx, adj.ItemID)
		if err != nil {
			return err
		}
		delta := adj.Target.Sub(li.stock)
		if delta.IsZero() {
			return Errorf(KindInvariantViolation, "inventory item %d already has stock %s; adjustment has no effect", adj.ItemID, li.stock)
		}

		change = StockChange{ItemID: adj.ItemID, PreviousStock: li.stock, MinimumThreshold: li.minimum, ReorderPoint: li.reorder}
		movement, err = applyMovementTx(ctx, tx, adj.ItemID, li, delta, MovementAdjustment, li.unitCost, "", adj.Notes, adj.Actor)
		if err != nil {
			return err
		}
		change.NewStock = movement.NewStock

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit stock adjustment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("item_id", adj.ItemID).Str("previous", movement.PreviousStock.String()).
		Str("new", movement.NewStock.String()).Str("actor", adj.Actor).Msg("stock adjusted")
	s.SettleAlerts(ctx, []StockChange{change}, adj.Actor)
	return movement, nil
}

// RevertCost writes the cost history row before overwriting the unit cost.
func (s *inventoryService) RevertCost(ctx context.Context, rev CostRevert) (*CostHistoryEntry, error) {
	if rev.TargetCost.IsNegative() {
		return nil, Errorf(KindInvariantViolation, "target cost %s is negative", rev.TargetCost)
	}

	var entry *CostHistoryEntry
	err := withLocks(ctx, s.locker, s.log, []string{itemLockKey(rev.ItemID)}, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		li, err := lockItemTx(ctx, tx, rev.ItemID)
		if err != nil {
			return err
		}
		if li.unitCost.Equal(rev.TargetCost) {
			return Errorf(KindInvariantViolation, "inventory item %d already costs %s", rev.ItemID, li.unitCost)
		}

		ref := rev.SourceReference
		if ref == "" {
			ref = rev.Reason
		}
		entry, err = insertCostHistoryTx(ctx, tx, rev.ItemID, li, rev.TargetCost, CostSourceRevert, ref, rev.Actor)
		if err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit cost revert: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Int("item_id", rev.ItemID).Str("previous", entry.PreviousCost.String()).
		Str("new", entry.NewCost.String()).Str("actor", rev.Actor).Msg("unit cost reverted")
	return entry, nil
}

// ReceiveTx applies purchase movements for confirmed invoice lines. Lines for the same
// item are merged so each item gets one movement.
func (s *inventoryService) ReceiveTx(ctx context.Context, tx pgx.Tx, lines []ReceiptLine, actor, sourceRef string) ([]StockChange, error) {
	type merged struct {
		qty, cost decimal.Decimal
		refs      []string
	}
	byItem := map[int]*merged{}
	var ids []int
	for _, l := range lines {
		if !l.Quantity.IsPositive() {
			return nil, Errorf(KindInvariantViolation, "received quantity for item %d must be positive", l.ItemID)
		}
		m, ok := byItem[l.ItemID]
		if !ok {
			m = &merged{}
			byItem[l.ItemID] = m
			ids = append(ids, l.ItemID)
		}
		m.qty = m.qty.Add(l.Quantity)
		m.cost = l.UnitCost
		if l.ReferenceID != "" {
			m.refs = append(m.refs, l.ReferenceID)
		}
	}
	slices.Sort(ids)

	changes := make([]StockChange, 0, len(ids))
	for _, id := range ids {
		m := byItem[id]
		li, err := lockItemTx(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		change := StockChange{ItemID: id, PreviousStock: li.stock, MinimumThreshold: li.minimum, ReorderPoint: li.reorder}

		if m.cost.IsPositive() && !m.cost.Equal(li.unitCost) {
			if _, err := insertCostHistoryTx(ctx, tx, id, li, m.cost, CostSourceInvoice, sourceRef, actor); err != nil {
				return nil, err
			}
		}
		mv, err := applyMovementTx(ctx, tx, id, li, m.qty, MovementPurchase, li.unitCost, sourceRef, strings.Join(m.refs, ","), actor)
		if err != nil {
			return nil, err
		}
		change.NewStock = mv.NewStock
		changes = append(changes, change)
	}
	return changes, nil
}

// SettleAlerts is secondary to the stock write: every failure is logged and swallowed.
func (s *inventoryService) SettleAlerts(ctx context.Context, changes []StockChange, actor string) {
	for _, c := range changes {
		switch {
		case c.CrossedAboveReorderPoint():
			rows, err := s.pool.Query(ctx, `
				UPDATE low_stock_alerts
				SET acknowledged = true, acknowledged_by = $2, acknowledged_at = NOW()
				WHERE inventory_item_id = $1 AND NOT acknowledged
				RETURNING id`,
				c.ItemID, actor,
			)
			if err != nil {
				s.log.Warn().Err(err).Int("item_id", c.ItemID).Msg("failed to acknowledge low-stock alerts")
				continue
			}
			ids, err := pgx.CollectRows(rows, pgx.RowTo[int])
			if err != nil {
				s.log.Warn().Err(err).Int("item_id", c.ItemID).Msg("failed to read acknowledged alerts")
				continue
			}
			if len(ids) > 0 && s.notifier != nil {
				s.notifier.LowStockAcknowledged(ctx, c.ItemID, ids, actor)
			}

		case c.DroppedBelowMinimum():
			a := LowStockAlert{InventoryItemID: c.ItemID, StockLevel: c.NewStock, Threshold: c.MinimumThreshold}
			err := s.pool.QueryRow(ctx, `
				INSERT INTO low_stock_alerts (inventory_item_id, stock_level, threshold)
				VALUES ($1, $2, $3)
				ON CONFLICT (inventory_item_id) WHERE NOT acknowledged DO NOTHING
				RETURNING id, created_at`,
				c.ItemID, c.NewStock, c.MinimumThreshold,
			).Scan(&a.ID, &a.CreatedAt)
			if errors.Is(err, pgx.ErrNoRows) {
				continue // an alert is already open
			}
			if err != nil {
				s.log.Warn().Err(err).Int("item_id", c.ItemID).Msg("failed to open low-stock alert")
				continue
			}
			if s.notifier != nil {
				s.notifier.LowStockRaised(ctx, a)
			}
		}
	}
}

func (s *inventoryService) ListMovements(ctx context.Context, itemID, limit int) ([]StockMovement, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, inventory_item_id, movement_type, quantity_change, previous_stock, new_stock,
		       unit_cost, reference_id, notes, actor, created_at
		FROM stock_movements
		WHERE inventory_item_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		itemID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list movements for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var out []StockMovement
	for rows.Next() {
		var m StockMovement
		if err := rows.Scan(&m.ID, &m.InventoryItemID, &m.MovementType, &m.QuantityChange, &m.PreviousStock,
			&m.NewStock, &m.UnitCost, &m.ReferenceID, &m.Notes, &m.Actor, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan movement: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *inventoryService) ListCostHistory(ctx context.Context, itemID int) ([]CostHistoryEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, inventory_item_id, previous_cost, new_cost, pack_size, source, source_reference, actor, created_at
		FROM cost_history
		WHERE inventory_item_id = $1
		ORDER BY id DESC`,
		itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("list cost history for item %d: %w", itemID, err)
	}
	defer rows.Close()

	var out []CostHistoryEntry
	for rows.Next() {
		var e CostHistoryEntry
		if err := rows.Scan(&e.ID, &e.InventoryItemID, &e.PreviousCost, &e.NewCost, &e.PackSize,
			&e.Source, &e.SourceReference, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cost history: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *inventoryService) OpenAlerts(ctx context.Context, itemID *int) ([]LowStockAlert, error) {
	query := `
		SELECT id, inventory_item_id, stock_level, threshold, acknowledged, acknowledged_by, acknowledged_at, created_at
		FROM low_stock_alerts
		WHERE NOT acknowledged`
	var args []any
	if itemID != nil {
		query += ` AND inventory_item_id = $1`
		args = append(args, *itemID)
	}
	query += ` ORDER BY created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list open alerts: %w", err)
	}
	defer rows.Close()

	var out []LowStockAlert
	for rows.Next() {
		var a LowStockAlert
		if err := rows.Scan(&a.ID, &a.InventoryItemID, &a.StockLevel, &a.Threshold, &a.Acknowledged,
			&a.AcknowledgedBy, &a.AcknowledgedAt, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
