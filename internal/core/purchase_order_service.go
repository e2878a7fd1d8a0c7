package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type purchaseOrderService struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPurchaseOrderService constructs a PurchaseOrderService backed by PostgreSQL.
func NewPurchaseOrderService(pool *pgxpool.Pool, log zerolog.Logger) PurchaseOrderService {
	return &purchaseOrderService{pool: pool, log: log.With().Str("component", "purchase_orders").Logger()}
}

// CreatePurchaseOrder creates a new draft purchase order with computed line totals.
func (s *purchaseOrderService) CreatePurchaseOrder(ctx context.Context, in NewPurchaseOrderInput) (*PurchaseOrder, error) {
	if len(in.Lines) == 0 {
		return nil, Errorf(KindInvalidRequest, "purchase order must have at least one line")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var supplierExists bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM suppliers WHERE id = $1 AND is_active)",
		in.SupplierID,
	).Scan(&supplierExists); err != nil {
		return nil, fmt.Errorf("validate supplier: %w", err)
	}
	if !supplierExists {
		return nil, Errorf(KindNotFound, "supplier %d not found", in.SupplierID)
	}

	total := decimal.Zero
	for i, l := range in.Lines {
		if !l.Quantity.IsPositive() {
			return nil, Errorf(KindInvalidRequest, "line %d: quantity must be positive", i+1)
		}
		if l.UnitCost.IsNegative() {
			return nil, Errorf(KindInvalidRequest, "line %d: unit cost must not be negative", i+1)
		}
		total = total.Add(l.Quantity.Mul(l.UnitCost))
	}

	poNumber, err := nextDocumentNumber(ctx, tx, "PO")
	if err != nil {
		return nil, err
	}

	var notes *string
	if in.Notes != "" {
		notes = &in.Notes
	}

	var poID int
	if err := tx.QueryRow(ctx, `
		INSERT INTO purchase_orders (po_number, supplier_id, status, total_amount, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		poNumber, in.SupplierID, string(POStatusDraft), total.Round(2), notes, in.Actor,
	).Scan(&poID); err != nil {
		return nil, fmt.Errorf("insert purchase order: %w", err)
	}

	for i, l := range in.Lines {
		if _, err := tx.Exec(ctx, `
			INSERT INTO purchase_order_lines
			            (order_id, line_number, inventory_item_id, description, quantity, unit_cost, line_total)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			poID, i+1, l.InventoryItemID, l.Description, l.Quantity, l.UnitCost, l.Quantity.Mul(l.UnitCost).Round(2),
		); err != nil {
			return nil, translatePgError(err, fmt.Sprintf("purchase order line %d", i+1))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit purchase order: %w", err)
	}

	s.log.Info().Int("po_id", poID).Str("po_number", poNumber).Str("actor", in.Actor).Msg("purchase order created")
	return s.GetPurchaseOrder(ctx, poID)
}

// TransitionStatus applies one state machine step under a row lock.
func (s *purchaseOrderService) TransitionStatus(ctx context.Context, id int, to POStatus, actor, note string) (*PurchaseOrder, error) {
	if !to.Valid() {
		return nil, Errorf(KindInvalidRequest, "unknown purchase order status %q", to)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var from POStatus
	if err := tx.QueryRow(ctx,
		"SELECT status FROM purchase_orders WHERE id = $1 FOR UPDATE",
		id,
	).Scan(&from); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "purchase order %d not found", id)
		}
		return nil, fmt.Errorf("fetch purchase order %d: %w", id, err)
	}

	if from == to {
		return s.GetPurchaseOrder(ctx, id)
	}
	if !CanTransition(from, to) {
		return nil, Errorf(KindInvalidTransition, "purchase order %d cannot move from %s to %s", id, from, to)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE purchase_orders SET status = $1, updated_at = NOW() WHERE id = $2",
		string(to), id,
	); err != nil {
		return nil, fmt.Errorf("update purchase order %d status: %w", id, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit status change: %w", err)
	}

	var notePtr *string
	if note != "" {
		notePtr = &note
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO purchase_order_status_history (order_id, previous_status, new_status, actor, note)
		VALUES ($1, $2, $3, $4, $5)`,
		id, string(from), string(to), actor, notePtr,
	); err != nil {
		s.log.Error().Err(err).Int("po_id", id).Str("from", string(from)).Str("to", string(to)).
			Msg("status history write failed; status change kept")
	}

	s.log.Info().Int("po_id", id).Str("from", string(from)).Str("to", string(to)).Str("actor", actor).Msg("purchase order status changed")
	return s.GetPurchaseOrder(ctx, id)
}

// GetStatusHistory returns the transitions applied to the order, oldest first.
func (s *purchaseOrderService) GetStatusHistory(ctx context.Context, id int) ([]POStatusChange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, previous_status, new_status, actor, note, created_at
		FROM purchase_order_status_history
		WHERE order_id = $1
		ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("status history for purchase order %d: %w", id, err)
	}
	defer rows.Close()

	var changes []POStatusChange
	for rows.Next() {
		var c POStatusChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.PreviousStatus, &c.NewStatus, &c.Actor, &c.Note, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status history: %w", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

const purchaseOrderSelect = `
	SELECT po.id, po.po_number, po.supplier_id, s.name, po.status, po.total_amount,
	       po.notes, po.created_by, po.created_at, po.updated_at
	FROM purchase_orders po
	JOIN suppliers s ON s.id = po.supplier_id`

func scanPurchaseOrder(row pgx.Row, po *PurchaseOrder) error {
	return row.Scan(
		&po.ID, &po.PONumber, &po.SupplierID, &po.SupplierName, &po.Status, &po.TotalAmount,
		&po.Notes, &po.CreatedBy, &po.CreatedAt, &po.UpdatedAt,
	)
}

// GetPurchaseOrder returns a purchase order by its internal ID, including all lines.
func (s *purchaseOrderService) GetPurchaseOrder(ctx context.Context, id int) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	if err := scanPurchaseOrder(s.pool.QueryRow(ctx, purchaseOrderSelect+` WHERE po.id = $1`, id), po); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Errorf(KindNotFound, "purchase order %d not found", id)
		}
		return nil, fmt.Errorf("get purchase order %d: %w", id, err)
	}

	lines, err := s.fetchLines(ctx, id)
	if err != nil {
		return nil, err
	}
	po.Lines = lines
	return po, nil
}

// ListPurchaseOrders returns purchase orders, newest first. Lines are not loaded.
func (s *purchaseOrderService) ListPurchaseOrders(ctx context.Context, supplierID *int, status POStatus) ([]PurchaseOrder, error) {
	query := purchaseOrderSelect + ` WHERE TRUE`
	var args []any
	if supplierID != nil {
		args = append(args, *supplierID)
		query += fmt.Sprintf(" AND po.supplier_id = $%d", len(args))
	}
	if status != "" {
		args = append(args, string(status))
		query += fmt.Sprintf(" AND po.status = $%d", len(args))
	}
	query += " ORDER BY po.created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchase orders: %w", err)
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := scanPurchaseOrder(rows, &po); err != nil {
			return nil, fmt.Errorf("scan purchase order: %w", err)
		}
		orders = append(orders, po)
	}
	return orders, rows.Err()
}

// fetchLines returns all lines for a purchase order.
func (s *purchaseOrderService) fetchLines(ctx context.Context, poID int) ([]PurchaseOrderLine, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pol.id, pol.order_id, pol.line_number,
		       pol.inventory_item_id, ii.name,
		       pol.description, pol.quantity, pol.unit_cost, pol.line_total
		FROM purchase_order_lines pol
		LEFT JOIN inventory_items ii ON ii.id = pol.inventory_item_id
		WHERE pol.order_id = $1
		ORDER BY pol.line_number`,
		poID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetch PO lines for order %d: %w", poID, err)
	}
	defer rows.Close()

	var lines []PurchaseOrderLine
	for rows.Next() {
		var l PurchaseOrderLine
		if err := rows.Scan(
			&l.ID, &l.OrderID, &l.LineNumber,
			&l.InventoryItemID, &l.ItemName,
			&l.Description, &l.Quantity, &l.UnitCost, &l.LineTotal,
		); err != nil {
			return nil, fmt.Errorf("scan PO line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
