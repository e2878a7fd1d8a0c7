package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoice-recon/internal/matching"
)

type reconciliationService struct {
	pool      *pgxpool.Pool
	invoices  InvoiceService
	inventory InventoryService
	orders    PurchaseOrderService
	locker    Locker
	table     *matching.UnitTable
	th        Thresholds
	log       zerolog.Logger
}

// NewReconciliationService wires the reviewer workflow. locker may be nil in
// single-process deployments; table nil uses the built-in unit table.
func NewReconciliationService(
	pool *pgxpool.Pool,
	invoices InvoiceService,
	inventory InventoryService,
	orders PurchaseOrderService,
	locker Locker,
	table *matching.UnitTable,
	th Thresholds,
	log zerolog.Logger,
) ReconciliationService {
	if table == nil {
		table = matching.NewUnitTable()
	}
	return &reconciliationService{
		pool:      pool,
		invoices:  invoices,
		inventory: inventory,
		orders:    orders,
		locker:    locker,
		table:     table,
		th:        th,
		log:       log.With().Str("component", "reconciliation").Logger(),
	}
}

// lineState is a line row locked together with its invoice.
type lineState struct {
	invoiceID     int
	invoiceStatus InvoiceStatus
	description   string
	unit          *string
	quantity      decimal.Decimal
	matchedItemID *int
	method        *MatchMethod
	confidence    *float64
	reviewed      bool
}

func (l *lineState) skipped() bool { return l.method != nil && *l.method == MatchMethodSkipped }

func lockLineTx(ctx context.Context, tx pgx.Tx, lineItemID int) (*lineState, error) {
	var st lineState
	err := tx.QueryRow(ctx, `
		SELECT l.invoice_id, i.status, l.description, l.unit, l.quantity, l.matched_item_id,
		       l.match_method, l.match_confidence, l.reviewed
		FROM invoice_line_items l
		JOIN invoices i ON i.id = l.invoice_id
		WHERE l.id = $1
		FOR UPDATE OF l, i`,
		lineItemID,
	).Scan(&st.invoiceID, &st.invoiceStatus, &st.description, &st.unit, &st.quantity, &st.matchedItemID,
		&st.method, &st.confidence, &st.reviewed)
	if err != nil {
		return nil, translatePgError(err, fmt.Sprintf("line item %d", lineItemID))
	}
	if !st.invoiceStatus.Reviewable() {
		return nil, Errorf(KindInvalidTransition, "invoice %d is %s and no longer under review", st.invoiceID, st.invoiceStatus)
	}
	return &st, nil
}

func insertLineEventTx(ctx context.Context, tx pgx.Tx, lineItemID int, action string, itemID *int, confidence *float64, notes, actor string) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO line_item_events (line_item_id, action, item_id, confidence, notes, actor)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		lineItemID, action, itemID, confidence, nullIfEmpty(notes), actor,
	); err != nil {
		return fmt.Errorf("record %s event for line item %d: %w", action, lineItemID, err)
	}
	return nil
}

// startReviewTx moves a parsed invoice into reviewing on the first reviewer action.
func startReviewTx(ctx context.Context, tx pgx.Tx, invoiceID int) error {
	if _, err := tx.Exec(ctx,
		"UPDATE invoices SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3",
		invoiceID, string(InvoiceStatusReviewing), string(InvoiceStatusParsed),
	); err != nil {
		return fmt.Errorf("start review of invoice %d: %w", invoiceID, err)
	}
	return nil
}

// invoiceOfLine resolves the lock key owner of a line.
func (s *reconciliationService) invoiceOfLine(ctx context.Context, lineItemID int) (int, error) {
	var invoiceID int
	if err := s.pool.QueryRow(ctx,
		"SELECT invoice_id FROM invoice_line_items WHERE id = $1", lineItemID,
	).Scan(&invoiceID); err != nil {
		return 0, translatePgError(err, fmt.Sprintf("line item %d", lineItemID))
	}
	return invoiceID, nil
}

// withLineLock runs fn under the lock of the invoice owning the line.
func (s *reconciliationService) withLineLock(ctx context.Context, lineItemID int, fn func() error) error {
	invoiceID, err := s.invoiceOfLine(ctx, lineItemID)
	if err != nil {
		return err
	}
	return withLocks(ctx, s.locker, s.log, []string{invoiceLockKey(invoiceID)}, fn)
}

// ConfirmMatch matches a line to an existing item.
func (s *reconciliationService) ConfirmMatch(ctx context.Context, in ConfirmMatchInput) (*InvoiceLineItem, error) {
	var line *InvoiceLineItem
	err := s.withLineLock(ctx, in.LineItemID, func() error {
		item, err := s.inventory.GetItem(ctx, in.ItemID)
		if err != nil {
			return err
		}
		line, err = s.matchLine(ctx, in.LineItemID, item, MatchMethodManual, in.Actor, in.Notes)
		return err
	})
	return line, err
}

// matchLine applies the match in one transaction. Confirming the item already suggested
// by the engine keeps the auto method and its confidence.
func (s *reconciliationService) matchLine(ctx context.Context, lineItemID int, item *InventoryItem,
	method MatchMethod, actor, notes string) (*InvoiceLineItem, error) {

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	st, err := lockLineTx(ctx, tx, lineItemID)
	if err != nil {
		return nil, err
	}
	if st.skipped() {
		return nil, Errorf(KindInvalidTransition, "line item %d is skipped; reopen it before matching", lineItemID)
	}

	var itemID int
	if err := tx.QueryRow(ctx,
		"SELECT id FROM inventory_items WHERE id = $1 FOR SHARE", item.ID,
	).Scan(&itemID); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("inventory item %d", item.ID))
	}

	if st.reviewed && st.matchedItemID != nil && *st.matchedItemID == item.ID {
		return s.invoices.GetLineItem(ctx, lineItemID)
	}

	confidence := 1.0
	if method == MatchMethodManual && st.method != nil && *st.method == MatchMethodAuto &&
		st.matchedItemID != nil && *st.matchedItemID == item.ID {
		method = MatchMethodAuto
		if st.confidence != nil {
			confidence = *st.confidence
		}
	}

	unit := ""
	if st.unit != nil {
		unit = *st.unit
	}
	conv := s.table.Convert(s.table.Detect(st.description, unit, st.quantity), item.UnitType, item.PackSize)
	effective := st.quantity.Mul(conv.Multiplier)

	if _, err := tx.Exec(ctx, `
		UPDATE invoice_line_items
		SET matched_item_id = $2, match_confidence = $3, match_method = $4,
		    unit_multiplier = $5, effective_quantity = $6,
		    needs_review = false, reviewed = true, review_notes = COALESCE($7, review_notes),
		    reviewed_by = $8, reviewed_at = NOW(), updated_at = NOW()
		WHERE id = $1`,
		lineItemID, item.ID, confidence, string(method), conv.Multiplier, effective, nullIfEmpty(notes), actor,
	); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("line item %d", lineItemID))
	}

	action := ActionConfirm
	if method == MatchMethodManualCreate {
		action = ActionCreateMatch
	}
	if err := insertLineEventTx(ctx, tx, lineItemID, action, &item.ID, &confidence, notes, actor); err != nil {
		return nil, err
	}
	if err := startReviewTx(ctx, tx, st.invoiceID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("line item %d", lineItemID))
	}

	s.log.Info().Int("line_item_id", lineItemID).Int("item_id", item.ID).Str("method", string(method)).
		Str("multiplier", conv.Multiplier.String()).Str("actor", actor).Msg("line item matched")
	return s.invoices.GetLineItem(ctx, lineItemID)
}

// SkipLineItem marks the line skipped.
func (s *reconciliationService) SkipLineItem(ctx context.Context, in SkipInput) (*InvoiceLineItem, error) {
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, Errorf(KindInvalidRequest, "a reason is required to skip a line item")
	}

	var line *InvoiceLineItem
	err := s.withLineLock(ctx, in.LineItemID, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockLineTx(ctx, tx, in.LineItemID)
		if err != nil {
			return err
		}
		if !st.skipped() {
			if _, err := tx.Exec(ctx, `
				UPDATE invoice_line_items
				SET matched_item_id = NULL, match_confidence = NULL, match_method = 'skipped',
				    unit_multiplier = NULL, effective_quantity = NULL,
				    needs_review = false, reviewed = true, review_notes = $2,
				    reviewed_by = $3, reviewed_at = NOW(), updated_at = NOW()
				WHERE id = $1`,
				in.LineItemID, reason, in.Actor,
			); err != nil {
				return fmt.Errorf("skip line item %d: %w", in.LineItemID, err)
			}
			if err := insertLineEventTx(ctx, tx, in.LineItemID, ActionSkip, nil, nil, reason, in.Actor); err != nil {
				return err
			}
			if err := startReviewTx(ctx, tx, st.invoiceID); err != nil {
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit skip: %w", err)
			}
			s.log.Info().Int("line_item_id", in.LineItemID).Str("reason", reason).Str("actor", in.Actor).Msg("line item skipped")
		}
		line, err = s.invoices.GetLineItem(ctx, in.LineItemID)
		return err
	})
	return line, err
}

// CreateAndMatch creates a new item and matches the line to it as a saga.
func (s *reconciliationService) CreateAndMatch(ctx context.Context, in CreateAndMatchInput) (*InvoiceLineItem, *InventoryItem, error) {
	var (
		line *InvoiceLineItem
		item *InventoryItem
	)
	err := s.withLineLock(ctx, in.LineItemID, func() error {
		current, err := s.invoices.GetLineItem(ctx, in.LineItemID)
		if err != nil {
			return err
		}
		// A retry after a successful first attempt finds the line already matched.
		if current.MatchMethod != nil && *current.MatchMethod == MatchMethodManualCreate &&
			current.MatchedItemName != nil &&
			strings.EqualFold(*current.MatchedItemName, strings.TrimSpace(in.Item.Name)) {
			existing, err := s.inventory.GetItem(ctx, *current.MatchedItemID)
			if err != nil {
				return err
			}
			line, item = current, existing
			return nil
		}
		if current.Skipped() {
			return Errorf(KindInvalidTransition, "line item %d is skipped; reopen it before matching", in.LineItemID)
		}

		line, item, err = createAndMatch(ctx, s.log, s.inventory, s, in.LineItemID, in.Item, in.Actor)
		return err
	})
	return line, item, err
}

// RemoveMatch clears the match. Unmatched lines are left as they are.
func (s *reconciliationService) RemoveMatch(ctx context.Context, lineItemID int, actor string) (*InvoiceLineItem, error) {
	return s.resetLine(ctx, lineItemID, actor, false)
}

// ReopenLineItem un-skips a line. Lines that are not skipped are left as they are.
func (s *reconciliationService) ReopenLineItem(ctx context.Context, lineItemID int, actor string) (*InvoiceLineItem, error) {
	return s.resetLine(ctx, lineItemID, actor, true)
}

// resetLine returns a line to its unmatched state. reopen selects which lines qualify:
// skipped lines for reopen, matched lines for remove-match.
func (s *reconciliationService) resetLine(ctx context.Context, lineItemID int, actor string, reopen bool) (*InvoiceLineItem, error) {
	var line *InvoiceLineItem
	err := s.withLineLock(ctx, lineItemID, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		st, err := lockLineTx(ctx, tx, lineItemID)
		if err != nil {
			return err
		}

		action := ActionRemoveMatch
		apply := st.matchedItemID != nil
		if reopen {
			action = ActionReopen
			apply = st.skipped()
		} else if st.skipped() {
			return Errorf(KindInvalidTransition, "line item %d is skipped; reopen it instead", lineItemID)
		}

		if apply {
			if _, err := tx.Exec(ctx, `
				UPDATE invoice_line_items
				SET matched_item_id = NULL, match_confidence = NULL, match_method = NULL,
				    unit_multiplier = NULL, effective_quantity = NULL,
				    needs_review = true, reviewed = false, review_notes = NULL,
				    reviewed_by = $2, reviewed_at = NOW(), updated_at = NOW()
				WHERE id = $1`,
				lineItemID, actor,
			); err != nil {
				return fmt.Errorf("reset line item %d: %w", lineItemID, err)
			}
			if err := insertLineEventTx(ctx, tx, lineItemID, action, st.matchedItemID, nil, "", actor); err != nil {
				return err
			}
			if err := startReviewTx(ctx, tx, st.invoiceID); err != nil {
				return err
			}
			if err := tx.Commit(ctx); err != nil {
				return fmt.Errorf("commit %s: %w", action, err)
			}
			s.log.Info().Int("line_item_id", lineItemID).Str("action", action).Str("actor", actor).Msg("line item reset")
		}

		line, err = s.invoices.GetLineItem(ctx, lineItemID)
		return err
	})
	return line, err
}

const matchSelect = `
	SELECT m.id, m.invoice_id, m.order_id, po.po_number, m.match_confidence, m.match_method, m.status,
	       m.quantity_variance, m.amount_variance, m.variance_source, m.variance_notes, m.linked_by,
	       m.resolved_by, m.resolved_at, m.created_at
	FROM order_invoice_matches m
	JOIN purchase_orders po ON po.id = m.order_id`

func scanMatch(row pgx.Row, m *OrderInvoiceMatch) error {
	return row.Scan(&m.ID, &m.InvoiceID, &m.OrderID, &m.PONumber, &m.MatchConfidence, &m.MatchMethod, &m.Status,
		&m.QuantityVariance, &m.AmountVariance, &m.VarianceSource, &m.VarianceNotes, &m.LinkedBy,
		&m.ResolvedBy, &m.ResolvedAt, &m.CreatedAt)
}

func (s *reconciliationService) ActiveLink(ctx context.Context, invoiceID int) (*OrderInvoiceMatch, error) {
	m := &OrderInvoiceMatch{}
	if err := scanMatch(s.pool.QueryRow(ctx,
		matchSelect+` WHERE m.invoice_id = $1 AND m.status <> 'rejected'`, invoiceID,
	), m); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("purchase order link for invoice %d", invoiceID))
	}
	return m, nil
}

// LinkPurchaseOrder records the link and its variance.
func (s *reconciliationService) LinkPurchaseOrder(ctx context.Context, in LinkInput) (*OrderInvoiceMatch, error) {
	method := in.Method
	if method == "" {
		method = "manual"
	}
	if method != "manual" && method != "auto" {
		return nil, Errorf(KindInvalidRequest, "unknown link method %q", in.Method)
	}

	var link *OrderInvoiceMatch
	err := withLocks(ctx, s.locker, s.log, []string{invoiceLockKey(in.InvoiceID)}, func() error {
		inv, err := s.invoices.GetInvoice(ctx, in.InvoiceID)
		if err != nil {
			return err
		}
		if !inv.Status.Reviewable() {
			return Errorf(KindInvalidTransition, "invoice %d is %s and cannot be linked", inv.ID, inv.Status)
		}
		po, err := s.orders.GetPurchaseOrder(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if !po.Status.Linkable() {
			return Errorf(KindInvalidTransition, "purchase order %s is %s and cannot be linked", po.PONumber, po.Status)
		}
		if inv.SupplierID != nil && *inv.SupplierID != po.SupplierID {
			return Errorf(KindInvariantViolation, "invoice %d and purchase order %s belong to different suppliers", inv.ID, po.PONumber)
		}

		var v Variance
		source := VarianceComputed
		if in.Supplied != nil {
			source = VarianceSupplied
			v.QuantityVariance = in.Supplied.QuantityVariance
			v.AmountVariance = in.Supplied.AmountVariance.Round(2)
			if in.Supplied.Notes != "" {
				v.Notes = []string{in.Supplied.Notes}
			}
			v.WithinTolerance, v.Confidence = assessVariance(v.AmountVariance, v.QuantityVariance, po, s.th.VarianceTolerance)
			if in.Supplied.Confidence != nil {
				v.Confidence = clamp01(*in.Supplied.Confidence)
			}
		} else {
			v = ComputeVariance(inv, po, s.th.VarianceTolerance)
		}

		status := LinkStatusPending
		if v.WithinTolerance {
			status = LinkStatusConfirmed
		}

		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `
			UPDATE order_invoice_matches
			SET status = 'rejected', resolved_by = $2, resolved_at = NOW()
			WHERE invoice_id = $1 AND status <> 'rejected'`,
			inv.ID, in.Actor,
		); err != nil {
			return fmt.Errorf("replace previous link: %w", err)
		}

		var id int
		var resolvedBy *string
		if status == LinkStatusConfirmed {
			resolvedBy = &in.Actor
		}
		if err := tx.QueryRow(ctx, `
			INSERT INTO order_invoice_matches (invoice_id, order_id, match_confidence, match_method, status,
			                                   quantity_variance, amount_variance, variance_notes, linked_by,
			                                   resolved_by, resolved_at, variance_source)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, CASE WHEN $10::text IS NULL THEN NULL ELSE NOW() END, $11)
			RETURNING id`,
			inv.ID, po.ID, v.Confidence, method, string(status),
			v.QuantityVariance, v.AmountVariance, nullIfEmpty(joinNotes(v.Notes)), in.Actor, resolvedBy, source,
		).Scan(&id); err != nil {
			return translatePgError(err, fmt.Sprintf("purchase order link for invoice %d", inv.ID))
		}
		if err := startReviewTx(ctx, tx, inv.ID); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit purchase order link: %w", err)
		}

		s.log.Info().Int("invoice_id", inv.ID).Str("po_number", po.PONumber).Str("status", string(status)).
			Str("amount_variance", v.AmountVariance.String()).Str("quantity_variance", v.QuantityVariance.String()).
			Msg("invoice linked to purchase order")

		link, err = s.ActiveLink(ctx, inv.ID)
		return err
	})
	return link, err
}

// ResolvePurchaseOrderLink accepts or rejects the active link.
func (s *reconciliationService) ResolvePurchaseOrderLink(ctx context.Context, invoiceID int, accept bool, actor, notes string) (*OrderInvoiceMatch, error) {
	var link *OrderInvoiceMatch
	err := withLocks(ctx, s.locker, s.log, []string{invoiceLockKey(invoiceID)}, func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback(ctx)

		var invStatus InvoiceStatus
		if err := tx.QueryRow(ctx, "SELECT status FROM invoices WHERE id = $1 FOR UPDATE", invoiceID).Scan(&invStatus); err != nil {
			return translatePgError(err, fmt.Sprintf("invoice %d", invoiceID))
		}
		if !invStatus.Reviewable() {
			return Errorf(KindInvalidTransition, "invoice %d is %s and no longer under review", invoiceID, invStatus)
		}

		var (
			matchID int
			current LinkStatus
		)
		if err := tx.QueryRow(ctx, `
			SELECT id, status FROM order_invoice_matches
			WHERE invoice_id = $1 AND status <> 'rejected'
			FOR UPDATE`,
			invoiceID,
		).Scan(&matchID, &current); err != nil {
			return translatePgError(err, fmt.Sprintf("purchase order link for invoice %d", invoiceID))
		}

		target := LinkStatusRejected
		if accept {
			target = LinkStatusConfirmed
		}
		if current == target {
			link, err = s.ActiveLink(ctx, invoiceID)
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE order_invoice_matches
			SET status = $2, resolved_by = $3, resolved_at = NOW(),
			    variance_notes = CASE WHEN $4::text IS NULL THEN variance_notes
			                          ELSE concat_ws('; ', variance_notes, $4::text) END
			WHERE id = $1`,
			matchID, string(target), actor, nullIfEmpty(notes),
		); err != nil {
			return fmt.Errorf("resolve purchase order link %d: %w", matchID, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit link resolution: %w", err)
		}
		s.log.Info().Int("invoice_id", invoiceID).Int("match_id", matchID).Str("status", string(target)).
			Str("actor", actor).Msg("purchase order link resolved")

		m := &OrderInvoiceMatch{}
		if err := scanMatch(s.pool.QueryRow(ctx, matchSelect+` WHERE m.id = $1`, matchID), m); err != nil {
			return translatePgError(err, fmt.Sprintf("purchase order link %d", matchID))
		}
		link = m
		return nil
	})
	return link, err
}

// ConfirmInvoice receives every matched line into stock and closes the invoice.
func (s *reconciliationService) ConfirmInvoice(ctx context.Context, invoiceID int, actor string) (*Invoice, error) {
	var out *Invoice
	err := withLocks(ctx, s.locker, s.log, []string{invoiceLockKey(invoiceID)}, func() error {
		inv, err := s.invoices.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Status == InvoiceStatusConfirmed {
			out = inv
			return nil
		}
		if !inv.Status.Reviewable() {
			return Errorf(KindInvalidTransition, "invoice %d is %s and cannot be confirmed", inv.ID, inv.Status)
		}
		if len(inv.LineItems) == 0 {
			return Errorf(KindInvariantViolation, "invoice %d has no line items", inv.ID)
		}

		var (
			receipts []ReceiptLine
			itemKeys []string
		)
		for i := range inv.LineItems {
			l := &inv.LineItems[i]
			if !l.Resolved() {
				return Errorf(KindInvariantViolation, "line %d of invoice %d is not resolved", l.LineNumber, inv.ID)
			}
			if l.Skipped() || !l.ReceivedQuantity().IsPositive() {
				continue
			}
			mult := decimal.NewFromInt(1)
			if l.UnitMultiplier != nil && l.UnitMultiplier.IsPositive() {
				mult = *l.UnitMultiplier
			}
			receipts = append(receipts, ReceiptLine{
				ItemID:      *l.MatchedItemID,
				Quantity:    l.ReceivedQuantity(),
				UnitCost:    l.UnitPrice.Div(mult).Round(6),
				ReferenceID: fmt.Sprintf("invoice:%d:line:%d", inv.ID, l.LineNumber),
			})
			itemKeys = append(itemKeys, itemLockKey(*l.MatchedItemID))
		}

		link, err := s.ActiveLink(ctx, inv.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Errorf(KindInvariantViolation, "invoice %d has no purchase order link", inv.ID)
			}
			return err
		}
		if link.Status != LinkStatusConfirmed {
			return Errorf(KindInvariantViolation, "purchase order link for invoice %d is %s; resolve the variance first", inv.ID, link.Status)
		}
		if err := s.recheckVariance(ctx, inv, link); err != nil {
			return err
		}

		var changes []StockChange
		err = withLocks(ctx, s.locker, s.log, itemKeys, func() error {
			tx, err := s.pool.Begin(ctx)
			if err != nil {
				return fmt.Errorf("begin transaction: %w", err)
			}
			defer tx.Rollback(ctx)

			var status InvoiceStatus
			if err := tx.QueryRow(ctx, "SELECT status FROM invoices WHERE id = $1 FOR UPDATE", inv.ID).Scan(&status); err != nil {
				return translatePgError(err, fmt.Sprintf("invoice %d", inv.ID))
			}
			if !status.Reviewable() {
				return Errorf(KindInvalidTransition, "invoice %d is %s and cannot be confirmed", inv.ID, status)
			}

			if len(receipts) > 0 {
				changes, err = s.inventory.ReceiveTx(ctx, tx, receipts, actor, fmt.Sprintf("invoice:%d", inv.ID))
				if err != nil {
					return err
				}
			}
			if _, err := tx.Exec(ctx, `
				UPDATE invoices SET status = $2, confirmed_by = $3, confirmed_at = NOW(), updated_at = NOW()
				WHERE id = $1`,
				inv.ID, string(InvoiceStatusConfirmed), actor,
			); err != nil {
				return fmt.Errorf("confirm invoice %d: %w", inv.ID, err)
			}
			return tx.Commit(ctx)
		})
		if err != nil {
			return err
		}

		s.log.Info().Int("invoice_id", inv.ID).Int("receipts", len(receipts)).Str("actor", actor).Msg("invoice confirmed")
		s.inventory.SettleAlerts(ctx, changes, actor)
		s.markOrderReceived(ctx, link.OrderID, inv.ID, actor)

		out, err = s.invoices.GetInvoice(ctx, inv.ID)
		return err
	})
	return out, err
}

// recheckVariance recomputes a computed link variance from the current lines. Reviews
// after linking can change effective quantities; when the figures moved out of tolerance
// the link goes back to pending so the new variance is resolved before stock is posted.
func (s *reconciliationService) recheckVariance(ctx context.Context, inv *Invoice, link *OrderInvoiceMatch) error {
	if link.VarianceSource != VarianceComputed {
		return nil
	}
	po, err := s.orders.GetPurchaseOrder(ctx, link.OrderID)
	if err != nil {
		return err
	}
	v := ComputeVariance(inv, po, s.th.VarianceTolerance)
	if v.QuantityVariance.Equal(link.QuantityVariance) && v.AmountVariance.Equal(link.AmountVariance) {
		return nil
	}

	status := LinkStatusConfirmed
	if !v.WithinTolerance {
		status = LinkStatusPending
	}
	if _, err := s.pool.Exec(ctx, `
		UPDATE order_invoice_matches
		SET quantity_variance = $2, amount_variance = $3, match_confidence = $4, variance_notes = $5,
		    status = $6,
		    resolved_by = CASE WHEN $6::text = 'pending' THEN NULL ELSE resolved_by END,
		    resolved_at = CASE WHEN $6::text = 'pending' THEN NULL ELSE resolved_at END
		WHERE id = $1`,
		link.ID, v.QuantityVariance, v.AmountVariance, v.Confidence, nullIfEmpty(joinNotes(v.Notes)), string(status),
	); err != nil {
		return fmt.Errorf("refresh purchase order link %d: %w", link.ID, err)
	}
	s.log.Info().Int("invoice_id", inv.ID).Int("match_id", link.ID).Str("status", string(status)).
		Str("amount_variance", v.AmountVariance.String()).Str("quantity_variance", v.QuantityVariance.String()).
		Msg("purchase order variance changed since linking")

	if status == LinkStatusPending {
		return Errorf(KindInvariantViolation,
			"variance against purchase order %s changed since linking (quantity %s, amount %s); resolve the link again",
			po.PONumber, v.QuantityVariance, v.AmountVariance)
	}
	return nil
}

// markOrderReceived advances an approved or sent order to received. It is secondary
// to the confirmation and only logs failures.
func (s *reconciliationService) markOrderReceived(ctx context.Context, orderID, invoiceID int, actor string) {
	po, err := s.orders.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		s.log.Warn().Err(err).Int("po_id", orderID).Msg("could not load purchase order after invoice confirmation")
		return
	}
	if po.Status != POStatusApproved && po.Status != POStatusSent {
		return
	}
	if _, err := s.orders.TransitionStatus(ctx, orderID, POStatusReceived, actor,
		fmt.Sprintf("received via invoice %d", invoiceID)); err != nil {
		s.log.Warn().Err(err).Int("po_id", orderID).Msg("could not mark purchase order received")
	}
}

// LineEvents returns the audit trail of a line, oldest first.
func (s *reconciliationService) LineEvents(ctx context.Context, lineItemID int) ([]LineItemEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, line_item_id, action, item_id, confidence, notes, actor, created_at
		FROM line_item_events
		WHERE line_item_id = $1
		ORDER BY id`,
		lineItemID,
	)
	if err != nil {
		return nil, fmt.Errorf("line item %d events: %w", lineItemID, err)
	}
	defer rows.Close()

	var events []LineItemEvent
	for rows.Next() {
		var e LineItemEvent
		if err := rows.Scan(&e.ID, &e.LineItemID, &e.Action, &e.ItemID, &e.Confidence, &e.Notes, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan line item event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
