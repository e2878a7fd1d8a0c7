package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type invoiceService struct {
	pool *pgxpool.Pool
	th   Thresholds
	log  zerolog.Logger
}

// NewInvoiceService constructs an InvoiceService backed by PostgreSQL.
func NewInvoiceService(pool *pgxpool.Pool, th Thresholds, log zerolog.Logger) InvoiceService {
	return &invoiceService{pool: pool, th: th, log: log.With().Str("component", "invoices").Logger()}
}

// MaxInvoicePage bounds list offsets so page*size stays well inside OFFSET's range.
const MaxInvoicePage = 100000

const invoiceSelect = `
	SELECT i.id, i.supplier_id, s.name, i.invoice_number, i.invoice_date::text, i.due_date::text,
	       i.total_amount, i.currency, i.file_path, i.mime_type, i.status, i.extraction_method,
	       i.parsing_confidence, i.parsing_error, i.text_analysis, i.uploaded_by,
	       i.confirmed_by, i.confirmed_at, i.created_at, i.updated_at
	FROM invoices i
	LEFT JOIN suppliers s ON s.id = i.supplier_id`

func scanInvoice(row pgx.Row, inv *Invoice) error {
	return row.Scan(
		&inv.ID, &inv.SupplierID, &inv.SupplierName, &inv.InvoiceNumber, &inv.InvoiceDate, &inv.DueDate,
		&inv.TotalAmount, &inv.Currency, &inv.FilePath, &inv.MimeType, &inv.Status, &inv.ExtractionMethod,
		&inv.ParsingConfidence, &inv.ParsingError, &inv.TextAnalysis, &inv.UploadedBy,
		&inv.ConfirmedBy, &inv.ConfirmedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
}

const lineSelect = `
	SELECT l.id, l.invoice_id, l.line_number, l.description, l.quantity, l.unit, l.unit_price, l.total,
	       l.extraction_confidence, l.matched_item_id, ii.name, l.match_confidence, l.match_method,
	       l.unit_multiplier, l.effective_quantity, l.needs_review, l.reviewed, l.review_notes,
	       l.reviewed_by, l.reviewed_at, l.updated_at
	FROM invoice_line_items l
	LEFT JOIN inventory_items ii ON ii.id = l.matched_item_id`

func scanLine(row pgx.Row, l *InvoiceLineItem) error {
	return row.Scan(
		&l.ID, &l.InvoiceID, &l.LineNumber, &l.Description, &l.Quantity, &l.Unit, &l.UnitPrice, &l.Total,
		&l.ExtractionConfidence, &l.MatchedItemID, &l.MatchedItemName, &l.MatchConfidence, &l.MatchMethod,
		&l.UnitMultiplier, &l.EffectiveQuantity, &l.NeedsReview, &l.Reviewed, &l.ReviewNotes,
		&l.ReviewedBy, &l.ReviewedAt, &l.UpdatedAt,
	)
}

// CreateInvoice records an uploaded document.
func (s *invoiceService) CreateInvoice(ctx context.Context, in NewInvoiceInput) (*Invoice, error) {
	if in.FilePath == "" || in.MimeType == "" {
		return nil, Errorf(KindInvalidRequest, "file path and mime type are required")
	}
	var id int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO invoices (supplier_id, file_path, mime_type, status, uploaded_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		in.SupplierID, in.FilePath, in.MimeType, string(InvoiceStatusUploaded), in.UploadedBy,
	).Scan(&id)
	if err != nil {
		return nil, translatePgError(err, "invoice")
	}
	s.log.Info().Int("invoice_id", id).Str("file", in.FilePath).Msg("invoice uploaded")
	return s.GetInvoice(ctx, id)
}

// GetInvoice returns the invoice with its line items.
func (s *invoiceService) GetInvoice(ctx context.Context, id int) (*Invoice, error) {
	inv := &Invoice{}
	if err := scanInvoice(s.pool.QueryRow(ctx, invoiceSelect+` WHERE i.id = $1`, id), inv); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("invoice %d", id))
	}

	rows, err := s.pool.Query(ctx, lineSelect+` WHERE l.invoice_id = $1 ORDER BY l.line_number`, id)
	if err != nil {
		return nil, fmt.Errorf("fetch line items for invoice %d: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var l InvoiceLineItem
		if err := scanLine(rows, &l); err != nil {
			return nil, fmt.Errorf("scan line item: %w", err)
		}
		inv.LineItems = append(inv.LineItems, l)
	}
	return inv, rows.Err()
}

func (s *invoiceService) GetLineItem(ctx context.Context, id int) (*InvoiceLineItem, error) {
	l := &InvoiceLineItem{}
	if err := scanLine(s.pool.QueryRow(ctx, lineSelect+` WHERE l.id = $1`, id), l); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("line item %d", id))
	}
	return l, nil
}

func (s *invoiceService) GetExtractedText(ctx context.Context, id int) (string, error) {
	var text *string
	if err := s.pool.QueryRow(ctx, "SELECT extracted_text FROM invoices WHERE id = $1", id).Scan(&text); err != nil {
		return "", translatePgError(err, fmt.Sprintf("invoice %d", id))
	}
	if text == nil {
		return "", nil
	}
	return *text, nil
}

// extractableStatuses are the statuses from which (re-)extraction may run.
var extractableStatuses = []string{string(InvoiceStatusUploaded), string(InvoiceStatusParsing), string(InvoiceStatusParsed)}

// RecordExtraction stores text and analysis and resets the invoice to uploaded.
func (s *invoiceService) RecordExtraction(ctx context.Context, id int, rec ExtractionRecord) error {
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return fmt.Errorf("encode text analysis: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices
		SET extraction_method = $2, extracted_text = $3, text_analysis = $4::jsonb,
		    parsing_error = $5, parsing_confidence = NULL, status = $6, updated_at = NOW()
		WHERE id = $1 AND status = ANY($7)
		  AND NOT EXISTS (SELECT 1 FROM invoice_line_items l WHERE l.invoice_id = $1 AND l.reviewed)`,
		id, nullIfEmpty(rec.Method), rec.Text, string(analysis), nullIfEmpty(rec.Failure),
		string(InvoiceStatusUploaded), extractableStatuses,
	)
	if err != nil {
		return fmt.Errorf("record extraction for invoice %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainStatusMiss(ctx, id, "extract")
	}
	return nil
}

// MarkParsing moves the invoice into parsing.
func (s *invoiceService) MarkParsing(ctx context.Context, id int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)`,
		id, string(InvoiceStatusParsing), []string{string(InvoiceStatusUploaded), string(InvoiceStatusParsed)},
	)
	if err != nil {
		return fmt.Errorf("mark invoice %d parsing: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainStatusMiss(ctx, id, "parse")
	}
	return nil
}

// MarkError moves an invoice into the terminal error status.
func (s *invoiceService) MarkError(ctx context.Context, id int, message string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE invoices SET status = $2, parsing_error = $3, updated_at = NOW()
		WHERE id = $1 AND status NOT IN ('confirmed', 'cancelled')`,
		id, string(InvoiceStatusError), message,
	)
	if err != nil {
		return fmt.Errorf("mark invoice %d error: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.explainStatusMiss(ctx, id, "fail")
	}
	s.log.Warn().Int("invoice_id", id).Str("reason", message).Msg("invoice moved to error")
	return nil
}

func (s *invoiceService) explainStatusMiss(ctx context.Context, id int, action string) error {
	var status InvoiceStatus
	if err := s.pool.QueryRow(ctx, "SELECT status FROM invoices WHERE id = $1", id).Scan(&status); err != nil {
		return translatePgError(err, fmt.Sprintf("invoice %d", id))
	}
	return Errorf(KindInvalidTransition, "cannot %s invoice %d in status %s", action, id, status)
}

// RecordParseResult persists the parser outcome.
func (s *invoiceService) RecordParseResult(ctx context.Context, id int, res ParseResult) (*Invoice, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		status   InvoiceStatus
		analysis TextAnalysis
	)
	if err := tx.QueryRow(ctx,
		"SELECT status, text_analysis FROM invoices WHERE id = $1 FOR UPDATE", id,
	).Scan(&status, &analysis); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("invoice %d", id))
	}
	if status != InvoiceStatusParsing && status != InvoiceStatusUploaded && status != InvoiceStatusParsed {
		return nil, Errorf(KindInvalidTransition, "cannot record parse for invoice %d in status %s", id, status)
	}

	if !res.Success {
		msg := strings.Join(res.Errors, "; ")
		if msg == "" {
			msg = "parser returned no usable structure"
		}
		if _, err := tx.Exec(ctx, `
			UPDATE invoices SET status = $2, parsing_error = $3, parsing_confidence = NULL, updated_at = NOW()
			WHERE id = $1`,
			id, string(InvoiceStatusError), msg,
		); err != nil {
			return nil, fmt.Errorf("record parse failure for invoice %d: %w", id, err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit parse failure: %w", err)
		}
		s.log.Warn().Int("invoice_id", id).Str("reason", msg).Msg("parsing failed")
		return s.GetInvoice(ctx, id)
	}

	var reviewed bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM invoice_line_items WHERE invoice_id = $1 AND reviewed)", id,
	).Scan(&reviewed); err != nil {
		return nil, fmt.Errorf("check reviewed lines: %w", err)
	}
	if reviewed {
		return nil, Errorf(KindInvalidTransition, "invoice %d has reviewed line items and cannot be re-parsed", id)
	}

	p := res.Invoice
	analysis.LineItemCandidates = len(p.Lines)
	analysis.ParserFlagged = res.Confidence < s.th.ParseConfidenceFloor
	analysis.NeedsManualReview = analysis.NeedsManualReview || analysis.ParserFlagged
	encoded, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("encode text analysis: %w", err)
	}

	var total *decimal.Decimal
	if d, ok := parseAmount(p.Total); ok {
		total = &d
	}

	if _, err := tx.Exec(ctx, `
		UPDATE invoices
		SET invoice_number = $2, invoice_date = $3, due_date = $4, total_amount = $5, currency = $6,
		    status = $7, parsing_confidence = $8, parsing_error = NULL, text_analysis = $9::jsonb,
		    updated_at = NOW()
		WHERE id = $1`,
		id, nullIfEmpty(strings.TrimSpace(p.InvoiceNumber)), parseDate(p.InvoiceDate), parseDate(p.DueDate),
		total, nullIfEmpty(strings.ToUpper(strings.TrimSpace(p.Currency))),
		string(InvoiceStatusParsed), res.Confidence, string(encoded),
	); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("invoice %d", id))
	}

	if _, err := tx.Exec(ctx, "DELETE FROM invoice_line_items WHERE invoice_id = $1", id); err != nil {
		return nil, fmt.Errorf("clear line items for invoice %d: %w", id, err)
	}
	for i, pl := range p.Lines {
		qty, _ := parseAmount(pl.Quantity)
		price, _ := parseAmount(pl.UnitPrice)
		lineTotal, ok := parseAmount(pl.Total)
		if !ok {
			lineTotal = qty.Mul(price)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO invoice_line_items (invoice_id, line_number, description, quantity, unit, unit_price,
			                                total, extraction_confidence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, i+1, strings.TrimSpace(pl.Description), qty, nullIfEmpty(strings.TrimSpace(pl.Unit)), price,
			lineTotal.Round(2), clamp01(pl.Confidence),
		); err != nil {
			return nil, translatePgError(err, fmt.Sprintf("line item %d", i+1))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, translatePgError(err, fmt.Sprintf("invoice %d", id))
	}

	s.log.Info().Int("invoice_id", id).Int("lines", len(p.Lines)).Float64("confidence", res.Confidence).
		Bool("flagged", analysis.ParserFlagged).Msg("invoice parsed")
	return s.GetInvoice(ctx, id)
}

// ApplySuggestions stores auto matches on lines a reviewer has not touched.
func (s *invoiceService) ApplySuggestions(ctx context.Context, invoiceID int, suggestions []LineMatchSuggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, sg := range suggestions {
		batch.Queue(`
			UPDATE invoice_line_items
			SET matched_item_id = $3, match_confidence = $4, match_method = 'auto',
			    unit_multiplier = $5, effective_quantity = $6, updated_at = NOW()
			WHERE id = $1 AND invoice_id = $2 AND NOT reviewed
			  AND (match_method IS NULL OR match_method = 'auto')`,
			sg.LineItemID, invoiceID, sg.ItemID, sg.Confidence, sg.UnitMultiplier, sg.EffectiveQuantity,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return translatePgError(err, fmt.Sprintf("match suggestions for invoice %d", invoiceID))
	}
	return nil
}

func (s *invoiceService) SetSupplier(ctx context.Context, id, supplierID int) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE invoices SET supplier_id = $2, updated_at = NOW() WHERE id = $1 AND supplier_id IS NULL",
		id, supplierID,
	)
	if err != nil {
		return translatePgError(err, fmt.Sprintf("invoice %d supplier", id))
	}
	if tag.RowsAffected() == 0 {
		s.log.Debug().Int("invoice_id", id).Msg("supplier already set; keeping uploaded value")
	}
	return nil
}

// ListInvoices returns one page plus counts. Queue counts ignore the queue filter so the
// UI can show every tab's size.
func (s *invoiceService) ListInvoices(ctx context.Context, f InvoiceFilter) (*InvoicePage, error) {
	if f.PageSize <= 0 || f.PageSize > 200 {
		f.PageSize = 25
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Page > MaxInvoicePage {
		return nil, Errorf(KindInvalidRequest, "page %d is out of range (max %d)", f.Page, MaxInvoicePage)
	}

	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("i.status = $%d", len(args)))
	}
	if f.SupplierID != nil {
		args = append(args, *f.SupplierID)
		conds = append(conds, fmt.Sprintf("i.supplier_id = $%d", len(args)))
	}
	if f.From != nil {
		args = append(args, *f.From)
		conds = append(conds, fmt.Sprintf("i.created_at >= $%d", len(args)))
	}
	if f.To != nil {
		args = append(args, *f.To)
		conds = append(conds, fmt.Sprintf("i.created_at < $%d", len(args)))
	}
	baseWhere := "TRUE"
	if len(conds) > 0 {
		baseWhere = strings.Join(conds, " AND ")
	}

	page := &InvoicePage{
		Page:         f.Page,
		PageSize:     f.PageSize,
		QueueCounts:  map[Queue]int{},
		StatusCounts: map[InvoiceStatus]int{},
	}

	// Per-queue counts over the base filter.
	countArgs := append([]any(nil), args...)
	var filters []string
	for _, q := range AllQueues {
		cond, qargs := QueueCondition(q, s.th, len(countArgs)+1)
		countArgs = append(countArgs, qargs...)
		filters = append(filters, fmt.Sprintf("COUNT(*) FILTER (WHERE %s)", cond))
	}
	counts := make([]int, len(AllQueues))
	dest := make([]any, len(counts))
	for i := range counts {
		dest[i] = &counts[i]
	}
	if err := s.pool.QueryRow(ctx,
		"SELECT "+strings.Join(filters, ", ")+" FROM invoices i WHERE "+baseWhere, countArgs...,
	).Scan(dest...); err != nil {
		return nil, fmt.Errorf("count invoice queues: %w", err)
	}
	for i, q := range AllQueues {
		page.QueueCounts[q] = counts[i]
	}

	where := baseWhere
	if f.Queue != "" && f.Queue != QueueAll {
		cond, qargs := QueueCondition(f.Queue, s.th, len(args)+1)
		args = append(args, qargs...)
		where += " AND " + cond
	}

	rows, err := s.pool.Query(ctx,
		"SELECT i.status, COUNT(*), COALESCE(SUM(i.total_amount), 0) FROM invoices i WHERE "+where+" GROUP BY i.status",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("count invoices: %w", err)
	}
	page.TotalAmount = decimal.Zero
	for rows.Next() {
		var (
			st  InvoiceStatus
			n   int
			sum decimal.Decimal
		)
		if err := rows.Scan(&st, &n, &sum); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan invoice counts: %w", err)
		}
		page.StatusCounts[st] = n
		page.Total += n
		page.TotalAmount = page.TotalAmount.Add(sum)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count invoices: %w", err)
	}

	args = append(args, f.PageSize, (f.Page-1)*f.PageSize)
	rows, err = s.pool.Query(ctx, fmt.Sprintf(
		"%s WHERE %s ORDER BY i.created_at DESC, i.id DESC LIMIT $%d OFFSET $%d",
		invoiceSelect, where, len(args)-1, len(args),
	), args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var inv Invoice
		if err := scanInvoice(rows, &inv); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		page.Invoices = append(page.Invoices, inv)
	}
	return page, rows.Err()
}

// SupplierItemRecency returns the last reviewed match time per item for the supplier.
func (s *invoiceService) SupplierItemRecency(ctx context.Context, supplierID int) (map[int]time.Time, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT l.matched_item_id, MAX(COALESCE(l.reviewed_at, l.updated_at))
		FROM invoice_line_items l
		JOIN invoices i ON i.id = l.invoice_id
		WHERE i.supplier_id = $1 AND l.matched_item_id IS NOT NULL AND l.reviewed
		GROUP BY l.matched_item_id`,
		supplierID,
	)
	if err != nil {
		return nil, fmt.Errorf("supplier item recency: %w", err)
	}
	defer rows.Close()

	out := map[int]time.Time{}
	for rows.Next() {
		var (
			id int
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan recency: %w", err)
		}
		out[id] = at
	}
	return out, rows.Err()
}

// parseAmount accepts decimal strings with optional currency symbols and thousands separators.
func parseAmount(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '$', '£', '€', ',', ' ':
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// parseDate returns nil unless s is a valid YYYY-MM-DD date.
func parseDate(s string) *string {
	s = strings.TrimSpace(s)
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return nil
	}
	return &s
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
