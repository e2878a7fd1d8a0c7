package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceStatus string

const (
	InvoiceStatusUploaded  InvoiceStatus = "uploaded"
	InvoiceStatusParsing   InvoiceStatus = "parsing"
	InvoiceStatusParsed    InvoiceStatus = "parsed"
	InvoiceStatusReviewing InvoiceStatus = "reviewing"
	InvoiceStatusConfirmed InvoiceStatus = "confirmed"
	InvoiceStatusCancelled InvoiceStatus = "cancelled"
	InvoiceStatusError     InvoiceStatus = "error"
)

// Reviewable reports whether reviewer actions may still change the invoice.
func (s InvoiceStatus) Reviewable() bool {
	return s == InvoiceStatusParsed || s == InvoiceStatusReviewing
}

type MatchMethod string

const (
	MatchMethodAuto         MatchMethod = "auto"
	MatchMethodManual       MatchMethod = "manual"
	MatchMethodManualCreate MatchMethod = "manual_create"
	MatchMethodSkipped      MatchMethod = "skipped"
)

// TextAnalysis is stored as jsonb on the invoice and filtered by sub-field.
type TextAnalysis struct {
	ValidationConfidence float64  `json:"validation_confidence"`
	NeedsOCR             bool     `json:"needs_ocr"`
	NeedsManualReview    bool     `json:"needs_manual_review"`
	LineItemCandidates   int      `json:"line_item_candidates"`
	Indicators           []string `json:"indicators,omitempty"`
	ParserFlagged        bool     `json:"parser_flagged,omitempty"`
}

// Invoice is a supplier invoice moving through extraction, parsing and review.
type Invoice struct {
	ID                int               `json:"id"`
	SupplierID        *int              `json:"supplier_id,omitempty"`
	SupplierName      *string           `json:"supplier_name,omitempty"`
	InvoiceNumber     *string           `json:"invoice_number,omitempty"`
	InvoiceDate       *string           `json:"invoice_date,omitempty"` // YYYY-MM-DD
	DueDate           *string           `json:"due_date,omitempty"`     // YYYY-MM-DD
	TotalAmount       *decimal.Decimal  `json:"total_amount,omitempty"`
	Currency          *string           `json:"currency,omitempty"`
	FilePath          string            `json:"file_path"`
	MimeType          string            `json:"mime_type"`
	Status            InvoiceStatus     `json:"status"`
	ExtractionMethod  *string           `json:"extraction_method,omitempty"`
	ParsingConfidence *float64          `json:"parsing_confidence,omitempty"`
	ParsingError      *string           `json:"parsing_error,omitempty"`
	TextAnalysis      TextAnalysis      `json:"text_analysis"`
	UploadedBy        string            `json:"uploaded_by"`
	ConfirmedBy       *string           `json:"confirmed_by,omitempty"`
	ConfirmedAt       *time.Time        `json:"confirmed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	LineItems         []InvoiceLineItem `json:"line_items,omitempty"`
}

// Queues recomputes queue membership from the stored fields.
func (inv *Invoice) Queues(th Thresholds) []Queue {
	return Classify(QueueInput{
		Status:            inv.Status,
		Analysis:          inv.TextAnalysis,
		ParsingConfidence: inv.ParsingConfidence,
	}, th)
}

// InvoiceLineItem is one extracted row. Rows are never deleted by reviewers;
// they are re-matched or marked skipped.
type InvoiceLineItem struct {
	ID                   int              `json:"id"`
	InvoiceID            int              `json:"invoice_id"`
	LineNumber           int              `json:"line_number"`
	Description          string           `json:"description"`
	Quantity             decimal.Decimal  `json:"quantity"`
	Unit                 *string          `json:"unit,omitempty"`
	UnitPrice            decimal.Decimal  `json:"unit_price"`
	Total                decimal.Decimal  `json:"total"`
	ExtractionConfidence float64          `json:"extraction_confidence"`
	MatchedItemID        *int             `json:"matched_item_id,omitempty"`
	MatchedItemName      *string          `json:"matched_item_name,omitempty"`
	MatchConfidence      *float64         `json:"match_confidence,omitempty"`
	MatchMethod          *MatchMethod     `json:"match_method,omitempty"`
	UnitMultiplier       *decimal.Decimal `json:"unit_multiplier,omitempty"`
	EffectiveQuantity    *decimal.Decimal `json:"effective_quantity,omitempty"`
	NeedsReview          bool             `json:"needs_review"`
	Reviewed             bool             `json:"reviewed"`
	ReviewNotes          *string          `json:"review_notes,omitempty"`
	ReviewedBy           *string          `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time       `json:"reviewed_at,omitempty"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

func (l *InvoiceLineItem) Skipped() bool {
	return l.MatchMethod != nil && *l.MatchMethod == MatchMethodSkipped
}

// Resolved reports whether a reviewer has settled the line: a reviewed match or a skip.
func (l *InvoiceLineItem) Resolved() bool {
	if l.Skipped() {
		return true
	}
	return l.Reviewed && l.MatchedItemID != nil
}

// ReceivedQuantity is the quantity in inventory units, falling back to the raw quantity.
func (l *InvoiceLineItem) ReceivedQuantity() decimal.Decimal {
	if l.EffectiveQuantity != nil {
		return *l.EffectiveQuantity
	}
	return l.Quantity
}

// NewInvoiceInput is the data captured at upload time.
type NewInvoiceInput struct {
	SupplierID *int
	FilePath   string
	MimeType   string
	UploadedBy string
}

// ExtractionRecord is the outcome of the text extraction and validation stages.
type ExtractionRecord struct {
	Method     string
	Text       string
	Confidence float64
	Analysis   TextAnalysis
	// Failure holds a retryable extraction error message, if any.
	Failure string
}

// LineMatchSuggestion is an automatic match produced by the matching engine.
type LineMatchSuggestion struct {
	LineItemID        int
	ItemID            int
	Confidence        float64
	UnitMultiplier    decimal.Decimal
	EffectiveQuantity decimal.Decimal
}

// InvoiceFilter selects invoices for the review screens.
type InvoiceFilter struct {
	Queue      Queue
	Status     InvoiceStatus
	SupplierID *int
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// InvoicePage is one page of invoices plus summary statistics over the whole filter.
type InvoicePage struct {
	Invoices     []Invoice
	Total        int
	Page         int
	PageSize     int
	TotalAmount  decimal.Decimal
	QueueCounts  map[Queue]int
	StatusCounts map[InvoiceStatus]int
}

// InvoiceService persists invoices and their line items.
type InvoiceService interface {
	// CreateInvoice records a freshly uploaded document in status uploaded.
	CreateInvoice(ctx context.Context, in NewInvoiceInput) (*Invoice, error)

	// GetInvoice returns the invoice with its line items.
	GetInvoice(ctx context.Context, id int) (*Invoice, error)

	GetLineItem(ctx context.Context, id int) (*InvoiceLineItem, error)

	// GetExtractedText returns the stored text of the last extraction.
	GetExtractedText(ctx context.Context, id int) (string, error)

	// RecordExtraction stores the extraction outcome. A failed or needs-OCR extraction
	// leaves the invoice in uploaded so it stays in the needs-ocr queue.
	RecordExtraction(ctx context.Context, id int, rec ExtractionRecord) error

	// MarkParsing moves an uploaded or parsed invoice into parsing.
	MarkParsing(ctx context.Context, id int) error

	// MarkError moves the invoice into the error status with a reason.
	MarkError(ctx context.Context, id int, message string) error

	// RecordParseResult persists a parse. Success replaces the line items and moves the
	// invoice to parsed; a low-confidence success is flagged for manual review.
	// Failure moves the invoice to error with the parser's message.
	RecordParseResult(ctx context.Context, id int, res ParseResult) (*Invoice, error)

	// ApplySuggestions stores automatic matches on lines a reviewer has not touched.
	ApplySuggestions(ctx context.Context, invoiceID int, suggestions []LineMatchSuggestion) error

	// ListInvoices filters by queue, status, supplier and upload date with pagination.
	ListInvoices(ctx context.Context, f InvoiceFilter) (*InvoicePage, error)

	// SupplierItemRecency returns, per inventory item, the last time an invoice from the
	// supplier was matched to it.
	SupplierItemRecency(ctx context.Context, supplierID int) (map[int]time.Time, error)

	// SetSupplier attaches a supplier resolved after upload (e.g. from the parsed header).
	SetSupplier(ctx context.Context, id, supplierID int) error
}
