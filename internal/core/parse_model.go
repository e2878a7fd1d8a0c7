package core

import "context"

// ParsedLine is one line item as returned by the structured parser.
type ParsedLine struct {
	Description string  `json:"description" jsonschema_description:"Item description exactly as printed"`
	Quantity    string  `json:"quantity" jsonschema_description:"Quantity as a decimal string, e.g. '2' or '1.5'"`
	Unit        string  `json:"unit" jsonschema_description:"Unit or package as printed (lb, case, each); empty if none"`
	UnitPrice   string  `json:"unit_price" jsonschema_description:"Price per unit as a decimal string"`
	Total       string  `json:"total" jsonschema_description:"Line total as a decimal string"`
	Confidence  float64 `json:"confidence" jsonschema_description:"Confidence 0.0-1.0 that this line was read correctly"`
}

// ParsedInvoice is the structured record extracted from invoice text.
type ParsedInvoice struct {
	InvoiceNumber string       `json:"invoice_number" jsonschema_description:"Invoice number; empty if not found"`
	InvoiceDate   string       `json:"invoice_date" jsonschema_description:"Invoice date YYYY-MM-DD; empty if not found"`
	DueDate       string       `json:"due_date" jsonschema_description:"Due date YYYY-MM-DD; empty if not found"`
	SupplierName  string       `json:"supplier_name" jsonschema_description:"Name of the issuing supplier"`
	Currency      string       `json:"currency" jsonschema_description:"ISO currency code, e.g. USD"`
	Subtotal      string       `json:"subtotal" jsonschema_description:"Subtotal as a decimal string; empty if not printed"`
	Tax           string       `json:"tax" jsonschema_description:"Tax as a decimal string; empty if not printed"`
	Total         string       `json:"total" jsonschema_description:"Invoice total as a decimal string"`
	Confidence    float64      `json:"confidence" jsonschema_description:"Overall confidence 0.0-1.0 in the header fields"`
	Lines         []ParsedLine `json:"lines" jsonschema_description:"Purchased line items"`
}

// ParseResult is returned by the parser in place of an error: parsing is best effort.
type ParseResult struct {
	Success    bool
	Errors     []string
	Invoice    ParsedInvoice
	Confidence float64
}

// InvoiceParser turns validated invoice text into a structured record.
// Implementations make a single attempt and never return an error; failures are
// reported through ParseResult.Success and ParseResult.Errors.
type InvoiceParser interface {
	Parse(ctx context.Context, text, supplierHint string) ParseResult
}
