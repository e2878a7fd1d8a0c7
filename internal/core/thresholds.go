package core

// Thresholds collects every confidence cut-off used across the pipeline so that
// the validator, parser persistence, matcher and queue classifier agree.
type Thresholds struct {
	// Validation confidence below this flags the invoice for OCR.
	NeedsOCRBelow float64
	// Validation confidence at or above this counts as high confidence.
	HighConfidence float64
	// Between NeedsOCRBelow and HighConfidence, fewer indicators than this
	// routes the invoice to manual review.
	MinIndicators int
	// Parses below this overall confidence are kept but routed to manual review.
	ParseConfidenceFloor float64
	// Match candidates scoring below this are not auto-assigned.
	MatchScoreFloor float64
	// Relative tolerance for invoice vs purchase order variance.
	VarianceTolerance float64
}

// DefaultThresholds are the production defaults.
var DefaultThresholds = Thresholds{
	NeedsOCRBelow:        0.40,
	HighConfidence:       0.75,
	MinIndicators:        4,
	ParseConfidenceFloor: 0.60,
	MatchScoreFloor:      0.50,
	VarianceTolerance:    0.05,
}
