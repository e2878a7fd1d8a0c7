package extract

import (
	"math"
	"regexp"
	"strings"
	"unicode"

	"invoice-recon/internal/core"
)

// Indicator names reported in TextAnalysis.Indicators.
const (
	IndicatorCurrency      = "currency"
	IndicatorInvoice       = "keyword_invoice"
	IndicatorTotal         = "keyword_total"
	IndicatorSubtotal      = "keyword_subtotal"
	IndicatorDate          = "date"
	IndicatorAmount        = "amount"
	IndicatorTabular       = "tabular_lines"
	IndicatorQuantity      = "keyword_quantity"
	IndicatorSupplierBlock = "supplier_block"
)

// minScoredChars is the length under which the score is scaled down.
const minScoredChars = 40

var (
	reCurrency = regexp.MustCompile(`[$£€¥]|\b(usd|eur|gbp|cad|aud|nzd|chf)\b`)
	reInvoice  = regexp.MustCompile(`\binvoice\b|\binv\s*(no|#)|\bbill\s+to\b|\btax\s+invoice\b`)
	reTotal    = regexp.MustCompile(`\b(grand\s+)?total\b|\bamount\s+due\b|\bbalance\s+due\b`)
	reSubtotal = regexp.MustCompile(`\bsub[\s-]?total\b`)
	reDate     = regexp.MustCompile(`\b\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b|` +
		`\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{1,2},?\s+\d{4}\b|` +
		`\b\d{1,2}\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+\d{4}\b`)
	reAmount   = regexp.MustCompile(`\b\d{1,3}(,\d{3})+\.\d{2}\b|\b\d+\.\d{2}\b`)
	reQuantity = regexp.MustCompile(`\b(qty|quantity|units?|uom)\b`)
	reSupplier = regexp.MustCompile(`\b(ltd|llc|inc|corp|gmbh|plc|pty)\b\.?|\bco\.|\b(tel|phone|fax|e-?mail)\b|\bvat\s+(no|reg)`)
	reSummary  = regexp.MustCompile(`\b(sub[\s-]?total|total|tax|vat|gst|balance|amount\s+due|paid|change|discount|freight|shipping)\b`)
)

var indicatorWeights = []struct {
	name   string
	weight float64
}{
	{IndicatorCurrency, 0.15},
	{IndicatorInvoice, 0.15},
	{IndicatorTotal, 0.15},
	{IndicatorAmount, 0.15},
	{IndicatorTabular, 0.15},
	{IndicatorDate, 0.10},
	{IndicatorSubtotal, 0.05},
	{IndicatorQuantity, 0.05},
	{IndicatorSupplierBlock, 0.05},
}

// Validate scores how much text looks like an invoice. It is defined for any input,
// including empty and binary garbage, and never fails.
func Validate(text string, th core.Thresholds) core.TextAnalysis {
	lower := strings.ToLower(strings.ToValidUTF8(text, ""))
	candidates := countLineItemCandidates(lower)

	found := map[string]bool{
		IndicatorCurrency:      reCurrency.MatchString(lower),
		IndicatorInvoice:       reInvoice.MatchString(lower),
		IndicatorTotal:         reTotal.MatchString(lower),
		IndicatorAmount:        reAmount.MatchString(lower),
		IndicatorTabular:       candidates >= 2,
		IndicatorDate:          reDate.MatchString(lower),
		IndicatorSubtotal:      reSubtotal.MatchString(lower),
		IndicatorQuantity:      reQuantity.MatchString(lower),
		IndicatorSupplierBlock: reSupplier.MatchString(lower),
	}

	var (
		score      float64
		indicators []string
	)
	for _, iw := range indicatorWeights {
		if found[iw.name] {
			score += iw.weight
			indicators = append(indicators, iw.name)
		}
	}

	if n := len([]rune(strings.TrimSpace(lower))); n < minScoredChars {
		score *= float64(n) / minScoredChars
	}
	score = math.Round(min(score, 1)*1000) / 1000

	a := core.TextAnalysis{
		ValidationConfidence: score,
		Indicators:           indicators,
		LineItemCandidates:   candidates,
	}
	a.NeedsOCR = score < th.NeedsOCRBelow
	a.NeedsManualReview = !a.NeedsOCR && score < th.HighConfidence && len(indicators) < th.MinIndicators
	return a
}

// countLineItemCandidates counts rows carrying a description and an amount. Summary rows
// (totals, tax, shipping) are not line items.
func countLineItemCandidates(lower string) int {
	n := 0
	for _, line := range strings.Split(lower, "\n") {
		if !reAmount.MatchString(line) || reSummary.MatchString(line) {
			continue
		}
		letters := 0
		for _, r := range line {
			if unicode.IsLetter(r) {
				letters++
			}
		}
		if letters >= 3 {
			n++
		}
	}
	return n
}
