package ai

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"invoice-recon/internal/core"
)

const (
	// A failed qty x price check halves the line's confidence.
	arithmeticPenalty = 0.5
	// A header whose lines do not add up keeps this share of its confidence.
	sumPenalty = 0.8
)

var (
	absTolerance = decimal.RequireFromString("0.02")
	relTolerance = decimal.RequireFromString("0.01")
)

// amount parses a model-supplied decimal string, tolerating currency symbols and
// thousands separators.
func amount(s string) (decimal.Decimal, bool) {
	s = strings.NewReplacer("$", "", "£", "", "€", "", ",", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	return d, err == nil
}

func near(a, b decimal.Decimal) bool {
	tol := decimal.Max(absTolerance, b.Abs().Mul(relTolerance))
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}

func clamp01(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(1, f))
}

// assess checks the arithmetic of a parsed invoice, lowering line confidences in place,
// and returns the overall confidence: the lower of the header confidence and the mean
// line confidence.
func assess(inv *core.ParsedInvoice) (float64, []string) {
	var warnings []string
	header := clamp01(inv.Confidence)

	sum := decimal.Zero
	sumKnown := true
	var lineConf float64
	for i := range inv.Lines {
		l := &inv.Lines[i]
		l.Confidence = clamp01(l.Confidence)

		qty, okQ := amount(l.Quantity)
		price, okP := amount(l.UnitPrice)
		total, okT := amount(l.Total)
		switch {
		case !okQ:
			l.Confidence *= arithmeticPenalty
			warnings = append(warnings, fmt.Sprintf("line %d: quantity %q is not a number", i+1, l.Quantity))
		case okP && okT && !near(qty.Mul(price), total):
			l.Confidence *= arithmeticPenalty
			warnings = append(warnings, fmt.Sprintf("line %d: %s x %s does not equal %s", i+1, qty, price, total))
		}

		switch {
		case okT:
			sum = sum.Add(total)
		case okQ && okP:
			sum = sum.Add(qty.Mul(price))
		default:
			sumKnown = false
		}
		lineConf += l.Confidence
	}
	mean := lineConf / float64(len(inv.Lines))

	if sumKnown {
		if expected, ok := expectedLineSum(inv); ok && !near(sum, expected) {
			header *= sumPenalty
			warnings = append(warnings, fmt.Sprintf("line totals sum to %s, invoice states %s", sum, expected))
		}
	}

	overall := math.Min(header, mean)
	return math.Round(overall*10000) / 10000, warnings
}

// expectedLineSum is the printed subtotal, or the total when neither subtotal nor tax
// is printed.
func expectedLineSum(inv *core.ParsedInvoice) (decimal.Decimal, bool) {
	if sub, ok := amount(inv.Subtotal); ok {
		return sub, true
	}
	if _, hasTax := amount(inv.Tax); hasTax {
		return decimal.Zero, false
	}
	return amount(inv.Total)
}
