package matching

import (
	"strings"
	"unicode"
)

// normalize lowercases, strips punctuation and collapses whitespace.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// cleanDescription removes the quantity descriptor, bare numbers and unit words so
// "Coffee Beans 2 lbs" compares as "coffee beans".
func (t *UnitTable) cleanDescription(description, raw string) string {
	text := strings.ToLower(description)
	if raw != "" {
		text = strings.Replace(text, raw, " ", 1)
	}
	var kept []string
	for _, w := range strings.Fields(normalize(text)) {
		if isNumeric(w) || t.IsUnitWord(w) || isNumberWithUnit(t, w) {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

func isNumeric(w string) bool {
	for _, r := range w {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return w != ""
}

// isNumberWithUnit matches glued forms like "500ml" or "12oz".
func isNumberWithUnit(t *UnitTable, w string) bool {
	i := strings.IndexFunc(w, func(r rune) bool { return !unicode.IsDigit(r) })
	if i <= 0 {
		return false
	}
	return t.IsUnitWord(w[i:])
}

// stem folds simple English plurals.
func stem(w string) string {
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return w[:len(w)-3] + "y"
	case len(w) > 4 && (strings.HasSuffix(w, "oes") || strings.HasSuffix(w, "ches") ||
		strings.HasSuffix(w, "shes") || strings.HasSuffix(w, "xes")):
		return w[:len(w)-2]
	case len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss"):
		return w[:len(w)-1]
	}
	return w
}

func tokens(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		out = append(out, stem(f))
	}
	return out
}

func bigrams(s string) map[string]int {
	r := []rune(strings.ReplaceAll(s, " ", ""))
	out := make(map[string]int, len(r))
	for i := 0; i+1 < len(r); i++ {
		out[string(r[i:i+2])]++
	}
	return out
}

// dice is the Sørensen–Dice coefficient over character bigram multisets.
func dice(a, b string) float64 {
	a = strings.ReplaceAll(a, " ", "")
	b = strings.ReplaceAll(b, " ", "")
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	ba, bb := bigrams(a), bigrams(b)
	if len(ba) == 0 || len(bb) == 0 {
		return 0
	}
	var na, nb, shared int
	for g, c := range ba {
		na += c
		if d, ok := bb[g]; ok {
			shared += min(c, d)
		}
	}
	for _, c := range bb {
		nb += c
	}
	return 2 * float64(shared) / float64(na+nb)
}
