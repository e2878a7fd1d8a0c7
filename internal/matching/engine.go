// Package matching ranks inventory items against invoice line descriptions. It is pure:
// callers load the catalog, call Match and persist whatever they decide.
package matching

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

const (
	lexicalWeight   = 0.75
	certaintyWeight = 0.25
	maxCandidates   = 5
	scoreEpsilon    = 1e-9
)

// DefaultFloor is the minimum composite score for a best candidate.
const DefaultFloor = 0.5

// CatalogItem is the inventory metadata the engine needs.
type CatalogItem struct {
	ID         int
	Name       string
	UnitType   string
	PackSize   decimal.Decimal
	SupplierID *int
}

// LineInput is one invoice line to match.
type LineInput struct {
	Description string
	Unit        string
	Quantity    decimal.Decimal
}

// Candidate is a scored inventory item.
type Candidate struct {
	ItemID         int             `json:"item_id"`
	Name           string          `json:"name"`
	Lexical        float64         `json:"lexical"`
	Certainty      float64         `json:"certainty"`
	Score          float64         `json:"score"`
	Multiplier     decimal.Decimal `json:"multiplier"`
	UnitKnown      bool            `json:"unit_known"`
	LastReferenced *time.Time      `json:"last_referenced,omitempty"`
}

// Result is the ranked outcome for one line. Best is nil when nothing clears the floor.
type Result struct {
	Candidates        []Candidate
	Best              *Candidate
	Descriptor        Descriptor
	EffectiveQuantity decimal.Decimal
}

type indexedItem struct {
	CatalogItem
	clean string
}

// Engine scores lines against a catalog snapshot.
type Engine struct {
	items []indexedItem
	index map[string][]int // token -> positions in items
	table *UnitTable
	floor float64
}

// NewEngine indexes items. A nil table uses NewUnitTable; a non-positive floor uses DefaultFloor.
func NewEngine(items []CatalogItem, table *UnitTable, floor float64) *Engine {
	if table == nil {
		table = NewUnitTable()
	}
	if floor <= 0 {
		floor = DefaultFloor
	}
	e := &Engine{table: table, floor: floor, index: map[string][]int{}}
	for _, it := range items {
		clean := table.cleanDescription(it.Name, "")
		if clean == "" {
			clean = normalize(it.Name)
		}
		pos := len(e.items)
		e.items = append(e.items, indexedItem{CatalogItem: it, clean: clean})
		seen := map[string]bool{}
		for _, tok := range tokens(normalize(it.Name)) {
			if !seen[tok] {
				seen[tok] = true
				e.index[tok] = append(e.index[tok], pos)
			}
		}
	}
	return e
}

// Table returns the unit table the engine converts with.
func (e *Engine) Table() *UnitTable { return e.table }

// Match ranks catalog items for line. recency maps item id to the last time the same
// supplier's invoices were matched to it; it breaks score ties.
func (e *Engine) Match(line LineInput, recency map[int]time.Time) Result {
	desc := e.table.Detect(line.Description, line.Unit, line.Quantity)
	clean := e.table.cleanDescription(line.Description, desc.Raw)
	if clean == "" {
		clean = normalize(line.Description)
	}

	res := Result{Descriptor: desc, EffectiveQuantity: line.Quantity}
	for _, pos := range e.prefilter(line.Description) {
		it := e.items[pos]
		conv := e.table.Convert(desc, it.UnitType, it.PackSize)
		lex := dice(clean, it.clean)
		c := Candidate{
			ItemID:     it.ID,
			Name:       it.Name,
			Lexical:    lex,
			Certainty:  conv.Certainty,
			Score:      lexicalWeight*lex + certaintyWeight*conv.Certainty,
			Multiplier: conv.Multiplier,
			UnitKnown:  conv.Known,
		}
		if at, ok := recency[it.ID]; ok {
			c.LastReferenced = &at
		}
		res.Candidates = append(res.Candidates, c)
	}

	sort.SliceStable(res.Candidates, func(i, j int) bool {
		a, b := res.Candidates[i], res.Candidates[j]
		if d := a.Score - b.Score; d > scoreEpsilon || d < -scoreEpsilon {
			return d > 0
		}
		switch {
		case a.LastReferenced != nil && b.LastReferenced == nil:
			return true
		case a.LastReferenced == nil && b.LastReferenced != nil:
			return false
		case a.LastReferenced != nil && !a.LastReferenced.Equal(*b.LastReferenced):
			return a.LastReferenced.After(*b.LastReferenced)
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ItemID < b.ItemID
	})
	if len(res.Candidates) > maxCandidates {
		res.Candidates = res.Candidates[:maxCandidates]
	}

	if len(res.Candidates) > 0 && res.Candidates[0].Score >= e.floor {
		best := res.Candidates[0]
		res.Best = &best
		res.EffectiveQuantity = line.Quantity.Mul(best.Multiplier)
	}
	return res
}

// Convert resolves the multiplier of a line against a specific item, for manual matches.
func (e *Engine) Convert(line LineInput, item CatalogItem) Conversion {
	return e.table.Convert(e.table.Detect(line.Description, line.Unit, line.Quantity), item.UnitType, item.PackSize)
}

// prefilter returns catalog positions sharing at least one token with the description.
func (e *Engine) prefilter(description string) []int {
	seen := map[int]bool{}
	var out []int
	for _, tok := range tokens(normalize(description)) {
		for _, pos := range e.index[tok] {
			if !seen[pos] {
				seen[pos] = true
				out = append(out, pos)
			}
		}
	}
	sort.Ints(out)
	return out
}
