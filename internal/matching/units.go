package matching

import (
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// Dimension groups units that convert into each other.
type Dimension string

const (
	DimensionMass   Dimension = "mass"
	DimensionVolume Dimension = "volume"
	DimensionCount  Dimension = "count"
)

// DescriptorKind classifies what quantity information a line carries.
type DescriptorKind int

const (
	DescriptorNone DescriptorKind = iota
	DescriptorCount
	DescriptorPackage
	DescriptorMeasure
	DescriptorUnknown
)

// Descriptor is the quantity information detected on a line item.
type Descriptor struct {
	Kind    DescriptorKind
	Count   decimal.Decimal // DescriptorCount: units per line quantity; DescriptorMeasure: pieces in a multipack
	Amount  decimal.Decimal // DescriptorMeasure: total measure per line quantity
	Unit    string          // DescriptorMeasure: canonical alias as written
	Package string          // package word, if any
	Raw     string          // matched text, stripped before lexical scoring
}

// Conversion is the resolved multiplier from line quantity to the item's inventory unit.
type Conversion struct {
	Multiplier decimal.Decimal
	Certainty  float64
	Known      bool
}

type unitDef struct {
	dim    Dimension
	factor decimal.Decimal // to the dimension's base unit
}

// UnitTable holds unit aliases and package words. It is safe for concurrent use.
type UnitTable struct {
	mu       sync.RWMutex
	units    map[string]unitDef
	packages map[string]decimal.Decimal // zero count means "use the item's pack size"
}

const (
	certaintyExact        = 1.0
	certaintyPackSize     = 0.9
	certaintyUnstated     = 0.9
	certaintyCountOfSized = 0.6
	certaintyUnknown      = 0.5
	certaintyMismatch     = 0.2
)

// NewUnitTable returns a table seeded with common kitchen and retail units.
func NewUnitTable() *UnitTable {
	t := &UnitTable{units: map[string]unitDef{}, packages: map[string]decimal.Decimal{}}

	for _, a := range []string{"g", "gr", "gram", "grams"} {
		t.AddUnit(a, DimensionMass, decimal.NewFromInt(1))
	}
	for _, a := range []string{"kg", "kgs", "kilo", "kilos", "kilogram", "kilograms"} {
		t.AddUnit(a, DimensionMass, decimal.NewFromInt(1000))
	}
	for _, a := range []string{"lb", "lbs", "pound", "pounds"} {
		t.AddUnit(a, DimensionMass, decimal.RequireFromString("453.59237"))
	}
	for _, a := range []string{"oz", "ounce", "ounces"} {
		t.AddUnit(a, DimensionMass, decimal.RequireFromString("28.349523125"))
	}
	for _, a := range []string{"ml", "milliliter", "milliliters", "millilitre", "millilitres"} {
		t.AddUnit(a, DimensionVolume, decimal.NewFromInt(1))
	}
	for _, a := range []string{"l", "liter", "liters", "litre", "litres"} {
		t.AddUnit(a, DimensionVolume, decimal.NewFromInt(1000))
	}
	for _, a := range []string{"gal", "gallon", "gallons"} {
		t.AddUnit(a, DimensionVolume, decimal.RequireFromString("3785.411784"))
	}
	for _, a := range []string{"qt", "quart", "quarts"} {
		t.AddUnit(a, DimensionVolume, decimal.RequireFromString("946.352946"))
	}
	for _, a := range []string{"each", "ea", "unit", "units", "pc", "pcs", "piece", "pieces", "item", "items",
		"ct", "count", "cup", "cups", "can", "cans", "bottle", "bottles", "roll", "rolls"} {
		t.AddUnit(a, DimensionCount, decimal.NewFromInt(1))
	}

	t.AddPackage("dozen", decimal.NewFromInt(12))
	t.AddPackage("dz", decimal.NewFromInt(12))
	t.AddPackage("gross", decimal.NewFromInt(144))
	for _, p := range []string{"case", "cs", "box", "bx", "pack", "pk", "carton", "ctn", "tray", "sleeve", "bag", "crate"} {
		t.AddPackage(p, decimal.Zero)
	}
	return t
}

// AddUnit registers alias as a unit of dim worth factor base units.
func (t *UnitTable) AddUnit(alias string, dim Dimension, factor decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.units[strings.ToLower(alias)] = unitDef{dim: dim, factor: factor}
}

// AddPackage registers a package word. count zero means the item's pack size applies.
func (t *UnitTable) AddPackage(word string, count decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.packages[strings.ToLower(word)] = count
}

func (t *UnitTable) unit(alias string) (unitDef, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.units[strings.ToLower(strings.TrimSuffix(alias, "."))]
	return u, ok
}

func (t *UnitTable) pkg(word string) (decimal.Decimal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.packages[strings.ToLower(strings.TrimSuffix(word, "."))]
	return c, ok
}

// IsUnitWord reports whether w is a known unit or package word.
func (t *UnitTable) IsUnitWord(w string) bool {
	if _, ok := t.unit(w); ok {
		return true
	}
	_, ok := t.pkg(w)
	return ok
}

var (
	reCaseOf    = regexp.MustCompile(`\b([a-z]+)\s+of\s+(\d+(?:\.\d+)?)\b`)
	reMultipack = regexp.MustCompile(`\b(\d+)\s*[x×]\s*(\d+(?:\.\d+)?)\s*([a-z]+)\b\.?`)
	reNPack     = regexp.MustCompile(`\b(\d+)\s*-?\s*(pack|pk|ct|count|pc|pcs)\b`)
	reNTimes    = regexp.MustCompile(`\b(\d+)\s*[x×](?:\s|$)`)
	reTimesN    = regexp.MustCompile(`(?:^|\s)[x×]\s*(\d+)\b`)
	reNDozen    = regexp.MustCompile(`\b(?:(\d+)\s+)?(dozen|dz|gross)\b`)
	reMeasure   = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*([a-z]+\.?)`)
)

// Detect finds the quantity descriptor of a line from its description and unit column.
// lineQty lets a measure that merely repeats the quantity column be recognised.
func (t *UnitTable) Detect(description, lineUnit string, lineQty decimal.Decimal) Descriptor {
	text := strings.ToLower(description)

	// "12 x 500ml" and "12x500ml" are a count of sized pieces.
	if m := reMultipack.FindStringSubmatch(text); m != nil {
		if _, ok := t.unit(m[3]); ok {
			n := decimal.RequireFromString(m[1])
			size := decimal.RequireFromString(m[2])
			return Descriptor{Kind: DescriptorMeasure, Count: n, Amount: n.Mul(size), Unit: m[3], Raw: m[0]}
		}
	}

	if m := reCaseOf.FindStringSubmatch(text); m != nil {
		if _, ok := t.pkg(m[1]); ok {
			return Descriptor{Kind: DescriptorCount, Count: decimal.RequireFromString(m[2]), Package: m[1], Raw: m[0]}
		}
	}
	if m := reNPack.FindStringSubmatch(text); m != nil {
		return Descriptor{Kind: DescriptorCount, Count: decimal.RequireFromString(m[1]), Package: m[2], Raw: m[0]}
	}
	if m := reNDozen.FindStringSubmatch(text); m != nil {
		per, _ := t.pkg(m[2])
		n := decimal.NewFromInt(1)
		if m[1] != "" {
			n = decimal.RequireFromString(m[1])
		}
		return Descriptor{Kind: DescriptorCount, Count: n.Mul(per), Package: m[2], Raw: m[0]}
	}
	if m := reNTimes.FindStringSubmatch(text); m != nil {
		return Descriptor{Kind: DescriptorCount, Count: decimal.RequireFromString(m[1]), Raw: strings.TrimSpace(m[0])}
	}
	if m := reTimesN.FindStringSubmatch(text); m != nil {
		return Descriptor{Kind: DescriptorCount, Count: decimal.RequireFromString(m[1]), Raw: strings.TrimSpace(m[0])}
	}
	for _, m := range reMeasure.FindAllStringSubmatch(text, -1) {
		if _, ok := t.unit(m[2]); !ok {
			continue
		}
		amount := decimal.RequireFromString(m[1])
		unit := strings.TrimSuffix(m[2], ".")
		// "2 lbs" in the description with qty 2 and unit lb restates the quantity column.
		if lu, ok := t.unit(lineUnit); ok && amount.Equal(lineQty) {
			if du, _ := t.unit(unit); du.dim == lu.dim {
				return Descriptor{Kind: DescriptorMeasure, Amount: decimal.NewFromInt(1), Unit: strings.ToLower(lineUnit), Raw: m[0]}
			}
		}
		return Descriptor{Kind: DescriptorMeasure, Amount: amount, Unit: unit, Raw: m[0]}
	}

	lu := strings.ToLower(strings.TrimSpace(lineUnit))
	if lu == "" {
		return Descriptor{Kind: DescriptorNone}
	}
	if c, ok := t.pkg(lu); ok {
		if c.IsPositive() {
			return Descriptor{Kind: DescriptorCount, Count: c, Package: lu}
		}
		return Descriptor{Kind: DescriptorPackage, Package: lu}
	}
	if _, ok := t.unit(lu); ok {
		return Descriptor{Kind: DescriptorMeasure, Amount: decimal.NewFromInt(1), Unit: lu}
	}
	return Descriptor{Kind: DescriptorUnknown, Raw: lu}
}

// Convert resolves a descriptor against the item's inventory unit and pack size.
func (t *UnitTable) Convert(d Descriptor, itemUnit string, packSize decimal.Decimal) Conversion {
	one := decimal.NewFromInt(1)
	itemUnit = strings.ToLower(strings.TrimSpace(itemUnit))
	iu, unitKnown := t.unit(itemUnit)
	_, itemIsPackage := t.pkg(itemUnit)

	switch d.Kind {
	case DescriptorNone:
		return Conversion{Multiplier: one, Certainty: certaintyUnstated, Known: true}

	case DescriptorCount:
		switch {
		case itemIsPackage && d.Package == itemUnit:
			return Conversion{Multiplier: one, Certainty: certaintyExact, Known: true}
		case itemUnit == "" || (unitKnown && iu.dim == DimensionCount):
			return Conversion{Multiplier: d.Count, Certainty: certaintyExact, Known: true}
		case unitKnown:
			return Conversion{Multiplier: d.Count, Certainty: certaintyCountOfSized, Known: true}
		}
		return Conversion{Multiplier: one, Certainty: certaintyUnknown}

	case DescriptorPackage:
		if d.Package == itemUnit {
			return Conversion{Multiplier: one, Certainty: certaintyExact, Known: true}
		}
		if packSize.GreaterThan(one) {
			return Conversion{Multiplier: packSize, Certainty: certaintyPackSize, Known: true}
		}
		return Conversion{Multiplier: one, Certainty: certaintyUnknown}

	case DescriptorMeasure:
		du, _ := t.unit(d.Unit)
		pieces := d.Count.IsPositive()
		switch {
		case unitKnown && iu.dim == du.dim:
			return Conversion{Multiplier: d.Amount.Mul(du.factor).Div(iu.factor).Round(6), Certainty: certaintyExact, Known: true}
		case pieces && unitKnown && iu.dim == DimensionCount:
			return Conversion{Multiplier: d.Count, Certainty: certaintyExact, Known: true}
		case pieces && itemUnit == "":
			return Conversion{Multiplier: d.Count, Certainty: certaintyCountOfSized, Known: true}
		case unitKnown:
			return Conversion{Multiplier: one, Certainty: certaintyMismatch}
		}
		return Conversion{Multiplier: one, Certainty: certaintyUnknown}
	}
	return Conversion{Multiplier: one, Certainty: certaintyUnknown}
}
