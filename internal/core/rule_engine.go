package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"invoice-recon/internal/matching"
)

// ConversionRule is one configured row of the unit_conversions table.
type ConversionRule struct {
	Kind      string // "unit" or "package"
	Alias     string
	Dimension string
	Factor    decimal.Decimal
}

// RuleEngine resolves the configurable unit and package conversions used by matching.
// Database rows extend or override the built-in table.
type RuleEngine interface {
	Rules(ctx context.Context) ([]ConversionRule, error)
	UnitTable(ctx context.Context) (*matching.UnitTable, error)
}

type ruleEngine struct {
	pool *pgxpool.Pool
}

// NewRuleEngine constructs a RuleEngine backed by the unit_conversions table.
func NewRuleEngine(pool *pgxpool.Pool) RuleEngine {
	return &ruleEngine{pool: pool}
}

// Rules returns the active conversion rows.
func (r *ruleEngine) Rules(ctx context.Context) ([]ConversionRule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT kind, alias, COALESCE(dimension, ''), factor
		FROM unit_conversions
		WHERE is_active
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load unit conversions: %w", err)
	}
	defer rows.Close()

	var rules []ConversionRule
	for rows.Next() {
		var c ConversionRule
		if err := rows.Scan(&c.Kind, &c.Alias, &c.Dimension, &c.Factor); err != nil {
			return nil, fmt.Errorf("scan unit conversion: %w", err)
		}
		rules = append(rules, c)
	}
	return rules, rows.Err()
}

// UnitTable builds the default table and applies the configured rows on top.
func (r *ruleEngine) UnitTable(ctx context.Context) (*matching.UnitTable, error) {
	rules, err := r.Rules(ctx)
	if err != nil {
		return nil, err
	}
	return ApplyConversionRules(matching.NewUnitTable(), rules)
}

// ApplyConversionRules adds rules to table. Unit rules need a known dimension.
func ApplyConversionRules(table *matching.UnitTable, rules []ConversionRule) (*matching.UnitTable, error) {
	for _, c := range rules {
		switch c.Kind {
		case "package":
			table.AddPackage(c.Alias, c.Factor)
		case "unit":
			dim := matching.Dimension(c.Dimension)
			if dim != matching.DimensionMass && dim != matching.DimensionVolume && dim != matching.DimensionCount {
				return nil, Errorf(KindInvariantViolation, "unit conversion %q has unknown dimension %q", c.Alias, c.Dimension)
			}
			table.AddUnit(c.Alias, dim, c.Factor)
		default:
			return nil, Errorf(KindInvariantViolation, "unit conversion %q has unknown kind %q", c.Alias, c.Kind)
		}
	}
	return table, nil
}
