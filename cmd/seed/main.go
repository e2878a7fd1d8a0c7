// seed loads a small development catalog: suppliers, their inventory items and a few
// package conversions. Rows that already exist are left alone, so it can be rerun.
//
// Usage: go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"invoice-recon/internal/core"
	"invoice-recon/internal/db"
	"invoice-recon/internal/lock"
	"invoice-recon/internal/logging"
	"invoice-recon/internal/notify"
)

type seedItem struct {
	name      string
	sku       string
	unitType  string
	unitCost  string
	packSize  string
	minimum   string
	reorderAt string
	class     core.ItemClass
}

var suppliers = []struct {
	input core.SupplierInput
	items []seedItem
}{
	{
		input: core.SupplierInput{Code: "FRESH", Name: "Fresh Foods Ltd", Email: "orders@freshfoods.example"},
		items: []seedItem{
			{"Coffee Beans", "CB-001", "lb", "9.00", "1", "5", "10", core.ItemClassIngredient},
			{"Whole Milk", "MLK-001", "l", "1.20", "1", "10", "20", core.ItemClassIngredient},
			{"Oat Milk", "OAT-001", "l", "2.40", "1", "6", "12", core.ItemClassIngredient},
		},
	},
	{
		input: core.SupplierInput{Code: "PACK", Name: "Packaging Direct", Email: "sales@packdirect.example"},
		items: []seedItem{
			{"Paper Cups", "CUP-12", "each", "0.10", "50", "200", "500", core.ItemClassPrepackaged},
			{"Cup Lids", "LID-12", "each", "0.05", "100", "200", "500", core.ItemClassPrepackaged},
		},
	},
}

var conversions = []core.ConversionRule{
	{Kind: "package", Alias: "sleeve", Factor: decimal.NewFromInt(25)},
	{Kind: "package", Alias: "tray", Factor: decimal.NewFromInt(24)},
}

func main() {
	_ = godotenv.Load()
	log := logging.New(os.Getenv("LOG_LEVEL"), os.Getenv("APP_ENV"))

	ctx := context.Background()
	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer pool.Close()

	catalog := core.NewCatalogService(pool)
	inventory := core.NewInventoryService(pool, lock.NewLocalLocker(0), notify.NewLogNotifier(log), log)

	for _, s := range suppliers {
		sup, err := ensureSupplier(ctx, catalog, s.input)
		if err != nil {
			log.Fatal().Err(err).Str("supplier", s.input.Name).Msg("failed to seed supplier")
		}
		existing, err := inventory.ListItems(ctx, &sup.ID)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list items")
		}
		have := map[string]bool{}
		for _, it := range existing {
			have[strings.ToLower(it.Name)] = true
		}
		for _, it := range s.items {
			if have[strings.ToLower(it.name)] {
				continue
			}
			created, err := inventory.CreateItem(ctx, core.NewItemInput{
				Name:             it.name,
				SKU:              it.sku,
				UnitType:         it.unitType,
				UnitCost:         decimal.RequireFromString(it.unitCost),
				PackSize:         decimal.RequireFromString(it.packSize),
				MinimumThreshold: decimal.RequireFromString(it.minimum),
				ReorderPoint:     decimal.RequireFromString(it.reorderAt),
				SupplierID:       &sup.ID,
				ItemClass:        it.class,
			})
			if err != nil {
				log.Fatal().Err(err).Str("item", it.name).Msg("failed to seed item")
			}
			log.Info().Int("item_id", created.ID).Str("item", created.Name).Str("supplier", sup.Name).Msg("item created")
		}
	}

	if err := seedConversions(ctx, pool, log); err != nil {
		log.Fatal().Err(err).Msg("failed to seed unit conversions")
	}
	log.Info().Msg("seed complete")
}

func ensureSupplier(ctx context.Context, catalog core.CatalogService, in core.SupplierInput) (*core.Supplier, error) {
	sup, err := catalog.FindSupplierByName(ctx, in.Name)
	if err == nil {
		return sup, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return nil, err
	}
	return catalog.CreateSupplier(ctx, in)
}

func seedConversions(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	for _, c := range conversions {
		tag, err := pool.Exec(ctx, `
			INSERT INTO unit_conversions (kind, alias, dimension, factor)
			VALUES ($1, $2, NULLIF($3, ''), $4)
			ON CONFLICT (alias) DO NOTHING`,
			c.Kind, c.Alias, c.Dimension, c.Factor)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			log.Info().Str("alias", c.Alias).Str("factor", c.Factor.String()).Msg("conversion added")
		}
	}
	// Fails on a bad row, so the server would not start with it either.
	_, err := core.NewRuleEngine(pool).UnitTable(ctx)
	return err
}
