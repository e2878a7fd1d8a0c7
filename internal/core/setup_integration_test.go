package core_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"invoice-recon/internal/core"
)

// setupTestDB applies the schema to TEST_DATABASE_URL, truncates every table and seeds
// two suppliers (ids 1 and 2).
func setupTestDB(t *testing.T) (*pgxpool.Pool, context.Context) {
	t.Helper()
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping live data.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/001_reconciliation.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}

	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE line_item_events, order_invoice_matches, invoice_line_items, invoices,
		               purchase_order_status_history, purchase_order_lines, purchase_orders,
		               low_stock_alerts, cost_history, stock_movements, inventory_items,
		               document_sequences, unit_conversions, suppliers
		RESTART IDENTITY CASCADE;

		INSERT INTO suppliers (id, code, name) VALUES
		(1, 'S001', 'Fresh Foods Ltd'),
		(2, 'S002', 'Paper Goods Co');
		SELECT setval('suppliers_id_seq', 2);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}
	return pool, ctx
}

type services struct {
	catalog   core.CatalogService
	invoices  core.InvoiceService
	inventory core.InventoryService
	orders    core.PurchaseOrderService
	recon     core.ReconciliationService
}

func newServices(pool *pgxpool.Pool) services {
	log := zerolog.Nop()
	th := core.DefaultThresholds
	s := services{
		catalog:   core.NewCatalogService(pool),
		invoices:  core.NewInvoiceService(pool, th, log),
		inventory: core.NewInventoryService(pool, nil, nil, log),
		orders:    core.NewPurchaseOrderService(pool, log),
	}
	s.recon = core.NewReconciliationService(pool, s.invoices, s.inventory, s.orders, nil, nil, th, log)
	return s
}

func intPtr(i int) *int { return &i }
