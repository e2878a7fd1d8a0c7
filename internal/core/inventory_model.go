package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

type ItemClass string

const (
	ItemClassIngredient  ItemClass = "ingredient"
	ItemClassPrepared    ItemClass = "prepared"
	ItemClassPrepackaged ItemClass = "prepackaged"
)

type MovementType string

const (
	MovementPurchase   MovementType = "purchase"
	MovementAdjustment MovementType = "adjustment"
	MovementSale       MovementType = "sale"
	MovementWaste      MovementType = "waste"
)

type CostSource string

const (
	CostSourceRevert  CostSource = "revert"
	CostSourceInvoice CostSource = "invoice"
	CostSourceManual  CostSource = "manual"
)

// InventoryItem is a stocked item. CurrentStock is derived from the movement ledger
// and only ever changes together with a StockMovement row.
type InventoryItem struct {
	ID               int             `json:"id"`
	Name             string          `json:"name"`
	SKU              *string         `json:"sku,omitempty"`
	CurrentStock     decimal.Decimal `json:"current_stock"`
	MinimumThreshold decimal.Decimal `json:"minimum_threshold"`
	ReorderPoint     decimal.Decimal `json:"reorder_point"`
	UnitCost         decimal.Decimal `json:"unit_cost"`
	UnitType         string          `json:"unit_type"`
	PackSize         decimal.Decimal `json:"pack_size"`
	SupplierID       *int            `json:"supplier_id,omitempty"`
	ItemClass        ItemClass       `json:"item_class"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// NewItemInput holds the fields required to create an inventory item. New items
// always start with zero stock.
type NewItemInput struct {
	Name             string
	SKU              string
	MinimumThreshold decimal.Decimal
	ReorderPoint     decimal.Decimal
	UnitCost         decimal.Decimal
	UnitType         string
	PackSize         decimal.Decimal
	SupplierID       *int
	ItemClass        ItemClass
}

// StockMovement is an append-only ledger row. PreviousStock + QuantityChange == NewStock.
type StockMovement struct {
	ID              int             `json:"id"`
	InventoryItemID int             `json:"inventory_item_id"`
	MovementType    MovementType    `json:"movement_type"`
	QuantityChange  decimal.Decimal `json:"quantity_change"`
	PreviousStock   decimal.Decimal `json:"previous_stock"`
	NewStock        decimal.Decimal `json:"new_stock"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
	ReferenceID     *string         `json:"reference_id,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	Actor           string          `json:"actor"`
	CreatedAt       time.Time       `json:"created_at"`
}

// CostHistoryEntry records a unit cost change before it is applied.
type CostHistoryEntry struct {
	ID              int             `json:"id"`
	InventoryItemID int             `json:"inventory_item_id"`
	PreviousCost    decimal.Decimal `json:"previous_cost"`
	NewCost         decimal.Decimal `json:"new_cost"`
	PackSize        decimal.Decimal `json:"pack_size"`
	Source          CostSource      `json:"source"`
	SourceReference *string         `json:"source_reference,omitempty"`
	Actor           string          `json:"actor"`
	CreatedAt       time.Time       `json:"created_at"`
}

// LowStockAlert is opened when stock drops below the minimum threshold and
// acknowledged when a receipt lifts it above the reorder point.
type LowStockAlert struct {
	ID              int             `json:"id"`
	InventoryItemID int             `json:"inventory_item_id"`
	StockLevel      decimal.Decimal `json:"stock_level"`
	Threshold       decimal.Decimal `json:"threshold"`
	Acknowledged    bool            `json:"acknowledged"`
	AcknowledgedBy  *string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time      `json:"acknowledged_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StockAdjustment sets an item's stock to an absolute target.
type StockAdjustment struct {
	ItemID int
	Target decimal.Decimal
	Actor  string
	Notes  string
}

// CostRevert sets an item's unit cost back to a previous value.
type CostRevert struct {
	ItemID          int
	TargetCost      decimal.Decimal
	Actor           string
	Reason          string
	SourceReference string
}

// ReceiptLine is one confirmed invoice line being received into stock.
type ReceiptLine struct {
	ItemID      int
	Quantity    decimal.Decimal // in inventory units
	UnitCost    decimal.Decimal // per inventory unit
	ReferenceID string
	Notes       string
}

// StockChange summarizes one applied movement for post-commit alert handling.
type StockChange struct {
	ItemID           int
	PreviousStock    decimal.Decimal
	NewStock         decimal.Decimal
	MinimumThreshold decimal.Decimal
	ReorderPoint     decimal.Decimal
}

// CrossedAboveReorderPoint reports a positive change that lifts stock over the reorder point.
func (c StockChange) CrossedAboveReorderPoint() bool {
	return c.NewStock.GreaterThan(c.PreviousStock) &&
		c.PreviousStock.LessThanOrEqual(c.ReorderPoint) &&
		c.NewStock.GreaterThan(c.ReorderPoint)
}

// DroppedBelowMinimum reports a negative change that takes stock under the minimum threshold.
func (c StockChange) DroppedBelowMinimum() bool {
	return c.NewStock.LessThan(c.PreviousStock) &&
		c.PreviousStock.GreaterThanOrEqual(c.MinimumThreshold) &&
		c.NewStock.LessThan(c.MinimumThreshold)
}

// AlertNotifier receives fire-and-forget low-stock events.
type AlertNotifier interface {
	LowStockRaised(ctx context.Context, alert LowStockAlert)
	LowStockAcknowledged(ctx context.Context, itemID int, alertIDs []int, actor string)
}

// InventoryService is the stock and cost ledger.
type InventoryService interface {
	// CreateItem inserts a new item with zero stock.
	CreateItem(ctx context.Context, in NewItemInput) (*InventoryItem, error)

	// DeleteItem removes an item that has never moved stock and is not referenced.
	// It exists for compensating a failed create-and-match.
	DeleteItem(ctx context.Context, id int) error

	GetItem(ctx context.Context, id int) (*InventoryItem, error)

	// ListItems returns all items, optionally only those of one supplier.
	ListItems(ctx context.Context, supplierID *int) ([]InventoryItem, error)

	// AdjustStock sets stock to an absolute target, appending an adjustment movement.
	// A negative target or a target equal to the current stock is rejected.
	AdjustStock(ctx context.Context, adj StockAdjustment) (*StockMovement, error)

	// RevertCost records the current cost in cost history and then sets the target cost.
	RevertCost(ctx context.Context, rev CostRevert) (*CostHistoryEntry, error)

	// ReceiveTx applies purchase movements (and invoice cost changes) inside the
	// caller's transaction. Items are row-locked in id order.
	ReceiveTx(ctx context.Context, tx pgx.Tx, lines []ReceiptLine, actor, sourceRef string) ([]StockChange, error)

	// SettleAlerts opens or acknowledges low-stock alerts for committed changes.
	// Failures are logged and never returned.
	SettleAlerts(ctx context.Context, changes []StockChange, actor string)

	ListMovements(ctx context.Context, itemID, limit int) ([]StockMovement, error)
	ListCostHistory(ctx context.Context, itemID int) ([]CostHistoryEntry, error)
	OpenAlerts(ctx context.Context, itemID *int) ([]LowStockAlert, error)
}
