package core

import (
	"context"
	"time"
)

// Supplier is a vendor that issues invoices and receives purchase orders.
type Supplier struct {
	ID        int       `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// SupplierInput holds the fields required to create a supplier.
type SupplierInput struct {
	Code  string
	Name  string
	Email string
}

// CatalogService is the read side of supplier master data used by the pipeline,
// plus CreateSupplier for seeding.
type CatalogService interface {
	// CreateSupplier inserts a new supplier.
	CreateSupplier(ctx context.Context, input SupplierInput) (*Supplier, error)

	// GetSupplier returns a supplier by id.
	GetSupplier(ctx context.Context, id int) (*Supplier, error)

	// ListSuppliers returns all active suppliers ordered by code.
	ListSuppliers(ctx context.Context) ([]Supplier, error)

	// FindSupplierByName resolves a printed supplier name to an active supplier.
	// Exact case-insensitive matches win over prefix matches.
	FindSupplierByName(ctx context.Context, name string) (*Supplier, error)
}
