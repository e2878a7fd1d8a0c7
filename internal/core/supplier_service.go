package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

type catalogService struct {
	pool *pgxpool.Pool
}

// NewCatalogService constructs a CatalogService backed by PostgreSQL.
func NewCatalogService(pool *pgxpool.Pool) CatalogService {
	return &catalogService{pool: pool}
}

const supplierColumns = `id, code, name, email, is_active, created_at`

// CreateSupplier inserts a new supplier record.
func (s *catalogService) CreateSupplier(ctx context.Context, input SupplierInput) (*Supplier, error) {
	if strings.TrimSpace(input.Code) == "" || strings.TrimSpace(input.Name) == "" {
		return nil, Errorf(KindInvalidRequest, "supplier code and name are required")
	}
	var email *string
	if input.Email != "" {
		email = &input.Email
	}

	sup := &Supplier{}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO suppliers (code, name, email)
		VALUES ($1, $2, $3)
		RETURNING `+supplierColumns,
		input.Code, input.Name, email,
	).Scan(&sup.ID, &sup.Code, &sup.Name, &sup.Email, &sup.IsActive, &sup.CreatedAt)
	if err != nil {
		return nil, translatePgError(err, fmt.Sprintf("supplier %q", input.Code))
	}
	return sup, nil
}

// GetSupplier returns a supplier by id.
func (s *catalogService) GetSupplier(ctx context.Context, id int) (*Supplier, error) {
	sup := &Supplier{}
	err := s.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE id = $1`, id).
		Scan(&sup.ID, &sup.Code, &sup.Name, &sup.Email, &sup.IsActive, &sup.CreatedAt)
	if err != nil {
		return nil, translatePgError(err, fmt.Sprintf("supplier %d", id))
	}
	return sup, nil
}

// ListSuppliers returns all active suppliers ordered by code.
func (s *catalogService) ListSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE is_active ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list suppliers: %w", err)
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var sup Supplier
		if err := rows.Scan(&sup.ID, &sup.Code, &sup.Name, &sup.Email, &sup.IsActive, &sup.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan supplier: %w", err)
		}
		suppliers = append(suppliers, sup)
	}
	return suppliers, rows.Err()
}

// FindSupplierByName matches exact names first, then names starting with the input.
func (s *catalogService) FindSupplierByName(ctx context.Context, name string) (*Supplier, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, Errorf(KindNotFound, "supplier with empty name not found")
	}
	sup := &Supplier{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+supplierColumns+`
		FROM suppliers
		WHERE is_active AND (lower(name) = lower($1) OR lower(name) LIKE lower($1) || '%')
		ORDER BY (lower(name) = lower($1)) DESC, length(name)
		LIMIT 1`,
		name,
	).Scan(&sup.ID, &sup.Code, &sup.Name, &sup.Email, &sup.IsActive, &sup.CreatedAt)
	if err != nil {
		return nil, translatePgError(err, fmt.Sprintf("supplier %q", name))
	}
	return sup, nil
}
