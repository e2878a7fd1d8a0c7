package core

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// nextDocumentNumber allocates the next gapless number for typeCode inside tx and
// formats it as TYPE-000001. The sequence row stays locked until tx ends, so a rolled
// back transaction does not burn a number.
func nextDocumentNumber(ctx context.Context, tx pgx.Tx, typeCode string) (string, error) {
	var lastNumber int64
	err := tx.QueryRow(ctx, `
		INSERT INTO document_sequences (type_code, last_number)
		VALUES ($1, 1)
		ON CONFLICT (type_code)
		DO UPDATE SET last_number = document_sequences.last_number + 1
		RETURNING last_number`,
		typeCode,
	).Scan(&lastNumber)
	if err != nil {
		return "", fmt.Errorf("failed to generate gapless sequence number for %s: %w", typeCode, err)
	}
	return fmt.Sprintf("%s-%06d", typeCode, lastNumber), nil
}
