package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
)

func TestListInvoices_RejectsPageBeyondCap(t *testing.T) {
	// The range check runs before any query, so no pool is needed.
	svc := NewInvoiceService(nil, DefaultThresholds, zerolog.Nop())

	for _, page := range []int{MaxInvoicePage + 1, math.MaxInt} {
		_, err := svc.ListInvoices(context.Background(), InvoiceFilter{Page: page, PageSize: 200})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("page %d: err = %v, want invalid request", page, err)
		}
	}
}
