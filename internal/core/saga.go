package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const compensationTimeout = 10 * time.Second

// itemStore is the part of the inventory ledger the create-and-match saga needs.
type itemStore interface {
	CreateItem(ctx context.Context, in NewItemInput) (*InventoryItem, error)
	DeleteItem(ctx context.Context, id int) error
}

// lineMatcher applies a match to a line inside its own transaction.
type lineMatcher interface {
	matchLine(ctx context.Context, lineItemID int, item *InventoryItem, method MatchMethod, actor, notes string) (*InvoiceLineItem, error)
}

// createAndMatch runs step 1 (create the item) and step 2 (match the line). The two
// steps commit separately, so a failed step 2 is undone by deleting the item. The undo
// runs detached from ctx so a cancelled request still cleans up.
func createAndMatch(ctx context.Context, log zerolog.Logger, items itemStore, lines lineMatcher,
	lineItemID int, in NewItemInput, actor string) (*InvoiceLineItem, *InventoryItem, error) {

	item, err := items.CreateItem(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	line, err := lines.matchLine(ctx, lineItemID, item, MatchMethodManualCreate, actor, "")
	if err == nil {
		return line, item, nil
	}

	undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()
	if undoErr := items.DeleteItem(undoCtx, item.ID); undoErr != nil {
		log.Error().Err(undoErr).Int("item_id", item.ID).Int("line_item_id", lineItemID).
			Msg("compensating delete failed; created item left behind")
		return nil, nil, errors.Join(err, fmt.Errorf("undo create of item %d: %w", item.ID, undoErr))
	}

	log.Warn().Err(err).Int("item_id", item.ID).Int("line_item_id", lineItemID).
		Msg("match failed after create; created item removed")
	return nil, nil, err
}
