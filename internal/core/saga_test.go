package core

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

type fakeItemStore struct {
	nextID    int
	items     map[int]*InventoryItem
	createErr error
	deleteErr error
	deleted   []int
}

func newFakeItemStore() *fakeItemStore {
	return &fakeItemStore{nextID: 100, items: map[int]*InventoryItem{}}
}

func (f *fakeItemStore) CreateItem(_ context.Context, in NewItemInput) (*InventoryItem, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.nextID++
	it := &InventoryItem{ID: f.nextID, Name: in.Name, UnitType: in.UnitType, CurrentStock: decimal.Zero}
	f.items[it.ID] = it
	return it, nil
}

func (f *fakeItemStore) DeleteItem(ctx context.Context, id int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.items, id)
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeLineMatcher struct {
	err     error
	matched map[int]int // line -> item
	cancel  context.CancelFunc
}

func (f *fakeLineMatcher) matchLine(_ context.Context, lineItemID int, item *InventoryItem, method MatchMethod, _, _ string) (*InvoiceLineItem, error) {
	if f.cancel != nil {
		f.cancel()
	}
	if f.err != nil {
		return nil, f.err
	}
	if f.matched == nil {
		f.matched = map[int]int{}
	}
	f.matched[lineItemID] = item.ID
	m := method
	return &InvoiceLineItem{ID: lineItemID, MatchedItemID: &item.ID, MatchMethod: &m, Reviewed: true}, nil
}

func TestCreateAndMatch_Success(t *testing.T) {
	items := newFakeItemStore()
	lines := &fakeLineMatcher{}

	line, item, err := createAndMatch(context.Background(), zerolog.Nop(), items, lines, 7,
		NewItemInput{Name: "Oat Milk", UnitType: "each"}, "reviewer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if item == nil || items.items[item.ID] == nil {
		t.Fatal("created item should persist")
	}
	if line.MatchedItemID == nil || *line.MatchedItemID != item.ID {
		t.Errorf("line should point at the new item")
	}
	if *line.MatchMethod != MatchMethodManualCreate {
		t.Errorf("method: got %s, want %s", *line.MatchMethod, MatchMethodManualCreate)
	}
}

func TestCreateAndMatch_MatchFailureDeletesItem(t *testing.T) {
	items := newFakeItemStore()
	matchErr := Errorf(KindInvalidTransition, "invoice 1 is confirmed and no longer under review")
	lines := &fakeLineMatcher{err: matchErr}

	line, item, err := createAndMatch(context.Background(), zerolog.Nop(), items, lines, 7,
		NewItemInput{Name: "Oat Milk"}, "reviewer")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected the match error, got %v", err)
	}
	if line != nil || item != nil {
		t.Error("nothing should be returned on failure")
	}
	if len(items.items) != 0 {
		t.Errorf("created item must not persist, found %d", len(items.items))
	}
	if len(items.deleted) != 1 || items.deleted[0] != 101 {
		t.Errorf("expected compensating delete of item 101, got %v", items.deleted)
	}
}

func TestCreateAndMatch_UndoRunsAfterCancellation(t *testing.T) {
	items := newFakeItemStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	lines := &fakeLineMatcher{err: context.Canceled, cancel: cancel}

	_, _, err := createAndMatch(ctx, zerolog.Nop(), items, lines, 7, NewItemInput{Name: "Oat Milk"}, "reviewer")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation error, got %v", err)
	}
	if len(items.items) != 0 {
		t.Error("undo must run even though the request context was cancelled")
	}
}

func TestCreateAndMatch_UndoFailureJoinsErrors(t *testing.T) {
	items := newFakeItemStore()
	items.deleteErr = errors.New("connection reset")
	matchErr := errors.New("deadlock detected")
	lines := &fakeLineMatcher{err: matchErr}

	_, _, err := createAndMatch(context.Background(), zerolog.Nop(), items, lines, 7, NewItemInput{Name: "Oat Milk"}, "reviewer")
	if !errors.Is(err, matchErr) || !errors.Is(err, items.deleteErr) {
		t.Errorf("expected both the match and undo errors, got %v", err)
	}
}

func TestCreateAndMatch_CreateFailureSkipsMatch(t *testing.T) {
	items := newFakeItemStore()
	items.createErr = Errorf(KindInvariantViolation, "reorder point is below minimum threshold")
	lines := &fakeLineMatcher{}

	_, _, err := createAndMatch(context.Background(), zerolog.Nop(), items, lines, 7, NewItemInput{Name: "Oat Milk"}, "reviewer")
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected create error, got %v", err)
	}
	if len(lines.matched) != 0 || len(items.deleted) != 0 {
		t.Error("no match or undo should run when create fails")
	}
}
