package binders

import (
	"errors"
	"testing"
)

func TestAddCardRespectsCardLimit(t *testing.T) {
	editor := newTestEditor(t, Limits{MaxCards: 2})
	doc := withCards(mustCreate(t, editor, "Full"), 0, 1)
	_, _, err := editor.AddCard(doc, CardInput{Card: CatalogCard{ID: "base1-1"}}, nil, "user-1")
	var limitErr *LimitExceededError
	if !errors.As(err, &limitErr) || limitErr.Limit != "cards" {
		t.Fatalf("expected card limit error, got %v", err)
	}
	if len(doc.Cards) != 2 || doc.Version != 1 {
		t.Fatalf("expected document to stay untouched")
	}
}

func TestAddCardRespectsPageLimit(t *testing.T) {
	editor := newTestEditor(t, Limits{MaxPages: 1})
	doc := mustCreate(t, editor, "Pages")
	position := 9
	_, _, err := editor.AddCard(doc, CardInput{Card: CatalogCard{ID: "base1-1"}}, &position, "user-1")
	if !errors.Is(err, ErrLimitExceeded) {
		t.Fatalf("expected page limit error, got %v", err)
	}
}

func TestAddCardRejectsOccupiedPosition(t *testing.T) {
	editor := newTestEditor(t, Limits{})
	doc := withCards(mustCreate(t, editor, "Occupied"), 3)
	position := 3
	if _, _, err := editor.AddCard(doc, CardInput{Card: CatalogCard{ID: "base1-1"}}, &position, "user-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAddCardFillsFirstGap(t *testing.T) {
	editor := newTestEditor(t, Limits{})
	doc := withCards(mustCreate(t, editor, "Gap"), 0, 1, 3)
	updated, position, err := editor.AddCard(doc, CardInput{
		Card:     CatalogCard{ID: "base1-58", Name: "Pikachu", Types: []string{"Lightning"}},
		Quantity: 0,
	}, nil, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if position != 2 {
		t.Fatalf("expected position 2, got %d", position)
	}
	entry := updated.Cards[2]
	if entry.CardData.Name != "Pikachu" || entry.Quantity != 1 || entry.AddedBy != "user-1" {
		t.Fatalf("unexpected entry %+v", entry)
	}
	if last := updated.Changelog[len(updated.Changelog)-1]; last.Type != ChangeCardAdded || *last.Data.ToPosition != 2 {
		t.Fatalf("unexpected change record %+v", last)
	}
}

func TestRemoveProtectedCardFails(t *testing.T) {
	editor := newTestEditor(t, Limits{})
	doc := withCards(mustCreate(t, editor, "Protected"), 0)
	protected := true
	doc, err := editor.UpdateCard(doc, 0, CardPatch{IsProtected: &protected}, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := editor.RemoveCard(doc, 0, "user-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	unprotected := false
	doc, err = editor.UpdateCard(doc, 0, CardPatch{IsProtected: &unprotected}, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	removed, err := editor.RemoveCard(doc, 0, "user-1")
	if err != nil {
		t.Fatalf("unexpected remove error: %v", err)
	}
	if len(removed.Cards) != 0 {
		t.Fatalf("expected empty binder")
	}
}
