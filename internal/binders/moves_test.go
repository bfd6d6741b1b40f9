package binders

import (
	"errors"
	"testing"
)

func TestBeginCommitMove(t *testing.T) {
	editor := newTestEditor(t, Limits{})
	doc := withCards(mustCreate(t, editor, "Two phase"), 0, 4)

	provisional, token, err := editor.BeginMove(doc, 0, 4, "", "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if instanceAt(t, provisional, 4) != "inst-0" {
		t.Fatalf("expected provisional placement")
	}
	if len(provisional.Changelog) != len(doc.Changelog) {
		t.Fatalf("expected provisional move to stay out of the changelog")
	}
	if last := provisional.Sync.PendingChanges[len(provisional.Sync.PendingChanges)-1]; last.Type != ChangeCardMovedOptimistic {
		t.Fatalf("expected optimistic pending change, got %s", last.Type)
	}

	committed, err := editor.CommitMove(provisional, token, "user-1")
	if err != nil {
		t.Fatalf("unexpected commit error: %v", err)
	}
	last := committed.Changelog[len(committed.Changelog)-1]
	if last.Type != ChangeCardMoved || last.Data.InstanceID != "inst-0" {
		t.Fatalf("unexpected final record %+v", last)
	}
	if _, err := editor.CommitMove(committed, token, "user-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected stale token to be rejected, got %v", err)
	}
}

func TestBeginAbortMoveRestoresShiftedSlots(t *testing.T) {
	editor := newTestEditor(t, Limits{})
	doc := withCards(mustCreate(t, editor, "Abort"), 2, 3, 5, 7)
	doc.Settings.PageCount = 1

	provisional, token, err := editor.BeginMove(doc, 2, 30, MoveModeShift, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if provisional.Settings.PageCount != 3 {
		t.Fatalf("expected provisional page growth, got %d", provisional.Settings.PageCount)
	}
	reverted, err := editor.AbortMove(provisional, token, "user-1")
	if err != nil {
		t.Fatalf("unexpected abort error: %v", err)
	}
	if !equalInts(reverted.Positions(), doc.Positions()) {
		t.Fatalf("expected positions %v, got %v", doc.Positions(), reverted.Positions())
	}
	for _, position := range doc.Positions() {
		if instanceAt(t, reverted, position) != instanceAt(t, doc, position) {
			t.Fatalf("instance at %d not restored", position)
		}
	}
	if reverted.Settings.PageCount != 1 {
		t.Fatalf("expected page count restored, got %d", reverted.Settings.PageCount)
	}
	if len(reverted.Changelog) != len(doc.Changelog) {
		t.Fatalf("expected abort to stay out of the changelog")
	}
}

func TestMoveTokenRejectedForOtherBinder(t *testing.T) {
	editor := newTestEditor(t, Limits{})
	first := withCards(mustCreate(t, editor, "First"), 0)
	second := withCards(mustCreate(t, editor, "Second"), 0)
	_, token, err := editor.BeginMove(first, 0, 1, MoveModeSwap, "user-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := editor.AbortMove(second, token, "user-1"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected token mismatch error, got %v", err)
	}
}
