package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"gopkg.in/yaml.v3"
)

func TestParseMovePair(t *testing.T) {
	pair, err := parseMovePair(" 3 : 12")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pair.From != 3 || pair.To != 12 {
		t.Fatalf("unexpected pair %+v", pair)
	}

	for _, raw := range []string{"3", "a:1", "1:b", ""} {
		if _, err := parseMovePair(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseMoveMode(t *testing.T) {
	testCases := []struct {
		raw      string
		expected binders.MoveMode
		wantErr  bool
	}{
		{raw: "", expected: binders.MoveModeSwap},
		{raw: "SWAP", expected: binders.MoveModeSwap},
		{raw: "shift", expected: binders.MoveModeShift},
		{raw: "insert", wantErr: true},
	}
	for _, testCase := range testCases {
		mode, err := parseMoveMode(testCase.raw)
		if testCase.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", testCase.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", testCase.raw, err)
		}
		if mode != testCase.expected {
			t.Fatalf("expected %s for %q, got %s", testCase.expected, testCase.raw, mode)
		}
	}
}

func newOutputBinder(t *testing.T) *binders.Document {
	t.Helper()
	editor := binders.NewEditor(binders.EditorConfig{})
	doc, err := editor.Create("Kanto", "first generation", "user-1")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	position := 4
	doc, _, err = editor.AddCard(doc, binders.CardInput{Card: binders.CatalogCard{ID: "base1-4", Name: "Charizard"}}, &position, "user-1")
	if err != nil {
		t.Fatalf("add card failed: %v", err)
	}
	return doc
}

func TestWriteBinderDetailRendersOccupiedPages(t *testing.T) {
	doc := newOutputBinder(t)
	var out bytes.Buffer
	if err := writeBinder(&out, doc, outputFormatText); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rendered := out.String()
	for _, expected := range []string{"Kanto", "first generation", "card-page 0", "Charizard"} {
		if !strings.Contains(rendered, expected) {
			t.Fatalf("expected %q in output:\n%s", expected, rendered)
		}
	}
}

func TestWriteBinderYAMLKeepsStoredFieldNames(t *testing.T) {
	doc := newOutputBinder(t)
	var out bytes.Buffer
	if err := writeBinder(&out, doc, "YAML"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var decoded map[string]any
	if err := yaml.Unmarshal(out.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not yaml: %v", err)
	}
	if decoded["ownerId"] != "user-1" {
		t.Fatalf("expected ownerId user-1, got %v", decoded["ownerId"])
	}
	cards, ok := decoded["cards"].(map[string]any)
	if !ok || len(cards) != 1 {
		t.Fatalf("expected one card, got %v", decoded["cards"])
	}
}

func TestWriteBinderRejectsUnknownFormat(t *testing.T) {
	if err := writeBinder(&bytes.Buffer{}, newOutputBinder(t), "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestWriteBinderListMarksCurrent(t *testing.T) {
	doc := newOutputBinder(t)
	var out bytes.Buffer
	writeBinderList(&out, []*binders.Document{doc}, doc.ID)
	if !strings.Contains(out.String(), "* "+doc.ID) {
		t.Fatalf("expected current marker, got:\n%s", out.String())
	}

	out.Reset()
	writeBinderList(&out, nil, "")
	if !strings.Contains(out.String(), "no binders") {
		t.Fatalf("expected empty message, got %q", out.String())
	}
}
