package binders

import (
	"fmt"
	"testing"
	"time"
)

var fixedTestTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type sequenceIDProvider struct {
	prefix string
	next   int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("%s-%d", p.prefix, p.next), nil
}

type steppingClock struct {
	current time.Time
	step    time.Duration
}

func (c *steppingClock) Now() time.Time {
	value := c.current
	c.current = c.current.Add(c.step)
	return value
}

func newTestEditor(t *testing.T, limits Limits) *Editor {
	t.Helper()
	clock := &steppingClock{current: fixedTestTime, step: time.Second}
	return NewEditor(EditorConfig{
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{prefix: "id"},
		Limits:     limits,
	})
}

func mustCreate(t *testing.T, editor *Editor, name string) *Document {
	t.Helper()
	doc, err := editor.Create(name, "", "user-1")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return doc
}

// withCards places synthetic entries at positions without recording changes.
func withCards(doc *Document, positions ...int) *Document {
	updated := doc.Clone()
	for _, position := range positions {
		updated.Cards[position] = Entry{
			InstanceID: fmt.Sprintf("inst-%d", position),
			CardID:     fmt.Sprintf("card-%d", position),
			Quantity:   1,
		}
	}
	return updated
}

func instanceAt(t *testing.T, doc *Document, position int) string {
	t.Helper()
	entry, ok := doc.Cards[position]
	if !ok {
		t.Fatalf("expected a card at position %d, got positions %v", position, doc.Positions())
	}
	return entry.InstanceID
}

func instanceMultiset(doc *Document) map[string]int {
	counts := make(map[string]int, len(doc.Cards))
	for _, entry := range doc.Cards {
		counts[entry.InstanceID]++
	}
	return counts
}

func equalInts(left, right []int) bool {
	if len(left) != len(right) {
		return false
	}
	for index := range left {
		if left[index] != right[index] {
			return false
		}
	}
	return true
}
