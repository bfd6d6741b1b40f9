package binders

import (
	"fmt"
	"sort"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/grid"
	"go.uber.org/zap"
)

// MoveMode selects how a move treats an occupied target.
type MoveMode string

const (
	// MoveModeSwap trades the moved card with the target occupant.
	MoveModeSwap MoveMode = "swap"
	// MoveModeShift slides the occupied cards between source and target one
	// slot toward the source and inserts the moved card at the target.
	MoveModeShift MoveMode = "shift"
)

// CompactScope selects which gaps Compact closes.
type CompactScope string

const (
	CompactScopeBinder CompactScope = "binder"
	CompactScopePage   CompactScope = "page"
)

// MoveRequest describes a single card move.
type MoveRequest struct {
	From           int
	To             int
	Mode           MoveMode
	Optimistic     bool
	SkipValidation bool
}

// MovePair is one step of a batch move.
type MovePair struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// BatchFailure reports a batch step that was not applied.
type BatchFailure struct {
	Index int
	Pair  MovePair
	Err   error
}

// BatchResult summarises a batch move.
type BatchResult struct {
	Applied int
	Failed  []BatchFailure
}

// Move repositions the card at req.From. The returned document is a new value;
// on error doc is left untouched.
func (e *Editor) Move(doc *Document, req MoveRequest, actorID string) (*Document, error) {
	mode := req.Mode
	if mode == "" {
		mode = MoveModeSwap
	}
	if mode != MoveModeSwap && mode != MoveModeShift {
		return nil, newValidationError("mode", fmt.Sprintf("unsupported mode %q", mode))
	}
	if !req.SkipValidation {
		if err := validateMove(doc, req.From, req.To); err != nil {
			return nil, err
		}
	}
	moved, occupied := doc.Cards[req.From]
	if !occupied || req.From == req.To {
		return doc, nil
	}

	updated := doc.Clone()
	switch mode {
	case MoveModeShift:
		shiftCards(updated.Cards, req.From, req.To)
	default:
		swapCards(updated.Cards, req.From, req.To)
	}
	if err := e.fitPageCount(updated); err != nil {
		return nil, err
	}

	changeType := ChangeCardMoved
	if req.Optimistic {
		changeType = ChangeCardMovedOptimistic
	}
	e.tracker.MarkModified(updated, changeType, ChangeData{
		InstanceID:   moved.InstanceID,
		CardID:       moved.CardID,
		FromPosition: intPointer(req.From),
		ToPosition:   intPointer(req.To),
		Mode:         mode,
	}, actorID)
	return updated, nil
}

// BatchMove applies pairs in order with swap semantics. Each pair sees the
// result of the previous ones; invalid pairs are reported and skipped.
func (e *Editor) BatchMove(doc *Document, pairs []MovePair, actorID string) (*Document, BatchResult) {
	result := BatchResult{Failed: make([]BatchFailure, 0)}
	updated := doc.Clone()
	capacity := grid.CapacityForBinderPages(e.effectiveMaxPages(updated.Settings), updated.CardsPerPage())

	for index, pair := range pairs {
		if err := validateMove(updated, pair.From, pair.To); err != nil {
			result.Failed = append(result.Failed, BatchFailure{Index: index, Pair: pair, Err: err})
			continue
		}
		if capacity > 0 && pair.To >= capacity {
			limitErr := &LimitExceededError{Limit: "pages", Maximum: capacity, Requested: pair.To + 1}
			result.Failed = append(result.Failed, BatchFailure{Index: index, Pair: pair, Err: limitErr})
			continue
		}
		swapCards(updated.Cards, pair.From, pair.To)
		result.Applied++
	}

	if result.Applied == 0 {
		return doc, result
	}
	if err := e.fitPageCount(updated); err != nil {
		e.logger.Error("batch move exceeded page capacity", zap.String("binder_id", doc.ID), zap.Error(err))
		return doc, result
	}
	e.tracker.MarkModified(updated, ChangeCardsBatchMoved, ChangeData{
		Mode:     MoveModeSwap,
		Affected: result.Applied,
	}, actorID)
	return updated, result
}

// ReorderCardPages swaps two card-pages wholesale. Card-page 0 shares the
// first binder page with the cover and cannot be moved or replaced.
func (e *Editor) ReorderCardPages(doc *Document, fromCardPage, toCardPage int, actorID string) (*Document, error) {
	perPage := doc.CardsPerPage()
	if perPage == 0 {
		return nil, newValidationError("gridSize", fmt.Sprintf("unsupported size %q", doc.Settings.GridSize))
	}
	lastCardPage := (MaxPosition - 1) / perPage
	switch {
	case fromCardPage == 0 || toCardPage == 0:
		return nil, newValidationError("cardPage", "the cover page cannot be reordered")
	case fromCardPage < 0 || toCardPage < 0:
		return nil, newValidationError("cardPage", "negative page index")
	case fromCardPage > lastCardPage || toCardPage > lastCardPage:
		return nil, newValidationError("cardPage", fmt.Sprintf("page index exceeds %d", lastCardPage))
	case fromCardPage == toCardPage:
		return nil, newValidationError("cardPage", "same page")
	}

	updated := doc.Clone()
	fromStart, _ := grid.CardPageRange(fromCardPage, perPage)
	toStart, _ := grid.CardPageRange(toCardPage, perPage)
	affected := 0
	for offset := 0; offset < perPage; offset++ {
		a := fromStart + offset
		b := toStart + offset
		_, aOccupied := updated.Cards[a]
		_, bOccupied := updated.Cards[b]
		if !aOccupied && !bOccupied {
			continue
		}
		swapCards(updated.Cards, a, b)
		affected++
	}
	if affected == 0 {
		return doc, nil
	}
	if err := e.fitPageCount(updated); err != nil {
		return nil, err
	}
	e.tracker.MarkModified(updated, ChangeCardPagesReordered, ChangeData{
		FromCardPage: intPointer(fromCardPage),
		ToCardPage:   intPointer(toCardPage),
		Affected:     affected,
	}, actorID)
	return updated, nil
}

// Compact closes gaps. The binder scope re-indexes every card to 0..n-1 in
// ascending position order; the page scope does the same inside each listed
// card-page only.
func (e *Editor) Compact(doc *Document, scope CompactScope, cardPages []int, actorID string) (*Document, error) {
	var reindexed map[int]Entry
	switch scope {
	case CompactScopeBinder:
		reindexed = compactRange(doc.Cards, doc.Positions(), 0)
	case CompactScopePage:
		if len(cardPages) == 0 {
			return nil, newValidationError("cardPages", "page scope requires at least one page")
		}
		perPage := doc.CardsPerPage()
		if perPage == 0 {
			return nil, newValidationError("gridSize", fmt.Sprintf("unsupported size %q", doc.Settings.GridSize))
		}
		reindexed = make(map[int]Entry, len(doc.Cards))
		for position, entry := range doc.Cards {
			reindexed[position] = entry
		}
		for _, cardPage := range uniqueSorted(cardPages) {
			if cardPage < 0 || cardPage*perPage >= MaxPosition {
				return nil, newValidationError("cardPages", fmt.Sprintf("page %d out of range", cardPage))
			}
			start, end := grid.CardPageRange(cardPage, perPage)
			inPage := make([]int, 0, perPage)
			for position := start; position < end; position++ {
				if _, occupied := reindexed[position]; occupied {
					inPage = append(inPage, position)
				}
			}
			compacted := compactRange(reindexed, inPage, start)
			for _, position := range inPage {
				delete(reindexed, position)
			}
			for position, entry := range compacted {
				reindexed[position] = entry
			}
		}
	default:
		return nil, newValidationError("scope", fmt.Sprintf("unsupported scope %q", scope))
	}

	moved := 0
	for position, entry := range reindexed {
		current, occupied := doc.Cards[position]
		if !occupied || current.InstanceID != entry.InstanceID {
			moved++
		}
	}
	if moved == 0 {
		return doc, nil
	}

	updated := doc.Clone()
	updated.Cards = make(map[int]Entry, len(reindexed))
	for position, entry := range reindexed {
		updated.Cards[position] = entry.clone()
	}
	e.tracker.MarkModified(updated, ChangeCardsCompacted, ChangeData{
		Scope:    string(scope),
		Affected: moved,
	}, actorID)
	return updated, nil
}

func validateMove(doc *Document, from, to int) error {
	switch {
	case from < 0 || to < 0:
		return newValidationError("position", "negative position")
	case from >= MaxPosition || to >= MaxPosition:
		return newValidationError("position", fmt.Sprintf("position exceeds %d", MaxPosition-1))
	case from == to:
		return newValidationError("position", "same position")
	}
	if _, occupied := doc.Cards[from]; !occupied {
		return newValidationError("position", fmt.Sprintf("no card at position %d", from))
	}
	return nil
}

func swapCards(cards map[int]Entry, from, to int) {
	source, sourceOccupied := cards[from]
	target, targetOccupied := cards[to]
	delete(cards, from)
	delete(cards, to)
	if sourceOccupied {
		cards[to] = source
	}
	if targetOccupied {
		cards[from] = target
	}
}

// shiftCards moves the card at from to to. When to is occupied, every
// occupied slot in (from, to] (or [to, from) when moving backwards) slides one
// slot toward from; empty slots in that range stay empty.
func shiftCards(cards map[int]Entry, from, to int) {
	moved, ok := cards[from]
	if !ok {
		return
	}
	if _, occupied := cards[to]; !occupied {
		delete(cards, from)
		cards[to] = moved
		return
	}
	delete(cards, from)
	if to > from {
		for position := from + 1; position <= to; position++ {
			if entry, occupied := cards[position]; occupied {
				delete(cards, position)
				cards[position-1] = entry
			}
		}
	} else {
		for position := from - 1; position >= to; position-- {
			if entry, occupied := cards[position]; occupied {
				delete(cards, position)
				cards[position+1] = entry
			}
		}
	}
	cards[to] = moved
}

// compactRange maps the entries at positions (ascending) onto consecutive
// slots starting at start.
func compactRange(cards map[int]Entry, positions []int, start int) map[int]Entry {
	compacted := make(map[int]Entry, len(positions))
	for index, position := range positions {
		compacted[start+index] = cards[position]
	}
	return compacted
}

func uniqueSorted(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	unique := make([]int, 0, len(values))
	for _, value := range values {
		if _, duplicate := seen[value]; duplicate {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	sort.Ints(unique)
	return unique
}
