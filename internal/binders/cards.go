package binders

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/grid"
)

// CatalogCard is the full card object supplied by the card catalog.
type CatalogCard struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Image      string   `json:"image"`
	ImageSmall string   `json:"imageSmall"`
	Set        CardSet  `json:"set"`
	Number     string   `json:"number"`
	Artist     string   `json:"artist"`
	Rarity     string   `json:"rarity"`
	Types      []string `json:"types"`
}

// CardInput describes a card to place into a binder.
type CardInput struct {
	Card        CatalogCard
	Notes       string
	Condition   string
	Quantity    int
	ReverseHolo bool
}

// AddCard places a card at position, or at the first empty slot when position
// is nil. Card and page ceilings are checked before any state changes.
func (e *Editor) AddCard(doc *Document, input CardInput, position *int, actorID string) (*Document, int, error) {
	if strings.TrimSpace(input.Card.ID) == "" {
		return nil, 0, newValidationError("cardId", "empty")
	}
	if e.limits.MaxCards > 0 && len(doc.Cards) >= e.limits.MaxCards {
		return nil, 0, &LimitExceededError{Limit: "cards", Maximum: e.limits.MaxCards, Requested: len(doc.Cards) + 1}
	}

	target := firstEmptyPosition(doc)
	if position != nil {
		target = *position
		if target < 0 || target >= MaxPosition {
			return nil, 0, newValidationError("position", fmt.Sprintf("position %d out of range", target))
		}
		if _, occupied := doc.Cards[target]; occupied {
			return nil, 0, newValidationError("position", fmt.Sprintf("position %d is occupied", target))
		}
	}

	maxPages := e.effectiveMaxPages(doc.Settings)
	required := grid.RequiredBinderPages(grid.RequiredCardPages(target, doc.CardsPerPage()))
	if maxPages > 0 && required > maxPages {
		return nil, 0, &LimitExceededError{Limit: "pages", Maximum: maxPages, Requested: required}
	}

	instanceID, err := e.idProvider.NewID()
	if err != nil {
		return nil, 0, fmt.Errorf("binders: generate instance id: %w", err)
	}
	quantity := input.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	entry := Entry{
		InstanceID: instanceID,
		CardID:     input.Card.ID,
		CardData: CardData{
			Name:       input.Card.Name,
			Image:      input.Card.Image,
			ImageSmall: input.Card.ImageSmall,
			Set:        input.Card.Set,
			Number:     input.Card.Number,
			Artist:     input.Card.Artist,
			Rarity:     input.Card.Rarity,
			Types:      cloneStrings(input.Card.Types),
		},
		AddedAt:        e.clock().UTC(),
		AddedBy:        actorID,
		Notes:          strings.TrimSpace(input.Notes),
		Condition:      strings.TrimSpace(input.Condition),
		Quantity:       quantity,
		BinderMetadata: BinderMetadata{ReverseHolo: input.ReverseHolo},
	}

	updated := doc.Clone()
	updated.Cards[target] = entry
	if err := e.fitPageCount(updated); err != nil {
		return nil, 0, err
	}
	e.tracker.MarkModified(updated, ChangeCardAdded, ChangeData{
		InstanceID: instanceID,
		CardID:     entry.CardID,
		ToPosition: intPointer(target),
		Name:       entry.CardData.Name,
	}, actorID)
	return updated, target, nil
}

// RemoveCard empties position. Protected cards cannot be removed.
func (e *Editor) RemoveCard(doc *Document, position int, actorID string) (*Document, error) {
	entry, occupied := doc.Cards[position]
	if !occupied {
		return nil, newValidationError("position", fmt.Sprintf("no card at position %d", position))
	}
	if entry.IsProtected {
		return nil, newValidationError("position", fmt.Sprintf("card at position %d is protected", position))
	}
	updated := doc.Clone()
	delete(updated.Cards, position)
	e.tracker.MarkModified(updated, ChangeCardRemoved, ChangeData{
		InstanceID:   entry.InstanceID,
		CardID:       entry.CardID,
		FromPosition: intPointer(position),
	}, actorID)
	return updated, nil
}

// CardPatch lists the per-instance fields to change.
type CardPatch struct {
	Notes       *string
	Condition   *string
	Quantity    *int
	IsProtected *bool
	ReverseHolo *bool
}

// UpdateCard edits the entry at position.
func (e *Editor) UpdateCard(doc *Document, position int, patch CardPatch, actorID string) (*Document, error) {
	entry, occupied := doc.Cards[position]
	if !occupied {
		return nil, newValidationError("position", fmt.Sprintf("no card at position %d", position))
	}
	entry = entry.clone()
	fields := make([]string, 0, 2)
	if patch.Notes != nil {
		entry.Notes = strings.TrimSpace(*patch.Notes)
		fields = append(fields, "notes")
	}
	if patch.Condition != nil {
		entry.Condition = strings.TrimSpace(*patch.Condition)
		fields = append(fields, "condition")
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 1 {
			return nil, newValidationError("quantity", "must be at least 1")
		}
		entry.Quantity = *patch.Quantity
		fields = append(fields, "quantity")
	}
	applyBool(&entry.IsProtected, patch.IsProtected, "isProtected", &fields)
	applyBool(&entry.BinderMetadata.ReverseHolo, patch.ReverseHolo, "reverseHolo", &fields)
	if len(fields) == 0 {
		return doc, nil
	}

	updated := doc.Clone()
	updated.Cards[position] = entry
	e.tracker.MarkModified(updated, ChangeCardUpdated, ChangeData{
		InstanceID: entry.InstanceID,
		CardID:     entry.CardID,
		ToPosition: intPointer(position),
		Fields:     fields,
	}, actorID)
	return updated, nil
}

func firstEmptyPosition(doc *Document) int {
	for position := 0; ; position++ {
		if _, occupied := doc.Cards[position]; !occupied {
			return position
		}
	}
}
