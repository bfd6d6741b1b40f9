package binders

import "time"

// MoveToken identifies a provisional move issued by BeginMove.
type MoveToken struct {
	ID            string
	BinderID      string
	Request       MoveRequest
	InstanceID    string
	CardID        string
	IssuedVersion int64
	IssuedAt      time.Time

	priorSlots     map[int]Entry
	touched        []int
	priorPageCount int
}

// BeginMove applies a move provisionally so the caller can render it at once.
// The provisional change reaches sync.pendingChanges but not the changelog.
// The returned token must be passed to CommitMove or AbortMove.
func (e *Editor) BeginMove(doc *Document, from, to int, mode MoveMode, actorID string) (*Document, MoveToken, error) {
	if err := validateMove(doc, from, to); err != nil {
		return nil, MoveToken{}, err
	}
	if mode == "" {
		mode = MoveModeSwap
	}
	tokenID, err := e.idProvider.NewID()
	if err != nil {
		return nil, MoveToken{}, err
	}

	low, high := from, to
	if low > high {
		low, high = high, low
	}
	touched := []int{from, to}
	if mode == MoveModeShift {
		touched = touched[:0]
		for position := low; position <= high; position++ {
			touched = append(touched, position)
		}
	}
	prior := make(map[int]Entry, len(touched))
	for _, position := range touched {
		if entry, occupied := doc.Cards[position]; occupied {
			prior[position] = entry.clone()
		}
	}

	request := MoveRequest{From: from, To: to, Mode: mode, Optimistic: true}
	provisional, err := e.Move(doc, request, actorID)
	if err != nil {
		return nil, MoveToken{}, err
	}
	moved := doc.Cards[from]
	token := MoveToken{
		ID:             tokenID,
		BinderID:       doc.ID,
		Request:        request,
		InstanceID:     moved.InstanceID,
		CardID:         moved.CardID,
		IssuedVersion:  provisional.Version,
		IssuedAt:       e.clock().UTC(),
		priorSlots:     prior,
		touched:        touched,
		priorPageCount: doc.Settings.PageCount,
	}
	return provisional, token, nil
}

// CommitMove confirms a provisional move and records the final card_moved change.
func (e *Editor) CommitMove(doc *Document, token MoveToken, actorID string) (*Document, error) {
	if err := checkToken(doc, token); err != nil {
		return nil, err
	}
	updated := doc.Clone()
	request := token.Request
	e.tracker.MarkModified(updated, ChangeCardMoved, ChangeData{
		InstanceID:   token.InstanceID,
		CardID:       token.CardID,
		FromPosition: intPointer(request.From),
		ToPosition:   intPointer(request.To),
		Mode:         request.Mode,
	}, actorID)
	return updated, nil
}

// AbortMove restores the slots touched by a provisional move.
func (e *Editor) AbortMove(doc *Document, token MoveToken, actorID string) (*Document, error) {
	if err := checkToken(doc, token); err != nil {
		return nil, err
	}
	updated := doc.Clone()
	for _, position := range token.touched {
		delete(updated.Cards, position)
	}
	for position, entry := range token.priorSlots {
		updated.Cards[position] = entry.clone()
	}
	updated.Settings.PageCount = token.priorPageCount
	request := token.Request
	e.tracker.MarkModified(updated, ChangeCardMoveReverted, ChangeData{
		InstanceID:   token.InstanceID,
		CardID:       token.CardID,
		FromPosition: intPointer(request.To),
		ToPosition:   intPointer(request.From),
		Mode:         request.Mode,
	}, actorID)
	return updated, nil
}

func checkToken(doc *Document, token MoveToken) error {
	if token.ID == "" {
		return newValidationError("moveToken", "empty token")
	}
	if token.BinderID != doc.ID {
		return newValidationError("moveToken", "token belongs to another binder")
	}
	if doc.Version != token.IssuedVersion {
		return newValidationError("moveToken", "binder changed since the move began")
	}
	return nil
}
