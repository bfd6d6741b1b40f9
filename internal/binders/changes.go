package binders

import (
	"time"

	"go.uber.org/zap"
)

// ChangeType enumerates binder mutation kinds.
type ChangeType string

const (
	ChangeBinderCreated       ChangeType = "binder_created"
	ChangeBinderClaimed       ChangeType = "binder_claimed"
	ChangeCardAdded           ChangeType = "card_added"
	ChangeCardRemoved         ChangeType = "card_removed"
	ChangeCardUpdated         ChangeType = "card_updated"
	ChangeCardMoved           ChangeType = "card_moved"
	ChangeCardMovedOptimistic ChangeType = "card_moved_optimistic"
	ChangeCardMoveReverted    ChangeType = "card_move_reverted"
	ChangeCardsBatchMoved     ChangeType = "cards_batch_moved"
	ChangeCardPagesReordered  ChangeType = "card_pages_reordered"
	ChangeCardsCompacted      ChangeType = "cards_compacted"
	ChangeSettingsUpdated     ChangeType = "settings_updated"
	ChangeMetadataUpdated     ChangeType = "metadata_updated"
	ChangePermissionsUpdated  ChangeType = "permissions_updated"
)

const (
	changelogRetained      = 20
	changelogCompactAbove  = 100
	changelogCompactedSize = 100
	optimisticPairWindow   = 30 * time.Second
)

// changelogSkipList holds pure position-shuffle events. They still reach
// sync.pendingChanges but never the changelog.
var changelogSkipList = map[ChangeType]struct{}{
	ChangeCardMovedOptimistic: {},
	ChangeCardMoveReverted:    {},
}

// SkipsChangelog reports whether records of this type are kept out of the changelog.
func (t ChangeType) SkipsChangelog() bool {
	_, skipped := changelogSkipList[t]
	return skipped
}

// ChangeRecord is one entry of the changelog or the pending change queue.
type ChangeRecord struct {
	ID        string     `json:"id"`
	Timestamp time.Time  `json:"timestamp"`
	Type      ChangeType `json:"type"`
	UserID    string     `json:"userId"`
	Data      ChangeData `json:"data"`
}

// ChangeData carries the type-specific details of a change.
type ChangeData struct {
	InstanceID    string   `json:"instanceId,omitempty"`
	CardID        string   `json:"cardId,omitempty"`
	FromPosition  *int     `json:"fromPosition,omitempty"`
	ToPosition    *int     `json:"toPosition,omitempty"`
	Mode          MoveMode `json:"mode,omitempty"`
	FromCardPage  *int     `json:"fromCardPage,omitempty"`
	ToCardPage    *int     `json:"toCardPage,omitempty"`
	Scope         string   `json:"scope,omitempty"`
	Affected      int      `json:"affected,omitempty"`
	Fields        []string `json:"fields,omitempty"`
	Name          string   `json:"name,omitempty"`
	PreviousOwner string   `json:"previousOwner,omitempty"`
}

func (r ChangeRecord) clone() ChangeRecord {
	r.Data.FromPosition = cloneIntPointer(r.Data.FromPosition)
	r.Data.ToPosition = cloneIntPointer(r.Data.ToPosition)
	r.Data.FromCardPage = cloneIntPointer(r.Data.FromCardPage)
	r.Data.ToCardPage = cloneIntPointer(r.Data.ToCardPage)
	r.Data.Fields = cloneStrings(r.Data.Fields)
	return r
}

func cloneIntPointer(value *int) *int {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func intPointer(value int) *int {
	return &value
}

// Tracker records mutations on binder documents.
type Tracker struct {
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewTracker constructs a Tracker. A nil clock defaults to time.Now.
func NewTracker(clock func() time.Time, idProvider IDProvider, logger *zap.Logger) *Tracker {
	if clock == nil {
		clock = time.Now
	}
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	if logger == nil {
		logger = noOpLogger
	}
	return &Tracker{clock: clock, idProvider: idProvider, logger: logger}
}

// MarkModified bumps the version, stamps the actor, flips the binder to the
// local sync status and records the change. It mutates doc in place; callers
// pass a clone they own.
func (t *Tracker) MarkModified(doc *Document, changeType ChangeType, data ChangeData, actorID string) ChangeRecord {
	now := t.clock().UTC()
	recordID, err := t.idProvider.NewID()
	if err != nil {
		t.logger.Warn("change id generation failed", zap.String("binder_id", doc.ID), zap.Error(err))
		recordID = now.Format(time.RFC3339Nano)
	}

	doc.Version++
	doc.LastModified = now
	doc.LastModifiedBy = actorID
	doc.Sync.Status = SyncStatusLocal

	record := ChangeRecord{
		ID:        recordID,
		Timestamp: now,
		Type:      changeType,
		UserID:    actorID,
		Data:      data,
	}
	if !changeType.SkipsChangelog() {
		doc.Changelog = append(doc.Changelog, record)
		if len(doc.Changelog) > changelogCompactAbove {
			t.CompactChangelog(doc)
		}
		if len(doc.Changelog) > changelogRetained {
			doc.Changelog = append([]ChangeRecord(nil), doc.Changelog[len(doc.Changelog)-changelogRetained:]...)
		}
	}
	doc.Sync.PendingChanges = append(doc.Sync.PendingChanges, record.clone())
	return record
}

// CompactChangelog removes optimistic move records that have a confirming
// card_moved record for the same card within 30 seconds, then keeps the most
// recent 100 entries. It is a no-op while the changelog has at most 100 entries.
func (t *Tracker) CompactChangelog(doc *Document) int {
	if len(doc.Changelog) <= changelogCompactAbove {
		return 0
	}
	before := len(doc.Changelog)

	drop := make(map[int]struct{})
	for finalIndex, final := range doc.Changelog {
		if final.Type != ChangeCardMoved || final.Data.InstanceID == "" {
			continue
		}
		for candidateIndex := finalIndex - 1; candidateIndex >= 0; candidateIndex-- {
			candidate := doc.Changelog[candidateIndex]
			if final.Timestamp.Sub(candidate.Timestamp) > optimisticPairWindow {
				break
			}
			if candidate.Type != ChangeCardMovedOptimistic || candidate.Data.InstanceID != final.Data.InstanceID {
				continue
			}
			if _, paired := drop[candidateIndex]; paired {
				continue
			}
			drop[candidateIndex] = struct{}{}
			break
		}
	}

	kept := make([]ChangeRecord, 0, len(doc.Changelog)-len(drop))
	for index, record := range doc.Changelog {
		if _, dropped := drop[index]; dropped {
			continue
		}
		kept = append(kept, record)
	}
	if len(kept) > changelogCompactedSize {
		kept = kept[len(kept)-changelogCompactedSize:]
	}
	doc.Changelog = kept

	removed := before - len(kept)
	t.logger.Debug("changelog compacted",
		zap.String("binder_id", doc.ID),
		zap.Int("removed", removed),
		zap.Int("optimistic_pairs", len(drop)))
	return removed
}
