package binders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/grid"
)

// Schema versions understood by Decode.
//
//	0: no schemaVersion field, cards stored as an array indexed by position
//	1: no schemaVersion field, cards stored as a position-string map
//	2: current shape
const (
	schemaLegacyArray = 0
	schemaLegacyMap   = 1
)

type schemaProbe struct {
	SchemaVersion int             `json:"schemaVersion"`
	Cards         json.RawMessage `json:"cards"`
}

// legacyDocument shadows Cards so the legacy card layout can be parsed separately.
type legacyDocument struct {
	Document
	Cards json.RawMessage `json:"cards"`
}

type legacyArrayEntry struct {
	Entry
	Position *int `json:"position"`
}

// Decode parses a serialized binder, migrating older schema versions to the
// current shape. The second return value reports whether a migration ran.
func Decode(raw []byte) (*Document, bool, error) {
	var probe schemaProbe
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if probe.SchemaVersion > CurrentSchemaVersion {
		return nil, false, fmt.Errorf("%w: unsupported schema version %d", ErrInvalidDocument, probe.SchemaVersion)
	}

	var legacy legacyDocument
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	if probe.SchemaVersion == CurrentSchemaVersion {
		doc := legacy.Document
		cards, err := parseCurrentCards(legacy.Cards)
		if err != nil {
			return nil, false, err
		}
		doc.Cards = cards
		if err := normalize(&doc, false); err != nil {
			return nil, false, err
		}
		return &doc, false, nil
	}

	schema := detectLegacySchema(legacy.Cards)
	doc := legacy.Document
	var cards map[int]Entry
	var err error
	switch schema {
	case schemaLegacyArray:
		cards, err = migrateArrayCards(legacy.Cards)
	default:
		cards, err = migrateMapCards(legacy.Cards)
	}
	if err != nil {
		return nil, false, err
	}
	doc.Cards = cards
	doc.SchemaVersion = CurrentSchemaVersion
	if err := normalize(&doc, true); err != nil {
		return nil, false, err
	}
	return &doc, true, nil
}

// Encode serializes doc in the current schema.
func Encode(doc *Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nil document", ErrInvalidDocument)
	}
	if doc.SchemaVersion == 0 {
		clone := doc.Clone()
		clone.SchemaVersion = CurrentSchemaVersion
		return json.Marshal(clone)
	}
	return json.Marshal(doc)
}

func detectLegacySchema(cards json.RawMessage) int {
	trimmed := bytes.TrimSpace(cards)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return schemaLegacyArray
	}
	return schemaLegacyMap
}

func migrateArrayCards(raw json.RawMessage) (map[int]Entry, error) {
	var items []*legacyArrayEntry
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: legacy card array: %v", ErrInvalidDocument, err)
	}
	cards := make(map[int]Entry, len(items))
	overflow := make([]Entry, 0)
	for index, item := range items {
		if item == nil || item.CardID == "" {
			continue
		}
		position := index
		if item.Position != nil {
			position = *item.Position
		}
		if _, taken := cards[position]; taken || position < 0 || position >= MaxPosition {
			overflow = append(overflow, item.Entry)
			continue
		}
		cards[position] = item.Entry
	}
	appendAfterHighest(cards, overflow)
	return cards, nil
}

// parseCurrentCards reads a current-schema card map. Keys must be canonical
// decimal positions inside [0, MaxPosition).
func parseCurrentCards(raw json.RawMessage) (map[int]Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[int]Entry{}, nil
	}
	var keyed map[string]Entry
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return nil, fmt.Errorf("%w: cards: %v", ErrInvalidDocument, err)
	}
	cards := make(map[int]Entry, len(keyed))
	for key, entry := range keyed {
		position, err := strconv.Atoi(key)
		if err != nil || strconv.Itoa(position) != key {
			return nil, fmt.Errorf("%w: card position %q", ErrInvalidDocument, key)
		}
		if position < 0 || position >= MaxPosition {
			return nil, fmt.Errorf("%w: card position %d out of range", ErrInvalidDocument, position)
		}
		cards[position] = entry
	}
	return cards, nil
}

func migrateMapCards(raw json.RawMessage) (map[int]Entry, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[int]Entry{}, nil
	}
	var keyed map[string]Entry
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return nil, fmt.Errorf("%w: legacy card map: %v", ErrInvalidDocument, err)
	}
	cards := make(map[int]Entry, len(keyed))
	overflow := make([]Entry, 0)
	for _, key := range sortedLegacyKeys(keyed) {
		entry := keyed[key]
		position, err := strconv.Atoi(key)
		if err != nil || position < 0 || position >= MaxPosition {
			overflow = append(overflow, entry)
			continue
		}
		if _, taken := cards[position]; taken {
			overflow = append(overflow, entry)
			continue
		}
		cards[position] = entry
	}
	appendAfterHighest(cards, overflow)
	return cards, nil
}

// sortedLegacyKeys orders numeric keys by value, then by spelling, with
// non-numeric keys last in lexical order.
func sortedLegacyKeys(keyed map[string]Entry) []string {
	keys := make([]string, 0, len(keyed))
	for key := range keyed {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		left, leftErr := strconv.Atoi(keys[i])
		right, rightErr := strconv.Atoi(keys[j])
		switch {
		case leftErr == nil && rightErr == nil && left != right:
			return left < right
		case leftErr == nil && rightErr != nil:
			return true
		case leftErr != nil && rightErr == nil:
			return false
		}
		return keys[i] < keys[j]
	})
	return keys
}

// appendAfterHighest places entries that lost their position after the last
// occupied slot, in the order given.
func appendAfterHighest(cards map[int]Entry, entries []Entry) {
	next := -1
	for position := range cards {
		if position > next {
			next = position
		}
	}
	for _, entry := range entries {
		next++
		cards[next] = entry
	}
}

// normalize fills defaults for fields older writers left out. When migrated
// is set the page count is recomputed from the occupied positions and
// maxPages grows to hold every migrated card. A current-schema document
// whose cards need more than its maxPages is rejected.
func normalize(doc *Document, migrated bool) error {
	if doc.OwnerID == "" {
		doc.OwnerID = UnclaimedOwnerID
	}
	if doc.Version < 1 {
		doc.Version = 1
	}
	if doc.Cards == nil {
		doc.Cards = map[int]Entry{}
	}
	if doc.Permissions.Collaborators == nil {
		doc.Permissions.Collaborators = []string{}
	}
	if doc.Metadata.Tags == nil {
		doc.Metadata.Tags = []string{}
	}

	settings := &doc.Settings
	if !settings.GridSize.Valid() {
		settings.GridSize = grid.DefaultSize
	}
	if settings.MinPages < 1 {
		settings.MinPages = defaultMinPages
	}
	if settings.MaxPages < settings.MinPages {
		settings.MaxPages = max(defaultMaxPages, settings.MinPages)
	}
	if !settings.SortMode.Valid() {
		settings.SortMode = SortModeCustom
	}
	if settings.PageOrder == nil {
		settings.PageOrder = []int{}
	}
	required := grid.RequiredBinderPages(grid.RequiredCardPages(doc.MaxOccupiedPosition(), grid.CardsPerPage(settings.GridSize)))
	if required > settings.MaxPages {
		if !migrated {
			return fmt.Errorf("%w: cards need %d pages, maxPages is %d", ErrInvalidDocument, required, settings.MaxPages)
		}
		settings.MaxPages = required
	}
	if migrated || settings.PageCount < required {
		settings.PageCount = grid.Clamp(required, settings.MinPages, settings.MaxPages)
	}
	settings.PageCount = grid.Clamp(settings.PageCount, settings.MinPages, settings.MaxPages)

	if doc.Sync.Status == "" {
		doc.Sync.Status = SyncStatusLocal
	}
	if doc.Sync.PendingChanges == nil {
		doc.Sync.PendingChanges = []ChangeRecord{}
	}
	if doc.Changelog == nil {
		doc.Changelog = []ChangeRecord{}
	}
	if len(doc.Changelog) > changelogCompactAbove {
		NewTracker(nil, nil, nil).CompactChangelog(doc)
	}
	return nil
}
