package binders

import (
	"sort"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/grid"
)

const (
	// CurrentSchemaVersion is the document shape produced by this package.
	CurrentSchemaVersion = 2
	// UnclaimedOwnerID marks a binder that has not been claimed by any account yet.
	UnclaimedOwnerID = "local-user"
	// MaxPosition is the exclusive upper bound for any slot position.
	MaxPosition = 10000

	defaultMinPages = 1
	defaultMaxPages = 50
)

// SyncStatus describes a binder's relationship to its remote copy.
type SyncStatus string

const (
	SyncStatusLocal    SyncStatus = "local"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusConflict SyncStatus = "conflict"
	SyncStatusError    SyncStatus = "error"
)

// SortMode enumerates binder ordering strategies.
type SortMode string

const (
	SortModeCustom    SortMode = "custom"
	SortModeName      SortMode = "name"
	SortModeNumber    SortMode = "number"
	SortModeRarity    SortMode = "rarity"
	SortModeType      SortMode = "type"
	SortModeDateAdded SortMode = "date_added"
)

// Valid reports whether the sort mode is known.
func (m SortMode) Valid() bool {
	switch m {
	case SortModeCustom, SortModeName, SortModeNumber, SortModeRarity, SortModeType, SortModeDateAdded:
		return true
	}
	return false
}

// Document is a binder: metadata, settings and a sparse position-indexed card map.
type Document struct {
	ID             string         `json:"id"`
	SchemaVersion  int            `json:"schemaVersion"`
	OwnerID        string         `json:"ownerId"`
	Version        int64          `json:"version"`
	LastModified   time.Time      `json:"lastModified"`
	LastModifiedBy string         `json:"lastModifiedBy"`
	Permissions    Permissions    `json:"permissions"`
	Metadata       Metadata       `json:"metadata"`
	Settings       Settings       `json:"settings"`
	Cards          map[int]Entry  `json:"cards"`
	Sync           SyncState      `json:"sync"`
	Changelog      []ChangeRecord `json:"changelog"`
}

// Permissions controls sharing.
type Permissions struct {
	Public        bool     `json:"public"`
	Collaborators []string `json:"collaborators"`
	ShareCode     string   `json:"shareCode,omitempty"`
}

// Metadata carries descriptive binder fields.
type Metadata struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	Tags        []string  `json:"tags"`
	IsArchived  bool      `json:"isArchived"`
}

// Settings carries layout and display configuration.
type Settings struct {
	GridSize       grid.Size `json:"gridSize"`
	PageCount      int       `json:"pageCount"`
	MinPages       int       `json:"minPages"`
	MaxPages       int       `json:"maxPages"`
	PageOrder      []int     `json:"pageOrder"`
	SortMode       SortMode  `json:"sortMode"`
	AutoSort       bool      `json:"autoSort"`
	ShowCardNames  bool      `json:"showCardNames"`
	ShowSetInfo    bool      `json:"showSetInfo"`
	ShowEmptySlots bool      `json:"showEmptySlots"`
}

// SyncState tracks the binder's synchronization bookkeeping.
type SyncState struct {
	Status         SyncStatus     `json:"status"`
	LastSynced     *time.Time     `json:"lastSynced,omitempty"`
	PendingChanges []ChangeRecord `json:"pendingChanges"`
	RetryCount     int            `json:"retryCount"`
	LastError      string         `json:"lastError,omitempty"`
}

// Entry is one physical card instance occupying a position.
type Entry struct {
	InstanceID     string         `json:"instanceId"`
	CardID         string         `json:"cardId"`
	CardData       CardData       `json:"cardData"`
	AddedAt        time.Time      `json:"addedAt"`
	AddedBy        string         `json:"addedBy"`
	Notes          string         `json:"notes"`
	Condition      string         `json:"condition"`
	Quantity       int            `json:"quantity"`
	IsProtected    bool           `json:"isProtected"`
	BinderMetadata BinderMetadata `json:"binderMetadata"`
}

// CardData is the denormalized catalog snapshot stored with every entry.
type CardData struct {
	Name       string   `json:"name"`
	Image      string   `json:"image"`
	ImageSmall string   `json:"imageSmall"`
	Set        CardSet  `json:"set"`
	Number     string   `json:"number"`
	Artist     string   `json:"artist"`
	Rarity     string   `json:"rarity"`
	Types      []string `json:"types"`
}

// CardSet identifies the expansion a card belongs to.
type CardSet struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Series string `json:"series,omitempty"`
}

// BinderMetadata holds per-instance flags.
type BinderMetadata struct {
	ReverseHolo bool   `json:"reverseHolo"`
	Foil        bool   `json:"foil,omitempty"`
	Language    string `json:"language,omitempty"`
}

// Positions returns the occupied positions in ascending numeric order.
func (d *Document) Positions() []int {
	positions := make([]int, 0, len(d.Cards))
	for position := range d.Cards {
		positions = append(positions, position)
	}
	sort.Ints(positions)
	return positions
}

// MaxOccupiedPosition returns the highest occupied position or -1 when empty.
func (d *Document) MaxOccupiedPosition() int {
	highest := -1
	for position := range d.Cards {
		if position > highest {
			highest = position
		}
	}
	return highest
}

// CardsPerPage returns the slot count of one card-page under the current grid.
func (d *Document) CardsPerPage() int {
	return grid.CardsPerPage(d.Settings.GridSize)
}

// RequiredPages returns the binder pages needed by the occupied positions,
// clamped to the configured page bounds.
func (d *Document) RequiredPages() int {
	return grid.RequiredPageCount(d.MaxOccupiedPosition(), d.Settings.GridSize, d.Settings.MinPages, d.Settings.MaxPages)
}

// VisibleTo reports whether userID may see the binder in a session.
func (d *Document) VisibleTo(userID string) bool {
	if d == nil {
		return false
	}
	return d.OwnerID == UnclaimedOwnerID || (userID != "" && d.OwnerID == userID)
}

// EverSynced reports whether the binder has been pushed to the remote store at least once.
func (d *Document) EverSynced() bool {
	return d.Sync.LastSynced != nil
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Permissions.Collaborators = cloneStrings(d.Permissions.Collaborators)
	clone.Metadata.Tags = cloneStrings(d.Metadata.Tags)
	clone.Settings.PageOrder = cloneInts(d.Settings.PageOrder)
	clone.Cards = make(map[int]Entry, len(d.Cards))
	for position, entry := range d.Cards {
		clone.Cards[position] = entry.clone()
	}
	if d.Sync.LastSynced != nil {
		lastSynced := *d.Sync.LastSynced
		clone.Sync.LastSynced = &lastSynced
	}
	clone.Sync.PendingChanges = cloneRecords(d.Sync.PendingChanges)
	clone.Changelog = cloneRecords(d.Changelog)
	return &clone
}

func (e Entry) clone() Entry {
	e.CardData.Types = cloneStrings(e.CardData.Types)
	return e
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

func cloneInts(values []int) []int {
	if values == nil {
		return nil
	}
	return append([]int(nil), values...)
}

func cloneRecords(records []ChangeRecord) []ChangeRecord {
	if records == nil {
		return nil
	}
	cloned := make([]ChangeRecord, len(records))
	for index, record := range records {
		cloned[index] = record.clone()
	}
	return cloned
}

func defaultSettings() Settings {
	return Settings{
		GridSize:       grid.DefaultSize,
		PageCount:      defaultMinPages,
		MinPages:       defaultMinPages,
		MaxPages:       defaultMaxPages,
		PageOrder:      []int{},
		SortMode:       SortModeCustom,
		AutoSort:       false,
		ShowCardNames:  true,
		ShowSetInfo:    true,
		ShowEmptySlots: true,
	}
}
