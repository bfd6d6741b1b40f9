package binders

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/grid"
	"go.uber.org/zap"
)

const maxNameLength = 100

// ErrAlreadyClaimed indicates that a binder already belongs to another account.
var ErrAlreadyClaimed = errors.New("binders: binder already claimed")

// Limits are ceilings supplied by the rules collaborator. Zero means unlimited.
type Limits struct {
	MaxCards int
	MaxPages int
}

// EditorConfig describes the dependencies of an Editor.
type EditorConfig struct {
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Limits     Limits
}

// Editor applies mutations to binder documents. Every operation works on a
// clone and returns the new document; the input is never modified.
type Editor struct {
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	limits     Limits
	tracker    *Tracker
}

// NewEditor constructs an Editor with defaults for missing dependencies.
func NewEditor(cfg EditorConfig) *Editor {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Editor{
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		limits:     cfg.Limits,
		tracker:    NewTracker(clock, idProvider, logger),
	}
}

// Tracker exposes the change tracker used by the editor.
func (e *Editor) Tracker() *Tracker {
	return e.tracker
}

// Create builds a new binder at version 1 with default settings.
func (e *Editor) Create(name, description, ownerID string) (*Document, error) {
	trimmedName, err := validateName(name)
	if err != nil {
		return nil, err
	}
	binderID, err := e.idProvider.NewID()
	if err != nil {
		return nil, fmt.Errorf("binders: generate binder id: %w", err)
	}
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		owner = UnclaimedOwnerID
	}

	now := e.clock().UTC()
	doc := &Document{
		ID:             binderID,
		SchemaVersion:  CurrentSchemaVersion,
		OwnerID:        owner,
		Version:        0,
		LastModified:   now,
		LastModifiedBy: owner,
		Permissions:    Permissions{Public: false, Collaborators: []string{}},
		Metadata: Metadata{
			Name:        trimmedName,
			Description: strings.TrimSpace(description),
			CreatedAt:   now,
			Tags:        []string{},
		},
		Settings:  defaultSettings(),
		Cards:     map[int]Entry{},
		Sync:      SyncState{Status: SyncStatusLocal, PendingChanges: []ChangeRecord{}},
		Changelog: []ChangeRecord{},
	}
	e.tracker.MarkModified(doc, ChangeBinderCreated, ChangeData{Name: trimmedName}, owner)
	e.logger.Debug("binder created", zap.String("binder_id", doc.ID), zap.String("owner_id", owner))
	return doc, nil
}

// SettingsPatch lists the settings to change; nil fields are left untouched.
type SettingsPatch struct {
	GridSize       *grid.Size
	PageCount      *int
	MinPages       *int
	MaxPages       *int
	PageOrder      []int
	SortMode       *SortMode
	AutoSort       *bool
	ShowCardNames  *bool
	ShowSetInfo    *bool
	ShowEmptySlots *bool
}

// UpdateSettings applies patch. A grid size change recomputes the page count
// from the occupied positions rather than the previous page count.
func (e *Editor) UpdateSettings(doc *Document, patch SettingsPatch, actorID string) (*Document, error) {
	next := doc.Settings
	next.PageOrder = cloneInts(doc.Settings.PageOrder)
	fields := make([]string, 0, 4)
	recompute := false

	if patch.GridSize != nil && *patch.GridSize != next.GridSize {
		if !patch.GridSize.Valid() {
			return nil, newValidationError("gridSize", fmt.Sprintf("unsupported size %q", *patch.GridSize))
		}
		next.GridSize = *patch.GridSize
		fields = append(fields, "gridSize")
		recompute = true
	}
	if patch.MinPages != nil {
		next.MinPages = *patch.MinPages
		fields = append(fields, "minPages")
		recompute = true
	}
	if patch.MaxPages != nil {
		next.MaxPages = *patch.MaxPages
		fields = append(fields, "maxPages")
		recompute = true
	}
	if next.MinPages < 1 {
		return nil, newValidationError("minPages", "must be at least 1")
	}
	if next.MaxPages < next.MinPages {
		return nil, newValidationError("maxPages", "must not be below minPages")
	}
	if patch.SortMode != nil {
		if !patch.SortMode.Valid() {
			return nil, newValidationError("sortMode", fmt.Sprintf("unsupported mode %q", *patch.SortMode))
		}
		next.SortMode = *patch.SortMode
		fields = append(fields, "sortMode")
	}
	if patch.PageOrder != nil {
		next.PageOrder = cloneInts(patch.PageOrder)
		fields = append(fields, "pageOrder")
	}
	applyBool(&next.AutoSort, patch.AutoSort, "autoSort", &fields)
	applyBool(&next.ShowCardNames, patch.ShowCardNames, "showCardNames", &fields)
	applyBool(&next.ShowSetInfo, patch.ShowSetInfo, "showSetInfo", &fields)
	applyBool(&next.ShowEmptySlots, patch.ShowEmptySlots, "showEmptySlots", &fields)

	maxPages := e.effectiveMaxPages(next)
	required := grid.RequiredBinderPages(grid.RequiredCardPages(doc.MaxOccupiedPosition(), grid.CardsPerPage(next.GridSize)))
	if required > maxPages {
		return nil, &LimitExceededError{Limit: "pages", Maximum: maxPages, Requested: required}
	}
	if recompute {
		next.PageCount = grid.Clamp(required, next.MinPages, maxPages)
	}
	if patch.PageCount != nil {
		requested := *patch.PageCount
		if requested > maxPages {
			return nil, &LimitExceededError{Limit: "pages", Maximum: maxPages, Requested: requested}
		}
		if requested < required {
			requested = required
		}
		next.PageCount = grid.Clamp(requested, next.MinPages, maxPages)
		fields = append(fields, "pageCount")
	}

	if len(fields) == 0 {
		return doc, nil
	}

	updated := doc.Clone()
	updated.Settings = next
	e.tracker.MarkModified(updated, ChangeSettingsUpdated, ChangeData{Fields: fields}, actorID)
	return updated, nil
}

// MetadataPatch lists the metadata fields to change.
type MetadataPatch struct {
	Name        *string
	Description *string
	Tags        []string
	IsArchived  *bool
}

// UpdateMetadata applies patch to the binder metadata.
func (e *Editor) UpdateMetadata(doc *Document, patch MetadataPatch, actorID string) (*Document, error) {
	next := doc.Metadata
	next.Tags = cloneStrings(doc.Metadata.Tags)
	fields := make([]string, 0, 2)
	if patch.Name != nil {
		name, err := validateName(*patch.Name)
		if err != nil {
			return nil, err
		}
		next.Name = name
		fields = append(fields, "name")
	}
	if patch.Description != nil {
		next.Description = strings.TrimSpace(*patch.Description)
		fields = append(fields, "description")
	}
	if patch.Tags != nil {
		next.Tags = normalizeTags(patch.Tags)
		fields = append(fields, "tags")
	}
	applyBool(&next.IsArchived, patch.IsArchived, "isArchived", &fields)
	if len(fields) == 0 {
		return doc, nil
	}

	updated := doc.Clone()
	updated.Metadata = next
	e.tracker.MarkModified(updated, ChangeMetadataUpdated, ChangeData{Fields: fields, Name: next.Name}, actorID)
	return updated, nil
}

// PermissionsPatch lists the sharing fields to change.
type PermissionsPatch struct {
	Public              *bool
	Collaborators       []string
	RegenerateShareCode bool
}

// UpdatePermissions changes sharing settings. Publishing a binder without a
// share code issues one.
func (e *Editor) UpdatePermissions(doc *Document, patch PermissionsPatch, actorID string) (*Document, error) {
	next := doc.Permissions
	next.Collaborators = cloneStrings(doc.Permissions.Collaborators)
	fields := make([]string, 0, 2)
	applyBool(&next.Public, patch.Public, "public", &fields)
	if patch.Collaborators != nil {
		next.Collaborators = normalizeTags(patch.Collaborators)
		fields = append(fields, "collaborators")
	}
	if patch.RegenerateShareCode || (next.Public && next.ShareCode == "") {
		code, err := e.newShareCode()
		if err != nil {
			return nil, err
		}
		next.ShareCode = code
		fields = append(fields, "shareCode")
	}
	if len(fields) == 0 {
		return doc, nil
	}

	updated := doc.Clone()
	updated.Permissions = next
	e.tracker.MarkModified(updated, ChangePermissionsUpdated, ChangeData{Fields: fields}, actorID)
	return updated, nil
}

// Claim transfers an unclaimed binder to userID. It does not push anything.
func (e *Editor) Claim(doc *Document, userID string) (*Document, error) {
	owner := strings.TrimSpace(userID)
	if owner == "" || owner == UnclaimedOwnerID {
		return nil, newValidationError("userId", "a signed-in user is required")
	}
	if doc.OwnerID == owner {
		return doc, nil
	}
	if doc.OwnerID != UnclaimedOwnerID {
		return nil, ErrAlreadyClaimed
	}
	updated := doc.Clone()
	updated.OwnerID = owner
	e.tracker.MarkModified(updated, ChangeBinderClaimed, ChangeData{PreviousOwner: doc.OwnerID}, owner)
	return updated, nil
}

func (e *Editor) newShareCode() (string, error) {
	raw, err := e.idProvider.NewID()
	if err != nil {
		return "", fmt.Errorf("binders: generate share code: %w", err)
	}
	code := strings.ReplaceAll(raw, "-", "")
	if len(code) > 12 {
		code = code[len(code)-12:]
	}
	return code, nil
}

// effectiveMaxPages combines the binder's own ceiling with the rules ceiling.
func (e *Editor) effectiveMaxPages(settings Settings) int {
	maxPages := settings.MaxPages
	if e.limits.MaxPages > 0 && (maxPages <= 0 || e.limits.MaxPages < maxPages) {
		maxPages = e.limits.MaxPages
	}
	return maxPages
}

// fitPageCount grows the page count so the occupied positions fit, or
// reports a page limit violation. The page count never shrinks here.
func (e *Editor) fitPageCount(doc *Document) error {
	maxPages := e.effectiveMaxPages(doc.Settings)
	required := grid.RequiredBinderPages(grid.RequiredCardPages(doc.MaxOccupiedPosition(), doc.CardsPerPage()))
	if maxPages > 0 && required > maxPages {
		return &LimitExceededError{Limit: "pages", Maximum: maxPages, Requested: required}
	}
	pageCount := doc.Settings.PageCount
	if pageCount < required {
		pageCount = required
	}
	doc.Settings.PageCount = grid.Clamp(pageCount, doc.Settings.MinPages, maxPages)
	return nil
}

func validateName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", newValidationError("name", "empty")
	}
	if len(name) > maxNameLength {
		return "", newValidationError("name", fmt.Sprintf("exceeds %d characters", maxNameLength))
	}
	return name, nil
}

func normalizeTags(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	normalized := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, duplicate := seen[trimmed]; duplicate {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	sort.Strings(normalized)
	return normalized
}

func applyBool(target *bool, value *bool, field string, fields *[]string) {
	if value == nil || *value == *target {
		return
	}
	*target = *value
	*fields = append(*fields, field)
}
