package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCacheTTL is the freshness window of the binder list cache.
const DefaultCacheTTL = 5 * time.Minute

var (
	// ErrNotFound indicates that no local binder exists with the requested id.
	ErrNotFound = errors.New("localstore: binder not found")

	errMissingDatabase = errors.New("database handle is required")
	errMissingDocument = errors.New("document is required")
	noOpLogger         = zap.NewNop()
)

// StoreConfig describes the dependencies of a Store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	TTL      time.Duration
	Logger   *zap.Logger
}

// cacheBlob is the persisted shape of the binder list cache.
type cacheBlob struct {
	Data      []json.RawMessage `json:"data"`
	Timestamp int64             `json:"timestamp"`
	IsValid   bool              `json:"isValid"`
	UserID    string            `json:"userId"`
}

type cacheEntry struct {
	data      []*binders.Document
	timestamp time.Time
	isValid   bool
	userID    string
}

// Store holds the local binder snapshot, the selected binder and the TTL
// cache of the binder list. Binder writes go through to the database at once;
// the cache is persisted by Flush.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	ttl    time.Duration
	logger *zap.Logger

	mu        sync.RWMutex
	documents map[string]*binders.Document
	currentID string
	cache     cacheEntry
}

// NewStore validates the configuration and returns an empty store. Call Load
// to read the persisted snapshot.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{
		db:        cfg.Database,
		clock:     clock,
		ttl:       ttl,
		logger:    logger,
		documents: make(map[string]*binders.Document),
	}, nil
}

// Load replaces the in-memory state with the persisted snapshot. Documents
// stored in an older schema are migrated and written back.
func (s *Store) Load(ctx context.Context) error {
	var rows []BinderRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return fmt.Errorf("localstore: load binders: %w", err)
	}
	loaded := make(map[string]*binders.Document, len(rows))
	migrated := make([]*binders.Document, 0)
	for _, row := range rows {
		doc, wasMigrated, err := binders.Decode(row.Payload)
		if err != nil {
			s.logger.Warn("skipping unreadable local binder", zap.String("binder_id", row.BinderID), zap.Error(err))
			continue
		}
		loaded[doc.ID] = doc
		if wasMigrated {
			migrated = append(migrated, doc)
		}
	}

	var states []StateRow
	if err := s.db.WithContext(ctx).Find(&states).Error; err != nil {
		return fmt.Errorf("localstore: load state: %w", err)
	}
	currentID := ""
	cache := cacheEntry{}
	for _, state := range states {
		switch state.Key {
		case stateKeyCurrentBinder:
			if err := json.Unmarshal(state.Value, &currentID); err != nil {
				s.logger.Warn("discarding unreadable current binder", zap.Error(err))
			}
		case stateKeyBinderCache:
			restored, err := decodeCache(state.Value)
			if err != nil {
				s.logger.Warn("discarding unreadable binder cache", zap.Error(err))
				continue
			}
			cache = restored
		}
	}

	s.mu.Lock()
	s.documents = loaded
	s.currentID = currentID
	s.cache = cache
	s.mu.Unlock()

	for _, doc := range migrated {
		if err := s.writeBinder(ctx, doc); err != nil {
			return err
		}
		s.logger.Info("local binder migrated", zap.String("binder_id", doc.ID))
	}
	return nil
}

// Binder returns a copy of the local binder with id.
func (s *Store) Binder(id string) (*binders.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

// Binders returns copies of every local binder, most recently modified first.
func (s *Store) Binders() []*binders.Document {
	s.mu.RLock()
	docs := make([]*binders.Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].LastModified.Equal(docs[j].LastModified) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].LastModified.After(docs[j].LastModified)
	})
	return docs
}

// PutBinder stores doc locally, replacing any previous copy.
func (s *Store) PutBinder(ctx context.Context, doc *binders.Document) error {
	if doc == nil || doc.ID == "" {
		return errMissingDocument
	}
	if err := s.writeBinder(ctx, doc); err != nil {
		return err
	}
	s.mu.Lock()
	s.documents[doc.ID] = doc.Clone()
	s.mu.Unlock()
	return nil
}

// DeleteBinder removes the local copy of a binder. Deleting the selected
// binder clears the selection.
func (s *Store) DeleteBinder(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("binder_id = ?", id).Delete(&BinderRow{}).Error; err != nil {
			return err
		}
		s.mu.RLock()
		selected := s.currentID == id
		s.mu.RUnlock()
		if selected {
			return tx.Where("state_key = ?", stateKeyCurrentBinder).Delete(&StateRow{}).Error
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("localstore: delete binder %s: %w", id, err)
	}
	s.mu.Lock()
	delete(s.documents, id)
	if s.currentID == id {
		s.currentID = ""
	}
	s.mu.Unlock()
	return nil
}

// CurrentBinderID returns the selected binder id, or "" when none is selected.
func (s *Store) CurrentBinderID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// SetCurrent persists the selected binder id.
func (s *Store) SetCurrent(ctx context.Context, id string) error {
	value, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := s.writeState(ctx, stateKeyCurrentBinder, value); err != nil {
		return err
	}
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
	return nil
}

// CachedBinders returns the cached binder list for userID when it is valid
// and younger than the freshness window.
func (s *Store) CachedBinders(userID string) ([]*binders.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cache.isValid || s.cache.userID != userID {
		return nil, false
	}
	if s.clock().Sub(s.cache.timestamp) >= s.ttl {
		return nil, false
	}
	docs := make([]*binders.Document, 0, len(s.cache.data))
	for _, doc := range s.cache.data {
		docs = append(docs, doc.Clone())
	}
	return docs, true
}

// StoreCache replaces the cached binder list for userID.
func (s *Store) StoreCache(userID string, docs []*binders.Document) {
	copies := make([]*binders.Document, 0, len(docs))
	for _, doc := range docs {
		copies = append(copies, doc.Clone())
	}
	s.mu.Lock()
	s.cache = cacheEntry{data: copies, timestamp: s.clock(), isValid: true, userID: userID}
	s.mu.Unlock()
}

// Invalidate marks the cached binder list stale.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cache.isValid = false
	s.mu.Unlock()
}

// Flush persists the cache blob.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	blob := cacheBlob{
		Data:      make([]json.RawMessage, 0, len(s.cache.data)),
		Timestamp: s.cache.timestamp.UnixMilli(),
		IsValid:   s.cache.isValid,
		UserID:    s.cache.userID,
	}
	var encodeErr error
	for _, doc := range s.cache.data {
		payload, err := binders.Encode(doc)
		if err != nil {
			encodeErr = err
			break
		}
		blob.Data = append(blob.Data, payload)
	}
	s.mu.RUnlock()
	if encodeErr != nil {
		return fmt.Errorf("localstore: encode cache: %w", encodeErr)
	}
	value, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("localstore: encode cache: %w", err)
	}
	return s.writeState(ctx, stateKeyBinderCache, value)
}

func (s *Store) writeBinder(ctx context.Context, doc *binders.Document) error {
	payload, err := binders.Encode(doc)
	if err != nil {
		return fmt.Errorf("localstore: encode binder %s: %w", doc.ID, err)
	}
	row := BinderRow{
		BinderID:    doc.ID,
		OwnerID:     doc.OwnerID,
		Payload:     datatypes.JSON(payload),
		UpdatedAtMs: s.clock().UnixMilli(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "binder_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"owner_id", "payload", "updated_at_ms"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("localstore: write binder %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) writeState(ctx context.Context, key string, value []byte) error {
	row := StateRow{Key: key, Value: datatypes.JSON(value), UpdatedAtMs: s.clock().UnixMilli()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "state_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at_ms"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("localstore: write state %s: %w", key, err)
	}
	return nil
}

func decodeCache(raw []byte) (cacheEntry, error) {
	var blob cacheBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return cacheEntry{}, err
	}
	docs := make([]*binders.Document, 0, len(blob.Data))
	for _, payload := range blob.Data {
		doc, _, err := binders.Decode(payload)
		if err != nil {
			return cacheEntry{}, err
		}
		docs = append(docs, doc)
	}
	return cacheEntry{
		data:      docs,
		timestamp: time.UnixMilli(blob.Timestamp),
		isValid:   blob.IsValid,
		userID:    blob.UserID,
	}, nil
}
