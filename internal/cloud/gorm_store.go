package cloud

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var noOpLogger = zap.NewNop()

// GormStoreConfig describes the dependencies of a GormStore.
type GormStoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// GormStore keeps binder documents in a relational table, one row per
// owner and binder.
type GormStore struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewGormStore validates the configuration and returns a store.
func NewGormStore(cfg GormStoreConfig) (*GormStore, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &GormStore{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Get returns the document stored for ownerID and binderID.
func (s *GormStore) Get(ctx context.Context, ownerID, binderID string) (*binders.Document, error) {
	if err := validateKey(ownerID, binderID); err != nil {
		return nil, newStoreError(opGet, "invalid_key", err)
	}
	var record BinderRecord
	err := s.db.WithContext(ctx).
		Where("document_key = ?", DocumentKey(ownerID, binderID)).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("owner_id", ownerID), zap.String("binder_id", binderID))
		return nil, newStoreError(opGet, "query_failed", err)
	}
	doc, err := record.document()
	if err != nil {
		s.logError(opGet, "decode_failed", err, zap.String("owner_id", ownerID), zap.String("binder_id", binderID))
		return nil, newStoreError(opGet, "decode_failed", err)
	}
	return doc, nil
}

// Put replaces the stored document with doc.
func (s *GormStore) Put(ctx context.Context, doc *binders.Document) error {
	if doc == nil {
		return newStoreError(opPut, "invalid_document", errMissingDocument)
	}
	if err := validateKey(doc.OwnerID, doc.ID); err != nil {
		return newStoreError(opPut, "invalid_key", err)
	}
	record, err := newRecord(doc, s.clock().UTC().Unix())
	if err != nil {
		s.logError(opPut, "encode_failed", err, zap.String("binder_id", doc.ID))
		return newStoreError(opPut, "encode_failed", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing BinderRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("document_key = ?", record.DocumentKey).
			Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(record).Error; err != nil {
				s.logError(opPut, "insert_failed", err, zap.String("binder_id", doc.ID))
				return newStoreError(opPut, "insert_failed", err)
			}
		case err != nil:
			s.logError(opPut, "select_failed", err, zap.String("binder_id", doc.ID))
			return newStoreError(opPut, "select_failed", err)
		default:
			if err := tx.Save(record).Error; err != nil {
				s.logError(opPut, "update_failed", err, zap.String("binder_id", doc.ID))
				return newStoreError(opPut, "update_failed", err)
			}
		}
		s.logger.Debug("binder stored",
			zap.String("owner_id", record.OwnerID),
			zap.String("binder_id", record.BinderID),
			zap.Int64("version", record.Version))
		return nil
	})
}

// Delete removes the stored document. Deleting a missing document reports ErrNotFound.
func (s *GormStore) Delete(ctx context.Context, ownerID, binderID string) error {
	if err := validateKey(ownerID, binderID); err != nil {
		return newStoreError(opDelete, "invalid_key", err)
	}
	result := s.db.WithContext(ctx).
		Where("document_key = ?", DocumentKey(ownerID, binderID)).
		Delete(&BinderRecord{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error, zap.String("owner_id", ownerID), zap.String("binder_id", binderID))
		return newStoreError(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByOwner returns every document owned by ownerID, newest first.
func (s *GormStore) ListByOwner(ctx context.Context, ownerID string) ([]*binders.Document, error) {
	if ownerID == "" {
		return nil, newStoreError(opListByOwner, "invalid_key", errMissingOwnerID)
	}
	return s.list(ctx, opListByOwner, s.db.Where("owner_id = ?", ownerID))
}

// ListPublic returns the public, non-archived documents of ownerID, newest first.
func (s *GormStore) ListPublic(ctx context.Context, ownerID string) ([]*binders.Document, error) {
	if ownerID == "" {
		return nil, newStoreError(opListPublic, "invalid_key", errMissingOwnerID)
	}
	return s.list(ctx, opListPublic, s.db.Where("owner_id = ? AND is_public = ? AND is_archived = ?", ownerID, true, false))
}

func (s *GormStore) list(ctx context.Context, operation string, scope *gorm.DB) ([]*binders.Document, error) {
	var records []BinderRecord
	if err := scope.WithContext(ctx).Order("created_at_ms DESC").Find(&records).Error; err != nil {
		s.logError(operation, "query_failed", err)
		return nil, newStoreError(operation, "query_failed", err)
	}
	docs := make([]*binders.Document, 0, len(records))
	for index := range records {
		doc, err := records[index].document()
		if err != nil {
			s.logError(operation, "decode_failed", err, zap.String("document_key", records[index].DocumentKey))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *GormStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("cloud store error", attrs...)
}
