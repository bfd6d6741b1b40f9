package cloud

import (
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"gorm.io/datatypes"
)

// BinderRecord stores one binder document in the remote store.
type BinderRecord struct {
	DocumentKey    string         `gorm:"column:document_key;primaryKey;size:400"`
	OwnerID        string         `gorm:"column:owner_id;size:190;not null;index:idx_binder_documents_owner"`
	BinderID       string         `gorm:"column:binder_id;size:190;not null"`
	SchemaVersion  int            `gorm:"column:schema_version;not null"`
	Version        int64          `gorm:"column:version;not null"`
	LastModifiedMs int64          `gorm:"column:last_modified_ms;not null"`
	CreatedAtMs    int64          `gorm:"column:created_at_ms;not null;index:idx_binder_documents_created"`
	IsPublic       bool           `gorm:"column:is_public;not null;default:false"`
	IsArchived     bool           `gorm:"column:is_archived;not null;default:false"`
	Payload        datatypes.JSON `gorm:"column:payload;not null"`
	StoredAtSec    int64          `gorm:"column:stored_at_s;not null"`
}

// TableName binds the model to binder_documents.
func (BinderRecord) TableName() string {
	return "binder_documents"
}

// DocumentKey returns the primary key of a binder in the remote store.
func DocumentKey(ownerID, binderID string) string {
	return ownerID + "_" + binderID
}

func newRecord(doc *binders.Document, storedAtSec int64) (*BinderRecord, error) {
	payload, err := binders.Encode(doc)
	if err != nil {
		return nil, err
	}
	return &BinderRecord{
		DocumentKey:    DocumentKey(doc.OwnerID, doc.ID),
		OwnerID:        doc.OwnerID,
		BinderID:       doc.ID,
		SchemaVersion:  binders.CurrentSchemaVersion,
		Version:        doc.Version,
		LastModifiedMs: doc.LastModified.UnixMilli(),
		CreatedAtMs:    doc.Metadata.CreatedAt.UnixMilli(),
		IsPublic:       doc.Permissions.Public,
		IsArchived:     doc.Metadata.IsArchived,
		Payload:        datatypes.JSON(payload),
		StoredAtSec:    storedAtSec,
	}, nil
}

func (r *BinderRecord) document() (*binders.Document, error) {
	doc, _, err := binders.Decode(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.DocumentKey, err)
	}
	return doc, nil
}

func validateKey(ownerID, binderID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return errMissingOwnerID
	}
	if strings.TrimSpace(binderID) == "" {
		return errMissingBinderID
	}
	return nil
}
