package cloud

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func newTestGormStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:cloud_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&BinderRecord{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewGormStore(GormStoreConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000600, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	return store, db
}

func testDocument(ownerID, binderID string, createdAt time.Time) *binders.Document {
	return &binders.Document{
		ID:            binderID,
		SchemaVersion: binders.CurrentSchemaVersion,
		OwnerID:       ownerID,
		Version:       3,
		LastModified:  createdAt.Add(time.Minute),
		Metadata:      binders.Metadata{Name: "Binder " + binderID, CreatedAt: createdAt},
		Settings:      binders.Settings{GridSize: "3x3", PageCount: 1, MinPages: 1, MaxPages: 50},
		Cards: map[int]binders.Entry{
			4: {InstanceID: "inst-4", CardID: "base1-4", Quantity: 1},
		},
	}
}

func TestGormStorePutGetReplace(t *testing.T) {
	store, db := newTestGormStore(t)
	ctx := context.Background()
	doc := testDocument("user-1", "binder-1", time.Unix(1700000000, 0).UTC())

	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	loaded, err := store.Get(ctx, "user-1", "binder-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Version != 3 || loaded.Cards[4].InstanceID != "inst-4" {
		t.Fatalf("unexpected document %+v", loaded)
	}

	doc.Version = 4
	delete(doc.Cards, 4)
	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("unexpected replace error: %v", err)
	}
	loaded, err = store.Get(ctx, "user-1", "binder-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Version != 4 || len(loaded.Cards) != 0 {
		t.Fatalf("expected full replacement, got version %d with %d cards", loaded.Version, len(loaded.Cards))
	}

	var count int64
	if err := db.Model(&BinderRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one row, got %d", count)
	}
	var record BinderRecord
	if err := db.Where("document_key = ?", "user-1_binder-1").Take(&record).Error; err != nil {
		t.Fatalf("expected owner-prefixed key: %v", err)
	}
	if record.LastModifiedMs != doc.LastModified.UnixMilli() {
		t.Fatalf("unexpected last modified column %d", record.LastModifiedMs)
	}
}

func TestGormStoreGetMissing(t *testing.T) {
	store, _ := newTestGormStore(t)
	if _, err := store.Get(context.Background(), "user-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGormStoreDelete(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()
	doc := testDocument("user-1", "binder-1", time.Unix(1700000000, 0).UTC())
	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if err := store.Delete(ctx, "user-1", "binder-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
	if err := store.Delete(ctx, "user-1", "binder-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func TestGormStoreListings(t *testing.T) {
	store, _ := newTestGormStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	older := testDocument("user-1", "older", base)
	older.Permissions.Public = true
	newer := testDocument("user-1", "newer", base.Add(time.Hour))
	newer.Permissions.Public = true
	archived := testDocument("user-1", "archived", base.Add(2*time.Hour))
	archived.Permissions.Public = true
	archived.Metadata.IsArchived = true
	private := testDocument("user-1", "private", base.Add(3*time.Hour))
	foreign := testDocument("user-2", "foreign", base)
	foreign.Permissions.Public = true

	for _, doc := range []*binders.Document{older, newer, archived, private, foreign} {
		if err := store.Put(ctx, doc); err != nil {
			t.Fatalf("unexpected put error: %v", err)
		}
	}

	owned, err := store.ListByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(owned) != 4 || owned[0].ID != "private" {
		t.Fatalf("expected 4 owned binders newest first, got %d", len(owned))
	}

	public, err := store.ListPublic(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(public) != 2 || public[0].ID != "newer" || public[1].ID != "older" {
		ids := make([]string, 0, len(public))
		for _, doc := range public {
			ids = append(ids, doc.ID)
		}
		t.Fatalf("unexpected public listing %v", ids)
	}
}

func TestGormStoreRejectsMissingKeys(t *testing.T) {
	store, _ := newTestGormStore(t)
	err := store.Put(context.Background(), testDocument("", "binder-1", time.Now()))
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Code() != "cloud.put.invalid_key" {
		t.Fatalf("expected invalid key error, got %v", err)
	}
}
