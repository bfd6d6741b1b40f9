package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/localstore"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/syncer"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type deviceClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *deviceClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *deviceClock) Set(now time.Time) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

type device struct {
	coordinator *syncer.Coordinator
	clock       *deviceClock
}

func newDevice(t *testing.T, api *testAPI, name, userID string, start time.Time) *device {
	t.Helper()
	dsn := fmt.Sprintf("file:device_%s_%d?mode=memory&cache=shared", name, time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&localstore.BinderRow{}, &localstore.StateRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	clock := &deviceClock{now: start}
	local, err := localstore.NewStore(localstore.StoreConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct local store: %v", err)
	}
	coordinator, err := syncer.NewCoordinator(syncer.CoordinatorConfig{
		Remote: api.client(t, userID),
		Local:  local,
		Clock:  clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct coordinator: %v", err)
	}
	return &device{coordinator: coordinator, clock: clock}
}

func addCard(t *testing.T, d *device, binderID, userID, cardID string) *binders.Document {
	t.Helper()
	updated, applied, err := d.coordinator.Mutate(context.Background(), binderID, userID, func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
		next, _, err := editor.AddCard(doc, binders.CardInput{Card: binders.CatalogCard{ID: cardID}}, nil, userID)
		return next, err
	})
	if err != nil || !applied {
		t.Fatalf("failed to add card: applied=%v err=%v", applied, err)
	}
	return updated
}

func TestTwoDevicesSyncThroughAPI(t *testing.T) {
	api := newTestAPI(t, nil)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	laptop := newDevice(t, api, "laptop", "user-1", start)
	phone := newDevice(t, api, "phone", "user-1", start)

	doc, err := laptop.coordinator.Create(ctx, "Team Rocket", "", "user-1")
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	addCard(t, laptop, doc.ID, "user-1", "base5-1")
	if _, err := laptop.coordinator.Save(ctx, doc.ID, "user-1", syncer.SaveOptions{}); err != nil {
		t.Fatalf("unexpected save error: %v", err)
	}

	result, err := phone.coordinator.ReconcileAll(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected reconcile error: %v", err)
	}
	if result.Added != 1 || len(result.Binders) != 1 {
		t.Fatalf("expected phone to receive the binder, got %+v", result)
	}

	phone.clock.Set(start.Add(time.Minute))
	phoneCopy := addCard(t, phone, doc.ID, "user-1", "base5-2")
	if _, err := phone.coordinator.Save(ctx, doc.ID, "user-1", syncer.SaveOptions{}); err != nil {
		t.Fatalf("unexpected phone save error: %v", err)
	}

	laptop.clock.Set(start.Add(30 * time.Second))
	addCard(t, laptop, doc.ID, "user-1", "base5-3")
	_, err = laptop.coordinator.Save(ctx, doc.ID, "user-1", syncer.SaveOptions{})
	var conflictErr *syncer.ConflictError
	if !errors.As(err, &conflictErr) {
		t.Fatalf("expected conflict, got %v", err)
	}

	downloaded, err := laptop.coordinator.Download(ctx, doc.ID, "user-1")
	if err != nil {
		t.Fatalf("unexpected download error: %v", err)
	}
	if downloaded.Version != phoneCopy.Version || len(downloaded.Cards) != 2 {
		t.Fatalf("expected phone copy, got v%d with %d cards", downloaded.Version, len(downloaded.Cards))
	}
	if downloaded.Sync.Status != binders.SyncStatusSynced {
		t.Fatalf("expected synced status, got %s", downloaded.Sync.Status)
	}
}
