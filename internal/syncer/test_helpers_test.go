package syncer

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/cloud"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/localstore"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var baseTime = time.Unix(1700000000, 0).UTC()

type memoryRemote struct {
	mu        sync.Mutex
	docs      map[string]*binders.Document
	getErr    error
	putErr    error
	listErr   error
	deleteErr error
	gets      int
	puts      int
	deletes   int
	lists     int

	getStarted chan struct{}
	getRelease chan struct{}
	// afterList runs once, after ListByOwner has taken its snapshot.
	afterList func()
}

func newMemoryRemote() *memoryRemote {
	return &memoryRemote{docs: make(map[string]*binders.Document)}
}

func (m *memoryRemote) seed(doc *binders.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[cloud.DocumentKey(doc.OwnerID, doc.ID)] = doc.Clone()
}

func (m *memoryRemote) stored(ownerID, binderID string) (*binders.Document, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[cloud.DocumentKey(ownerID, binderID)]
	if !ok {
		return nil, false
	}
	return doc.Clone(), true
}

func (m *memoryRemote) Get(ctx context.Context, ownerID, binderID string) (*binders.Document, error) {
	if m.getStarted != nil {
		m.getStarted <- struct{}{}
		<-m.getRelease
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, m.getErr
	}
	doc, ok := m.docs[cloud.DocumentKey(ownerID, binderID)]
	if !ok {
		return nil, cloud.ErrNotFound
	}
	return doc.Clone(), nil
}

func (m *memoryRemote) counts() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.puts
}

// releaseGets unblocks the in-flight Get and lets any later Get through.
func (m *memoryRemote) releaseGets() {
	close(m.getRelease)
	go func() {
		for range m.getStarted {
		}
	}()
}

func (m *memoryRemote) Put(ctx context.Context, doc *binders.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.docs[cloud.DocumentKey(doc.OwnerID, doc.ID)] = doc.Clone()
	return nil
}

func (m *memoryRemote) Delete(ctx context.Context, ownerID, binderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	key := cloud.DocumentKey(ownerID, binderID)
	if _, ok := m.docs[key]; !ok {
		return cloud.ErrNotFound
	}
	m.deletes++
	delete(m.docs, key)
	return nil
}

func (m *memoryRemote) ListByOwner(ctx context.Context, ownerID string) ([]*binders.Document, error) {
	docs, err := m.listByOwner(ownerID)
	m.mu.Lock()
	hook := m.afterList
	m.afterList = nil
	m.mu.Unlock()
	if hook != nil {
		hook()
	}
	return docs, err
}

func (m *memoryRemote) listByOwner(ownerID string) ([]*binders.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists++
	if m.listErr != nil {
		return nil, m.listErr
	}
	docs := make([]*binders.Document, 0)
	for _, doc := range m.docs {
		if doc.OwnerID == ownerID {
			docs = append(docs, doc.Clone())
		}
	}
	return docs, nil
}

func (m *memoryRemote) ListPublic(ctx context.Context, ownerID string) ([]*binders.Document, error) {
	docs, err := m.listByOwner(ownerID)
	if err != nil {
		return nil, err
	}
	public := make([]*binders.Document, 0, len(docs))
	for _, doc := range docs {
		if doc.Permissions.Public && !doc.Metadata.IsArchived {
			public = append(public, doc)
		}
	}
	return public, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// hookedLocal runs afterBinders once, after Binders has taken its snapshot.
type hookedLocal struct {
	*localstore.Store

	mu           sync.Mutex
	afterBinders func()
}

func (h *hookedLocal) Binders() []*binders.Document {
	docs := h.Store.Binders()
	h.mu.Lock()
	hook := h.afterBinders
	h.afterBinders = nil
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return docs
}

type testHarness struct {
	coordinator *Coordinator
	remote      *memoryRemote
	local       *localstore.Store
	hooks       *hookedLocal
	clock       *testClock
}

func newTestHarness(t *testing.T, logger *zap.Logger) *testHarness {
	t.Helper()
	dsn := fmt.Sprintf("file:syncer_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&localstore.BinderRow{}, &localstore.StateRow{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	clock := &testClock{now: baseTime}
	local, err := localstore.NewStore(localstore.StoreConfig{Database: db, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to construct local store: %v", err)
	}
	remote := newMemoryRemote()
	hooks := &hookedLocal{Store: local}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Remote: remote,
		Local:  hooks,
		Clock:  clock.Now,
		Logger: logger,
	})
	if err != nil {
		t.Fatalf("failed to construct coordinator: %v", err)
	}
	return &testHarness{coordinator: coordinator, remote: remote, local: local, hooks: hooks, clock: clock}
}

func (h *testHarness) createBinder(t *testing.T, name, ownerID string) *binders.Document {
	t.Helper()
	doc, err := h.coordinator.Create(context.Background(), name, "", ownerID)
	if err != nil {
		t.Fatalf("unexpected create error: %v", err)
	}
	return doc
}

func (h *testHarness) localBinder(t *testing.T, binderID string) *binders.Document {
	t.Helper()
	doc, err := h.local.Binder(binderID)
	if err != nil {
		t.Fatalf("expected local binder %s: %v", binderID, err)
	}
	return doc
}

func (h *testHarness) rename(t *testing.T, binderID, name string) *binders.Document {
	t.Helper()
	doc, applied, err := h.coordinator.Mutate(context.Background(), binderID, "user-1", func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error) {
		return editor.UpdateMetadata(doc, binders.MetadataPatch{Name: &name}, "user-1")
	})
	if err != nil || !applied {
		t.Fatalf("rename failed: applied=%v err=%v", applied, err)
	}
	return doc
}

func remoteDocument(id, ownerID string, version int64, modified time.Time) *binders.Document {
	return &binders.Document{
		ID:            id,
		SchemaVersion: binders.CurrentSchemaVersion,
		OwnerID:       ownerID,
		Version:       version,
		LastModified:  modified,
		Metadata:      binders.Metadata{Name: "Remote " + id, CreatedAt: modified},
		Settings:      binders.Settings{GridSize: "3x3", PageCount: 1, MinPages: 1, MaxPages: 50},
		Cards:         map[int]binders.Entry{},
		Sync:          binders.SyncState{Status: binders.SyncStatusSynced},
	}
}
