package server

import (
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/auth"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/cloud"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSigningSecret = "test-signing-secret"

type testAPI struct {
	server     *httptest.Server
	store      *cloud.GormStore
	validator  *auth.SessionValidator
	dispatcher *RealtimeDispatcher
}

func newTestAPI(t *testing.T, logger *zap.Logger) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := fmt.Sprintf("file:server_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&cloud.BinderRecord{}, &users.Identity{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	store, err := cloud.NewGormStore(cloud.GormStoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to construct user service: %v", err)
	}
	validator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{SigningSecret: []byte(testSigningSecret)})
	if err != nil {
		t.Fatalf("failed to construct validator: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()
	handler, err := NewHTTPHandler(Dependencies{
		Store:            store,
		SessionValidator: validator,
		Users:            userService,
		Realtime:         dispatcher,
		Logger:           logger,
	})
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &testAPI{server: server, store: store, validator: validator, dispatcher: dispatcher}
}

func (a *testAPI) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := a.validator.IssueToken(userID, time.Hour)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (a *testAPI) client(t *testing.T, userID string) *cloud.HTTPStore {
	t.Helper()
	store, err := cloud.NewHTTPStore(cloud.HTTPStoreConfig{BaseURL: a.server.URL, Token: a.token(t, userID)})
	if err != nil {
		t.Fatalf("failed to construct http store: %v", err)
	}
	return store
}

func testBinder(t *testing.T, name, ownerID string) *binders.Document {
	t.Helper()
	editor := binders.NewEditor(binders.EditorConfig{
		Clock: func() time.Time { return time.Unix(1700000000, 0).UTC() },
	})
	doc, err := editor.Create(name, "", ownerID)
	if err != nil {
		t.Fatalf("failed to create binder: %v", err)
	}
	return doc
}
