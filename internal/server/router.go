package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/auth"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/cloud"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	userIDContextKey     = "pokebinder_user_id"
	accessTokenQueryName = "access_token"
	maxBinderBodyBytes   = 8 << 20
)

var (
	errMissingBinderStore      = errors.New("binder store dependency required")
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingUserResolver     = errors.New("user resolver dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// BinderStore is the remote document store served over HTTP.
type BinderStore interface {
	Get(ctx context.Context, ownerID, binderID string) (*binders.Document, error)
	Put(ctx context.Context, doc *binders.Document) error
	Delete(ctx context.Context, ownerID, binderID string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*binders.Document, error)
	ListPublic(ctx context.Context, ownerID string) ([]*binders.Document, error)
}

type SessionValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
	CookieName() string
}

type UserResolver interface {
	ResolveCanonicalUserID(claims auth.SessionClaims) (string, error)
}

type Dependencies struct {
	Store            BinderStore
	SessionValidator SessionValidator
	Users            UserResolver
	Realtime         *RealtimeDispatcher
	Clock            func() time.Time
	Logger           *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingBinderStore
	}
	if deps.SessionValidator == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Users == nil {
		return nil, errMissingUserResolver
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		store:    deps.Store,
		sessions: deps.SessionValidator,
		users:    deps.Users,
		realtime: realtime,
		clock:    clock,
		logger:   logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/public/owners/:ownerID/binders", handler.handleListPublic)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/owners/:ownerID/binders", handler.handleListOwned)
	protected.GET("/owners/:ownerID/binders/:binderID", handler.handleGetBinder)
	protected.PUT("/owners/:ownerID/binders/:binderID", handler.handlePutBinder)
	protected.DELETE("/owners/:ownerID/binders/:binderID", handler.handleDeleteBinder)
	protected.GET("/binders/events", handler.handleBinderEvents)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-TAuth-Tenant"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	store    BinderStore
	sessions SessionValidator
	users    UserResolver
	realtime *RealtimeDispatcher
	clock    func() time.Time
	logger   *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleListPublic(c *gin.Context) {
	ownerID := strings.TrimSpace(c.Param("ownerID"))
	docs, err := h.store.ListPublic(c.Request.Context(), ownerID)
	if err != nil {
		h.respondStoreError(c, "list_public", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"binders": docs})
}

func (h *httpHandler) handleListOwned(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	docs, err := h.store.ListByOwner(c.Request.Context(), ownerID)
	if err != nil {
		h.respondStoreError(c, "list_by_owner", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"binders": docs})
}

func (h *httpHandler) handleGetBinder(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	doc, err := h.store.Get(c.Request.Context(), ownerID, c.Param("binderID"))
	if err != nil {
		h.respondStoreError(c, "get", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"binder": doc})
}

func (h *httpHandler) handlePutBinder(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	binderID := strings.TrimSpace(c.Param("binderID"))

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBinderBodyBytes+1))
	if err != nil || len(body) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	if len(body) > maxBinderBodyBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "binder_too_large"})
		return
	}
	doc, migrated, err := binders.Decode(body)
	if err != nil {
		h.logger.Info("rejected binder payload", zap.String("binder_id", binderID), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_binder"})
		return
	}
	if doc.ID != binderID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "binder_id_mismatch"})
		return
	}
	if doc.OwnerID != ownerID {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	if migrated {
		h.logger.Info("binder payload upgraded on write", zap.String("binder_id", binderID))
	}

	if err := h.store.Put(c.Request.Context(), doc); err != nil {
		h.respondStoreError(c, "put", err)
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    ownerID,
		EventType: RealtimeEventBinderChanged,
		BinderIDs: []string{binderID},
		Version:   doc.Version,
		Timestamp: h.clock().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"binder": doc})
}

func (h *httpHandler) handleDeleteBinder(c *gin.Context) {
	ownerID, ok := h.requireOwner(c)
	if !ok {
		return
	}
	binderID := strings.TrimSpace(c.Param("binderID"))
	if err := h.store.Delete(c.Request.Context(), ownerID, binderID); err != nil {
		h.respondStoreError(c, "delete", err)
		return
	}
	h.realtime.Publish(RealtimeMessage{
		UserID:    ownerID,
		EventType: RealtimeEventBinderDeleted,
		BinderIDs: []string{binderID},
		Timestamp: h.clock().UTC(),
	})
	c.Status(http.StatusNoContent)
}

type realtimeEventPayload struct {
	BinderIDs []string `json:"binderIds,omitempty"`
	Version   int64    `json:"version,omitempty"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

func (h *httpHandler) handleBinderEvents(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				BinderIDs: message.BinderIDs,
				Version:   message.Version,
				Timestamp: message.Timestamp.Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimeEventPayload{
				Timestamp: tick.UTC().Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			return true
		}
	})
}

// requireOwner rejects requests whose path owner differs from the session user.
func (h *httpHandler) requireOwner(c *gin.Context) (string, bool) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	ownerID := strings.TrimSpace(c.Param("ownerID"))
	if ownerID != userID {
		h.logger.Warn("binder access refused",
			zap.String("user_id", userID),
			zap.String("owner_id", ownerID),
			zap.String("path", c.FullPath()))
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return "", false
	}
	return ownerID, true
}

func (h *httpHandler) respondStoreError(c *gin.Context, operation string, err error) {
	var storeErr *cloud.StoreError
	switch {
	case errors.Is(err, cloud.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, cloud.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.As(err, &storeErr) && strings.HasSuffix(storeErr.Code(), ".invalid_key"):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
	default:
		h.logger.Error("binder store failure", zap.String("operation", operation), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("%s_failed", operation)})
	}
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token, ok := h.extractToken(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	claims, err := h.sessions.ValidateToken(token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredSessionToken) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, err := h.users.ResolveCanonicalUserID(claims)
	if err != nil {
		h.logger.Error("failed to resolve user id", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, userID)
	c.Next()
}

// extractToken prefers the bearer header, then the session cookie, then the
// access_token query parameter used by event streams.
func (h *httpHandler) extractToken(c *gin.Context) (string, bool) {
	if header := c.GetHeader("Authorization"); header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", false
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		return token, token != ""
	}
	if cookie, err := c.Cookie(h.sessions.CookieName()); err == nil && strings.TrimSpace(cookie) != "" {
		return strings.TrimSpace(cookie), true
	}
	if token := strings.TrimSpace(c.Query(accessTokenQueryName)); token != "" {
		return token, true
	}
	return "", false
}
