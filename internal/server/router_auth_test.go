package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/auth"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type stubSessionValidator struct {
	claims      auth.SessionClaims
	validateErr error
	seenToken   string
}

func (s *stubSessionValidator) ValidateToken(token string) (auth.SessionClaims, error) {
	s.seenToken = token
	return s.claims, s.validateErr
}

func (s *stubSessionValidator) CookieName() string {
	return "app_session"
}

type stubUserResolver struct{}

func (stubUserResolver) ResolveCanonicalUserID(claims auth.SessionClaims) (string, error) {
	return "canonical-" + claims.UserID, nil
}

func runAuthorize(t *testing.T, validator *stubSessionValidator, prepare func(*http.Request)) (*httptest.ResponseRecorder, *gin.Context, *observer.ObservedLogs) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	request := httptest.NewRequest(http.MethodGet, "/owners/user-1/binders", http.NoBody)
	prepare(request)
	ctx.Request = request

	core, logs := observer.New(zapcore.DebugLevel)
	handler := &httpHandler{
		sessions: validator,
		users:    stubUserResolver{},
		logger:   zap.New(core),
	}
	handler.authorizeRequest(ctx)
	return recorder, ctx, logs
}

func TestAuthorizeRequestLogsExpiredTokenAtInfoLevel(t *testing.T) {
	recorder, _, logs := runAuthorize(t, &stubSessionValidator{validateErr: auth.ErrExpiredSessionToken}, func(request *http.Request) {
		request.Header.Set("Authorization", "Bearer expired-token")
	})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected exactly one log entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel {
		t.Fatalf("expected info level for expired token, got %s", entry.Level)
	}
	if entry.Message != "token validation failed" {
		t.Fatalf("unexpected log message: %q", entry.Message)
	}
	hasExpired := false
	for _, field := range entry.Context {
		if field.Type == zapcore.ErrorType && errors.Is(field.Interface.(error), auth.ErrExpiredSessionToken) {
			hasExpired = true
			break
		}
	}
	if !hasExpired {
		t.Fatalf("expected expired token error context, got %v", entry.Context)
	}
}

func TestAuthorizeRequestLogsUnexpectedTokenErrorAtWarnLevel(t *testing.T) {
	recorder, _, logs := runAuthorize(t, &stubSessionValidator{validateErr: errors.New("signature mismatch")}, func(request *http.Request) {
		request.Header.Set("Authorization", "Bearer invalid-token")
	})

	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status code: got %d, want %d", recorder.Code, http.StatusUnauthorized)
	}
	entries := logs.All()
	if len(entries) != 1 || entries[0].Level != zapcore.WarnLevel {
		t.Fatalf("expected one warn entry, got %v", entries)
	}
}

func TestAuthorizeRequestAcceptsCookieAndQueryTokens(t *testing.T) {
	testCases := []struct {
		name    string
		prepare func(*http.Request)
		token   string
	}{
		{
			name: "cookie",
			prepare: func(request *http.Request) {
				request.AddCookie(&http.Cookie{Name: "app_session", Value: "cookie-token"})
			},
			token: "cookie-token",
		},
		{
			name: "query",
			prepare: func(request *http.Request) {
				request.URL.RawQuery = "access_token=query-token"
			},
			token: "query-token",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			validator := &stubSessionValidator{claims: auth.SessionClaims{UserID: "user-1"}}
			_, ctx, _ := runAuthorize(t, validator, testCase.prepare)
			if validator.seenToken != testCase.token {
				t.Fatalf("expected token %q, got %q", testCase.token, validator.seenToken)
			}
			if ctx.GetString(userIDContextKey) != "canonical-user-1" {
				t.Fatalf("expected canonical user id, got %q", ctx.GetString(userIDContextKey))
			}
		})
	}
}

func TestAuthorizeRequestRejectsMissingToken(t *testing.T) {
	validator := &stubSessionValidator{}
	recorder, _, _ := runAuthorize(t, validator, func(*http.Request) {})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", recorder.Code)
	}
	if validator.seenToken != "" {
		t.Fatalf("expected validator not to be called")
	}
}
