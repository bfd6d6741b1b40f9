package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPStoreRoundTrip(t *testing.T) {
	stored := make(map[string][]byte)
	var seenAuthorization string

	mux := http.NewServeMux()
	mux.HandleFunc("/owners/user-1/binders/binder-1", func(w http.ResponseWriter, r *http.Request) {
		seenAuthorization = r.Header.Get("Authorization")
		switch r.Method {
		case http.MethodPut:
			body, _ := io.ReadAll(r.Body)
			stored["binder-1"] = body
			w.WriteHeader(http.StatusOK)
		case http.MethodGet:
			payload, ok := stored["binder-1"]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{"binder": payload})
		case http.MethodDelete:
			delete(stored, "binder-1")
			w.WriteHeader(http.StatusNoContent)
		}
	})
	mux.HandleFunc("/public/owners/user-1/binders", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string][]json.RawMessage{"binders": {stored["binder-1"], json.RawMessage(`{"schemaVersion": 99}`)}})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	store, err := NewHTTPStore(HTTPStoreConfig{BaseURL: server.URL + "/", Token: "session-token"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx := context.Background()
	doc := testDocument("user-1", "binder-1", time.Unix(1700000000, 0).UTC())

	if _, err := store.Get(ctx, "user-1", "binder-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.Put(ctx, doc); err != nil {
		t.Fatalf("unexpected put error: %v", err)
	}
	if seenAuthorization != "Bearer session-token" {
		t.Fatalf("expected bearer token, got %q", seenAuthorization)
	}
	loaded, err := store.Get(ctx, "user-1", "binder-1")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if loaded.Version != doc.Version || loaded.Cards[4].CardID != "base1-4" {
		t.Fatalf("unexpected document %+v", loaded)
	}

	public, err := store.ListPublic(ctx, "user-1")
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(public) != 1 {
		t.Fatalf("expected undecodable entries to be skipped, got %d", len(public))
	}

	if err := store.Delete(ctx, "user-1", "binder-1"); err != nil {
		t.Fatalf("unexpected delete error: %v", err)
	}
}

func TestHTTPStoreMapsErrorStatuses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/owners/user-1/binders/forbidden":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"store_failed"}`))
		}
	}))
	defer server.Close()

	store, err := NewHTTPStore(HTTPStoreConfig{BaseURL: server.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Get(context.Background(), "user-1", "forbidden"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	_, err = store.Get(context.Background(), "user-1", "broken")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Code() != "cloud.get.status_500" {
		t.Fatalf("expected coded store error, got %v", err)
	}
}

func TestNewHTTPStoreRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPStore(HTTPStoreConfig{}); err == nil {
		t.Fatalf("expected error for missing base url")
	}
	store, err := NewHTTPStore(HTTPStoreConfig{BaseURL: "http://example.test"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.IsAuthenticated() {
		t.Fatalf("expected unauthenticated store without token")
	}
}
