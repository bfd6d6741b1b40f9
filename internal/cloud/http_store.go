package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"go.uber.org/zap"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPStoreConfig describes how to reach the binder API.
type HTTPStoreConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// HTTPStore implements the document store contract against the binder API.
type HTTPStore struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

type documentResponse struct {
	Binder json.RawMessage `json:"binder"`
}

type documentListResponse struct {
	Binders []json.RawMessage `json:"binders"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewHTTPStore validates the configuration and returns a client.
func NewHTTPStore(cfg HTTPStoreConfig) (*HTTPStore, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, newStoreError(opStoreNew, "missing_base_url", errMissingBaseURL)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &HTTPStore{
		baseURL:    baseURL,
		token:      strings.TrimSpace(cfg.Token),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// IsAuthenticated reports whether a bearer token is configured.
func (s *HTTPStore) IsAuthenticated() bool {
	return s.token != ""
}

func (s *HTTPStore) Get(ctx context.Context, ownerID, binderID string) (*binders.Document, error) {
	if err := validateKey(ownerID, binderID); err != nil {
		return nil, newStoreError(opGet, "invalid_key", err)
	}
	var response documentResponse
	if err := s.do(ctx, opGet, http.MethodGet, documentPath(ownerID, binderID), nil, &response); err != nil {
		return nil, err
	}
	return decodePayload(opGet, response.Binder)
}

func (s *HTTPStore) Put(ctx context.Context, doc *binders.Document) error {
	if doc == nil {
		return newStoreError(opPut, "invalid_document", errMissingDocument)
	}
	if err := validateKey(doc.OwnerID, doc.ID); err != nil {
		return newStoreError(opPut, "invalid_key", err)
	}
	payload, err := binders.Encode(doc)
	if err != nil {
		return newStoreError(opPut, "encode_failed", err)
	}
	return s.do(ctx, opPut, http.MethodPut, documentPath(doc.OwnerID, doc.ID), payload, nil)
}

func (s *HTTPStore) Delete(ctx context.Context, ownerID, binderID string) error {
	if err := validateKey(ownerID, binderID); err != nil {
		return newStoreError(opDelete, "invalid_key", err)
	}
	return s.do(ctx, opDelete, http.MethodDelete, documentPath(ownerID, binderID), nil, nil)
}

func (s *HTTPStore) ListByOwner(ctx context.Context, ownerID string) ([]*binders.Document, error) {
	if ownerID == "" {
		return nil, newStoreError(opListByOwner, "invalid_key", errMissingOwnerID)
	}
	return s.list(ctx, opListByOwner, "/owners/"+url.PathEscape(ownerID)+"/binders")
}

func (s *HTTPStore) ListPublic(ctx context.Context, ownerID string) ([]*binders.Document, error) {
	if ownerID == "" {
		return nil, newStoreError(opListPublic, "invalid_key", errMissingOwnerID)
	}
	return s.list(ctx, opListPublic, "/public/owners/"+url.PathEscape(ownerID)+"/binders")
}

func (s *HTTPStore) list(ctx context.Context, operation, path string) ([]*binders.Document, error) {
	var response documentListResponse
	if err := s.do(ctx, operation, http.MethodGet, path, nil, &response); err != nil {
		return nil, err
	}
	docs := make([]*binders.Document, 0, len(response.Binders))
	for _, raw := range response.Binders {
		doc, err := decodePayload(operation, raw)
		if err != nil {
			s.logger.Warn("skipping undecodable binder", zap.String("operation", operation), zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (s *HTTPStore) do(ctx context.Context, operation, method, path string, body []byte, result any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return newStoreError(operation, "request_build_failed", err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	if s.token != "" {
		request.Header.Set("Authorization", "Bearer "+s.token)
	}

	response, err := s.httpClient.Do(request)
	if err != nil {
		return newStoreError(operation, "request_failed", err)
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return newStoreError(operation, "read_failed", err)
	}

	switch {
	case response.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case response.StatusCode == http.StatusForbidden:
		return ErrForbidden
	case response.StatusCode >= http.StatusBadRequest:
		var errResp errorResponse
		if json.Unmarshal(responseBody, &errResp) == nil && errResp.Error != "" {
			return newStoreError(operation, "status_"+fmt.Sprint(response.StatusCode), fmt.Errorf("%s", errResp.Error))
		}
		return newStoreError(operation, "status_"+fmt.Sprint(response.StatusCode), fmt.Errorf("request failed with status %d", response.StatusCode))
	}

	if result == nil || len(responseBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, result); err != nil {
		return newStoreError(operation, "response_decode_failed", err)
	}
	return nil
}

func documentPath(ownerID, binderID string) string {
	return "/owners/" + url.PathEscape(ownerID) + "/binders/" + url.PathEscape(binderID)
}

func decodePayload(operation string, raw json.RawMessage) (*binders.Document, error) {
	if len(raw) == 0 {
		return nil, newStoreError(operation, "empty_payload", errMissingDocument)
	}
	doc, _, err := binders.Decode(raw)
	if err != nil {
		return nil, newStoreError(operation, "decode_failed", err)
	}
	return doc, nil
}
