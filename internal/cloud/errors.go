package cloud

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that no document exists under the requested key.
	ErrNotFound = errors.New("cloud: document not found")
	// ErrForbidden indicates that the caller may not touch the requested document.
	ErrForbidden = errors.New("cloud: forbidden")

	errMissingDatabase = errors.New("database handle is required")
	errMissingOwnerID  = errors.New("owner identifier is required")
	errMissingBinderID = errors.New("binder identifier is required")
	errMissingDocument = errors.New("document is required")
	errMissingBaseURL  = errors.New("base url is required")
)

// StoreError carries a stable "cloud.<operation>.<reason>" code.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew    = "cloud.store.new"
	opGet         = "cloud.get"
	opPut         = "cloud.put"
	opDelete      = "cloud.delete"
	opListByOwner = "cloud.list_by_owner"
	opListPublic  = "cloud.list_public"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
