package binders

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("binders: validation failed")
	// ErrLimitExceeded is matched by every LimitExceededError.
	ErrLimitExceeded = errors.New("binders: limit exceeded")
	// ErrInvalidDocument indicates that a serialized binder could not be decoded.
	ErrInvalidDocument = errors.New("binders: invalid document")

	noOpLogger = zap.NewNop()
)

// ValidationError reports a malformed request against a binder. The document
// is never modified when one is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("binders: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// LimitExceededError reports that a card-count or page-count ceiling was reached.
type LimitExceededError struct {
	Limit     string
	Maximum   int
	Requested int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("binders: %s limit exceeded: requested %d, maximum %d", e.Limit, e.Requested, e.Maximum)
}

func (e *LimitExceededError) Unwrap() error {
	return ErrLimitExceeded
}
