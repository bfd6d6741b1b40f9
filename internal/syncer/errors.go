package syncer

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnclaimedBinder indicates that a binder must be claimed before it can be saved.
	ErrUnclaimedBinder = errors.New("syncer: binder is not claimed by any account")
	// ErrBinderNotFound indicates that no local binder exists with the requested id.
	ErrBinderNotFound = errors.New("syncer: binder not found")
	// ErrConflict is matched by every ConflictError.
	ErrConflict = errors.New("syncer: remote copy is newer")
	// ErrSync is matched by every SyncError.
	ErrSync = errors.New("syncer: sync failed")
	// ErrAccessDenied is matched by every AccessError.
	ErrAccessDenied = errors.New("syncer: access denied")

	errMissingRemote = errors.New("remote document store is required")
	errMissingLocal  = errors.New("local store is required")
	errMissingUserID = errors.New("user identifier is required")
)

// ConflictError reports a save blocked by a newer remote copy. The caller
// decides whether to retry with ForceOverwrite.
type ConflictError struct {
	BinderID       string
	LocalVersion   int64
	RemoteVersion  int64
	LocalModified  time.Time
	RemoteModified time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("syncer: binder %s changed remotely at %s (remote version %d, local version %d)",
		e.BinderID, e.RemoteModified.Format(time.RFC3339), e.RemoteVersion, e.LocalVersion)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// SyncError wraps a transport or store failure. The local document keeps its
// content; only its sync bookkeeping records the failure.
type SyncError struct {
	Operation string
	BinderID  string
	Err       error
}

func (e *SyncError) Error() string {
	if e.BinderID == "" {
		return fmt.Sprintf("syncer: %s failed: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("syncer: %s %s failed: %v", e.Operation, e.BinderID, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match ErrSync as well as the wrapped cause.
func (e *SyncError) Is(target error) bool {
	return target == ErrSync
}

// AccessError reports an operation on a binder the session does not own.
type AccessError struct {
	Operation string
	BinderID  string
	UserID    string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("syncer: %s denied for binder %s", e.Operation, e.BinderID)
}

func (e *AccessError) Unwrap() error {
	return ErrAccessDenied
}
