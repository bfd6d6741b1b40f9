package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/binders"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/cloud"
	"github.com/MarcoPoloResearchLab/pokebinder/internal/localstore"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opSave        = "save"
	opDownload    = "download"
	opReconcile   = "reconcile_all"
	opClaim       = "claim"
	opSelect      = "select"
	opMutate      = "mutate"
	opDelete      = "delete"
	opListPublic  = "list_public"
	opLoadBinders = "load_binders"
)

var noOpLogger = zap.NewNop()

// DocumentStore is the remote document store contract.
type DocumentStore interface {
	Get(ctx context.Context, ownerID, binderID string) (*binders.Document, error)
	Put(ctx context.Context, doc *binders.Document) error
	Delete(ctx context.Context, ownerID, binderID string) error
	ListByOwner(ctx context.Context, ownerID string) ([]*binders.Document, error)
	ListPublic(ctx context.Context, ownerID string) ([]*binders.Document, error)
}

// LocalStore is the persisted local snapshot and binder list cache.
type LocalStore interface {
	Binder(id string) (*binders.Document, error)
	Binders() []*binders.Document
	PutBinder(ctx context.Context, doc *binders.Document) error
	DeleteBinder(ctx context.Context, id string) error
	CurrentBinderID() string
	SetCurrent(ctx context.Context, id string) error
	CachedBinders(userID string) ([]*binders.Document, bool)
	StoreCache(userID string, docs []*binders.Document)
	Invalidate()
	Flush(ctx context.Context) error
}

// SaveOptions tunes Save.
type SaveOptions struct {
	// ForceOverwrite pushes the local copy even when the remote copy is newer.
	ForceOverwrite bool
}

// MutateFunc derives a new document from doc. Returning doc itself signals
// that nothing changed.
type MutateFunc func(editor *binders.Editor, doc *binders.Document) (*binders.Document, error)

// CoordinatorConfig describes the dependencies of a Coordinator.
type CoordinatorConfig struct {
	Remote DocumentStore
	Local  LocalStore
	Editor *binders.Editor
	Clock  func() time.Time
	Logger *zap.Logger
}

// Coordinator reconciles local binders with the remote store. Operations on
// one binder are serialized; identical concurrent Save or Download calls
// share a single in-flight call.
type Coordinator struct {
	remote DocumentStore
	local  LocalStore
	editor *binders.Editor
	clock  func() time.Time
	logger *zap.Logger

	locks  *binderLocks
	flight singleflight.Group
}

// NewCoordinator validates the configuration and returns a coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Remote == nil {
		return nil, errMissingRemote
	}
	if cfg.Local == nil {
		return nil, errMissingLocal
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	editor := cfg.Editor
	if editor == nil {
		editor = binders.NewEditor(binders.EditorConfig{Clock: clock, Logger: logger})
	}
	return &Coordinator{
		remote: cfg.Remote,
		local:  cfg.Local,
		editor: editor,
		clock:  clock,
		logger: logger,
		locks:  newBinderLocks(),
	}, nil
}

// Editor returns the editor used for mutations.
func (c *Coordinator) Editor() *binders.Editor {
	return c.editor
}

// Create builds a new binder for userID and stores it locally. An empty
// userID creates an unclaimed binder.
func (c *Coordinator) Create(ctx context.Context, name, description, userID string) (*binders.Document, error) {
	doc, err := c.editor.Create(name, description, userID)
	if err != nil {
		return nil, err
	}
	if err := c.local.PutBinder(ctx, doc); err != nil {
		return nil, err
	}
	c.local.Invalidate()
	return doc, nil
}

// Save pushes the local binder to the remote store. A newer remote copy
// blocks the push with a ConflictError unless opts.ForceOverwrite is set.
func (c *Coordinator) Save(ctx context.Context, binderID, userID string, opts SaveOptions) (*binders.Document, error) {
	key := strings.Join([]string{opSave, binderID, userID, strconv.FormatBool(opts.ForceOverwrite)}, "|")
	value, err, shared := c.flight.Do(key, func() (any, error) {
		unlock := c.locks.lock(binderID)
		defer unlock()
		return c.save(ctx, binderID, userID, opts)
	})
	if shared {
		c.logger.Debug("save shared with in-flight call", zap.String("binder_id", binderID))
	}
	return cloneResult(value, err)
}

func (c *Coordinator) save(ctx context.Context, binderID, userID string, opts SaveOptions) (*binders.Document, error) {
	doc, err := c.loadLocal(binderID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID == binders.UnclaimedOwnerID {
		return nil, fmt.Errorf("%w: %s", ErrUnclaimedBinder, binderID)
	}
	if userID == "" || doc.OwnerID != userID {
		accessErr := &AccessError{Operation: opSave, BinderID: binderID, UserID: userID}
		c.logAccessDenied(accessErr)
		return nil, accessErr
	}

	remote, err := c.remote.Get(ctx, doc.OwnerID, doc.ID)
	switch {
	case errors.Is(err, cloud.ErrNotFound):
		remote = nil
	case err != nil:
		return nil, c.recordSyncError(ctx, doc, opSave, err)
	}

	pushed := doc.Clone()
	if remote != nil {
		if remote.LastModified.After(doc.LastModified) && !opts.ForceOverwrite {
			conflicted := doc.Clone()
			conflicted.Sync.Status = binders.SyncStatusConflict
			if err := c.local.PutBinder(ctx, conflicted); err != nil {
				c.logError(opSave, "local_write_failed", err, zap.String("binder_id", binderID))
			}
			c.logger.Info("save blocked by newer remote copy",
				zap.String("binder_id", binderID),
				zap.Int64("local_version", doc.Version),
				zap.Int64("remote_version", remote.Version))
			return nil, &ConflictError{
				BinderID:       binderID,
				LocalVersion:   doc.Version,
				RemoteVersion:  remote.Version,
				LocalModified:  doc.LastModified,
				RemoteModified: remote.LastModified,
			}
		}
		if remote.Version >= pushed.Version {
			pushed.Version = remote.Version + 1
		}
	}

	now := c.clock().UTC()
	pushed.Sync = binders.SyncState{
		Status:         binders.SyncStatusSynced,
		LastSynced:     &now,
		PendingChanges: []binders.ChangeRecord{},
	}
	if err := c.remote.Put(ctx, pushed); err != nil {
		return nil, c.recordSyncError(ctx, doc, opSave, err)
	}
	if err := c.local.PutBinder(ctx, pushed); err != nil {
		c.logError(opSave, "local_write_failed", err, zap.String("binder_id", binderID))
		return nil, err
	}
	c.local.Invalidate()
	c.logger.Info("binder saved",
		zap.String("binder_id", binderID),
		zap.Int64("version", pushed.Version),
		zap.Bool("forced", opts.ForceOverwrite && remote != nil))
	return pushed, nil
}

// Download replaces the local copy of a binder with the remote copy.
func (c *Coordinator) Download(ctx context.Context, binderID, userID string) (*binders.Document, error) {
	key := strings.Join([]string{opDownload, binderID, userID}, "|")
	value, err, _ := c.flight.Do(key, func() (any, error) {
		unlock := c.locks.lock(binderID)
		defer unlock()
		return c.download(ctx, binderID, userID)
	})
	return cloneResult(value, err)
}

func (c *Coordinator) download(ctx context.Context, binderID, userID string) (*binders.Document, error) {
	if userID == "" {
		return nil, &SyncError{Operation: opDownload, BinderID: binderID, Err: errMissingUserID}
	}
	local, localErr := c.loadLocal(binderID)
	if localErr == nil && !local.VisibleTo(userID) {
		accessErr := &AccessError{Operation: opDownload, BinderID: binderID, UserID: userID}
		c.logAccessDenied(accessErr)
		return nil, accessErr
	}

	remote, err := c.remote.Get(ctx, userID, binderID)
	if err != nil {
		if localErr == nil {
			return nil, c.recordSyncError(ctx, local, opDownload, err)
		}
		return nil, &SyncError{Operation: opDownload, BinderID: binderID, Err: err}
	}
	if remote.OwnerID != userID {
		accessErr := &AccessError{Operation: opDownload, BinderID: binderID, UserID: userID}
		c.logAccessDenied(accessErr)
		return nil, accessErr
	}

	downloaded := c.markSynced(remote)
	if err := c.local.PutBinder(ctx, downloaded); err != nil {
		c.logError(opDownload, "local_write_failed", err, zap.String("binder_id", binderID))
		return nil, err
	}
	c.local.Invalidate()
	c.logger.Info("binder downloaded", zap.String("binder_id", binderID), zap.Int64("version", downloaded.Version))
	return downloaded, nil
}

// ReconcileResult summarises a ReconcileAll run.
type ReconcileResult struct {
	Binders []*binders.Document
	Added   int
	Updated int
	Removed int
	Skipped int
}

// ReconcileAll merges the remote binders of userID into the local snapshot.
// Remote-only binders are added; binders that were synced but vanished
// remotely are removed; local-only work that was never pushed is kept. When
// both sides hold a binder, the remote copy wins only when it carries a
// higher version or a later modification time than the local copy read under
// the binder lock. Binders busy with another sync operation are left alone.
func (c *Coordinator) ReconcileAll(ctx context.Context, userID string) (ReconcileResult, error) {
	if userID == "" {
		return ReconcileResult{}, &SyncError{Operation: opReconcile, Err: errMissingUserID}
	}
	remoteDocs, err := c.remote.ListByOwner(ctx, userID)
	if err != nil {
		c.logError(opReconcile, "remote_list_failed", err, zap.String("user_id", userID))
		return ReconcileResult{}, &SyncError{Operation: opReconcile, Err: err}
	}

	remoteByID := make(map[string]*binders.Document, len(remoteDocs))
	for _, doc := range remoteDocs {
		remoteByID[doc.ID] = doc
	}

	result := ReconcileResult{}
	for _, remote := range remoteDocs {
		switch c.mergeRemote(ctx, remote) {
		case mergeAdded:
			result.Added++
		case mergeUpdated:
			result.Updated++
		case mergeBusy:
			result.Skipped++
		}
	}

	for _, candidate := range c.local.Binders() {
		if _, remoteExists := remoteByID[candidate.ID]; remoteExists {
			continue
		}
		if candidate.OwnerID != userID || candidate.Sync.Status != binders.SyncStatusSynced {
			continue
		}
		switch c.dropVanished(ctx, candidate.ID, userID) {
		case mergeRemoved:
			result.Removed++
		case mergeBusy:
			result.Skipped++
		}
	}

	result.Binders = c.visibleBinders(userID)
	c.local.StoreCache(userID, result.Binders)
	if err := c.local.Flush(ctx); err != nil {
		c.logError(opReconcile, "cache_flush_failed", err)
	}
	c.logger.Info("binders reconciled",
		zap.String("user_id", userID),
		zap.Int("total", len(result.Binders)),
		zap.Int("added", result.Added),
		zap.Int("updated", result.Updated),
		zap.Int("removed", result.Removed),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

type mergeOutcome int

const (
	mergeUnchanged mergeOutcome = iota
	mergeAdded
	mergeUpdated
	mergeRemoved
	mergeBusy
)

// mergeRemote applies one remote binder to the local snapshot. The local
// copy is re-read under the binder lock so an edit that landed after the
// reconcile started is compared, not overwritten.
func (c *Coordinator) mergeRemote(ctx context.Context, remote *binders.Document) mergeOutcome {
	unlock, ok := c.locks.tryLock(remote.ID)
	if !ok {
		return mergeBusy
	}
	defer unlock()

	outcome := mergeAdded
	local, err := c.local.Binder(remote.ID)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
	case err != nil:
		c.logError(opReconcile, "local_read_failed", err, zap.String("binder_id", remote.ID))
		return mergeUnchanged
	case remote.Version > local.Version || remote.LastModified.After(local.LastModified):
		outcome = mergeUpdated
	default:
		return mergeUnchanged
	}
	if err := c.local.PutBinder(ctx, c.markSynced(remote)); err != nil {
		c.logError(opReconcile, "local_write_failed", err, zap.String("binder_id", remote.ID))
		return mergeUnchanged
	}
	return outcome
}

// dropVanished removes a local binder whose remote copy is gone, provided it
// is still synced and owned by userID once the binder lock is held.
func (c *Coordinator) dropVanished(ctx context.Context, binderID, userID string) mergeOutcome {
	unlock, ok := c.locks.tryLock(binderID)
	if !ok {
		return mergeBusy
	}
	defer unlock()

	local, err := c.local.Binder(binderID)
	if err != nil {
		if !errors.Is(err, localstore.ErrNotFound) {
			c.logError(opReconcile, "local_read_failed", err, zap.String("binder_id", binderID))
		}
		return mergeUnchanged
	}
	if local.OwnerID != userID || local.Sync.Status != binders.SyncStatusSynced {
		c.logger.Debug("vanished binder kept after local change", zap.String("binder_id", binderID))
		return mergeUnchanged
	}
	if err := c.local.DeleteBinder(ctx, binderID); err != nil {
		c.logError(opReconcile, "local_delete_failed", err, zap.String("binder_id", binderID))
		return mergeUnchanged
	}
	return mergeRemoved
}

// LoadBinders returns the binders visible to userID, served from the cache
// while it is fresh. A signed-in user with a cold cache triggers ReconcileAll;
// if the remote store is unreachable the local snapshot is returned.
func (c *Coordinator) LoadBinders(ctx context.Context, userID string) ([]*binders.Document, error) {
	if cached, ok := c.local.CachedBinders(userID); ok {
		return cached, nil
	}
	if userID != "" {
		result, err := c.ReconcileAll(ctx, userID)
		if err == nil {
			return result.Binders, nil
		}
		c.logger.Warn("falling back to local binders", zap.String("operation", opLoadBinders), zap.Error(err))
	}
	docs := c.visibleBinders(userID)
	c.local.StoreCache(userID, docs)
	return docs, nil
}

// Claim assigns an unclaimed local binder to userID. The binder is not pushed.
func (c *Coordinator) Claim(ctx context.Context, binderID, userID string) (*binders.Document, error) {
	unlock := c.locks.lock(binderID)
	defer unlock()

	doc, err := c.loadLocal(binderID)
	if err != nil {
		return nil, err
	}
	claimed, err := c.editor.Claim(doc, userID)
	if err != nil {
		if errors.Is(err, binders.ErrAlreadyClaimed) {
			c.logAccessDenied(&AccessError{Operation: opClaim, BinderID: binderID, UserID: userID})
		}
		return nil, err
	}
	if claimed == doc {
		return doc, nil
	}
	if err := c.local.PutBinder(ctx, claimed); err != nil {
		return nil, err
	}
	c.local.Invalidate()
	c.logger.Info("binder claimed", zap.String("binder_id", binderID), zap.String("user_id", userID))
	return claimed, nil
}

// SelectBinder makes binderID the current binder. Binders the session cannot
// see are refused without an error; the refusal is only logged.
func (c *Coordinator) SelectBinder(ctx context.Context, binderID, userID string) (*binders.Document, bool, error) {
	doc, err := c.loadLocal(binderID)
	if err != nil {
		return nil, false, err
	}
	if !doc.VisibleTo(userID) {
		c.logAccessDenied(&AccessError{Operation: opSelect, BinderID: binderID, UserID: userID})
		return nil, false, nil
	}
	if err := c.local.SetCurrent(ctx, binderID); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// CurrentBinder returns the selected binder when the session can see it.
func (c *Coordinator) CurrentBinder(userID string) (*binders.Document, bool) {
	binderID := c.local.CurrentBinderID()
	if binderID == "" {
		return nil, false
	}
	doc, err := c.loadLocal(binderID)
	if err != nil || !doc.VisibleTo(userID) {
		return nil, false
	}
	return doc, true
}

// Mutate applies fn to a local binder and persists the result immediately.
// Binders the session cannot see are refused without an error; the refusal
// is only logged and the returned flag is false.
func (c *Coordinator) Mutate(ctx context.Context, binderID, userID string, fn MutateFunc) (*binders.Document, bool, error) {
	unlock := c.locks.lock(binderID)
	defer unlock()

	doc, err := c.loadLocal(binderID)
	if err != nil {
		return nil, false, err
	}
	if !doc.VisibleTo(userID) {
		c.logAccessDenied(&AccessError{Operation: opMutate, BinderID: binderID, UserID: userID})
		return nil, false, nil
	}
	updated, err := fn(c.editor, doc)
	if err != nil {
		return nil, false, err
	}
	if updated == nil || updated == doc {
		return doc, true, nil
	}
	if err := c.local.PutBinder(ctx, updated); err != nil {
		c.logError(opMutate, "local_write_failed", err, zap.String("binder_id", binderID))
		return nil, false, err
	}
	c.local.Invalidate()
	return updated, true, nil
}

// Delete removes a binder locally. A binder that was ever synced is deleted
// remotely first; if that fails the local copy is kept.
func (c *Coordinator) Delete(ctx context.Context, binderID, userID string) (bool, error) {
	unlock := c.locks.lock(binderID)
	defer unlock()

	doc, err := c.loadLocal(binderID)
	if err != nil {
		return false, err
	}
	if !doc.VisibleTo(userID) {
		c.logAccessDenied(&AccessError{Operation: opDelete, BinderID: binderID, UserID: userID})
		return false, nil
	}
	if doc.EverSynced() && doc.OwnerID != binders.UnclaimedOwnerID {
		err := c.remote.Delete(ctx, doc.OwnerID, doc.ID)
		if err != nil && !errors.Is(err, cloud.ErrNotFound) {
			return false, c.recordSyncError(ctx, doc, opDelete, err)
		}
	}
	if err := c.local.DeleteBinder(ctx, binderID); err != nil {
		return false, err
	}
	c.local.Invalidate()
	c.logger.Info("binder deleted", zap.String("binder_id", binderID), zap.Bool("remote", doc.EverSynced()))
	return true, nil
}

// ListPublic returns the public binders of ownerID from the remote store.
func (c *Coordinator) ListPublic(ctx context.Context, ownerID string) ([]*binders.Document, error) {
	docs, err := c.remote.ListPublic(ctx, ownerID)
	if err != nil {
		c.logError(opListPublic, "remote_list_failed", err, zap.String("owner_id", ownerID))
		return nil, &SyncError{Operation: opListPublic, Err: err}
	}
	return docs, nil
}

// Busy reports whether an operation currently holds the lock of binderID.
func (c *Coordinator) Busy(binderID string) bool {
	unlock, ok := c.locks.tryLock(binderID)
	if !ok {
		return true
	}
	unlock()
	return false
}

func (c *Coordinator) loadLocal(binderID string) (*binders.Document, error) {
	doc, err := c.local.Binder(binderID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrBinderNotFound, binderID)
	}
	return doc, err
}

func (c *Coordinator) visibleBinders(userID string) []*binders.Document {
	all := c.local.Binders()
	visible := make([]*binders.Document, 0, len(all))
	for _, doc := range all {
		if doc.VisibleTo(userID) {
			visible = append(visible, doc)
		}
	}
	sort.SliceStable(visible, func(i, j int) bool {
		return visible[i].LastModified.After(visible[j].LastModified)
	})
	return visible
}

func (c *Coordinator) markSynced(remote *binders.Document) *binders.Document {
	synced := remote.Clone()
	now := c.clock().UTC()
	synced.Sync = binders.SyncState{
		Status:         binders.SyncStatusSynced,
		LastSynced:     &now,
		PendingChanges: []binders.ChangeRecord{},
	}
	return synced
}

// recordSyncError stores the failure on the binder's sync bookkeeping and
// returns the SyncError to surface.
func (c *Coordinator) recordSyncError(ctx context.Context, doc *binders.Document, operation string, cause error) error {
	syncErr := &SyncError{Operation: operation, BinderID: doc.ID, Err: cause}
	failed := doc.Clone()
	failed.Sync.Status = binders.SyncStatusError
	failed.Sync.LastError = cause.Error()
	failed.Sync.RetryCount++
	if err := c.local.PutBinder(ctx, failed); err != nil {
		c.logError(operation, "local_write_failed", err, zap.String("binder_id", doc.ID))
	}
	c.logError(operation, "remote_failed", cause,
		zap.String("binder_id", doc.ID),
		zap.Int("retry_count", failed.Sync.RetryCount))
	return syncErr
}

func (c *Coordinator) logAccessDenied(err *AccessError) {
	c.logger.Warn("binder access refused",
		zap.String("operation", err.Operation),
		zap.String("binder_id", err.BinderID),
		zap.String("user_id", err.UserID))
}

func (c *Coordinator) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	c.logger.Error("sync coordinator error", attrs...)
}

func cloneResult(value any, err error) (*binders.Document, error) {
	if err != nil {
		return nil, err
	}
	doc, _ := value.(*binders.Document)
	return doc.Clone(), nil
}
