package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultReconcileInterval is the background reconciliation period.
const DefaultReconcileInterval = 2 * time.Minute

// ReconcilerConfig describes a background reconciliation loop.
type ReconcilerConfig struct {
	Coordinator *Coordinator
	// UserID returns the signed-in user, or "" when nobody is signed in.
	UserID func() string
	// Active gates each tick; reconciliation is skipped while it reports false.
	Active   func() bool
	Interval time.Duration
	Logger   *zap.Logger
}

// Reconciler runs ReconcileAll on a fixed interval. A tick that arrives while
// the previous run is still in progress is dropped.
type Reconciler struct {
	coordinator *Coordinator
	userID      func() string
	active      func() bool
	interval    time.Duration
	logger      *zap.Logger
	running     atomic.Bool
}

// NewReconciler returns a reconciler with defaults for missing settings.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	active := cfg.Active
	if active == nil {
		active = func() bool { return true }
	}
	userID := cfg.UserID
	if userID == nil {
		userID = func() string { return "" }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Reconciler{
		coordinator: cfg.Coordinator,
		userID:      userID,
		active:      active,
		interval:    interval,
		logger:      logger,
	}
}

// Run blocks until ctx is cancelled, reconciling once at start and then on
// every tick.
func (r *Reconciler) Run(ctx context.Context) {
	r.logger.Info("reconciler started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped", zap.String("reason", "context_cancelled"))
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation and reports whether it ran.
func (r *Reconciler) RunOnce(ctx context.Context) bool {
	if ctx.Err() != nil || !r.active() {
		return false
	}
	userID := r.userID()
	if userID == "" {
		return false
	}
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Debug("reconcile already in progress")
		return false
	}
	defer r.running.Store(false)

	if _, err := r.coordinator.ReconcileAll(ctx, userID); err != nil {
		r.logger.Warn("background reconcile failed", zap.String("user_id", userID), zap.Error(err))
	}
	return true
}
