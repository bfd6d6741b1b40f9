package syncer

import (
	"context"
	"testing"
	"time"
)

func TestReconcilerRunOnceRespectsGates(t *testing.T) {
	harness := newTestHarness(t, nil)
	active := false
	user := ""
	reconciler := NewReconciler(ReconcilerConfig{
		Coordinator: harness.coordinator,
		UserID:      func() string { return user },
		Active:      func() bool { return active },
	})
	ctx := context.Background()

	if reconciler.RunOnce(ctx) {
		t.Fatalf("expected inactive reconciler to skip")
	}
	active = true
	if reconciler.RunOnce(ctx) {
		t.Fatalf("expected reconciler without a user to skip")
	}
	user = "user-1"
	if !reconciler.RunOnce(ctx) {
		t.Fatalf("expected reconcile to run")
	}
	if harness.remote.lists != 1 {
		t.Fatalf("expected one remote listing, got %d", harness.remote.lists)
	}
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	harness := newTestHarness(t, nil)
	reconciler := NewReconciler(ReconcilerConfig{
		Coordinator: harness.coordinator,
		UserID:      func() string { return "user-1" },
		Interval:    time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		reconciler.Run(ctx)
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for {
		harness.remote.mu.Lock()
		lists := harness.remote.lists
		harness.remote.mu.Unlock()
		if lists > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("expected an initial reconcile")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected reconciler to stop")
	}
}
