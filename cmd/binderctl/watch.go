package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MarcoPoloResearchLab/pokebinder/internal/syncer"
	"go.uber.org/zap"
)

func runWatch(ctx context.Context, app *application) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	reconciler := syncer.NewReconciler(syncer.ReconcilerConfig{
		Coordinator: app.coordinator,
		UserID:      app.userID,
		Interval:    app.config.ReconcileInterval,
		Logger:      app.logger,
	})
	app.logger.Info("watching binders", zap.String("user_id", app.userID()), zap.Duration("interval", app.config.ReconcileInterval))
	reconciler.Run(ctx)
	return nil
}
