package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"regsho-monitor/internal/engine"
	"regsho-monitor/internal/service"
)

// Refresh performs one manual ingestion run and prints the outcome.
func (a *App) Refresh(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng := engine.New(a.engineConfig())
	svc := service.New(a.Config, eng, a.newSource(), store, a.newNotifier(), a.Logger)

	if err := svc.Recover(ctx); err != nil {
		return err
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go func() {
		_ = svc.Run(workerCtx)
	}()

	if err := svc.Refresh(ctx); err != nil {
		if errors.Is(err, service.ErrRefreshInProgress) {
			return fmt.Errorf("refresh already in progress, retry later: %w", err)
		}
		return err
	}

	sum := eng.View().Summary()
	fmt.Fprintf(os.Stdout, "refresh complete: %d listed, %d danger, %d warning, %d breach\n",
		sum.Total, sum.Danger, sum.Warning, sum.Breach)
	return nil
}
