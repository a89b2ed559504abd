package app

import (
	"context"
	"fmt"
	"os"

	"regsho-monitor/internal/engine"
	"regsho-monitor/internal/service"
)

// Backfill 拉取缺失的历史发布日并写入快照日志。
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	if opts.DryRun {
		a.Logger.Warn().Msg("回填 dry-run：不会写入数据库")
	}

	eng := engine.New(a.engineConfig())
	svc := service.New(a.Config, eng, a.newSource(), store, nil, a.Logger)

	fetched, err := svc.Backfill(ctx, opts.DryRun)
	if err != nil {
		return fmt.Errorf("backfill: %w", err)
	}

	count, countErr := store.CountSnapshots(ctx)
	if countErr != nil {
		a.Logger.Warn().Err(countErr).Msg("could not count stored snapshots")
	}

	fmt.Fprintf(os.Stdout, "backfill complete: %d days fetched, %d stored in log\n", fetched, count)
	return nil
}
