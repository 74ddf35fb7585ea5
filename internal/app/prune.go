package app

import (
	"context"
	"errors"
	"time"
)

// Prune deletes audit records older than opts.OlderThan.
func (a *App) Prune(ctx context.Context, opts PruneOptions) (int64, error) {
	if opts.OlderThan <= 0 {
		return 0, errors.New("--older-than must be positive")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return 0, err
	}
	if store == nil {
		return 0, errors.New("database.dsn 未配置，无法清理")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	if opts.DryRun {
		total, err := store.CountAlerts(ctx)
		if err != nil {
			return 0, err
		}
		a.Logger.Warn().Time("cutoff", cutoff).Int64("total", total).Msg("prune dry-run：不会删除记录")
		return 0, nil
	}

	removed, err := store.DeleteAlertsBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	a.Logger.Info().Time("cutoff", cutoff).Int64("removed", removed).Msg("清理完成")
	return removed, nil
}
