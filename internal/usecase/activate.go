package usecase

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// OnActivate は現在のバケット以外をすべて削除し、クライアントの制御を取得する
func (w *CacheWorker) OnActivate(ctx context.Context) error {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		w.metrics.RecordError()
		return fmt.Errorf("list buckets: %w", err)
	}

	// 削除は並行に行い、すべての完了を待つ
	var eg errgroup.Group
	for _, name := range names {
		if name == w.config.CacheName {
			continue
		}
		eg.Go(func() error {
			if _, err := w.storage.Delete(ctx, name); err != nil {
				w.metrics.RecordEviction(false)
				w.logger.Warn("Failed to delete stale bucket", err, w.fields(map[string]interface{}{
					"stale": name,
				}))
				if w.config.StrictEviction {
					return fmt.Errorf("delete stale bucket %s: %w", name, err)
				}
				return nil
			}
			w.metrics.RecordEviction(true)
			w.logger.Info("Deleted stale bucket", w.fields(map[string]interface{}{
				"stale": name,
			}))
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	if err := w.scope.Claim(ctx); err != nil {
		return fmt.Errorf("claim clients: %w", err)
	}
	return nil
}
