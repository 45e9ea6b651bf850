package usecase

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"assetcache/internal/domain"
)

// OnInstall はバケットを開き、マニフェストのアセットを事前キャッシュする
// 個々のアセットの失敗は記録するだけでインストールは失敗させない
func (w *CacheWorker) OnInstall(ctx context.Context) error {
	bucket, err := w.storage.Open(ctx, w.config.CacheName)
	if err != nil {
		w.metrics.RecordError()
		return fmt.Errorf("open bucket %s: %w", w.config.CacheName, err)
	}

	var cached, failed atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(w.config.PrecacheConcurrency)

	for _, entry := range w.config.Manifest {
		eg.Go(func() error {
			if err := w.precache(egCtx, bucket, entry); err != nil {
				failed.Add(1)
				w.metrics.RecordPrecache(false)
				w.logger.Warn("Failed to precache asset", err, w.fields(map[string]interface{}{
					"entry": entry,
				}))
				return nil
			}
			cached.Add(1)
			w.metrics.RecordPrecache(true)
			return nil
		})
	}
	// 各タスクはエラーを返さない
	_ = eg.Wait()

	if err := w.scope.SkipWaiting(ctx); err != nil {
		w.logger.Warn("Skip waiting failed", err, w.fields(nil))
	}

	w.logger.Info("Precache complete", w.fields(map[string]interface{}{
		"cached": cached.Load(),
		"failed": failed.Load(),
		"total":  len(w.config.Manifest),
	}))
	return nil
}

// precache は1つのエントリを取得してバケットに保存する
func (w *CacheWorker) precache(ctx context.Context, bucket domain.Bucket, entry string) error {
	rawURL, err := w.config.Resolve(entry)
	if err != nil {
		return &domain.PrecacheError{URL: entry, Err: err}
	}
	req, err := domain.NewRequest(http.MethodGet, rawURL, domain.ModeCORS)
	if err != nil {
		return &domain.PrecacheError{URL: rawURL, Err: err}
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.metrics.RecordNetworkFetch(false)
		return &domain.PrecacheError{URL: rawURL, Err: err}
	}
	w.metrics.RecordNetworkFetch(true)

	if !resp.OK() {
		resp.ReadBody()
		return &domain.PrecacheError{URL: rawURL, Err: &domain.StatusError{StatusCode: resp.StatusCode}}
	}

	if err := bucket.Put(ctx, req, resp); err != nil {
		return &domain.PrecacheError{URL: rawURL, Err: err}
	}
	return nil
}
