package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"assetcache/internal/domain"
)

// OnFetch はリクエストに応答する
// http/https 以外のスキームは domain.ErrNotIntercepted を返して処理しない
func (w *CacheWorker) OnFetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if !req.IsHTTP() {
		return nil, domain.ErrNotIntercepted
	}
	if req.IsNavigation() {
		return w.networkFirst(ctx, req)
	}
	return w.cacheFirst(ctx, req)
}

// networkFirst はネットワークを優先し、失敗時にキャッシュ、最後にオフライン用ドキュメントを返す
func (w *CacheWorker) networkFirst(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	resp, netErr := w.fetcher.Fetch(ctx, req)
	if netErr == nil {
		w.metrics.RecordNetworkFetch(true)
		return resp, nil
	}
	w.metrics.RecordNetworkFetch(false)
	w.logger.Debug("Navigation fetch failed, falling back to cache", w.fields(map[string]interface{}{
		"url":   req.CacheURL(),
		"error": netErr.Error(),
	}))

	if cached, ok := w.match(ctx, req); ok {
		return cached, nil
	}

	if w.config.OfflineFallback != "" {
		if fallback, ok := w.matchFallback(ctx); ok {
			w.metrics.RecordFallback()
			return fallback, nil
		}
	}

	w.metrics.RecordError()
	return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoMatch, req.CacheURL(), netErr)
}

// cacheFirst はキャッシュを優先し、ない場合はネットワークから取得して保存する
func (w *CacheWorker) cacheFirst(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if cached, ok := w.match(ctx, req); ok {
		return cached, nil
	}

	resp, err := w.fetcher.Fetch(ctx, req)
	if err != nil {
		w.metrics.RecordNetworkFetch(false)
		w.metrics.RecordError()
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoMatch, req.CacheURL(), err)
	}
	w.metrics.RecordNetworkFetch(true)

	if !storable(req, resp) {
		w.logger.Debug("Response not stored", w.fields(map[string]interface{}{
			"url":    req.CacheURL(),
			"method": req.Method,
			"status": resp.StatusCode,
		}))
		return resp, nil
	}

	clone, err := resp.Clone()
	if err != nil {
		w.metrics.RecordError()
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrNoMatch, req.CacheURL(), err)
	}
	w.store(ctx, req, clone)
	return resp, nil
}

// store は複製したレスポンスをバックグラウンドで保存する. 完了は待たない
// 破棄されたワーカーや削除済みのバケットには書き込まない
func (w *CacheWorker) store(ctx context.Context, req *domain.Request, clone *domain.Response) {
	w.tasks.Go(ctx, func(ctx context.Context) {
		if w.State() == domain.StateRedundant {
			w.logger.Debug("Worker is redundant, response not stored", w.fields(map[string]interface{}{
				"url": req.CacheURL(),
			}))
			return
		}

		bucket, err := w.storage.Lookup(ctx, w.config.CacheName)
		if err == nil {
			err = bucket.Put(ctx, req, clone)
		}
		if errors.Is(err, domain.ErrBucketNotFound) {
			w.logger.Debug("Bucket is gone, response not stored", w.fields(map[string]interface{}{
				"url": req.CacheURL(),
			}))
			return
		}
		if err != nil {
			w.metrics.RecordStore(false)
			w.logger.Warn("Failed to store response", err, w.fields(map[string]interface{}{
				"url": req.CacheURL(),
			}))
			return
		}
		w.metrics.RecordStore(true)
	})
}

// match は現在のバケットを検索する. 検索エラーはミスとして扱う
func (w *CacheWorker) match(ctx context.Context, req *domain.Request) (*domain.Response, bool) {
	bucket, err := w.storage.Lookup(ctx, w.config.CacheName)
	if err != nil {
		if !errors.Is(err, domain.ErrBucketNotFound) {
			w.logger.Warn("Failed to open bucket", err, w.fields(nil))
		}
		w.metrics.RecordCacheMiss()
		return nil, false
	}

	resp, err := bucket.Match(ctx, req)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			w.logger.Warn("Bucket lookup failed", err, w.fields(map[string]interface{}{
				"url": req.CacheURL(),
			}))
		}
		w.metrics.RecordCacheMiss()
		return nil, false
	}
	w.metrics.RecordCacheHit()
	return resp, true
}

func (w *CacheWorker) matchFallback(ctx context.Context) (*domain.Response, bool) {
	rawURL, err := w.config.Resolve(w.config.OfflineFallback)
	if err != nil {
		w.logger.Warn("Invalid offline fallback", err, w.fields(nil))
		return nil, false
	}
	req, err := domain.NewRequest(http.MethodGet, rawURL, domain.ModeNavigate)
	if err != nil {
		return nil, false
	}
	return w.match(ctx, req)
}

// storable はホストのキャッシュAPIが受け付けるレスポンスかどうかを返す
// 304 は本文を持たないため保存すると以後の応答が空になる
func storable(req *domain.Request, resp *domain.Response) bool {
	if req.Method != http.MethodGet {
		return false
	}
	switch resp.StatusCode {
	case http.StatusPartialContent, http.StatusNotModified:
		return false
	}
	return true
}
