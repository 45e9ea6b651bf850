package usecase

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"assetcache/internal/domain"
)

// WorkerDeps はワーカーが利用する外部機能をまとめる
type WorkerDeps struct {
	Storage domain.CacheStorage
	Fetcher domain.Fetcher
	Scope   domain.Scope
	Metrics domain.MetricsCollector
	Logger  domain.Logger
}

// CacheWorker はアセットキャッシュのライフサイクルを実装する
// install で事前キャッシュ、activate で古いバケットを削除し、
// fetch でナビゲーションはネットワーク優先、それ以外はキャッシュ優先で応答する
type CacheWorker struct {
	id      string
	config  domain.WorkerConfig
	storage domain.CacheStorage
	fetcher domain.Fetcher
	scope   domain.Scope
	metrics domain.MetricsCollector
	logger  domain.Logger

	mu    sync.RWMutex
	state domain.WorkerState

	tasks *taskGroup
}

var _ domain.LifecycleHandler = (*CacheWorker)(nil)

// NewCacheWorker は新しいCacheWorkerインスタンスを作成
func NewCacheWorker(config domain.WorkerConfig, deps WorkerDeps) (*CacheWorker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid worker config: %w", err)
	}
	if deps.Storage == nil || deps.Fetcher == nil || deps.Logger == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("worker requires storage, fetcher, metrics and logger")
	}
	if deps.Scope == nil {
		deps.Scope = noopScope{}
	}
	if config.PrecacheConcurrency < 1 {
		config.PrecacheConcurrency = 1
	}

	return &CacheWorker{
		id:      uuid.NewString(),
		config:  config,
		storage: deps.Storage,
		fetcher: deps.Fetcher,
		scope:   deps.Scope,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		state:   domain.StateParsed,
		tasks:   newTaskGroup(),
	}, nil
}

// ID はワーカーインスタンスの識別子を返す
func (w *CacheWorker) ID() string {
	return w.id
}

// CacheName は現在のバケット名を返す
func (w *CacheWorker) CacheName() string {
	return w.config.CacheName
}

// Config はワーカーの設定を返す
func (w *CacheWorker) Config() domain.WorkerConfig {
	return w.config
}

// State は現在のライフサイクル状態を返す
func (w *CacheWorker) State() domain.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *CacheWorker) setState(state domain.WorkerState) {
	w.mu.Lock()
	prev := w.state
	w.state = state
	w.mu.Unlock()

	w.logger.Debug("Worker state changed", map[string]interface{}{
		"worker": w.id,
		"cache":  w.config.CacheName,
		"from":   prev.String(),
		"to":     state.String(),
	})
}

// Wait はバックグラウンドで実行中の保存処理がすべて終わるまで待つ
func (w *CacheWorker) Wait(ctx context.Context) error {
	return w.tasks.Wait(ctx)
}

func (w *CacheWorker) fields(extra map[string]interface{}) map[string]interface{} {
	f := map[string]interface{}{
		"worker": w.id,
		"cache":  w.config.CacheName,
	}
	for k, v := range extra {
		f[k] = v
	}
	return f
}

type noopScope struct{}

func (noopScope) SkipWaiting(context.Context) error { return nil }
func (noopScope) Claim(context.Context) error       { return nil }
