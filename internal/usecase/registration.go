package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"assetcache/internal/domain"
)

// Registration はワーカーの登録・有効化・クライアント制御を管理するホスト側の実装
// 新しく登録されたバージョンが常に優先され、バージョン比較は行わない
type Registration struct {
	storage domain.CacheStorage
	fetcher domain.Fetcher
	metrics domain.MetricsCollector
	logger  domain.Logger

	mu         sync.RWMutex
	active     *CacheWorker
	waiting    *CacheWorker
	controller *CacheWorker
	workers    []*CacheWorker
	skip       map[*CacheWorker]bool
}

// NewRegistration は新しいRegistrationインスタンスを作成
func NewRegistration(
	storage domain.CacheStorage,
	fetcher domain.Fetcher,
	metrics domain.MetricsCollector,
	logger domain.Logger,
) *Registration {
	return &Registration{
		storage: storage,
		fetcher: fetcher,
		metrics: metrics,
		logger:  logger,
		skip:    make(map[*CacheWorker]bool),
	}
}

// Register は新しいワーカーを作成してインストールし、可能なら有効化する
// インストールに失敗した場合、ワーカーは破棄され既存のワーカーが制御を続ける
func (r *Registration) Register(ctx context.Context, config domain.WorkerConfig) (*CacheWorker, error) {
	scope := &workerScope{reg: r}
	w, err := NewCacheWorker(config, WorkerDeps{
		Storage: r.storage,
		Fetcher: r.fetcher,
		Scope:   scope,
		Metrics: r.metrics,
		Logger:  r.logger,
	})
	if err != nil {
		return nil, err
	}
	scope.worker = w

	r.mu.Lock()
	r.workers = append(r.workers, w)
	r.mu.Unlock()

	r.logger.Info("Registering worker", w.fields(map[string]interface{}{
		"manifest_size": len(config.Manifest),
	}))

	w.setState(domain.StateInstalling)
	if err := w.OnInstall(ctx); err != nil {
		w.setState(domain.StateRedundant)
		r.prune()
		r.logger.Error("Worker install failed", err, w.fields(nil))
		return nil, fmt.Errorf("install worker: %w", err)
	}
	w.setState(domain.StateInstalled)

	r.mu.Lock()
	previousWaiting := r.waiting
	r.waiting = w
	activateNow := r.active == nil || r.skip[w]
	r.mu.Unlock()

	if previousWaiting != nil && previousWaiting != w {
		previousWaiting.setState(domain.StateRedundant)
	}

	if activateNow {
		err = r.activate(ctx, w)
	}
	r.prune()
	return w, err
}

// ActivateWaiting は待機中のワーカーを有効化する
func (r *Registration) ActivateWaiting(ctx context.Context) error {
	r.mu.RLock()
	w := r.waiting
	r.mu.RUnlock()

	if w == nil {
		return errors.New("no waiting worker")
	}
	return r.activate(ctx, w)
}

func (r *Registration) activate(ctx context.Context, w *CacheWorker) error {
	r.mu.Lock()
	if r.waiting != w {
		r.mu.Unlock()
		return fmt.Errorf("worker %s is not waiting", w.ID())
	}
	previous := r.active
	r.waiting = nil
	r.active = w
	if r.controller == previous {
		// 破棄されたワーカーには制御させない
		r.controller = nil
	}
	delete(r.skip, w)
	r.mu.Unlock()

	if previous != nil {
		previous.setState(domain.StateRedundant)
	}

	w.setState(domain.StateActivating)
	err := w.OnActivate(ctx)
	// ホストは有効化の失敗に関わらずワーカーを有効にする
	w.setState(domain.StateActivated)
	if err != nil {
		r.logger.Error("Worker activation failed", err, w.fields(nil))
		return fmt.Errorf("activate worker: %w", err)
	}

	r.logger.Info("Worker activated", w.fields(nil))
	return nil
}

// Fetch はリクエストを制御中のワーカーに渡す
// 制御中のワーカーがない場合や処理されなかった場合はネットワークに直接送る
func (r *Registration) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	r.metrics.RecordRequest()

	ctrl := r.Controller()
	if ctrl != nil {
		resp, err := ctrl.OnFetch(ctx, req)
		if !errors.Is(err, domain.ErrNotIntercepted) {
			return resp, err
		}
	}

	r.metrics.RecordPassThrough()
	resp, err := r.fetcher.Fetch(ctx, req)
	if err != nil {
		r.metrics.RecordNetworkFetch(false)
		r.metrics.RecordError()
		return nil, err
	}
	r.metrics.RecordNetworkFetch(true)
	return resp, nil
}

// Active は有効なワーカーを返す
func (r *Registration) Active() *CacheWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting は待機中のワーカーを返す
func (r *Registration) Waiting() *CacheWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Controller はクライアントを制御しているワーカーを返す
func (r *Registration) Controller() *CacheWorker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controller
}

// Close はすべてのワーカーのバックグラウンド処理の完了を待つ
func (r *Registration) Close(ctx context.Context) error {
	r.mu.RLock()
	workers := append([]*CacheWorker(nil), r.workers...)
	r.mu.RUnlock()

	for _, w := range workers {
		if err := w.Wait(ctx); err != nil {
			return err
		}
	}
	r.prune()
	return nil
}

// prune は破棄済みでバックグラウンド処理も終わったワーカーを手放す
func (r *Registration) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.workers[:0]
	for _, w := range r.workers {
		if w.State() == domain.StateRedundant && w.tasks.pending() == 0 {
			delete(r.skip, w)
			continue
		}
		kept = append(kept, w)
	}
	clear(r.workers[len(kept):])
	r.workers = kept
}

// workerScope はワーカーからホストへの操作を実装する
type workerScope struct {
	reg    *Registration
	worker *CacheWorker
}

func (s *workerScope) SkipWaiting(context.Context) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	s.reg.skip[s.worker] = true
	return nil
}

func (s *workerScope) Claim(context.Context) error {
	s.reg.mu.Lock()
	defer s.reg.mu.Unlock()
	if s.reg.active != s.worker {
		return fmt.Errorf("worker %s is not active", s.worker.ID())
	}
	s.reg.controller = s.worker
	return nil
}
