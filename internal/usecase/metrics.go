package usecase

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"assetcache/internal/domain"
)

// MetricsUseCase はメトリクス関連のユースケースを実装
type MetricsUseCase struct {
	metrics      domain.MetricsCollector
	logger       domain.Logger
	saver        MetricsSaver
	saveInterval time.Duration
	done         chan struct{}
	stopOnce     sync.Once
	started      atomic.Bool
	stopped      chan struct{}
}

// MetricsSaver はスナップショットを永続化する
type MetricsSaver interface {
	SaveMetrics(*domain.MetricsSnapshot) error
}

// MetricsConfig はメトリクスの設定を表す
type MetricsConfig struct {
	SaveInterval time.Duration
}

// NewMetricsUseCase は新しいMetricsUseCaseインスタンスを作成
// saver が nil の場合は定期保存を行わない
func NewMetricsUseCase(
	metrics domain.MetricsCollector, saver MetricsSaver, logger domain.Logger, config MetricsConfig,
) *MetricsUseCase {
	if config.SaveInterval == 0 {
		config.SaveInterval = 1 * time.Minute
	}

	return &MetricsUseCase{
		metrics:      metrics,
		logger:       logger,
		saver:        saver,
		saveInterval: config.SaveInterval,
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
}

// Start はメトリクスの定期保存を開始
func (uc *MetricsUseCase) Start() {
	uc.logger.Info("Starting metrics collection", map[string]interface{}{
		"save_interval": uc.saveInterval.String(),
	})
	if uc.started.CompareAndSwap(false, true) {
		go uc.startPeriodicSave()
	}
}

// Stop はメトリクス収集を停止し、最後のスナップショットを保存
func (uc *MetricsUseCase) Stop() error {
	var err error
	uc.stopOnce.Do(func() {
		uc.logger.Info("Stopping metrics collection", nil)
		close(uc.done)
		if uc.started.Load() {
			<-uc.stopped
		}
		err = uc.saveMetrics()
	})
	return err
}

// startPeriodicSave は定期的なメトリクス保存を開始
func (uc *MetricsUseCase) startPeriodicSave() {
	defer close(uc.stopped)

	ticker := time.NewTicker(uc.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := uc.saveMetrics(); err != nil {
				uc.logger.Error("Failed to save metrics", err, nil)
			}
		case <-uc.done:
			return
		}
	}
}

// saveMetrics は現在のメトリクスを保存
func (uc *MetricsUseCase) saveMetrics() error {
	if uc.saver == nil {
		return nil
	}
	if err := uc.saver.SaveMetrics(uc.GetMetricsSnapshot()); err != nil {
		return fmt.Errorf("failed to save metrics snapshot: %w", err)
	}
	return nil
}

// GetMetricsSnapshot は現在のメトリクスのスナップショットを取得
func (uc *MetricsUseCase) GetMetricsSnapshot() *domain.MetricsSnapshot {
	return uc.metrics.GetSnapshot()
}
