package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"assetcache/internal/domain"
)

// ChangeFunc は設定ファイルが変更されたときに呼ばれる
type ChangeFunc func(ctx context.Context, f *File)

// Watcher は設定ファイルの変更を監視し、読み込み直した設定を通知する
// エディタの連続保存をまとめるため、最後のイベントから debounce 経過後に1回だけ通知する
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange ChangeFunc
	logger   domain.Logger
	debounce time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher は新しいWatcherインスタンスを作成
func NewWatcher(path string, logger domain.Logger, onChange ChangeFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		watcher:  fw,
		onChange: onChange,
		logger:   logger,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// SetDebounce は通知までの待ち時間を変更する. Start の前に呼ぶ
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Start は監視を開始する. ブロックしない
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	// ファイルの置き換えを検出するためディレクトリを監視する
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	w.running = true

	w.logger.Info("Watching worker config", map[string]interface{}{"path": w.path})
	go w.run(ctx)
	return nil
}

// Stop は監視を停止し、イベントループの終了を待つ
func (w *Watcher) Stop() error {
	w.mu.Lock()
	running := w.running
	w.running = false
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.debounce)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Config watcher error", err, map[string]interface{}{"path": w.path})

		case <-timer.C:
			w.reload(ctx)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	f, err := Load(w.path)
	if err != nil {
		w.logger.Error("Failed to reload worker config", err, map[string]interface{}{"path": w.path})
		return
	}
	w.logger.Info("Worker config changed", map[string]interface{}{
		"path":       w.path,
		"cache_name": f.CacheName,
	})
	w.onChange(ctx, f)
}
