package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"assetcache/internal/domain"
	"assetcache/internal/interface/connection"
	"assetcache/internal/interface/handler"
	workerconfig "assetcache/internal/interface/repository/config"
	"assetcache/internal/interface/repository/metrics"
	"assetcache/internal/interface/repository/network"
	"assetcache/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caching worker behind a local HTTP front",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cfg)
	},
}

func runServe(ctx context.Context, cfg *config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// ディレクトリの準備
	if err := cfg.prepareDirectories(); err != nil {
		return err
	}

	// ロガーの初期化
	loggerRepo, err := cfg.newLogger("assetcache.log")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer loggerRepo.Close()

	// バケットストアの初期化
	storage, closeStorage, err := openStorage(cfg)
	if err != nil {
		loggerRepo.Error("Failed to initialize bucket store", err, nil)
		return err
	}
	defer closeStorage()

	// メトリクスの初期化
	metricsFile := ""
	if cfg.LogDir != "" {
		metricsFile = filepath.Join(cfg.LogDir, "metrics.json")
	}
	metricsCollector := metrics.New(metricsFile)

	fetcher := network.New(cfg.FetchTimeout)
	defer fetcher.CloseIdleConnections()

	registration := usecase.NewRegistration(storage, fetcher, metricsCollector, loggerRepo)

	// ワーカー設定の読み込みと登録
	workerFile, err := workerconfig.Load(cfg.workerConfigPath())
	if err != nil {
		loggerRepo.Error("Failed to load worker config", err, map[string]interface{}{
			"path": cfg.workerConfigPath(),
		})
		return err
	}
	workerConfig, err := workerFile.WorkerConfig()
	if err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}
	if _, err := registration.Register(ctx, workerConfig); err != nil {
		// 有効化の失敗ではワーカーは有効なまま
		if registration.Active() == nil {
			return err
		}
		loggerRepo.Warn("Worker registered with errors", err, nil)
	}

	// 設定ファイルの変更でキャッシュ名が変わったら新しいバージョンを登録
	watcher, err := workerconfig.NewWatcher(cfg.workerConfigPath(), loggerRepo, func(ctx context.Context, f *workerconfig.File) {
		reregister(ctx, registration, f, loggerRepo)
	})
	if err != nil {
		return err
	}

	var saver usecase.MetricsSaver
	if metricsFile != "" {
		saver = metricsCollector
	}
	metricsUseCase := usecase.NewMetricsUseCase(
		metricsCollector,
		saver,
		loggerRepo,
		usecase.MetricsConfig{SaveInterval: cfg.MetricsSaveInterval},
	)

	// ハンドラーの作成
	conns := connection.NewManager(cfg.MaxConnections)
	workerHandler := handler.NewWorkerHandler(
		registration,
		usecase.NewTunnelUseCase(metricsCollector, loggerRepo),
		conns,
		workerConfig.Origin,
		loggerRepo,
	)
	metricsHandler := handler.NewMetricsHandler(metricsUseCase, registration, metricsCollector.Registry(), loggerRepo)

	workerServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           workerHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// シャットダウンハンドラの設定
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := watcher.Start(ctx); err != nil {
		loggerRepo.Warn("Config watching disabled", err, nil)
	}
	metricsUseCase.Start()

	// サーバーの起動
	serverErr := make(chan error, 2)
	go func() {
		loggerRepo.Info("Starting worker server", map[string]interface{}{"port": cfg.Port})
		if err := workerServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			loggerRepo.Error("Worker server error", err, nil)
			serverErr <- err
		}
	}()
	go func() {
		loggerRepo.Info("Starting metrics server", map[string]interface{}{"port": cfg.MetricsPort})
		if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			loggerRepo.Error("Metrics server error", err, nil)
			serverErr <- err
		}
	}()

	// シグナル待機
	var runErr error
	select {
	case <-ctx.Done():
		loggerRepo.Info("Shutdown signal received", nil)
	case runErr = <-serverErr:
		loggerRepo.Info("Shutdown initiated", nil)
	}

	// グレースフルシャットダウン
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := workerServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down worker server", err, nil)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down metrics server", err, nil)
	}
	if err := conns.CloseAll(); err != nil {
		loggerRepo.Error("Error closing tunnels", err, nil)
	}
	if err := watcher.Stop(); err != nil {
		loggerRepo.Error("Error stopping config watcher", err, nil)
	}

	// 未完了のバックグラウンド保存を待つ
	if err := registration.Close(shutdownCtx); err != nil {
		loggerRepo.Error("Pending stores did not finish", err, nil)
	}
	if err := metricsUseCase.Stop(); err != nil {
		loggerRepo.Error("Failed to save final metrics", err, nil)
	}

	loggerRepo.Info("Shutdown complete", nil)
	return runErr
}

// reregister は新しいキャッシュ名の設定でワーカーを登録し直す
func reregister(ctx context.Context, registration *usecase.Registration, f *workerconfig.File, log domain.Logger) {
	if active := registration.Active(); active != nil && active.CacheName() == f.CacheName {
		log.Info("Cache name unchanged, keeping current worker", map[string]interface{}{
			"cache_name": f.CacheName,
		})
		return
	}

	workerConfig, err := f.WorkerConfig()
	if err != nil {
		log.Warn("Ignoring invalid worker config", err, nil)
		return
	}
	if _, err := registration.Register(ctx, workerConfig); err != nil {
		log.Warn("Failed to register new worker version", err, map[string]interface{}{
			"cache_name": f.CacheName,
		})
	}
}
