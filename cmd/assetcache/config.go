package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"assetcache/internal/interface/repository/logger"
)

const envPrefix = "ASSETCACHE_"

// config はサービスの設定. 環境変数を既定値とし、フラグで上書きする
type config struct {
	Port                int           `env:"PORT" envDefault:"10080"`
	MetricsPort         int           `env:"METRICS_PORT" envDefault:"10081"`
	ConfigDir           string        `env:"CONFIG_DIR" envDefault:"./configs"`
	LogDir              string        `env:"LOG_DIR" envDefault:"./logs"`
	CacheDir            string        `env:"CACHE_DIR" envDefault:"./cache"`
	Store               string        `env:"STORE" envDefault:"disk"`
	MaxCacheSize        int64         `env:"MAX_CACHE_SIZE" envDefault:"104857600"`
	MaxConnections      int           `env:"MAX_CONNECTIONS" envDefault:"1000"`
	LogLevel            string        `env:"LOG_LEVEL" envDefault:"INFO"`
	FetchTimeout        time.Duration `env:"FETCH_TIMEOUT" envDefault:"0s"`
	MetricsSaveInterval time.Duration `env:"METRICS_SAVE_INTERVAL" envDefault:"1m"`
}

// loadEnv は環境変数から設定を読み込む
func loadEnv() (*config, error) {
	cfg := &config{}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: envPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// bindFlags はフラグを登録する. 既定値は環境変数から読み込んだ値
func (c *config) bindFlags(fs *pflag.FlagSet) {
	fs.IntVar(&c.Port, "port", c.Port, "Worker server port")
	fs.IntVar(&c.MetricsPort, "metrics-port", c.MetricsPort, "Metrics server port")
	fs.StringVar(&c.ConfigDir, "config-dir", c.ConfigDir, "Configuration directory")
	fs.StringVar(&c.LogDir, "log-dir", c.LogDir, "Log directory (empty logs to stderr)")
	fs.StringVar(&c.CacheDir, "cache-dir", c.CacheDir, "Cache directory")
	fs.StringVar(&c.Store, "store", c.Store, "Bucket store: disk, sqlite or memory")
	fs.Int64Var(&c.MaxCacheSize, "max-cache-size", c.MaxCacheSize, "Maximum bucket size in bytes for the disk store (0 = unlimited)")
	fs.IntVar(&c.MaxConnections, "max-connections", c.MaxConnections, "Maximum number of concurrent CONNECT tunnels (0 = unlimited)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: DEBUG, INFO, WARN or ERROR")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", c.FetchTimeout, "Network fetch timeout (0 = none)")
	fs.DurationVar(&c.MetricsSaveInterval, "metrics-save-interval", c.MetricsSaveInterval, "Metrics save interval")
}

// validate は設定値を検証する
func (c *config) validate() error {
	switch c.Store {
	case storeDisk, storeSQLite, storeMemory:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.MaxCacheSize < 0 {
		return fmt.Errorf("max cache size must not be negative")
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch timeout must not be negative")
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// workerConfigPath はワーカー設定ファイルのパスを返す
func (c *config) workerConfigPath() string {
	return filepath.Join(c.ConfigDir, "worker.yaml")
}

// prepareDirectories は必要なディレクトリを作成する
func (c *config) prepareDirectories() error {
	dirs := []string{c.ConfigDir, c.CacheDir}
	if c.LogDir != "" {
		dirs = append(dirs, c.LogDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// newLogger はログディレクトリが設定されていればファイル、なければ標準エラー出力へのロガーを作成
func (c *config) newLogger(filename string) (*logger.Repository, error) {
	level, err := logger.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	if c.LogDir == "" {
		return logger.NewConsole(level), nil
	}
	return logger.New(c.LogDir, filename, logger.DefaultRotationConfig(), level)
}
