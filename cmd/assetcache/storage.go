package main

import (
	"fmt"
	"path/filepath"

	"assetcache/internal/domain"
	"assetcache/internal/interface/repository/cache"
	"assetcache/internal/interface/repository/cache/sqlite"
)

const (
	storeDisk   = "disk"
	storeSQLite = "sqlite"
	storeMemory = "memory"
)

// openStorage は設定に応じたバケットストアを開く
// 返される関数でストアを閉じる
func openStorage(cfg *config) (domain.CacheStorage, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case storeDisk:
		repo, err := cache.New(cfg.CacheDir, cfg.MaxCacheSize)
		if err != nil {
			return nil, nil, fmt.Errorf("open disk store: %w", err)
		}
		return repo, noop, nil
	case storeSQLite:
		store, err := sqlite.Open(filepath.Join(cfg.CacheDir, "buckets.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, store.Close, nil
	case storeMemory:
		return cache.NewMemory(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
