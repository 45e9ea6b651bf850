package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"assetcache/internal/domain"
)

// File は configs/worker.yaml の内容を表す
type File struct {
	CacheName           string   `yaml:"cache_name"`
	Origin              string   `yaml:"origin"`
	OfflineFallback     string   `yaml:"offline_fallback"`
	PrecacheConcurrency int      `yaml:"precache_concurrency"`
	StrictEviction      bool     `yaml:"strict_eviction"`
	Manifest            []string `yaml:"manifest"`
}

// Default はゲームのアセット一覧を含むデフォルト設定を返す
func Default() *File {
	return &File{
		CacheName:           "busting-bias-v1",
		Origin:              "http://localhost:8000/",
		OfflineFallback:     "/index.html",
		PrecacheConcurrency: 1,
		Manifest: []string{
			"/",
			"/index.html",
			"/style.css",
			"/script.js",
			"/words.json",
			"/images/face1.png",
			"/images/face2.png",
			"/audio/correct.mp3",
			"/audio/wrong.mp3",
		},
	}
}

// Load は設定ファイルを読み込む. ファイルがない場合はデフォルト設定を書き出す
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return createDefault(path)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	f.prepare()
	return &f, nil
}

func createDefault(path string) (*File, error) {
	f := Default()
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write default config: %w", err)
	}
	return f, nil
}

// prepare は設定データを正規化する
func (f *File) prepare() {
	f.CacheName = strings.TrimSpace(f.CacheName)
	f.Origin = strings.TrimSpace(f.Origin)
	f.OfflineFallback = strings.TrimSpace(f.OfflineFallback)

	manifest := make([]string, 0, len(f.Manifest))
	for _, entry := range f.Manifest {
		if entry = strings.TrimSpace(entry); entry != "" {
			manifest = append(manifest, entry)
		}
	}
	f.Manifest = manifest
}

// WorkerConfig はワーカーの設定に変換する
func (f *File) WorkerConfig() (domain.WorkerConfig, error) {
	origin, err := url.Parse(f.Origin)
	if err != nil {
		return domain.WorkerConfig{}, fmt.Errorf("invalid origin %q: %w", f.Origin, err)
	}

	cfg := domain.WorkerConfig{
		CacheName:           f.CacheName,
		Origin:              origin,
		Manifest:            append([]string(nil), f.Manifest...),
		OfflineFallback:     f.OfflineFallback,
		PrecacheConcurrency: f.PrecacheConcurrency,
		StrictEviction:      f.StrictEviction,
	}
	if err := cfg.Validate(); err != nil {
		return domain.WorkerConfig{}, err
	}
	return cfg, nil
}
