package domain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// WorkerState はワーカーのライフサイクル状態を表す.
type WorkerState int

const (
	StateParsed WorkerState = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActivated
	StateRedundant
)

func (s WorkerState) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActivated:
		return "activated"
	case StateRedundant:
		return "redundant"
	default:
		return fmt.Sprintf("WorkerState(%d)", int(s))
	}
}

// LifecycleHandler はワーカーのライフサイクルイベントを処理するインターフェース.
type LifecycleHandler interface {
	OnInstall(ctx context.Context) error
	OnActivate(ctx context.Context) error
	OnFetch(ctx context.Context, req *Request) (*Response, error)
}

// Scope はワーカーからホストへの操作を表す.
type Scope interface {
	// SkipWaiting は待機状態を経ずに有効化するようホストに通知する.
	SkipWaiting(ctx context.Context) error
	// Claim は既に開いているクライアントの制御を取得する.
	Claim(ctx context.Context) error
}

// WorkerConfig はワーカーの設定を表す。ワーカーの生存期間中は変更されない.
type WorkerConfig struct {
	// CacheName は現在のバケット名。変更するとすべての古いバケットが無効になる.
	CacheName string
	// Origin はマニフェストのパスを解決する基準URL.
	Origin *url.URL
	// Manifest はインストール時に事前キャッシュするパスの一覧.
	Manifest []string
	// OfflineFallback はナビゲーションがオフラインの場合に返すドキュメント.
	OfflineFallback string
	// PrecacheConcurrency は事前キャッシュの同時実行数。0以下は1として扱う.
	PrecacheConcurrency int
	// StrictEviction が true の場合、古いバケットの削除失敗で有効化を失敗させる.
	StrictEviction bool
}

// Validate は設定を検証する.
func (c *WorkerConfig) Validate() error {
	if strings.TrimSpace(c.CacheName) == "" {
		return errors.New("cache name is required")
	}
	if c.Origin == nil || !c.Origin.IsAbs() {
		return errors.New("absolute origin url is required")
	}
	for _, entry := range c.Manifest {
		if strings.TrimSpace(entry) == "" {
			return errors.New("manifest contains an empty entry")
		}
	}
	return nil
}

// Resolve はパスをオリジンに対して解決する.
func (c *WorkerConfig) Resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return c.Origin.ResolveReference(ref).String(), nil
}
