package network

import (
	"context"
	"net/http"
	"time"

	"assetcache/internal/domain"
)

// Fetcher はHTTPクライアントによるネットワーク取得の実装
type Fetcher struct {
	client *http.Client
}

// Verify interface implementation
var _ domain.Fetcher = (*Fetcher)(nil)

// New は新しいFetcherインスタンスを作成
// timeout が 0 の場合はタイムアウトを設定しない
func New(timeout time.Duration) *Fetcher {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 16
	transport.IdleConnTimeout = 90 * time.Second

	return &Fetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// NewWithClient は指定したクライアントを使うFetcherを作成
func NewWithClient(client *http.Client) *Fetcher {
	return &Fetcher{client: client}
}

// Fetch はリクエストを一度だけ送信する. リトライは行わない
func (f *Fetcher) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, &domain.FetchError{URL: req.URL.String(), Err: err}
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &domain.FetchError{URL: req.URL.String(), Err: err}
	}

	return &domain.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
		URL:        resp.Request.URL.String(),
		CreatedAt:  time.Now(),
	}, nil
}

// CloseIdleConnections はアイドル状態の接続を閉じる
func (f *Fetcher) CloseIdleConnections() {
	f.client.CloseIdleConnections()
}
