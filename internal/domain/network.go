package domain

import "context"

// Fetcher はネットワーク取得のインターフェース.
// 接続失敗などの通信エラーのみをエラーとして返し、4xx/5xx はレスポンスとして返す.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc は関数を Fetcher として扱うためのアダプタ.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
