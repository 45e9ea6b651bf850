package domain

import "context"

// CacheStorage はバケットの集合を管理するインターフェース.
type CacheStorage interface {
	// Open は指定された名前のバケットを開く。存在しない場合は作成する.
	Open(ctx context.Context, name string) (Bucket, error)
	// Lookup は既存のバケットを開く。存在しない場合は ErrBucketNotFound.
	Lookup(ctx context.Context, name string) (Bucket, error)
	Has(ctx context.Context, name string) (bool, error)
	// Keys は作成順にバケット名を返す.
	Keys(ctx context.Context) ([]string, error)
	// Delete はバケットを削除し、存在していたかどうかを返す.
	Delete(ctx context.Context, name string) (bool, error)
}

// Bucket はリクエストをキーとしてレスポンスを保持する永続ストア.
type Bucket interface {
	Name() string
	// Match は一致するレスポンスを返す。見つからない場合は ErrCacheMiss.
	Match(ctx context.Context, req *Request) (*Response, error)
	// Put はレスポンスの本文を読み込んで保存する。同じキーは上書きされる.
	// バケットが削除済みの場合は ErrBucketNotFound.
	Put(ctx context.Context, req *Request, resp *Response) error
	Delete(ctx context.Context, req *Request) (bool, error)
	Keys(ctx context.Context) ([]string, error)
}
