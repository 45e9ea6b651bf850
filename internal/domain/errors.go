package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotIntercepted はワーカーがリクエストを処理しなかったことを示す.
	ErrNotIntercepted = errors.New("request not intercepted")
	// ErrNoMatch はネットワークにもキャッシュにもレスポンスがないことを示す.
	ErrNoMatch = errors.New("no response available")
	// ErrCacheMiss はバケットに一致するエントリがないことを示す.
	ErrCacheMiss = errors.New("cache miss")
	// ErrBucketNotFound はバケットが存在しないことを示す.
	ErrBucketNotFound = errors.New("bucket not found")
)

// FetchError はネットワーク取得失敗エラー.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PrecacheError は事前キャッシュに失敗したアセットを表す.
type PrecacheError struct {
	URL string
	Err error
}

func (e *PrecacheError) Error() string {
	return fmt.Sprintf("precache %s: %v", e.URL, e.Err)
}

func (e *PrecacheError) Unwrap() error {
	return e.Err
}

// StatusError はHTTPステータスが成功でないことを示す.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
