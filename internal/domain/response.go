package domain

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response はワーカーが返すレスポンスを表す.
// Body は一度しか読めないため、保存する場合は Clone で複製する.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	URL        string
	FromCache  bool
	CreatedAt  time.Time
}

// NewResponse はバイト列から新しいResponseインスタンスを作成.
func NewResponse(statusCode int, header http.Header, body []byte) *Response {
	if header == nil {
		header = make(http.Header)
	}
	return &Response{
		StatusCode: statusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
		CreatedAt:  time.Now(),
	}
}

// OK はステータスが2xxかどうかを返す.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// Clone はレスポンスを複製する.
// 本文を一度だけバッファし、元のレスポンスと複製にそれぞれ独立したリーダーを設定する.
func (r *Response) Clone() (*Response, error) {
	data, err := r.ReadBody()
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))

	clone := *r
	clone.Header = r.Header.Clone()
	clone.Body = io.NopCloser(bytes.NewReader(bytes.Clone(data)))
	return &clone, nil
}

// ReadBody は本文をすべて読み込み、Body を閉じる.
func (r *Response) ReadBody() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return data, nil
}
