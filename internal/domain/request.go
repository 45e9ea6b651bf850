package domain

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// RequestMode はリクエストの種類を表す.
type RequestMode string

const (
	ModeNavigate   RequestMode = "navigate"
	ModeSameOrigin RequestMode = "same-origin"
	ModeNoCORS     RequestMode = "no-cors"
	ModeCORS       RequestMode = "cors"
)

// Request はワーカーが受け取るリクエストを表す.
type Request struct {
	Method string
	URL    *url.URL
	Mode   RequestMode
	Header http.Header
}

// NewRequest は新しいRequestインスタンスを作成.
func NewRequest(method, rawURL string, mode RequestMode) (*Request, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid request url %q: %w", rawURL, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("request url %q is not absolute", rawURL)
	}
	if method == "" {
		method = http.MethodGet
	}
	if mode == "" {
		mode = ModeNoCORS
	}
	return &Request{
		Method: strings.ToUpper(method),
		URL:    u,
		Mode:   mode,
		Header: make(http.Header),
	}, nil
}

// IsNavigation はトップレベルのドキュメント読み込みかどうかを返す.
func (r *Request) IsNavigation() bool {
	return r.Mode == ModeNavigate
}

// IsHTTP はスキームがhttpまたはhttpsかどうかを返す.
func (r *Request) IsHTTP() bool {
	if r.URL == nil {
		return false
	}
	scheme := strings.ToLower(r.URL.Scheme)
	return scheme == "http" || scheme == "https"
}

// Key はバケット内でリクエストを識別するキーを返す.
// フラグメントはキーに含めない.
func (r *Request) Key() string {
	return r.Method + " " + r.CacheURL()
}

// CacheURL はフラグメントを除いたURLを返す.
func (r *Request) CacheURL() string {
	if r.URL == nil {
		return ""
	}
	u := *r.URL
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

func (r *Request) String() string {
	return r.Method + " " + r.CacheURL() + " (" + string(r.Mode) + ")"
}
