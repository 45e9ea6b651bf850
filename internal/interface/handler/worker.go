package handler

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"assetcache/internal/domain"
	"assetcache/internal/interface/connection"
	"assetcache/internal/usecase"
)

// hopHeaders はワーカーに渡さない接続固有のヘッダー
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Proxy-Authorization",
	"Keep-Alive",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// conditionalHeaders は部分的な応答や本文のない応答を招くヘッダー
// ワーカーは常に完全なレスポンスを取得して保存する
var conditionalHeaders = []string{
	"If-None-Match",
	"If-Modified-Since",
	"If-Match",
	"If-Unmodified-Since",
	"If-Range",
	"Range",
}

// WorkerHandler はHTTPリクエストをワーカーのフェッチとして処理する
type WorkerHandler struct {
	registration *usecase.Registration
	tunnel       *usecase.TunnelUseCase
	conns        *connection.Manager
	origin       *url.URL
	logger       domain.Logger
}

// NewWorkerHandler は新しいWorkerHandlerインスタンスを作成
// origin はパスだけのリクエストを解決する既定のオリジン
func NewWorkerHandler(
	registration *usecase.Registration,
	tunnel *usecase.TunnelUseCase,
	conns *connection.Manager,
	origin *url.URL,
	logger domain.Logger,
) *WorkerHandler {
	return &WorkerHandler{
		registration: registration,
		tunnel:       tunnel,
		conns:        conns,
		origin:       origin,
		logger:       logger,
	}
}

func (h *WorkerHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		h.handleConnect(w, r)
		return
	}

	req, err := h.toRequest(r)
	if err != nil {
		h.logger.Info("Invalid request", map[string]interface{}{
			"method": r.Method,
			"url":    r.URL.String(),
			"error":  err.Error(),
		})
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp, err := h.registration.Fetch(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrNoMatch) {
			h.logger.Info("No response available", map[string]interface{}{
				"url":  req.CacheURL(),
				"mode": string(req.Mode),
			})
		} else {
			h.logger.Error("Fetch failed", err, map[string]interface{}{"url": req.CacheURL()})
		}
		http.Error(w, http.StatusText(status), status)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if resp.FromCache {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	w.WriteHeader(resp.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Warn("Failed to write response body", err, map[string]interface{}{"url": req.CacheURL()})
	}
}

// toRequest はHTTPリクエストをワーカーのリクエストに変換する
func (h *WorkerHandler) toRequest(r *http.Request) (*domain.Request, error) {
	target := r.URL
	if !target.IsAbs() {
		origin := h.currentOrigin()
		if origin == nil {
			return nil, errors.New("no origin configured for relative request")
		}
		target = origin.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
	}

	req, err := domain.NewRequest(r.Method, target.String(), requestMode(r))
	if err != nil {
		return nil, err
	}
	req.Header = r.Header.Clone()
	for _, name := range hopHeaders {
		req.Header.Del(name)
	}
	for _, name := range conditionalHeaders {
		req.Header.Del(name)
	}
	return req, nil
}

// currentOrigin は制御中のワーカーのオリジンを優先して返す
func (h *WorkerHandler) currentOrigin() *url.URL {
	if ctrl := h.registration.Controller(); ctrl != nil {
		return ctrl.Config().Origin
	}
	return h.origin
}

// requestMode はヘッダーからリクエストの種類を推定する
func requestMode(r *http.Request) domain.RequestMode {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		switch domain.RequestMode(strings.ToLower(mode)) {
		case domain.ModeNavigate:
			return domain.ModeNavigate
		case domain.ModeSameOrigin:
			return domain.ModeSameOrigin
		case domain.ModeCORS:
			return domain.ModeCORS
		default:
			return domain.ModeNoCORS
		}
	}
	if r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html") {
		return domain.ModeNavigate
	}
	return domain.ModeNoCORS
}

// handleConnect は CONNECT リクエストをそのままトンネルする
func (h *WorkerHandler) handleConnect(w http.ResponseWriter, r *http.Request) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		h.logger.Error("Hijacking not supported", nil, nil)
		http.Error(w, "Hijacking not supported", http.StatusInternalServerError)
		return
	}

	serverConn, err := h.tunnel.Dial(r.Context(), r.Host)
	if err != nil {
		h.logger.Error("Failed to connect to target", err, map[string]interface{}{"host": r.Host})
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}

	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		serverConn.Close()
		h.logger.Error("Hijacking failed", err, nil)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	release, err := h.conns.Track(r.Host, clientConn, serverConn)
	if err != nil {
		serverConn.Close()
		h.logger.Warn("Tunnel rejected", err, map[string]interface{}{"host": r.Host})
		clientConn.Write([]byte("HTTP/1.1 503 Service Unavailable\r\n\r\n"))
		return
	}
	defer release()

	// 重要: 200 Connection Established レスポンスを送信
	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		serverConn.Close()
		h.logger.Error("Failed to write connection established response", err, nil)
		return
	}

	if err := h.tunnel.HandleTunnel(r.Context(), clientConn, serverConn, r.Host); err != nil {
		h.logger.Error("Tunnel handling failed", err, map[string]interface{}{"host": r.Host})
	}
}
