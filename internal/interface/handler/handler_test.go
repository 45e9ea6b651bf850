package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"assetcache/internal/domain"
	"assetcache/internal/interface/connection"
	"assetcache/internal/interface/repository/cache"
	"assetcache/internal/interface/repository/logger"
	"assetcache/internal/interface/repository/metrics"
	"assetcache/internal/interface/repository/network"
	"assetcache/internal/usecase"
)

type fixture struct {
	origin       *httptest.Server
	originURL    *url.URL
	originHits   *atomic.Int64
	metrics      *metrics.Repository
	registration *usecase.Registration
	conns        *connection.Manager
	server       *httptest.Server
	stats        *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	hits := &atomic.Int64{}
	assets := map[string]string{
		"/index.html": "<html>busting bias</html>",
		"/style.css":  "body{}",
		"/script.js":  "start()",
	}
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, ok := assets[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		if r.Header.Get("Range") != "" {
			w.Header().Set("Content-Range", "bytes 0-0/"+strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusPartialContent)
			io.WriteString(w, body[:1])
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, body)
	}))
	t.Cleanup(origin.Close)

	originURL, err := url.Parse(origin.URL + "/")
	require.NoError(t, err)

	log := logger.NewWithZap(zap.NewNop())
	m := metrics.New("")
	fetcher := network.New(5 * time.Second)
	reg := usecase.NewRegistration(cache.NewMemory(), fetcher, m, log)
	metricsUseCase := usecase.NewMetricsUseCase(m, nil, log, usecase.MetricsConfig{})

	conns := connection.NewManager(1)
	server := httptest.NewServer(NewWorkerHandler(reg, usecase.NewTunnelUseCase(m, log), conns, originURL, log))
	t.Cleanup(server.Close)
	stats := httptest.NewServer(NewMetricsHandler(metricsUseCase, reg, m.Registry(), log).Routes())
	t.Cleanup(stats.Close)

	return &fixture{
		origin:       origin,
		originURL:    originURL,
		originHits:   hits,
		metrics:      m,
		registration: reg,
		conns:        conns,
		server:       server,
		stats:        stats,
	}
}

func (f *fixture) register(t *testing.T, manifest ...string) {
	t.Helper()
	_, err := f.registration.Register(context.Background(), domain.WorkerConfig{
		CacheName:       "busting-bias-v1",
		Origin:          f.originURL,
		Manifest:        manifest,
		OfflineFallback: "/index.html",
	})
	require.NoError(t, err)
}

func (f *fixture) get(t *testing.T, path string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestWorkerHandlerStoresFullResponseForConditionalRequests(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
	}{
		{name: "if-none-match", header: http.Header{"If-None-Match": {`"v1"`}}},
		{name: "if-modified-since", header: http.Header{"If-Modified-Since": {"Mon, 19 Oct 2026 00:00:00 GMT"}}},
		{name: "range", header: http.Header{"Range": {"bytes=0-0"}, "If-Range": {`"v1"`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.register(t)

			resp, body := f.get(t, "/style.css", tt.header)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "body{}", body)
			require.NoError(t, f.registration.Close(context.Background()))

			hits := f.originHits.Load()
			resp, body = f.get(t, "/style.css", nil)
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
			assert.Equal(t, "body{}", body)
			assert.Equal(t, hits, f.originHits.Load())
		})
	}
}

func TestWorkerHandlerPassThroughWithoutController(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/script.js", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "start()", body)
	assert.Equal(t, "MISS", resp.Header.Get("X-Cache"))
	assert.Equal(t, int64(1), f.metrics.GetSnapshot().PassThroughs)
}

func TestWorkerHandlerServesPrecachedAssets(t *testing.T) {
	f := newFixture(t)
	f.register(t, "/index.html", "/style.css")
	before := f.originHits.Load()

	resp, body := f.get(t, "/style.css", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "body{}", body)
	assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	assert.Equal(t, before, f.originHits.Load())
}

func TestWorkerHandlerOffline(t *testing.T) {
	f := newFixture(t)
	f.register(t, "/index.html", "/style.css")
	f.origin.Close()

	t.Run("navigation falls back to cache", func(t *testing.T) {
		resp, body := f.get(t, "/index.html", http.Header{"Sec-Fetch-Mode": {"navigate"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "<html>busting bias</html>", body)
		assert.Equal(t, "HIT", resp.Header.Get("X-Cache"))
	})

	t.Run("unknown navigation gets offline document", func(t *testing.T) {
		resp, body := f.get(t, "/results", http.Header{"Accept": {"text/html,application/xhtml+xml"}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "<html>busting bias</html>", body)
	})

	t.Run("uncached asset is a bad gateway", func(t *testing.T) {
		resp, _ := f.get(t, "/images/face9.png", nil)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	})
}

func TestRequestMode(t *testing.T) {
	testCases := []struct {
		name   string
		method string
		header http.Header
		want   domain.RequestMode
	}{
		{"fetch metadata navigate", http.MethodGet, http.Header{"Sec-Fetch-Mode": {"navigate"}}, domain.ModeNavigate},
		{"fetch metadata cors", http.MethodGet, http.Header{"Sec-Fetch-Mode": {"cors"}, "Accept": {"text/html"}}, domain.ModeCORS},
		{"fetch metadata unknown", http.MethodGet, http.Header{"Sec-Fetch-Mode": {"websocket"}}, domain.ModeNoCORS},
		{"html accept", http.MethodGet, http.Header{"Accept": {"text/html"}}, domain.ModeNavigate},
		{"html accept on post", http.MethodPost, http.Header{"Accept": {"text/html"}}, domain.ModeNoCORS},
		{"image", http.MethodGet, http.Header{"Accept": {"image/png"}}, domain.ModeNoCORS},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(tc.method, "/", nil)
			r.Header = tc.header
			assert.Equal(t, tc.want, requestMode(r))
		})
	}
}

func TestWorkerHandlerConnectTunnel(t *testing.T) {
	f := newFixture(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(conn, conn)
	}()

	conn, err := net.Dial("tcp", strings.TrimPrefix(f.server.URL, "http://"))
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	target := ln.Addr().String()
	_, err = io.WriteString(conn, "CONNECT "+target+" HTTP/1.1\r\nHost: "+target+"\r\n\r\n")
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	status, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, status, "200 Connection Established")
	_, err = reader.ReadString('\n')
	require.NoError(t, err)

	_, err = io.WriteString(conn, "hello")
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(reader, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, 1, f.conns.Count())

	// 上限を超えるトンネルは拒否される
	second, err := net.Dial("tcp", strings.TrimPrefix(f.server.URL, "http://"))
	require.NoError(t, err)
	defer second.Close()
	require.NoError(t, second.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(second, "CONNECT "+target+" HTTP/1.1\r\nHost: "+target+"\r\n\r\n")
	require.NoError(t, err)
	status, err = bufio.NewReader(second).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, status, "503")
}

func TestMetricsHandler(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.stats.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	f.register(t, "/index.html")
	f.get(t, "/index.html", nil)

	resp, err = http.Get(f.stats.URL + "/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "busting-bias-v1", health["cache"])
	assert.Equal(t, "activated", health["state"])

	resp, err = http.Get(f.stats.URL + "/stats")
	require.NoError(t, err)
	var stats map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	resp.Body.Close()
	assert.EqualValues(t, 1, stats["total_requests"])
	assert.EqualValues(t, 1, stats["cache_hits"])
	assert.Contains(t, stats, "hit_ratio")

	resp, err = http.Get(f.stats.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "assetcache_requests_total 1")
	assert.Contains(t, string(body), `assetcache_cache_lookups_total{result="hit"} 1`)
}
