package usecase

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"assetcache/internal/domain"
	"assetcache/internal/interface/repository/cache"
	"assetcache/internal/interface/repository/logger"
	"assetcache/internal/interface/repository/metrics"
)

const testOrigin = "http://game.test"

var errOffline = errors.New("dial tcp: network is unreachable")

type fakeResponse struct {
	status int
	body   string
}

// fakeFetcher はURLごとに決まったレスポンスを返すネットワークの代替
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	failing   map[string]bool
	offline   bool
	calls     []string
}

func newFakeFetcher(assets map[string]string) *fakeFetcher {
	f := &fakeFetcher{
		responses: make(map[string]fakeResponse),
		failing:   make(map[string]bool),
	}
	for path, body := range assets {
		f.responses[testOrigin+path] = fakeResponse{status: http.StatusOK, body: body}
	}
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, req *domain.Request) (*domain.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	u := req.CacheURL()
	f.calls = append(f.calls, u)
	if f.offline || f.failing[u] {
		return nil, &domain.FetchError{URL: u, Err: errOffline}
	}
	r, ok := f.responses[u]
	if !ok {
		return domain.NewResponse(http.StatusNotFound, nil, []byte("not found")), nil
	}
	resp := domain.NewResponse(r.status, http.Header{"Content-Type": {"text/plain"}}, []byte(r.body))
	resp.URL = u
	return resp, nil
}

func (f *fakeFetcher) setOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

func (f *fakeFetcher) fail(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[testOrigin+path] = true
}

func (f *fakeFetcher) respond(path string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[testOrigin+path] = fakeResponse{status: status, body: body}
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// faultyStorage は指定した操作を失敗させる
type faultyStorage struct {
	domain.CacheStorage
	openErr   error
	lookupErr error
	keysErr   error
	deleteErr map[string]error
}

func (s *faultyStorage) Open(ctx context.Context, name string) (domain.Bucket, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s.CacheStorage.Open(ctx, name)
}

func (s *faultyStorage) Lookup(ctx context.Context, name string) (domain.Bucket, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.CacheStorage.Lookup(ctx, name)
}

func (s *faultyStorage) Keys(ctx context.Context) ([]string, error) {
	if s.keysErr != nil {
		return nil, s.keysErr
	}
	return s.CacheStorage.Keys(ctx)
}

func (s *faultyStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := s.deleteErr[name]; err != nil {
		return false, err
	}
	return s.CacheStorage.Delete(ctx, name)
}

// gatedFetcher は指定したURLの取得を release が閉じられるまで止める
type gatedFetcher struct {
	*fakeFetcher
	url     string
	entered chan struct{}
	release chan struct{}
}

func newGatedFetcher(f *fakeFetcher, path string) *gatedFetcher {
	return &gatedFetcher{
		fakeFetcher: f,
		url:         testOrigin + path,
		entered:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
}

func (g *gatedFetcher) Fetch(ctx context.Context, req *domain.Request) (*domain.Response, error) {
	if req.CacheURL() == g.url {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		<-g.release
	}
	return g.fakeFetcher.Fetch(ctx, req)
}

// recordingScope は呼び出された操作を記録する
type recordingScope struct {
	mu      sync.Mutex
	skipped int
	claimed int
}

func (s *recordingScope) SkipWaiting(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
	return nil
}

func (s *recordingScope) Claim(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claimed++
	return nil
}

type testEnv struct {
	storage domain.CacheStorage
	fetcher *fakeFetcher
	scope   *recordingScope
	metrics *metrics.Repository
	logger  *logger.Repository
	logs    *observer.ObservedLogs
}

func newTestEnv(t *testing.T, assets map[string]string) *testEnv {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	return &testEnv{
		storage: cache.NewMemory(),
		fetcher: newFakeFetcher(assets),
		scope:   &recordingScope{},
		metrics: metrics.New(""),
		logger:  logger.NewWithZap(zap.New(core)),
		logs:    logs,
	}
}

func (e *testEnv) deps() WorkerDeps {
	return WorkerDeps{
		Storage: e.storage,
		Fetcher: e.fetcher,
		Scope:   e.scope,
		Metrics: e.metrics,
		Logger:  e.logger,
	}
}

func testConfig(t *testing.T, cacheName string, manifest ...string) domain.WorkerConfig {
	t.Helper()
	origin, err := url.Parse(testOrigin + "/")
	require.NoError(t, err)
	return domain.WorkerConfig{
		CacheName: cacheName,
		Origin:    origin,
		Manifest:  manifest,
	}
}

func (e *testEnv) newWorker(t *testing.T, cfg domain.WorkerConfig) *CacheWorker {
	t.Helper()
	w, err := NewCacheWorker(cfg, e.deps())
	require.NoError(t, err)
	return w
}

func (e *testEnv) bucketKeys(t *testing.T, name string) []string {
	t.Helper()
	b, err := e.storage.Open(context.Background(), name)
	require.NoError(t, err)
	keys, err := b.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func getKey(path string) string {
	return http.MethodGet + " " + testOrigin + path
}

func newTestRequest(t *testing.T, path string, mode domain.RequestMode) *domain.Request {
	t.Helper()
	req, err := domain.NewRequest(http.MethodGet, testOrigin+path, mode)
	require.NoError(t, err)
	return req
}
