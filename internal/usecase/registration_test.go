package usecase

import (
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetcache/internal/domain"
)

func newTestRegistration(env *testEnv) *Registration {
	return NewRegistration(env.storage, env.fetcher, env.metrics, env.logger)
}

func TestRegisterFirstWorkerTakesControl(t *testing.T) {
	env := newTestEnv(t, map[string]string{"/index.html": "<html>"})
	reg := newTestRegistration(env)
	ctx := context.Background()

	assert.Nil(t, reg.Controller())

	w, err := reg.Register(ctx, testConfig(t, "busting-bias-v1", "/index.html"))
	require.NoError(t, err)
	assert.Equal(t, domain.StateActivated, w.State())
	assert.Same(t, w, reg.Active())
	assert.Same(t, w, reg.Controller())
	assert.Nil(t, reg.Waiting())
	require.NoError(t, reg.Close(ctx))
}

func TestRegisterNewVersionReplacesOld(t *testing.T) {
	env := newTestEnv(t, map[string]string{"/index.html": "<html>", "/script.js": "v2"})
	reg := newTestRegistration(env)
	ctx := context.Background()

	v1, err := reg.Register(ctx, testConfig(t, "v1", "/index.html"))
	require.NoError(t, err)

	v2, err := reg.Register(ctx, testConfig(t, "v2", "/index.html", "/script.js"))
	require.NoError(t, err)

	assert.Equal(t, domain.StateRedundant, v1.State())
	assert.Equal(t, domain.StateActivated, v2.State())
	assert.Same(t, v2, reg.Controller())

	names, err := env.storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)
}

func TestRegisterInstallFailureKeepsPreviousWorker(t *testing.T) {
	env := newTestEnv(t, map[string]string{"/index.html": "<html>"})
	faulty := &faultyStorage{CacheStorage: env.storage}
	env.storage = faulty
	reg := newTestRegistration(env)
	ctx := context.Background()

	v1, err := reg.Register(ctx, testConfig(t, "v1", "/index.html"))
	require.NoError(t, err)

	faulty.openErr = errors.New("quota exceeded")
	v2, err := reg.Register(ctx, testConfig(t, "v2", "/index.html"))
	require.Error(t, err)
	assert.Nil(t, v2)

	assert.Same(t, v1, reg.Active())
	assert.Same(t, v1, reg.Controller())
	assert.Equal(t, domain.StateActivated, v1.State())
	assert.Equal(t, 1, env.logs.FilterMessage("Worker install failed").Len())
}

func TestRegisterInvalidConfig(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := newTestRegistration(env)

	_, err := reg.Register(context.Background(), domain.WorkerConfig{CacheName: "v1"})
	assert.Error(t, err)
	assert.Nil(t, reg.Active())
}

func TestRegisterActivationFailureStillActivates(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	_, err := env.storage.Open(ctx, "v0")
	require.NoError(t, err)
	env.storage = &faultyStorage{
		CacheStorage: env.storage,
		deleteErr:    map[string]error{"v0": errors.New("locked")},
	}
	reg := newTestRegistration(env)

	cfg := testConfig(t, "v1")
	cfg.StrictEviction = true
	w, err := reg.Register(ctx, cfg)
	require.Error(t, err)
	require.NotNil(t, w)
	assert.Equal(t, domain.StateActivated, w.State())
	assert.Same(t, w, reg.Active())
	// クライアントの制御は取得できていない
	assert.Nil(t, reg.Controller())
}

func TestRegistrationFetchRouting(t *testing.T) {
	env := newTestEnv(t, map[string]string{"/words.json": "[]"})
	reg := newTestRegistration(env)
	ctx := context.Background()

	t.Run("pass through without controller", func(t *testing.T) {
		resp, err := reg.Fetch(ctx, newTestRequest(t, "/words.json", domain.ModeNoCORS))
		require.NoError(t, err)
		assert.False(t, resp.FromCache)
		assert.Equal(t, int64(1), env.metrics.GetSnapshot().PassThroughs)
	})

	_, err := reg.Register(ctx, testConfig(t, "v1", "/words.json"))
	require.NoError(t, err)

	t.Run("controller answers from cache", func(t *testing.T) {
		env.fetcher.setOffline(true)
		defer env.fetcher.setOffline(false)

		resp, err := reg.Fetch(ctx, newTestRequest(t, "/words.json", domain.ModeNoCORS))
		require.NoError(t, err)
		assert.True(t, resp.FromCache)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "[]", string(body))
	})

	t.Run("non-http scheme passes through", func(t *testing.T) {
		req, err := domain.NewRequest(http.MethodGet, "data:text/plain,hello", domain.ModeNoCORS)
		require.NoError(t, err)

		before := env.metrics.GetSnapshot().PassThroughs
		_, _ = reg.Fetch(ctx, req)
		assert.Equal(t, before+1, env.metrics.GetSnapshot().PassThroughs)
	})

	t.Run("no match surfaces as error", func(t *testing.T) {
		env.fetcher.setOffline(true)
		defer env.fetcher.setOffline(false)

		_, err := reg.Fetch(ctx, newTestRequest(t, "/missing.png", domain.ModeNoCORS))
		assert.ErrorIs(t, err, domain.ErrNoMatch)
	})

	require.NoError(t, reg.Close(ctx))
}

func TestActivateWaitingWithoutWorker(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := newTestRegistration(env)

	assert.Error(t, reg.ActivateWaiting(context.Background()))
}

func TestWorkerScopeClaimRequiresActive(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := newTestRegistration(env)
	w := env.newWorker(t, testConfig(t, "v1"))

	scope := &workerScope{reg: reg, worker: w}
	assert.Error(t, scope.Claim(context.Background()))
	require.NoError(t, scope.SkipWaiting(context.Background()))
	assert.True(t, reg.skip[w])
}

func TestReplacedControllerIsReleased(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	faulty := &faultyStorage{CacheStorage: env.storage, deleteErr: map[string]error{}}
	env.storage = faulty
	reg := newTestRegistration(env)

	v1, err := reg.Register(ctx, testConfig(t, "v1"))
	require.NoError(t, err)
	require.Same(t, v1, reg.Controller())

	faulty.deleteErr["v1"] = errors.New("locked")
	cfg := testConfig(t, "v2")
	cfg.StrictEviction = true
	v2, err := reg.Register(ctx, cfg)
	require.Error(t, err)

	assert.Equal(t, domain.StateRedundant, v1.State())
	assert.Same(t, v2, reg.Active())
	assert.Nil(t, reg.Controller(), "a redundant worker must not keep control")
}

func TestInFlightFetchDoesNotRestoreStaleBucket(t *testing.T) {
	env := newTestEnv(t, map[string]string{"/images/face3.png": "png"})
	gated := newGatedFetcher(env.fetcher, "/images/face3.png")
	reg := NewRegistration(env.storage, gated, env.metrics, env.logger)
	ctx := context.Background()

	v1, err := reg.Register(ctx, testConfig(t, "v1"))
	require.NoError(t, err)

	req := newTestRequest(t, "/images/face3.png", domain.ModeNoCORS)
	done := make(chan error, 1)
	go func() {
		resp, err := reg.Fetch(ctx, req)
		if err == nil {
			_, err = io.ReadAll(resp.Body)
		}
		done <- err
	}()
	<-gated.entered

	_, err = reg.Register(ctx, testConfig(t, "v2"))
	require.NoError(t, err)
	names, err := env.storage.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"v2"}, names)

	close(gated.release)
	require.NoError(t, <-done)
	require.NoError(t, v1.Wait(ctx))
	require.NoError(t, reg.Close(ctx))

	names, err = env.storage.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v2"}, names)
	assert.Zero(t, env.metrics.GetSnapshot().StoreFailures)
}

func TestRedundantWorkersArePruned(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := newTestRegistration(env)
	ctx := context.Background()

	v1, err := reg.Register(ctx, testConfig(t, "v1"))
	require.NoError(t, err)

	release := make(chan struct{})
	v1.tasks.Go(ctx, func(context.Context) { <-release })

	_, err = reg.Register(ctx, testConfig(t, "v2"))
	require.NoError(t, err)
	v3, err := reg.Register(ctx, testConfig(t, "v3"))
	require.NoError(t, err)

	// 処理中のワーカーは完了を待てるように残す
	reg.mu.RLock()
	assert.Equal(t, []*CacheWorker{v1, v3}, reg.workers)
	reg.mu.RUnlock()

	close(release)
	require.NoError(t, reg.Close(ctx))

	reg.mu.RLock()
	defer reg.mu.RUnlock()
	assert.Equal(t, []*CacheWorker{v3}, reg.workers)
	assert.Empty(t, reg.skip)
}
