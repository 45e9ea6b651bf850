package usecase

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetcache/internal/domain"
)

type recordingSaver struct {
	mu        sync.Mutex
	snapshots []*domain.MetricsSnapshot
	err       error
}

func (s *recordingSaver) SaveMetrics(snapshot *domain.MetricsSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snapshot)
	return s.err
}

func (s *recordingSaver) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

func TestMetricsUseCasePeriodicSave(t *testing.T) {
	env := newTestEnv(t, nil)
	saver := &recordingSaver{}
	uc := NewMetricsUseCase(env.metrics, saver, env.logger, MetricsConfig{SaveInterval: 10 * time.Millisecond})

	env.metrics.RecordCacheHit()
	uc.Start()
	uc.Start()

	assert.Eventually(t, func() bool { return saver.count() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, uc.Stop())
	require.NoError(t, uc.Stop())

	saved := saver.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, saved, saver.count(), "no saves after stop")
	assert.Equal(t, int64(1), saver.snapshots[saved-1].CacheHits)
}

func TestMetricsUseCaseStopWithoutStart(t *testing.T) {
	env := newTestEnv(t, nil)
	saver := &recordingSaver{}
	uc := NewMetricsUseCase(env.metrics, saver, env.logger, MetricsConfig{})

	require.NoError(t, uc.Stop())
	assert.Equal(t, 1, saver.count())
}

func TestMetricsUseCaseSaveError(t *testing.T) {
	env := newTestEnv(t, nil)
	saver := &recordingSaver{err: errors.New("read-only filesystem")}
	uc := NewMetricsUseCase(env.metrics, saver, env.logger, MetricsConfig{})

	assert.Error(t, uc.Stop())
}

func TestMetricsUseCaseWithoutSaver(t *testing.T) {
	env := newTestEnv(t, nil)
	uc := NewMetricsUseCase(env.metrics, nil, env.logger, MetricsConfig{})

	env.metrics.RecordRequest()
	assert.Equal(t, int64(1), uc.GetMetricsSnapshot().TotalRequests)
	assert.NoError(t, uc.Stop())
}
