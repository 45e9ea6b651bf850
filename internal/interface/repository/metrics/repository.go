package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"assetcache/internal/domain"
)

const namespace = "assetcache"

// Repository はメトリクスのリポジトリ実装
// Prometheus のコレクタと JSON スナップショット用のカウンタを同時に更新する
type Repository struct {
	metricsFile string
	startTime   time.Time
	registry    *prometheus.Registry

	connections       atomic.Int64
	requests          atomic.Int64
	bytes             atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	networkFetches    atomic.Int64
	networkFailures   atomic.Int64
	fallbacks         atomic.Int64
	precacheOK        atomic.Int64
	precacheFailed    atomic.Int64
	evictions         atomic.Int64
	evictionFailures  atomic.Int64
	storesOK          atomic.Int64
	storesFailed      atomic.Int64
	passThroughs      atomic.Int64
	errors            atomic.Int64
	connectionsGauge  prometheus.Gauge
	requestsTotal     prometheus.Counter
	bytesTotal        prometheus.Counter
	lookupsTotal      *prometheus.CounterVec
	networkTotal      *prometheus.CounterVec
	fallbacksTotal    prometheus.Counter
	precacheTotal     *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
	storesTotal       *prometheus.CounterVec
	passThroughsTotal prometheus.Counter
	errorsTotal       prometheus.Counter
}

// インターフェースの実装を検証
var _ domain.MetricsCollector = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
func New(metricsFile string) *Repository {
	r := &Repository{
		metricsFile: metricsFile,
		startTime:   time.Now(),
		registry:    prometheus.NewRegistry(),
		connectionsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "current_connections",
			Help: "Current number of open tunnelled connections",
		}),
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "requests_total",
			Help: "Total number of requests received",
		}),
		bytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_transferred_total",
			Help: "Total number of bytes transferred",
		}),
		lookupsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total",
			Help: "Bucket lookups by result",
		}, []string{"result"}),
		networkTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "network_fetches_total",
			Help: "Network fetches by outcome",
		}, []string{"outcome"}),
		fallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "offline_fallbacks_total",
			Help: "Navigations answered with the offline fallback document",
		}),
		precacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "precache_assets_total",
			Help: "Precached manifest entries by outcome",
		}, []string{"outcome"}),
		evictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bucket_evictions_total",
			Help: "Stale bucket deletions by outcome",
		}, []string{"outcome"}),
		storesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "background_stores_total",
			Help: "Background cache stores by outcome",
		}, []string{"outcome"}),
		passThroughsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pass_throughs_total",
			Help: "Requests forwarded without interception",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Total number of errors",
		}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.connectionsGauge,
		r.requestsTotal,
		r.bytesTotal,
		r.lookupsTotal,
		r.networkTotal,
		r.fallbacksTotal,
		r.precacheTotal,
		r.evictionsTotal,
		r.storesTotal,
		r.passThroughsTotal,
		r.errorsTotal,
	)
	return r
}

// Registry は Prometheus のレジストリを返す
func (r *Repository) Registry() *prometheus.Registry {
	return r.registry
}

// 以下、MetricsCollector インターフェースの実装
func (r *Repository) IncrementConnections() {
	r.connections.Add(1)
	r.connectionsGauge.Inc()
}

func (r *Repository) DecrementConnections() {
	r.connections.Add(-1)
	r.connectionsGauge.Dec()
}

func (r *Repository) AddBytesTransferred(bytes int64) {
	r.bytes.Add(bytes)
	r.bytesTotal.Add(float64(bytes))
}

func (r *Repository) RecordRequest() {
	r.requests.Add(1)
	r.requestsTotal.Inc()
}

func (r *Repository) RecordCacheHit() {
	r.cacheHits.Add(1)
	r.lookupsTotal.WithLabelValues("hit").Inc()
}

func (r *Repository) RecordCacheMiss() {
	r.cacheMisses.Add(1)
	r.lookupsTotal.WithLabelValues("miss").Inc()
}

func (r *Repository) RecordNetworkFetch(ok bool) {
	if ok {
		r.networkFetches.Add(1)
	} else {
		r.networkFailures.Add(1)
	}
	r.networkTotal.WithLabelValues(outcome(ok)).Inc()
}

func (r *Repository) RecordFallback() {
	r.fallbacks.Add(1)
	r.fallbacksTotal.Inc()
}

func (r *Repository) RecordPrecache(ok bool) {
	if ok {
		r.precacheOK.Add(1)
	} else {
		r.precacheFailed.Add(1)
	}
	r.precacheTotal.WithLabelValues(outcome(ok)).Inc()
}

func (r *Repository) RecordEviction(ok bool) {
	if ok {
		r.evictions.Add(1)
	} else {
		r.evictionFailures.Add(1)
	}
	r.evictionsTotal.WithLabelValues(outcome(ok)).Inc()
}

func (r *Repository) RecordStore(ok bool) {
	if ok {
		r.storesOK.Add(1)
	} else {
		r.storesFailed.Add(1)
	}
	r.storesTotal.WithLabelValues(outcome(ok)).Inc()
}

func (r *Repository) RecordPassThrough() {
	r.passThroughs.Add(1)
	r.passThroughsTotal.Inc()
}

func (r *Repository) RecordError() {
	r.errors.Add(1)
	r.errorsTotal.Inc()
}

func (r *Repository) GetSnapshot() *domain.MetricsSnapshot {
	return &domain.MetricsSnapshot{
		Timestamp:          time.Now(),
		StartTime:          r.startTime,
		CurrentConnections: r.connections.Load(),
		TotalRequests:      r.requests.Load(),
		BytesTransferred:   r.bytes.Load(),
		CacheHits:          r.cacheHits.Load(),
		CacheMisses:        r.cacheMisses.Load(),
		NetworkFetches:     r.networkFetches.Load(),
		NetworkFailures:    r.networkFailures.Load(),
		FallbacksServed:    r.fallbacks.Load(),
		PrecacheSuccesses:  r.precacheOK.Load(),
		PrecacheFailures:   r.precacheFailed.Load(),
		BucketsEvicted:     r.evictions.Load(),
		EvictionFailures:   r.evictionFailures.Load(),
		StoresCompleted:    r.storesOK.Load(),
		StoreFailures:      r.storesFailed.Load(),
		PassThroughs:       r.passThroughs.Load(),
		Errors:             r.errors.Load(),
		Uptime:             time.Since(r.startTime).Round(time.Second).String(),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
