package domain

import "time"

// MetricsCollector はメトリクス収集のインターフェース
type MetricsCollector interface {
	IncrementConnections()
	DecrementConnections()
	AddBytesTransferred(bytes int64)
	RecordRequest()
	RecordCacheHit()
	RecordCacheMiss()
	RecordNetworkFetch(ok bool)
	RecordFallback()
	RecordPrecache(ok bool)
	RecordEviction(ok bool)
	RecordStore(ok bool)
	RecordPassThrough()
	RecordError()
	GetSnapshot() *MetricsSnapshot
}

// MetricsSnapshot はメトリクスのスナップショットを表す
type MetricsSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	StartTime          time.Time `json:"start_time"`
	CurrentConnections int64     `json:"current_connections"`
	TotalRequests      int64     `json:"total_requests"`
	BytesTransferred   int64     `json:"bytes_transferred"`
	CacheHits          int64     `json:"cache_hits"`
	CacheMisses        int64     `json:"cache_misses"`
	NetworkFetches     int64     `json:"network_fetches"`
	NetworkFailures    int64     `json:"network_failures"`
	FallbacksServed    int64     `json:"fallbacks_served"`
	PrecacheSuccesses  int64     `json:"precache_successes"`
	PrecacheFailures   int64     `json:"precache_failures"`
	BucketsEvicted     int64     `json:"buckets_evicted"`
	EvictionFailures   int64     `json:"eviction_failures"`
	StoresCompleted    int64     `json:"stores_completed"`
	StoreFailures      int64     `json:"store_failures"`
	PassThroughs       int64     `json:"pass_throughs"`
	Errors             int64     `json:"errors"`
	Uptime             string    `json:"uptime"`
}

// HitRatio はキャッシュヒット率を返す
func (ms *MetricsSnapshot) HitRatio() float64 {
	total := ms.CacheHits + ms.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(ms.CacheHits) / float64(total)
}
