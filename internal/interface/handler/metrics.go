package handler

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"assetcache/internal/domain"
	"assetcache/internal/usecase"
)

// MetricsHandler はメトリクス関連のHTTPリクエストを処理
type MetricsHandler struct {
	metricsUseCase *usecase.MetricsUseCase
	registration   *usecase.Registration
	prometheus     http.Handler
	logger         domain.Logger
}

// NewMetricsHandler は新しいMetricsHandlerインスタンスを作成
func NewMetricsHandler(
	metricsUseCase *usecase.MetricsUseCase,
	registration *usecase.Registration,
	gatherer prometheus.Gatherer,
	logger domain.Logger,
) *MetricsHandler {
	return &MetricsHandler{
		metricsUseCase: metricsUseCase,
		registration:   registration,
		prometheus:     promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		logger:         logger,
	}
}

// Routes はメトリクスサーバーのルーティングを返す
func (h *MetricsHandler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", h.HandleMetrics)
	mux.HandleFunc("/stats", h.HandleStats)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}

// HandleMetrics はPrometheus形式のメトリクスを提供
func (h *MetricsHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	h.prometheus.ServeHTTP(w, r)
}

type statsResponse struct {
	*domain.MetricsSnapshot
	HitRatio float64 `json:"hit_ratio"`
}

// HandleStats はJSON形式の詳細な統計情報を提供
func (h *MetricsHandler) HandleStats(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.metricsUseCase.GetMetricsSnapshot()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(statsResponse{
		MetricsSnapshot: snapshot,
		HitRatio:        snapshot.HitRatio(),
	}); err != nil {
		h.logger.Error("Failed to encode metrics", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
}

// HandleHealth はヘルスチェックエンドポイントを提供
// 制御中のワーカーがない場合は 503 を返す
func (h *MetricsHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]string{"status": "up"}
	status := http.StatusOK

	if ctrl := h.registration.Controller(); ctrl != nil {
		body["worker"] = ctrl.ID()
		body["cache"] = ctrl.CacheName()
		body["state"] = ctrl.State().String()
	} else {
		body["status"] = "no controller"
		status = http.StatusServiceUnavailable
	}
	if waiting := h.registration.Waiting(); waiting != nil {
		body["waiting"] = waiting.CacheName()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
