package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/BaSui01/egoqa/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// StatsFunc 返回题库进度
type StatsFunc func(ctx context.Context) (*store.Stats, error)

// statsResponse /stats 的响应体
type statsResponse struct {
	*store.Stats
	Accuracy float64 `json:"accuracy"`
}

// NewHandler 组装运维路由。gatherer 为 nil 时使用默认 Gatherer；stats 为 nil 时不注册 /stats。
func NewHandler(gatherer prometheus.Gatherer, stats StatsFunc, logger *zap.Logger) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})
	if stats != nil {
		mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
			defer cancel()
			s, err := stats(ctx)
			if err != nil {
				logger.Warn("stats unavailable", zap.Error(err))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()}, logger)
				return
			}
			writeJSON(w, http.StatusOK, statsResponse{Stats: s, Accuracy: s.Accuracy()}, logger)
		})
	}
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response", zap.Error(err))
	}
}
