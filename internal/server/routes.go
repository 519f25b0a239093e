package server

import (
	"log/slog"
	"net/http"

	"github.com/maauso/audiocut-api/internal/metrics"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies; zero disables the limit.
	MaxBodyBytes int64
	// Metrics enables GET /metrics and request instrumentation when set.
	Metrics *metrics.Metrics
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   100 << 20,
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("POST /jobs", h.CreateJob)
	mux.HandleFunc("GET /jobs", h.ListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.DeleteJob)
	mux.HandleFunc("POST /jobs/{id}/cut-points", h.AddCutPoint)
	mux.HandleFunc("POST /jobs/{id}/cut-points/auto", h.AutoCutPoints)
	mux.HandleFunc("DELETE /jobs/{id}/cut-points", h.ClearCutPoints)
	mux.HandleFunc("DELETE /jobs/{id}/cut-points/{cutID}", h.RemoveCutPoint)
	mux.HandleFunc("POST /jobs/{id}/export", h.Export)
	mux.HandleFunc("GET /jobs/{id}/parts/{n}", h.DownloadPart)

	middlewares := []func(http.Handler) http.Handler{
		RequestIDMiddleware(),
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics.Handler())
		middlewares = append(middlewares, MetricsMiddleware(cfg.Metrics))
	}
	middlewares = append(middlewares, CORSMiddleware(cfg.AllowedOrigins))
	if cfg.MaxBodyBytes > 0 {
		middlewares = append(middlewares, MaxBodyMiddleware(cfg.MaxBodyBytes))
	}

	return ChainMiddleware(middlewares...)(mux)
}
