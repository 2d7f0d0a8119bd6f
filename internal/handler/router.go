package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/cadence/internal/metrics"
	"github.com/DukeRupert/cadence/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig holds what the serve-mode router needs.
type RouterConfig struct {
	Health      *HealthHandler
	Unsubscribe *UnsubscribeHandler // nil when no signing secret is set

	MetricsUsername string
	MetricsPassword string
	IsSecure        bool
	Logger          *slog.Logger
}

// NewRouter builds the serve-mode mux: /health, /metrics and /unsubscribe.
// The returned func stops the rate limiter's background cleanup.
func NewRouter(cfg RouterConfig) (http.Handler, func()) {
	mux := http.NewServeMux()

	mux.Handle("GET /health", cfg.Health)

	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	// 10 unsubscribe requests per IP per minute.
	limiter := middleware.NewRateLimiter(10, time.Minute, cfg.Logger)
	if cfg.Unsubscribe != nil {
		public := middleware.Stack(
			middleware.NewSecurityHeadersMiddleware(cfg.IsSecure).Handler,
			middleware.NewRateLimitMiddleware(limiter, cfg.Logger).Limit,
		)
		cfg.Unsubscribe.RegisterRoutes(mux, public)
	}

	logging := middleware.NewRequestLoggingMiddleware(cfg.Logger)
	return middleware.Stack(metrics.Middleware, logging.Handler)(mux), limiter.Close
}
