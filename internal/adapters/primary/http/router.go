package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	mw "github.com/lorrc/dashboard-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/dashboard-sync/internal/auth"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
)

// RouterConfig collects the dependencies of the status API.
type RouterConfig struct {
	Channel    ports.ConnectionStatus
	Dashboards ports.DashboardQuery
	// Notifications is nil when the reconciler is disabled.
	Notifications ports.NotificationInbox
	// Store is pinged by the readiness probe. Nil when notifications are
	// read over REST.
	Store HealthChecker

	// TokenManager protects /api/v1 when set.
	TokenManager   *auth.TokenManager
	RateLimiter    *mw.RateLimiter
	AllowedOrigins []string
	Version        string
	Logger         *slog.Logger
}

// NewRouter builds the status API router.
func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	errorHandler := NewErrorHandler(logger)

	healthHandler := NewHealthHandler(cfg.Channel, cfg.Store, cfg.Version)
	connectionHandler := NewConnectionHandler(cfg.Channel, logger)
	dashboardHandler := NewDashboardHandler(cfg.Dashboards, errorHandler, logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.RequestLogger(logger))
	r.Use(mw.RecoveryLogger(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mw.RequestIDHeader},
		ExposedHeaders:   []string{mw.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware)
	}

	// Health check endpoints (outside /api/v1 for standard probe paths)
	healthHandler.RegisterRoutes(r)

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.TokenManager != nil {
			r.Use(mw.JWTMiddleware(cfg.TokenManager))
		}
		r.Route("/connection", connectionHandler.RegisterRoutes)
		r.Route("/dashboards", dashboardHandler.RegisterRoutes)
		if cfg.Notifications != nil {
			notificationHandler := NewNotificationHandler(cfg.Notifications, errorHandler, logger)
			r.Route("/notifications", notificationHandler.RegisterRoutes)
		}
	})

	return r
}
