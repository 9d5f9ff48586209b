package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	httpAdapter "github.com/lorrc/dashboard-sync/internal/adapters/primary/http"
	mw "github.com/lorrc/dashboard-sync/internal/adapters/primary/http/middleware"
	"github.com/lorrc/dashboard-sync/internal/adapters/secondary/postgres"
	"github.com/lorrc/dashboard-sync/internal/adapters/secondary/rest"
	"github.com/lorrc/dashboard-sync/internal/adapters/secondary/websocket"
	"github.com/lorrc/dashboard-sync/internal/auth"
	"github.com/lorrc/dashboard-sync/internal/config"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/lorrc/dashboard-sync/internal/core/ports"
	"github.com/lorrc/dashboard-sync/internal/core/services"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/clock"
	"github.com/lorrc/dashboard-sync/internal/infrastructure/logging"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Structured Logger
	logger := logging.NewLogger(logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      os.Stdout,
		ServiceName: cfg.App.Name,
		Environment: cfg.App.Environment,
	})

	logger.Info("starting dashboard sync",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"config", cfg.String(),
	)

	// 3. Resolve Identity
	var tokenManager *auth.TokenManager
	if cfg.JWT.Secret != "" {
		tokenManager = auth.NewTokenManager(cfg.JWT.Secret, cfg.JWT.AccessTokenTTL)
	}

	identity, teamID, err := resolveIdentity(cfg, tokenManager, logger)
	if err != nil {
		logger.Error("failed to resolve identity", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(logging.WithUserID(context.Background(), identity.UserID))
	defer cancel()

	// 4. Initialize Push Channel
	clk := clock.Real()
	bus := services.NewEventBus(logger)

	dialer := websocket.NewDialer(websocket.Config{
		URL:              cfg.Channel.URL,
		HandshakeTimeout: cfg.Channel.HandshakeTimeout,
		WriteWait:        cfg.Channel.WriteWait,
		PongWait:         cfg.Channel.PongWait,
		MaxMessageSize:   cfg.Channel.MaxMessageSize,
		SendBuffer:       cfg.Channel.SendBuffer,
	}, logger)

	manager := services.NewConnectionManager(dialer, bus, clk, services.ConnectionConfig{
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Channel.ReconnectDelay,
		HandshakeTimeout:     cfg.Channel.HandshakeTimeout,
		RequestRate:          cfg.Channel.RequestRate,
		RequestBurst:         cfg.Channel.RequestBurst,
		QueueSize:            cfg.Channel.QueueSize,
	}, logger)
	defer manager.Close()

	go manager.Run(ctx)

	// 5. Initialize Collaborator Backends (Secondary Adapters)
	apiClient, err := rest.NewClient(rest.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		RequestsPerSec: cfg.API.RequestsPerSec,
		Burst:          cfg.API.Burst,
	}, identity.Token, logger)
	if err != nil {
		logger.Error("failed to create api client", "error", err)
		os.Exit(1)
	}

	var (
		notificationStore ports.NotificationStore = apiClient
		storeHealth       httpAdapter.HealthChecker
	)
	if cfg.Notifications.Enabled && cfg.Notifications.StoreMode == config.StorePostgres {
		pool, err := newPool(ctx, cfg.Database)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connection established")

		pgStore := postgres.NewNotificationStore(pool)
		notificationStore = pgStore
		storeHealth = pgStore
	}

	// 6. Services (Core)
	synchronizer := services.NewDashboardSynchronizer(apiClient, manager, bus, clk, services.SynchronizerConfig{
		PollInterval: cfg.Dashboard.PollInterval,
		FetchTimeout: cfg.Dashboard.FetchTimeout,
	}, logger)

	var inbox ports.NotificationInbox
	if cfg.Notifications.Enabled {
		reconciler := services.NewNotificationReconciler(notificationStore, bus, clk, services.ReconcilerConfig{
			UserID:                identity.UserID,
			RecentDays:            cfg.Notifications.RecentDays,
			UnreadRefreshInterval: cfg.Notifications.UnreadRefreshInterval,
			RequestTimeout:        cfg.API.Timeout,
			MaxEphemeral:          cfg.Notifications.MaxEphemeral,
		}, logger)
		defer reconciler.Close()
		inbox = reconciler
	}

	// Connect before acquiring dashboards so their joins are sent with the
	// first handshake instead of waiting for a reconnect.
	manager.Connect(identity)

	scope := domain.Scope{UserID: identity.UserID, TeamID: teamID}
	var handles []*services.DashboardHandle
	defer func() {
		for _, h := range handles {
			h.Close()
		}
	}()
	for _, dashboardType := range cfg.Dashboard.Types {
		handle, err := synchronizer.Acquire(ctx, services.DashboardRequest{
			Type:    dashboardType,
			Scope:   scope,
			Filters: cfg.Dashboard.Filters,
		})
		if err != nil {
			logger.Error("failed to follow dashboard", "dashboard", dashboardType, "error", err)
			continue
		}
		handles = append(handles, handle)
		logger.Info("following dashboard", "dashboard", dashboardType, "room", handle.Room())
	}

	if reconciler, ok := inbox.(*services.NotificationReconciler); ok {
		go func() {
			if err := reconciler.LoadInitial(ctx); err != nil {
				logger.Warn("initial notification load failed", "error", err)
			}
		}()
	}

	// 7. Status API (Primary Adapter)
	var srv *http.Server
	if cfg.Server.Enabled {
		var rateLimiter *mw.RateLimiter
		if cfg.RateLimit.Enabled {
			rateLimiter = mw.NewRateLimiter(mw.RateLimiterConfig{
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				BurstSize:         cfg.RateLimit.BurstSize,
				CleanupInterval:   time.Minute,
				TTL:               3 * time.Minute,
			})
			defer rateLimiter.Stop()
		}

		routerCfg := httpAdapter.RouterConfig{
			Channel:        manager,
			Dashboards:     synchronizer,
			Notifications:  inbox,
			Store:          storeHealth,
			RateLimiter:    rateLimiter,
			AllowedOrigins: cfg.CORS.AllowedOrigins,
			Version:        cfg.App.Version,
			Logger:         logger,
		}
		if cfg.Server.RequireAuth {
			routerCfg.TokenManager = tokenManager
		}

		srv = &http.Server{
			Addr:         cfg.Server.Port,
			Handler:      httpAdapter.NewRouter(routerCfg),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		}

		go func() {
			logger.Info("status api starting", "port", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server error", "error", err)
				cancel()
			}
		}()
	}

	// 8. Wait for interrupt signal or a fatal server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	// Deferred handle, reconciler and manager closes run from here.
	logger.Info("shutdown complete")
}

// resolveIdentity reads the identity from CHANNEL_TOKEN, or mints a
// development token from JWT_SECRET. The team id comes from the config or
// the token claims.
func resolveIdentity(cfg *config.Config, tm *auth.TokenManager, logger *slog.Logger) (domain.Identity, string, error) {
	teamID := cfg.Dashboard.TeamID

	if cfg.Channel.Token == "" {
		token, err := tm.GenerateToken(cfg.Channel.UserID, cfg.Channel.UserRole, teamID)
		if err != nil {
			return domain.Identity{}, "", err
		}
		logger.Warn("using a locally minted channel token", "user_id", cfg.Channel.UserID)
		identity := domain.Identity{UserID: cfg.Channel.UserID, Role: cfg.Channel.UserRole, Token: token}
		return identity, teamID, identity.Validate()
	}

	identity, claims, err := auth.IdentityFromToken(cfg.Channel.Token)
	if err != nil {
		if cfg.Channel.UserID == "" {
			return domain.Identity{}, "", err
		}
		// Opaque tokens are passed through with the configured identity.
		identity = domain.Identity{UserID: cfg.Channel.UserID, Role: cfg.Channel.UserRole, Token: cfg.Channel.Token}
		return identity, teamID, identity.Validate()
	}

	if cfg.Channel.UserID != "" && cfg.Channel.UserID != identity.UserID {
		logger.Warn("CHANNEL_USER_ID differs from the token subject, using the token",
			"configured", cfg.Channel.UserID,
			"token", identity.UserID,
		)
	}
	if cfg.Channel.UserRole != "" {
		identity.Role = cfg.Channel.UserRole
	}
	if teamID == "" {
		teamID = claims.TeamID
	}
	return identity, teamID, identity.Validate()
}

func newPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = cfg.ConnMaxIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
