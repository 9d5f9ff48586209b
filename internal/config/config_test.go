package config

import (
	"testing"
	"time"

	"github.com/lorrc/dashboard-sync/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Channel: ChannelConfig{
			URL:       "ws://localhost:9092/ws",
			Token:     "tok",
			WriteWait: 10 * time.Second,
			PongWait:  60 * time.Second,
		},
		API:           APIConfig{BaseURL: "http://localhost:8888/api/v1"},
		Dashboard:     DashboardConfig{PollInterval: 30 * time.Second},
		Notifications: NotificationConfig{StoreMode: StoreREST},
		Database:      DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 2},
		CORS:          CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
		App:           AppConfig{Environment: "development"},
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults with token", func(t *testing.T) {
		t.Setenv("CHANNEL_TOKEN", "tok")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Channel.MaxReconnectAttempts)
		assert.Equal(t, time.Second, cfg.Channel.ReconnectDelay)
		assert.Equal(t, 30*time.Second, cfg.Dashboard.PollInterval)
		assert.Equal(t, []domain.DashboardType{domain.DashboardGeneral}, cfg.Dashboard.Types)
		assert.Equal(t, StoreREST, cfg.Notifications.StoreMode)
		assert.Equal(t, 7, cfg.Notifications.RecentDays)
		assert.True(t, cfg.IsDevelopment())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("CHANNEL_TOKEN", "tok")
		t.Setenv("CHANNEL_RECONNECT_ATTEMPTS", "3")
		t.Setenv("CHANNEL_RECONNECT_DELAY", "250ms")
		t.Setenv("DASHBOARD_TYPES", "Employee, team-lead")
		t.Setenv("DASHBOARD_FILTERS", "period=week, broken, region = eu")
		t.Setenv("CHANNEL_REQUEST_RPS", "0.5")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Channel.MaxReconnectAttempts)
		assert.Equal(t, 250*time.Millisecond, cfg.Channel.ReconnectDelay)
		assert.Equal(t, 0.5, cfg.Channel.RequestRate)
		assert.Equal(t, []domain.DashboardType{domain.DashboardEmployee, domain.DashboardTeamLead}, cfg.Dashboard.Types)
		assert.Equal(t, map[string]any{"period": "week", "region": "eu"}, cfg.Dashboard.Filters)
	})

	t.Run("unparseable values fall back", func(t *testing.T) {
		t.Setenv("CHANNEL_TOKEN", "tok")
		t.Setenv("CHANNEL_RECONNECT_ATTEMPTS", "many")
		t.Setenv("SERVER_ENABLED", "maybe")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Channel.MaxReconnectAttempts)
		assert.True(t, cfg.Server.Enabled)
	})

	t.Run("unknown dashboard type", func(t *testing.T) {
		t.Setenv("CHANNEL_TOKEN", "tok")
		t.Setenv("DASHBOARD_TYPES", "general,finance")

		_, err := Load()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "finance")
	})
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing channel url",
			mutate:  func(c *Config) { c.Channel.URL = "" },
			wantErr: "CHANNEL_URL is required",
		},
		{
			name:    "no token and nothing to mint one",
			mutate:  func(c *Config) { c.Channel.Token = "" },
			wantErr: "CHANNEL_TOKEN is required",
		},
		{
			name: "dev token can be minted",
			mutate: func(c *Config) {
				c.Channel.Token = ""
				c.Channel.UserID = "42"
				c.JWT.Secret = "dev"
			},
		},
		{
			name:    "status api auth without secret",
			mutate:  func(c *Config) { c.Server.RequireAuth = true },
			wantErr: "JWT_SECRET is required when SERVER_REQUIRE_AUTH",
		},
		{
			name:    "postgres store without database",
			mutate:  func(c *Config) { c.Notifications.StoreMode = StorePostgres },
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.Notifications.StoreMode = "redis" },
			wantErr: "NOTIFICATIONS_STORE must be",
		},
		{
			name:    "pong wait too short",
			mutate:  func(c *Config) { c.Channel.PongWait = time.Second },
			wantErr: "CHANNEL_PONG_WAIT",
		},
		{
			name: "production requires explicit token",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.Channel.Token = ""
				c.Channel.UserID = "42"
				c.JWT.Secret = "dev"
			},
			wantErr: "CHANNEL_TOKEN must be set in production",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("aggregates errors", func(t *testing.T) {
		cfg := validConfig()
		cfg.Channel.URL = ""
		cfg.API.BaseURL = ""

		err := cfg.Validate()

		require.Error(t, err)
		assert.Contains(t, err.Error(), "CHANNEL_URL is required")
		assert.Contains(t, err.Error(), "API_BASE_URL is required")
	})
}

func TestConfig_String(t *testing.T) {
	cfg := validConfig()
	cfg.Channel.Token = "very-secret-token"
	cfg.Database.URL = "postgres://user:pass@db:5432/notifications"

	s := cfg.String()

	assert.NotContains(t, s, "very-secret-token")
	assert.NotContains(t, s, "user:pass")
	assert.Contains(t, s, "[REDACTED]@db:5432/notifications")
}
