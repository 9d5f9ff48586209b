package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/lorrc/dashboard-sync/internal/core/domain"
)

// Notification store modes.
const (
	StoreREST     = "rest"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	// Push channel configuration
	Channel ChannelConfig

	// Collaborator REST API configuration
	API APIConfig

	// Dashboards to follow
	Dashboard DashboardConfig

	// Notification reconciler configuration
	Notifications NotificationConfig

	// Database configuration, used by the postgres notification store
	Database DatabaseConfig

	// Status API server configuration
	Server ServerConfig

	// JWT configuration
	JWT JWTConfig

	// Rate limiting configuration for the status API
	RateLimit RateLimitConfig

	// CORS configuration for the status API
	CORS CORSConfig

	// Logging configuration
	Logging LoggingConfig

	// Application metadata
	App AppConfig
}

// ChannelConfig holds push channel configuration
type ChannelConfig struct {
	URL                  string
	Token                string
	UserID               string
	UserRole             string
	MaxReconnectAttempts int
	ReconnectDelay       time.Duration
	HandshakeTimeout     time.Duration
	WriteWait            time.Duration
	PongWait             time.Duration
	MaxMessageSize       int64
	SendBuffer           int
	QueueSize            int
	RequestRate          float64 // outbound request_* messages per second
	RequestBurst         int
}

// APIConfig holds collaborator REST API configuration
type APIConfig struct {
	BaseURL        string
	Timeout        time.Duration
	RequestsPerSec float64
	Burst          int
}

// DashboardConfig holds the dashboards acquired at startup
type DashboardConfig struct {
	Types        []domain.DashboardType
	TeamID       string
	Filters      map[string]any
	PollInterval time.Duration
	FetchTimeout time.Duration
}

// NotificationConfig holds notification reconciler configuration
type NotificationConfig struct {
	Enabled               bool
	StoreMode             string // rest, postgres
	RecentDays            int
	UnreadRefreshInterval time.Duration
	MaxEphemeral          int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool
	RequireAuth     bool
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// JWTConfig holds JWT configuration. Secret is only needed to mint a
// development token when no CHANNEL_TOKEN is configured.
type JWTConfig struct {
	Secret         string
	AccessTokenTTL time.Duration
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
}

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string
	Version     string
	Environment string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		Channel: ChannelConfig{
			URL:                  getEnvOrDefault("CHANNEL_URL", "ws://localhost:9092/ws"),
			Token:                os.Getenv("CHANNEL_TOKEN"),
			UserID:               os.Getenv("CHANNEL_USER_ID"),
			UserRole:             os.Getenv("CHANNEL_USER_ROLE"),
			MaxReconnectAttempts: getIntOrDefault("CHANNEL_RECONNECT_ATTEMPTS", 5),
			ReconnectDelay:       getDurationOrDefault("CHANNEL_RECONNECT_DELAY", time.Second),
			HandshakeTimeout:     getDurationOrDefault("CHANNEL_HANDSHAKE_TIMEOUT", 20*time.Second),
			WriteWait:            getDurationOrDefault("CHANNEL_WRITE_WAIT", 10*time.Second),
			PongWait:             getDurationOrDefault("CHANNEL_PONG_WAIT", 60*time.Second),
			MaxMessageSize:       int64(getIntOrDefault("CHANNEL_MAX_MESSAGE_SIZE", 1<<20)),
			SendBuffer:           getIntOrDefault("CHANNEL_SEND_BUFFER", 256),
			QueueSize:            getIntOrDefault("CHANNEL_QUEUE_SIZE", 256),
			RequestRate:          getFloatOrDefault("CHANNEL_REQUEST_RPS", 2),
			RequestBurst:         getIntOrDefault("CHANNEL_REQUEST_BURST", 5),
		},
		API: APIConfig{
			BaseURL:        getEnvOrDefault("API_BASE_URL", "http://localhost:8888/api/v1"),
			Timeout:        getDurationOrDefault("API_TIMEOUT", 15*time.Second),
			RequestsPerSec: getFloatOrDefault("API_RPS", 20),
			Burst:          getIntOrDefault("API_BURST", 10),
		},
		Dashboard: DashboardConfig{
			TeamID:       os.Getenv("DASHBOARD_TEAM_ID"),
			Filters:      getMapOrDefault("DASHBOARD_FILTERS"),
			PollInterval: getDurationOrDefault("DASHBOARD_POLL_INTERVAL", 30*time.Second),
			FetchTimeout: getDurationOrDefault("DASHBOARD_FETCH_TIMEOUT", 15*time.Second),
		},
		Notifications: NotificationConfig{
			Enabled:               getBoolOrDefault("NOTIFICATIONS_ENABLED", true),
			StoreMode:             getEnvOrDefault("NOTIFICATIONS_STORE", StoreREST),
			RecentDays:            getIntOrDefault("NOTIFICATIONS_RECENT_DAYS", 7),
			UnreadRefreshInterval: getDurationOrDefault("NOTIFICATIONS_UNREAD_REFRESH", 30*time.Second),
			MaxEphemeral:          getIntOrDefault("NOTIFICATIONS_MAX_EPHEMERAL", 100),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    getIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getIntOrDefault("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getDurationOrDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		Server: ServerConfig{
			Enabled:         getBoolOrDefault("SERVER_ENABLED", true),
			RequireAuth:     getBoolOrDefault("SERVER_REQUIRE_AUTH", false),
			Port:            getEnvOrDefault("SERVER_PORT", ":8080"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getDurationOrDefault("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		JWT: JWTConfig{
			Secret:         os.Getenv("JWT_SECRET"),
			AccessTokenTTL: getDurationOrDefault("JWT_ACCESS_TOKEN_TTL", 1*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Enabled:           getBoolOrDefault("RATE_LIMIT_ENABLED", true),
			RequestsPerSecond: getFloatOrDefault("RATE_LIMIT_RPS", 10),
			BurstSize:         getIntOrDefault("RATE_LIMIT_BURST", 20),
		},
		CORS: CORSConfig{
			AllowedOrigins: getStringSliceOrDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
		App: AppConfig{
			Name:        getEnvOrDefault("APP_NAME", "dashboard-sync"),
			Version:     getEnvOrDefault("APP_VERSION", "dev"),
			Environment: getEnvOrDefault("APP_ENV", "development"),
		},
	}

	types, err := parseDashboardTypes(getStringSliceOrDefault("DASHBOARD_TYPES", []string{"general"}))
	if err != nil {
		return nil, err
	}
	cfg.Dashboard.Types = types

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseDashboardTypes(names []string) ([]domain.DashboardType, error) {
	types := make([]domain.DashboardType, 0, len(names))
	for _, name := range names {
		t, err := domain.ParseDashboardType(name)
		if err != nil {
			return nil, fmt.Errorf("DASHBOARD_TYPES: %q: %w", name, err)
		}
		types = append(types, t)
	}
	return types, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errs []string

	// Required fields
	if c.Channel.URL == "" {
		errs = append(errs, "CHANNEL_URL is required")
	}

	if c.Channel.Token == "" && (c.JWT.Secret == "" || c.Channel.UserID == "") {
		errs = append(errs, "CHANNEL_TOKEN is required (or JWT_SECRET and CHANNEL_USER_ID to mint one)")
	}

	if c.API.BaseURL == "" {
		errs = append(errs, "API_BASE_URL is required")
	}

	switch c.Notifications.StoreMode {
	case StoreREST:
	case StorePostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when NOTIFICATIONS_STORE=postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("NOTIFICATIONS_STORE must be %q or %q", StoreREST, StorePostgres))
	}

	if c.Server.RequireAuth && c.JWT.Secret == "" {
		errs = append(errs, "JWT_SECRET is required when SERVER_REQUIRE_AUTH is set")
	}

	// Security validations
	if c.App.Environment == "production" {
		if c.Channel.Token == "" {
			errs = append(errs, "CHANNEL_TOKEN must be set in production")
		}

		if len(c.CORS.AllowedOrigins) == 0 {
			errs = append(errs, "CORS_ALLOWED_ORIGINS must be set in production")
		}
	}

	// Logical validations
	if c.Channel.MaxReconnectAttempts < 0 {
		errs = append(errs, "CHANNEL_RECONNECT_ATTEMPTS cannot be negative")
	}

	if c.Channel.PongWait <= c.Channel.WriteWait {
		errs = append(errs, "CHANNEL_PONG_WAIT must be greater than CHANNEL_WRITE_WAIT")
	}

	if c.Dashboard.PollInterval <= 0 {
		errs = append(errs, "DASHBOARD_POLL_INTERVAL must be positive")
	}

	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		errs = append(errs, "DB_MAX_IDLE_CONNS cannot be greater than DB_MAX_OPEN_CONNS")
	}

	if len(errs) > 0 {
		return errors.New("configuration errors:\n  - " + strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

// getMapOrDefault parses "key=value,key=value" pairs. Malformed pairs are skipped.
func getMapOrDefault(key string) map[string]any {
	result := make(map[string]any)
	for _, pair := range getStringSliceOrDefault(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			continue
		}
		result[k] = strings.TrimSpace(v)
	}
	return result
}

// String returns a redacted string representation of the config (safe for logging)
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Channel: %s, Token: [REDACTED], API: %s, Dashboards: %v, Store: %s, DB: %s, Server: %s, Environment: %s}",
		c.Channel.URL,
		c.API.BaseURL,
		c.Dashboard.Types,
		c.Notifications.StoreMode,
		redactURL(c.Database.URL),
		c.Server.Port,
		c.App.Environment,
	)
}

// redactURL redacts sensitive parts of a database URL
func redactURL(url string) string {
	if url == "" {
		return ""
	}
	if idx := strings.Index(url, "@"); idx > 0 {
		return "[REDACTED]" + url[idx:]
	}
	return "[REDACTED]"
}
