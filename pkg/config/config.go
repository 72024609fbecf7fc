package config

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tenantgate/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Manager       ManagerConfig
	Tenancy       TenancyConfig
	Session       SessionConfig
	Auth          AuthConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// ManagerConfig describes the pinned manager tenant that holds users,
// access grants and the credentials of every other tenant.
type ManagerConfig struct {
	// TenantID is the registry key of the manager tenant
	TenantID      int64
	Driver        string
	DSN           string
	RunMigrations bool
	MaxOpenConns  int
	MaxIdleConns  int
}

// TenancyConfig holds tenant registry settings
type TenancyConfig struct {
	CacheSize      int
	ConnectTimeout time.Duration
	RouteCacheSize int
	MaxOpenConns   int
	MaxIdleConns   int
	ConnMaxIdle    time.Duration
}

// SessionConfig holds session store settings
type SessionConfig struct {
	RedisURL         string
	RedisPassword    string
	RedisDB          int
	RedisPoolSize    int
	DefaultTTL       time.Duration
	RefreshThreshold time.Duration
	AccessTTL        time.Duration
	SweepSchedule    string

	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// AuthConfig holds bearer validation and identity provider settings
type AuthConfig struct {
	Provider          string
	Issuers           []string
	Audiences         []string
	ClientID          string
	ClientSecret      string
	JWKSURL           string
	TokenURL          string
	MappingsFile      string
	HTTPTimeout       time.Duration
	KnownUserTTL      time.Duration
	FanOutTimeout     time.Duration
	SigningAlgorithms []string
}

// RateLimitConfig holds per-principal rate limit settings
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	MaxKeys           int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64

	// Audit events always go to the application log; AuditLogDir adds a
	// rotated JSON-lines file.
	AuditEnabled   bool
	AuditLogDir    string
	AuditMaxSizeMB int
	AuditMaxFiles  int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Manager:       loadManagerConfig(),
		Tenancy:       loadTenancyConfig(),
		Session:       loadSessionConfig(),
		Auth:          loadAuthConfig(),
		RateLimit:     loadRateLimitConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTGATE_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvList("TENANTGATE_ALLOWED_ORIGINS", nil),
		MaxBodyBytes:    getEnvInt64("TENANTGATE_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("TENANTGATE_HEALTH_PORT", "9090"),
	}
}

func loadManagerConfig() ManagerConfig {
	return ManagerConfig{
		TenantID:      getEnvInt64("TENANTGATE_MANAGER_TENANT_ID", 0),
		Driver:        getEnv("TENANTGATE_MANAGER_DRIVER", "postgres"),
		DSN:           getEnv("TENANTGATE_MANAGER_DSN", ""),
		RunMigrations: getEnvBool("TENANTGATE_MANAGER_MIGRATE", true),
		MaxOpenConns:  getEnvInt("TENANTGATE_MANAGER_MAX_OPEN_CONNS", 20),
		MaxIdleConns:  getEnvInt("TENANTGATE_MANAGER_MAX_IDLE_CONNS", 5),
	}
}

func loadTenancyConfig() TenancyConfig {
	return TenancyConfig{
		CacheSize:      getEnvInt("TENANTGATE_TENANT_CACHE_SIZE", 50),
		ConnectTimeout: getEnvDuration("TENANTGATE_TENANT_CONNECT_TIMEOUT", 10*time.Second),
		RouteCacheSize: getEnvInt("TENANTGATE_ROUTE_CACHE_SIZE", 1024),
		MaxOpenConns:   getEnvInt("TENANTGATE_TENANT_MAX_OPEN_CONNS", 5),
		MaxIdleConns:   getEnvInt("TENANTGATE_TENANT_MAX_IDLE_CONNS", 2),
		ConnMaxIdle:    getEnvDuration("TENANTGATE_TENANT_CONN_MAX_IDLE", 5*time.Minute),
	}
}

func loadSessionConfig() SessionConfig {
	return SessionConfig{
		RedisURL:         getEnv("TENANTGATE_REDIS_URL", ""),
		RedisPassword:    getEnv("TENANTGATE_REDIS_PASSWORD", ""),
		RedisDB:          getEnvInt("TENANTGATE_REDIS_DB", 0),
		RedisPoolSize:    getEnvInt("TENANTGATE_REDIS_POOL_SIZE", 10),
		DefaultTTL:       getEnvDuration("TENANTGATE_SESSION_DEFAULT_TTL", 24*time.Hour),
		RefreshThreshold: getEnvDuration("TENANTGATE_SESSION_REFRESH_THRESHOLD", 5*time.Minute),
		AccessTTL:        getEnvDuration("TENANTGATE_SESSION_ACCESS_TTL", time.Hour),
		SweepSchedule:    getEnv("TENANTGATE_SESSION_SWEEP_SCHEDULE", "@every 1m"),
		CookieName:       getEnv("TENANTGATE_SESSION_COOKIE_NAME", "session_id"),
		CookieDomain:     getEnv("TENANTGATE_SESSION_COOKIE_DOMAIN", ""),
		CookiePath:       getEnv("TENANTGATE_SESSION_COOKIE_PATH", "/"),
		CookieSecure:     getEnvBool("TENANTGATE_SESSION_COOKIE_SECURE", true),
		CookieSameSite:   parseSameSite(getEnv("TENANTGATE_SESSION_COOKIE_SAMESITE", "lax")),
	}
}

func loadAuthConfig() AuthConfig {
	cfg := AuthConfig{
		Provider:          getEnv("TENANTGATE_AUTH_PROVIDER", ""),
		Issuers:           getEnvList("TENANTGATE_AUTH_ISSUERS", nil),
		Audiences:         getEnvList("TENANTGATE_AUTH_AUDIENCES", nil),
		ClientID:          getEnv("TENANTGATE_AUTH_CLIENT_ID", ""),
		ClientSecret:      getEnv("TENANTGATE_AUTH_CLIENT_SECRET", ""),
		JWKSURL:           getEnv("TENANTGATE_AUTH_JWKS_URL", ""),
		TokenURL:          getEnv("TENANTGATE_AUTH_TOKEN_URL", ""),
		MappingsFile:      getEnv("TENANTGATE_AUTH_PROVIDER_MAPPINGS_FILE", ""),
		HTTPTimeout:       getEnvDuration("TENANTGATE_AUTH_HTTP_TIMEOUT", 10*time.Second),
		KnownUserTTL:      getEnvDuration("TENANTGATE_AUTH_KNOWN_USER_TTL", 5*time.Minute),
		FanOutTimeout:     getEnvDuration("TENANTGATE_AUTH_FANOUT_TIMEOUT", 30*time.Second),
		SigningAlgorithms: getEnvList("TENANTGATE_AUTH_SIGNING_ALGS", []string{"RS256"}),
	}
	// Audience defaults to the client id when no explicit list is configured.
	if len(cfg.Audiences) == 0 && cfg.ClientID != "" {
		cfg.Audiences = []string{cfg.ClientID}
	}
	return cfg
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("TENANTGATE_RATE_LIMIT_ENABLED", true),
		RequestsPerSecond: getEnvFloat("TENANTGATE_RATE_LIMIT_RPS", 20),
		Burst:             getEnvInt("TENANTGATE_RATE_LIMIT_BURST", 40),
		MaxKeys:           getEnvInt("TENANTGATE_RATE_LIMIT_MAX_KEYS", 10000),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TENANTGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTGATE_OTEL_SERVICE_NAME", "tenantgate"),
		OTelServiceVersion: getEnv("TENANTGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("TENANTGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TENANTGATE_OTEL_SAMPLE_RATIO", 1),
		AuditEnabled:       getEnvBool("TENANTGATE_AUDIT_ENABLED", true),
		AuditLogDir:        getEnv("TENANTGATE_AUDIT_LOG_DIR", ""),
		AuditMaxSizeMB:     getEnvInt("TENANTGATE_AUDIT_MAX_SIZE_MB", 100),
		AuditMaxFiles:      getEnvInt("TENANTGATE_AUDIT_MAX_FILES", 10),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Manager.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid manager driver: %s (must be postgres or sqlite3)", c.Manager.Driver)
	}
	if c.Manager.DSN == "" {
		return fmt.Errorf("manager DSN is required")
	}

	if c.Tenancy.CacheSize < 1 {
		return fmt.Errorf("tenant cache size must be at least 1")
	}
	if c.Tenancy.ConnectTimeout <= 0 {
		return fmt.Errorf("tenant connect timeout must be positive")
	}

	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}
	if c.Session.RefreshThreshold < 0 {
		return fmt.Errorf("session refresh threshold must not be negative")
	}
	if c.Session.AccessTTL <= c.Session.RefreshThreshold {
		return fmt.Errorf("session access TTL must exceed the refresh threshold")
	}

	if c.Auth.JWKSURL == "" {
		return fmt.Errorf("auth JWKS URL is required")
	}
	if len(c.Auth.Issuers) == 0 {
		return fmt.Errorf("at least one auth issuer is required")
	}
	if len(c.Auth.Audiences) == 0 {
		return fmt.Errorf("auth audiences or client id are required")
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limit requires positive rate and burst")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.AuditLogDir != "" && (c.Observability.AuditMaxSizeMB < 1 || c.Observability.AuditMaxFiles < 1) {
		return fmt.Errorf("audit log rotation requires positive max size and max files")
	}

	return nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(v) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, trimming blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return SplitList(value)
}

// SplitList splits a comma-separated list, trimming each item and dropping empties.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
