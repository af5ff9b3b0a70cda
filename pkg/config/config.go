package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/claimgate/pkg/observability"
	"github.com/platinummonkey/claimgate/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Storage configuration
	Storage storage.Config

	Billing      BillingConfig
	Auth         AuthConfig
	Mail         MailConfig
	Housekeeping HousekeepingConfig

	// Path to the entitlements YAML file; built-in defaults when empty.
	EntitlementsPath string

	// Observability configuration
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
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// BaseURL is the public origin used in emailed links and redirects.
	BaseURL string
	// AdminAPIKey guards /admin and /internal routes.
	AdminAPIKey string
	// TrustProxy makes the throttle key on X-Forwarded-For.
	TrustProxy bool
}

// BillingConfig holds Stripe settings
type BillingConfig struct {
	StripeSecretKey     string
	StripeWebhookSecret string
	UpgradeURL          string
	PortalReturnURL     string
}

// AuthConfig holds token lifetimes and login throttling
type AuthConfig struct {
	MagicLinkTTL    time.Duration
	ActivationTTL   time.Duration
	SessionTTL      time.Duration
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// MailConfig holds outbound SMTP and queue settings
type MailConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Username    string
	Password    string
	From        string
	StartTLS    bool
	Timeout     time.Duration
	Workers     int
	QueueSize   int
	MaxAttempts int
}

// HousekeepingConfig holds the prune schedules
type HousekeepingConfig struct {
	Enabled        bool
	UsageSchedule  string
	AuthSchedule   string
	UsageRetention time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:           loadServerConfig(),
		Storage:          loadStorageConfig(),
		Billing:          loadBillingConfig(),
		Auth:             loadAuthConfig(),
		Mail:             loadMailConfig(),
		Housekeeping:     loadHousekeepingConfig(),
		EntitlementsPath: getEnv("CLAIMGATE_ENTITLEMENTS_PATH", ""),
		Observability:    loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("CLAIMGATE_HOST", "0.0.0.0"),
		Port:            getEnv("CLAIMGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("CLAIMGATE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("CLAIMGATE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("CLAIMGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("CLAIMGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("CLAIMGATE_MAX_BODY_BYTES", 1<<20),
		HealthPort:      getEnv("CLAIMGATE_HEALTH_PORT", "9090"),
		BaseURL:         getEnv("CLAIMGATE_BASE_URL", "http://localhost:8080"),
		AdminAPIKey:     getEnv("CLAIMGATE_ADMIN_API_KEY", ""),
		TrustProxy:      getEnvBool("CLAIMGATE_TRUST_PROXY", false),
	}
}

// loadStorageConfig loads storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	// PostgreSQL config
	if pgURL := getEnv("CLAIMGATE_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if maxConns := getEnvInt("CLAIMGATE_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("CLAIMGATE_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("CLAIMGATE_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	// Redis config
	if redisURL := getEnv("CLAIMGATE_REDIS_URL", ""); redisURL != "" {
		cfg.RedisURL = redisURL
	}
	if redisPassword := getEnv("CLAIMGATE_REDIS_PASSWORD", ""); redisPassword != "" {
		cfg.RedisPassword = redisPassword
	}
	if redisDB := getEnvInt("CLAIMGATE_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("CLAIMGATE_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("CLAIMGATE_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}

	return cfg
}

func loadBillingConfig() BillingConfig {
	base := strings.TrimRight(getEnv("CLAIMGATE_BASE_URL", "http://localhost:8080"), "/")
	return BillingConfig{
		StripeSecretKey:     getEnv("CLAIMGATE_STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("CLAIMGATE_STRIPE_WEBHOOK_SECRET", ""),
		UpgradeURL:          getEnv("CLAIMGATE_UPGRADE_URL", base+"/pricing"),
		PortalReturnURL:     getEnv("CLAIMGATE_PORTAL_RETURN_URL", base+"/"),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		MagicLinkTTL:    getEnvDuration("CLAIMGATE_MAGIC_LINK_TTL", 15*time.Minute),
		ActivationTTL:   getEnvDuration("CLAIMGATE_ACTIVATION_TTL", 7*24*time.Hour),
		SessionTTL:      getEnvDuration("CLAIMGATE_SESSION_TTL", 7*24*time.Hour),
		LoginRateLimit:  getEnvInt("CLAIMGATE_LOGIN_RATE_LIMIT", 10),
		LoginRateWindow: getEnvDuration("CLAIMGATE_LOGIN_RATE_WINDOW", time.Minute),
	}
}

func loadMailConfig() MailConfig {
	return MailConfig{
		Enabled:     getEnvBool("CLAIMGATE_SMTP_ENABLED", false),
		Host:        getEnv("CLAIMGATE_SMTP_HOST", ""),
		Port:        getEnvInt("CLAIMGATE_SMTP_PORT", 587),
		Username:    getEnv("CLAIMGATE_SMTP_USERNAME", ""),
		Password:    getEnv("CLAIMGATE_SMTP_PASSWORD", ""),
		From:        getEnv("CLAIMGATE_SMTP_FROM", "ClaimGate <no-reply@localhost>"),
		StartTLS:    getEnvBool("CLAIMGATE_SMTP_STARTTLS", true),
		Timeout:     getEnvDuration("CLAIMGATE_SMTP_TIMEOUT", 10*time.Second),
		Workers:     getEnvInt("CLAIMGATE_MAIL_WORKERS", 4),
		QueueSize:   getEnvInt("CLAIMGATE_MAIL_QUEUE_SIZE", 256),
		MaxAttempts: getEnvInt("CLAIMGATE_MAIL_MAX_ATTEMPTS", 5),
	}
}

func loadHousekeepingConfig() HousekeepingConfig {
	return HousekeepingConfig{
		Enabled:        getEnvBool("CLAIMGATE_HOUSEKEEPING_ENABLED", true),
		UsageSchedule:  getEnv("CLAIMGATE_USAGE_PRUNE_SCHEDULE", "15 0 * * *"),
		AuthSchedule:   getEnv("CLAIMGATE_AUTH_PRUNE_SCHEDULE", "*/30 * * * *"),
		UsageRetention: getEnvDuration("CLAIMGATE_USAGE_RETENTION", 90*24*time.Hour),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLevel(getEnv("CLAIMGATE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("CLAIMGATE_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("CLAIMGATE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("CLAIMGATE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("CLAIMGATE_OTEL_SERVICE_NAME", "claimgate"),
		OTelServiceVersion: getEnv("CLAIMGATE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("CLAIMGATE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("CLAIMGATE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if u, err := url.Parse(c.Server.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base URL must be an absolute http(s) URL: %q", c.Server.BaseURL)
	}
	if c.Server.AdminAPIKey == "" {
		return fmt.Errorf("admin API key is required")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Billing.StripeWebhookSecret == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}

	if c.Auth.LoginRateLimit <= 0 || c.Auth.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate limit and window must be positive")
	}

	if c.Mail.Enabled {
		if c.Mail.Host == "" {
			return fmt.Errorf("SMTP host is required when mail is enabled")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("SMTP from address is required when mail is enabled")
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
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
