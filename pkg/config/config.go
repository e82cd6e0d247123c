package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration
type Config struct {
	Server       ServerConfig       `json:"server"`
	Database     DatabaseConfig     `json:"database"`
	Redis        RedisConfig        `json:"redis"`
	Gateway      GatewayConfig      `json:"gateway"`
	Integrations IntegrationsConfig `json:"integrations"`
	Auth         AuthConfig         `json:"auth"`
	Logging      LoggingConfig      `json:"logging"`
	Tracing      TracingConfig      `json:"tracing"`
	Metrics      MetricsConfig      `json:"metrics"`
	Events       EventsConfig       `json:"events"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	CORSOrigins  []string      `json:"cors_origins"`
}

// DatabaseConfig contains the connection settings of the durable metrics store.
// An empty Host disables durable metrics.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// Enabled reports whether a metrics database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.Host != ""
}

// RedisConfig contains Redis connection configuration for the cache store.
// An empty Host selects the in-memory store.
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// DependencyConfig is the resilience policy of one dependency
type DependencyConfig struct {
	FailureThreshold    int           `json:"failure_threshold"`
	ResetTimeout        time.Duration `json:"reset_timeout"`
	RequestsPerSecond   float64       `json:"requests_per_second"`
	BurstLimit          int           `json:"burst_limit"`
	MaxRetries          int           `json:"max_retries"`
	AttemptTimeout      time.Duration `json:"attempt_timeout"`
	HalfOpenSingleTrial bool          `json:"half_open_single_trial"`
}

// GatewayConfig contains the external-call gateway settings
type GatewayConfig struct {
	Defaults       DependencyConfig            `json:"defaults"`
	Dependencies   map[string]DependencyConfig `json:"dependencies"`
	CacheTTL       time.Duration               `json:"cache_ttl"`
	ResultTTL      time.Duration               `json:"result_ttl"`
	BatchSize      int                         `json:"batch_size"`
	MaxConcurrency int                         `json:"max_concurrency"`
	ChunkDelay     time.Duration               `json:"chunk_delay"`
	FlushInterval  time.Duration               `json:"flush_interval"`
	MaxQueueSize   int                         `json:"max_queue_size"`
	SinkBufferSize int                         `json:"sink_buffer_size"`
}

// PlatformConfig holds the publish endpoint and OAuth2 client credentials of one platform
type PlatformConfig struct {
	BaseURL      string `json:"base_url"`
	TokenURL     string `json:"token_url"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// IntegrationsConfig contains third-party endpoint settings
type IntegrationsConfig struct {
	ContentBaseURL string                    `json:"content_base_url"`
	ContentAPIKey  string                    `json:"content_api_key"`
	ContentModel   string                    `json:"content_model"`
	Platforms      map[string]PlatformConfig `json:"platforms"`
}

// AuthConfig contains service-token authentication configuration.
// An empty JWTSecret disables authentication.
type AuthConfig struct {
	JWTSecret string `json:"jwt_secret"`
	JWTIssuer string `json:"jwt_issuer"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// TracingConfig contains tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Environment    string  `json:"environment"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// EventsConfig contains the breaker event publisher settings.
// An empty AMQPURL publishes events to the log only.
type EventsConfig struct {
	AMQPURL  string `json:"-"`
	Exchange string `json:"exchange"`
}

// Known dependency keys with built-in policies.
var knownDependencies = []string{
	"content-generation",
	"twitter-publish",
	"linkedin-publish",
	"threads-publish",
}

// Known publishing platforms.
var knownPlatforms = []string{"twitter", "linkedin", "threads"}

// DefaultDependencyConfig returns the global resilience defaults
func DefaultDependencyConfig() DependencyConfig {
	return DependencyConfig{
		FailureThreshold:  5,
		ResetTimeout:      60 * time.Second,
		RequestsPerSecond: 10,
		BurstLimit:        20,
		MaxRetries:        3,
		AttemptTimeout:    30 * time.Second,
	}
}

// Load loads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	defaults := DependencyConfig{
		FailureThreshold:    getEnvInt("GW_FAILURE_THRESHOLD", 5),
		ResetTimeout:        getEnvDuration("GW_RESET_TIMEOUT", 60*time.Second),
		RequestsPerSecond:   getEnvFloat("GW_REQUESTS_PER_SECOND", 10),
		BurstLimit:          getEnvInt("GW_BURST_LIMIT", 20),
		MaxRetries:          getEnvInt("GW_MAX_RETRIES", 3),
		AttemptTimeout:      getEnvDuration("GW_ATTEMPT_TIMEOUT", 30*time.Second),
		HalfOpenSingleTrial: getEnvBool("GW_HALF_OPEN_SINGLE_TRIAL", false),
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			CORSOrigins:  getEnvList("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", ""),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "hooklabs"),
			User:            getEnvString("DB_USER", "hooklabs"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", ""),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Gateway: GatewayConfig{
			Defaults:       defaults,
			Dependencies:   make(map[string]DependencyConfig),
			CacheTTL:       getEnvDuration("GW_CACHE_TTL", time.Hour),
			ResultTTL:      getEnvDuration("GW_RESULT_TTL", 5*time.Minute),
			BatchSize:      getEnvInt("GW_BATCH_SIZE", 10),
			MaxConcurrency: getEnvInt("GW_MAX_CONCURRENCY", 3),
			ChunkDelay:     getEnvDuration("GW_CHUNK_DELAY", 200*time.Millisecond),
			FlushInterval:  getEnvDuration("GW_FLUSH_INTERVAL", time.Second),
			MaxQueueSize:   getEnvInt("GW_MAX_QUEUE_SIZE", 1000),
			SinkBufferSize: getEnvInt("GW_SINK_BUFFER_SIZE", 1024),
		},
		Integrations: IntegrationsConfig{
			ContentBaseURL: getEnvString("CONTENT_API_BASE_URL", "https://api.openai.com"),
			ContentAPIKey:  getEnvString("CONTENT_API_KEY", ""),
			ContentModel:   getEnvString("CONTENT_API_MODEL", "gpt-4o-mini"),
			Platforms:      make(map[string]PlatformConfig),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvString("JWT_SECRET", ""),
			JWTIssuer: getEnvString("JWT_ISSUER", "hooklabs"),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "hooklabs"),
		},
		Events: EventsConfig{
			AMQPURL:  getEnvString("EVENTS_AMQP_URL", ""),
			Exchange: getEnvString("EVENTS_EXCHANGE", "gateway.events"),
		},
	}

	for _, dep := range knownDependencies {
		config.Gateway.Dependencies[dep] = loadDependencyOverride(dep, defaults)
	}

	for _, platform := range knownPlatforms {
		prefix := "PLATFORM_" + strings.ToUpper(platform) + "_"
		config.Integrations.Platforms[platform] = PlatformConfig{
			BaseURL:      getEnvString(prefix+"BASE_URL", ""),
			TokenURL:     getEnvString(prefix+"TOKEN_URL", ""),
			ClientID:     getEnvString(prefix+"CLIENT_ID", ""),
			ClientSecret: getEnvString(prefix+"CLIENT_SECRET", ""),
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// loadDependencyOverride reads GW_<DEPENDENCY>_* variables on top of the defaults,
// e.g. GW_CONTENT_GENERATION_RPS for "content-generation".
func loadDependencyOverride(dependency string, defaults DependencyConfig) DependencyConfig {
	prefix := "GW_" + EnvKey(dependency) + "_"

	return DependencyConfig{
		FailureThreshold:    getEnvInt(prefix+"FAILURE_THRESHOLD", defaults.FailureThreshold),
		ResetTimeout:        getEnvDuration(prefix+"RESET_TIMEOUT", defaults.ResetTimeout),
		RequestsPerSecond:   getEnvFloat(prefix+"RPS", defaults.RequestsPerSecond),
		BurstLimit:          getEnvInt(prefix+"BURST", defaults.BurstLimit),
		MaxRetries:          getEnvInt(prefix+"MAX_RETRIES", defaults.MaxRetries),
		AttemptTimeout:      getEnvDuration(prefix+"ATTEMPT_TIMEOUT", defaults.AttemptTimeout),
		HalfOpenSingleTrial: getEnvBool(prefix+"HALF_OPEN_SINGLE_TRIAL", defaults.HalfOpenSingleTrial),
	}
}

// EnvKey converts a dependency key into its environment variable infix
func EnvKey(dependency string) string {
	return strings.ToUpper(strings.ReplaceAll(dependency, "-", "_"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Gateway.Defaults.Validate(); err != nil {
		return fmt.Errorf("gateway defaults: %w", err)
	}
	for name, dep := range c.Gateway.Dependencies {
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("dependency %s: %w", name, err)
		}
	}

	if c.Gateway.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Gateway.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive")
	}
	if c.Gateway.MaxQueueSize <= 0 {
		return fmt.Errorf("max queue size must be positive")
	}
	if c.Gateway.ResultTTL <= 0 {
		return fmt.Errorf("result ttl must be positive")
	}

	if c.Database.Enabled() && c.Database.Password == "" {
		return fmt.Errorf("database password is required when DB_HOST is set")
	}

	return nil
}

// Validate rejects policies the breaker and limiter cannot honour
func (d DependencyConfig) Validate() error {
	if d.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if d.ResetTimeout <= 0 {
		return fmt.Errorf("reset timeout must be positive")
	}
	if d.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if d.BurstLimit < 1 {
		return fmt.Errorf("burst limit must be at least 1")
	}
	if d.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if d.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt timeout must be positive")
	}
	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// Address returns the HTTP listen address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
