package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store types
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Inference     InferenceConfig     `yaml:"inference"`
	Store         StoreConfig         `yaml:"store"`
	Redis         RedisConfig         `yaml:"redis"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port string `yaml:"port"`
	// Health/metrics server (separate port for health checks)
	HealthPort      string        `yaml:"health_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// AuthConfig holds token and cookie settings
type AuthConfig struct {
	JWTSecret          string        `yaml:"jwt_secret"`
	TokenTTL           time.Duration `yaml:"token_ttl"`
	CookieSecure       bool          `yaml:"cookie_secure"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
}

// InferenceConfig locates the inference service
type InferenceConfig struct {
	URL string `yaml:"url"`
	// Timeout of zero means no client-side timeout
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects and configures the user and history stores
type StoreConfig struct {
	Type                string        `yaml:"type"`
	PostgresURL         string        `yaml:"postgres_url"`
	PostgresReplicaURLs string        `yaml:"postgres_replica_urls"`
	PostgresMaxConns    int           `yaml:"postgres_max_conns"`
	PostgresMinConns    int           `yaml:"postgres_min_conns"`
	PostgresTimeout     time.Duration `yaml:"postgres_timeout"`
	StoreFrameImages    bool          `yaml:"store_frame_images"`
}

// RedisConfig enables the shared rate limiter when URL is set
type RedisConfig struct {
	URL string `yaml:"url"`
}

// ArchiveConfig configures the optional S3 copy of training images
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// SweeperConfig drives the stale-entry sweeper
type SweeperConfig struct {
	Schedule   string        `yaml:"schedule"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxUploadBytes:  50 << 20,
			CORSOrigins:     []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		},
		Auth: AuthConfig{
			TokenTTL:           time.Hour,
			RateLimitPerMinute: 20,
		},
		Inference: InferenceConfig{
			URL: "http://127.0.0.1:8000",
		},
		Store: StoreConfig{
			Type:             StoreMemory,
			PostgresMaxConns: 25,
			PostgresMinConns: 5,
			PostgresTimeout:  5 * time.Second,
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelServiceName:    "lookout",
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
		},
		Sweeper: SweeperConfig{
			Schedule:   "*/5 * * * *",
			StaleAfter: 15 * time.Minute,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// LOOKOUT_CONFIG_FILE (if any) and environment variables, in that order.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("LOOKOUT_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field whose variable is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("LOOKOUT_HOST", s.Host)
	s.Port = getEnv("LOOKOUT_PORT", s.Port)
	s.HealthPort = getEnv("LOOKOUT_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("LOOKOUT_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("LOOKOUT_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("LOOKOUT_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("LOOKOUT_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxUploadBytes = getEnvInt64("LOOKOUT_MAX_UPLOAD_BYTES", s.MaxUploadBytes)
	s.CORSOrigins = getEnvList("LOOKOUT_CORS_ORIGINS", s.CORSOrigins)

	a := &c.Auth
	a.JWTSecret = getEnv("JWT_SECRET", a.JWTSecret)
	a.TokenTTL = getEnvDuration("LOOKOUT_TOKEN_TTL", a.TokenTTL)
	a.CookieSecure = getEnvBool("LOOKOUT_COOKIE_SECURE", a.CookieSecure)
	a.RateLimitPerMinute = getEnvInt("LOOKOUT_RATE_LIMIT_PER_MINUTE", a.RateLimitPerMinute)

	c.Inference.URL = getEnv("PYTHON_BACKEND_URL", c.Inference.URL)
	c.Inference.Timeout = getEnvDuration("LOOKOUT_INFERENCE_TIMEOUT", c.Inference.Timeout)

	st := &c.Store
	st.Type = strings.ToLower(getEnv("LOOKOUT_STORE_TYPE", st.Type))
	st.PostgresURL = getEnv("LOOKOUT_POSTGRES_URL", st.PostgresURL)
	st.PostgresReplicaURLs = getEnv("LOOKOUT_POSTGRES_REPLICA_URLS", st.PostgresReplicaURLs)
	st.PostgresMaxConns = getEnvInt("LOOKOUT_POSTGRES_MAX_CONNS", st.PostgresMaxConns)
	st.PostgresMinConns = getEnvInt("LOOKOUT_POSTGRES_MIN_CONNS", st.PostgresMinConns)
	st.PostgresTimeout = getEnvDuration("LOOKOUT_POSTGRES_TIMEOUT", st.PostgresTimeout)
	st.StoreFrameImages = getEnvBool("LOOKOUT_STORE_FRAME_IMAGES", st.StoreFrameImages)

	c.Redis.URL = getEnv("LOOKOUT_REDIS_URL", c.Redis.URL)

	ar := &c.Archive
	ar.Enabled = getEnvBool("LOOKOUT_ARCHIVE_ENABLED", ar.Enabled)
	ar.Endpoint = getEnv("LOOKOUT_S3_ENDPOINT", ar.Endpoint)
	ar.Region = getEnv("LOOKOUT_S3_REGION", ar.Region)
	ar.Bucket = getEnv("LOOKOUT_S3_BUCKET", ar.Bucket)
	ar.AccessKey = getEnv("LOOKOUT_S3_ACCESS_KEY", ar.AccessKey)
	ar.SecretKey = getEnv("LOOKOUT_S3_SECRET_KEY", ar.SecretKey)
	ar.UsePathStyle = getEnvBool("LOOKOUT_S3_USE_PATH_STYLE", ar.UsePathStyle)

	o := &c.Observability
	o.LogLevel = getEnv("LOOKOUT_LOG_LEVEL", o.LogLevel)
	o.LogFormat = getEnv("LOOKOUT_LOG_FORMAT", o.LogFormat)
	o.MetricsEnabled = getEnvBool("LOOKOUT_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("LOOKOUT_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("LOOKOUT_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("LOOKOUT_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("LOOKOUT_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("LOOKOUT_OTEL_INSECURE", o.OTelInsecure)

	c.Sweeper.Schedule = getEnv("LOOKOUT_SWEEP_SCHEDULE", c.Sweeper.Schedule)
	c.Sweeper.StaleAfter = getEnvDuration("LOOKOUT_SWEEP_STALE_AFTER", c.Sweeper.StaleAfter)
}

// Validate checks if the configuration is valid. A missing JWT secret is
// not an error here; token paths report it per request.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.HealthPort == "" {
		return errors.New("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return errors.New("server port and health port must be different")
	}

	if c.Inference.URL == "" {
		return errors.New("inference service URL is required")
	}

	switch c.Store.Type {
	case StoreMemory:
	case StorePostgres:
		if c.Store.PostgresURL == "" {
			return errors.New("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory or postgres)", c.Store.Type)
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("S3 bucket is required when the archive is enabled")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
	}

	if c.Sweeper.StaleAfter <= 0 {
		return errors.New("sweeper stale-after must be positive")
	}
	// a sweep must never take an entry whose inference call can still answer
	if c.Inference.Timeout > 0 && c.Sweeper.StaleAfter <= c.Inference.Timeout {
		return fmt.Errorf("sweeper stale-after (%s) must exceed the inference timeout (%s)", c.Sweeper.StaleAfter, c.Inference.Timeout)
	}

	return nil
}

// Addr returns the API listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// HealthAddr returns the health/metrics listen address
func (s ServerConfig) HealthAddr() string {
	return s.Host + ":" + s.HealthPort
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma-separated variable, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
