package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/taskboard/pkg/auth"
	"github.com/platinummonkey/taskboard/pkg/observability"
)

// Throttle backends
const (
	ThrottleMemory = "memory"
	ThrottleRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Auth          AuthConfig          `yaml:"auth"`
	Sweeper       SweeperConfig       `yaml:"sweeper"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL pool configuration
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	Timeout         time.Duration `yaml:"timeout"`
	ApplySchema     bool          `yaml:"apply_schema"`
}

// RedisConfig holds Redis configuration. An empty URL keeps the throttle
// and per-user locks in process.
type RedisConfig struct {
	URL        string        `yaml:"url"`
	Password   string        `yaml:"password"`
	DB         int           `yaml:"db"`
	PoolSize   int           `yaml:"pool_size"`
	MaxRetries int           `yaml:"max_retries"`
	LockLease  time.Duration `yaml:"lock_lease"`
}

// AuthConfig holds credential and throttle settings
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	JWTIssuer         string        `yaml:"jwt_issuer"`
	AccessTTL         time.Duration `yaml:"access_ttl"`
	RefreshTTL        time.Duration `yaml:"refresh_ttl"`
	ResetTTL          time.Duration `yaml:"reset_ttl"`
	HashAlgorithm     string        `yaml:"hash_algorithm"`
	LockoutThreshold  int           `yaml:"lockout_threshold"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`
	ProbationDuration time.Duration `yaml:"probation_duration"`
	ThrottleBackend   string        `yaml:"throttle_backend"`
	ThrottleCacheSize int           `yaml:"throttle_cache_size"`
}

// SweeperConfig holds the maintenance job schedule
type SweeperConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Schedule    string        `yaml:"schedule"`
	Retention   time.Duration `yaml:"retention"`
	StepTimeout time.Duration `yaml:"step_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"` // Use insecure gRPC connection
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: time.Minute,
			Timeout:         10 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			LockLease:  10 * time.Second,
		},
		Auth: AuthConfig{
			JWTIssuer:         "taskboard",
			AccessTTL:         15 * time.Minute,
			RefreshTTL:        7 * 24 * time.Hour,
			ResetTTL:          30 * time.Minute,
			HashAlgorithm:     string(auth.HashSHA256),
			LockoutThreshold:  3,
			LockoutDuration:   10 * time.Minute,
			ProbationDuration: 15 * time.Minute,
			ThrottleBackend:   ThrottleMemory,
			ThrottleCacheSize: 100000,
		},
		Sweeper: SweeperConfig{
			Enabled:     true,
			Schedule:    "15 3 * * *",
			Retention:   30 * 24 * time.Hour,
			StepTimeout: 5 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "taskboard-auth",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1.0,
		},
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := Default()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadFile loads a YAML document over the defaults, then applies
// environment variables on top.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides fields whose TASKBOARD_* variable is set
func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("TASKBOARD_HOST", s.Host)
	s.Port = getEnv("TASKBOARD_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("TASKBOARD_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("TASKBOARD_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("TASKBOARD_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("TASKBOARD_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	d := &c.Database
	d.URL = getEnv("TASKBOARD_POSTGRES_URL", d.URL)
	d.MaxOpenConns = getEnvInt("TASKBOARD_POSTGRES_MAX_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("TASKBOARD_POSTGRES_MIN_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("TASKBOARD_POSTGRES_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnMaxIdleTime = getEnvDuration("TASKBOARD_POSTGRES_MAX_IDLE_TIME", d.ConnMaxIdleTime)
	d.Timeout = getEnvDuration("TASKBOARD_POSTGRES_TIMEOUT", d.Timeout)
	d.ApplySchema = getEnvBool("TASKBOARD_POSTGRES_APPLY_SCHEMA", d.ApplySchema)

	r := &c.Redis
	r.URL = getEnv("TASKBOARD_REDIS_URL", r.URL)
	r.Password = getEnv("TASKBOARD_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("TASKBOARD_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("TASKBOARD_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("TASKBOARD_REDIS_MAX_RETRIES", r.MaxRetries)
	r.LockLease = getEnvDuration("TASKBOARD_REDIS_LOCK_LEASE", r.LockLease)

	a := &c.Auth
	a.JWTSecret = getEnv("TASKBOARD_JWT_SECRET", a.JWTSecret)
	a.JWTIssuer = getEnv("TASKBOARD_JWT_ISSUER", a.JWTIssuer)
	a.AccessTTL = getEnvDuration("TASKBOARD_ACCESS_TTL", a.AccessTTL)
	a.RefreshTTL = getEnvDuration("TASKBOARD_REFRESH_TTL", a.RefreshTTL)
	a.ResetTTL = getEnvDuration("TASKBOARD_RESET_TTL", a.ResetTTL)
	a.HashAlgorithm = getEnv("TASKBOARD_HASH_ALGORITHM", a.HashAlgorithm)
	a.LockoutThreshold = getEnvInt("TASKBOARD_LOCKOUT_THRESHOLD", a.LockoutThreshold)
	a.LockoutDuration = getEnvDuration("TASKBOARD_LOCKOUT_DURATION", a.LockoutDuration)
	a.ProbationDuration = getEnvDuration("TASKBOARD_PROBATION_DURATION", a.ProbationDuration)
	a.ThrottleBackend = strings.ToLower(getEnv("TASKBOARD_THROTTLE_BACKEND", a.ThrottleBackend))
	a.ThrottleCacheSize = getEnvInt("TASKBOARD_THROTTLE_CACHE_SIZE", a.ThrottleCacheSize)

	w := &c.Sweeper
	w.Enabled = getEnvBool("TASKBOARD_SWEEPER_ENABLED", w.Enabled)
	w.Schedule = getEnv("TASKBOARD_SWEEPER_SCHEDULE", w.Schedule)
	w.Retention = getEnvDuration("TASKBOARD_ARCHIVE_RETENTION", w.Retention)
	w.StepTimeout = getEnvDuration("TASKBOARD_SWEEPER_STEP_TIMEOUT", w.StepTimeout)

	o := &c.Observability
	o.LogLevel = getEnv("TASKBOARD_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("TASKBOARD_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("TASKBOARD_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("TASKBOARD_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("TASKBOARD_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("TASKBOARD_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("TASKBOARD_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("TASKBOARD_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Database.MaxOpenConns < 1 {
		return fmt.Errorf("postgres max connections must be at least 1")
	}

	// Validate auth config
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT secret must be at least 32 bytes")
	}
	if _, err := auth.NewHasher(auth.HashAlgorithm(c.Auth.HashAlgorithm)); err != nil {
		return err
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 || c.Auth.ResetTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.Auth.LockoutThreshold < 1 {
		return fmt.Errorf("lockout threshold must be at least 1")
	}
	if c.Auth.LockoutDuration <= 0 || c.Auth.ProbationDuration <= 0 {
		return fmt.Errorf("lockout and probation durations must be positive")
	}
	switch c.Auth.ThrottleBackend {
	case ThrottleMemory:
		if c.Auth.ThrottleCacheSize < 1 {
			return fmt.Errorf("throttle cache size must be at least 1")
		}
	case ThrottleRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis throttle backend")
		}
	default:
		return fmt.Errorf("invalid throttle backend: %s (must be memory or redis)", c.Auth.ThrottleBackend)
	}

	// Validate sweeper config
	if c.Sweeper.Enabled {
		if _, err := cron.ParseStandard(c.Sweeper.Schedule); err != nil {
			return fmt.Errorf("invalid sweeper schedule %q: %w", c.Sweeper.Schedule, err)
		}
		if c.Sweeper.Retention <= 0 {
			return fmt.Errorf("archive retention must be positive")
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
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
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
