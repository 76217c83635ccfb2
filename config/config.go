package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"wellnesskit/adapters/redis"
	"wellnesskit/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Storage adapter names.
const (
	AdapterMemory = "memory"
	AdapterFile   = "file"
	AdapterSQLite = "sqlite"
	AdapterSQL    = "sql"
	AdapterRedis  = "redis"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" yaml:"environment" env:"ENV"`
	Profile     string      `json:"profile" yaml:"profile" env:"PROFILE"`

	Server        ServerConfig        `json:"server" yaml:"server" envPrefix:"SERVER_"`
	Storage       StorageConfig       `json:"storage" yaml:"storage" envPrefix:"STORAGE_"`
	Logging       LoggingConfig       `json:"logging" yaml:"logging" envPrefix:"LOG_"`
	Telemetry     TelemetryConfig     `json:"telemetry" yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Engine        EngineConfig        `json:"engine" yaml:"engine" envPrefix:"ENGINE_"`
	Notifications NotificationsConfig `json:"notifications" yaml:"notifications" envPrefix:"NOTIFY_"`
	Security      SecurityConfig      `json:"security" yaml:"security" envPrefix:"SECURITY_"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" yaml:"address" env:"ADDR"`
	PathPrefix        string        `json:"path_prefix" yaml:"path_prefix" env:"PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" yaml:"cors_origin" env:"CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" yaml:"adapter" env:"ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" yaml:"redis,omitempty" envPrefix:"REDIS_"`
	SQL     sqlx.Config  `json:"sql,omitempty" yaml:"sql,omitempty" envPrefix:"SQL_"`
	SQLite  SQLiteConfig `json:"sqlite,omitempty" yaml:"sqlite,omitempty" envPrefix:"SQLITE_"`
	File    FileConfig   `json:"file,omitempty" yaml:"file,omitempty" envPrefix:"FILE_"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" yaml:"path" env:"PATH"`
}

// SQLiteConfig holds embedded database configuration
type SQLiteConfig struct {
	Path string `json:"path" yaml:"path" env:"PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" yaml:"level" env:"LEVEL"`
	Format     string            `json:"format" yaml:"format" env:"FORMAT"`
	Output     string            `json:"output" yaml:"output" env:"OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty" env:"ATTRIBUTES"`
}

// TelemetryConfig holds OpenTelemetry tracing configuration
type TelemetryConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint" env:"ENDPOINT"`
	Insecure    bool    `json:"insecure" yaml:"insecure" env:"INSECURE"`
	ServiceName string  `json:"service_name" yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio" env:"SAMPLE_RATIO"`
}

// EngineConfig tunes the achievement engine and the recording workflow
type EngineConfig struct {
	// MaxCascadeDepth overrides the rank cascade limit; 0 keeps the default
	// of one more than the number of rank tiers.
	MaxCascadeDepth int   `json:"max_cascade_depth" yaml:"max_cascade_depth" env:"MAX_CASCADE_DEPTH"`
	DailyBonusXP    int64 `json:"daily_bonus_xp" yaml:"daily_bonus_xp" env:"DAILY_BONUS_XP"`
	// SyncCatalog upserts a catalog row for every rule at startup.
	SyncCatalog bool `json:"sync_catalog" yaml:"sync_catalog" env:"SYNC_CATALOG"`
}

// NotificationsConfig controls the event bus and its sinks
type NotificationsConfig struct {
	Async     bool     `json:"async" yaml:"async" env:"ASYNC"`
	QueueSize int      `json:"queue_size" yaml:"queue_size" env:"QUEUE_SIZE"`
	Workers   int      `json:"workers" yaml:"workers" env:"WORKERS"`
	Webhooks  []string `json:"webhooks,omitempty" yaml:"webhooks,omitempty" env:"WEBHOOKS"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" yaml:"enable_rate_limit" env:"RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty" envPrefix:"RATE_LIMIT_"`
	APIKeys         []string        `json:"api_keys,omitempty" yaml:"api_keys,omitempty" env:"API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" env:"RPM"`
	BurstSize         int `json:"burst_size" yaml:"burst_size" env:"BURST"`
}

// Load loads configuration from environment variables and validates it.
// WELLNESSKIT_PROFILE selects a base profile before overrides apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if name := os.Getenv(envPrefix + "PROFILE"); name != "" {
		p, err := LoadProfile(name)
		if err != nil {
			return nil, err
		}
		cfg = p
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	switch strings.ToLower(filepath.Ext(cleanPath)) {
	case ".json", ".yaml", ".yml":
	default:
		return errors.New("config file must have .json, .yaml or .yml extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file; environment
// variables override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: AdapterMemory,
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			SQLite:  SQLiteConfig{Path: "./data/wellnesskit.db"},
			File:    FileConfig{Path: "./data/wellnesskit.json"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "wellnesskit",
			SampleRatio: 1,
		},
		Engine: EngineConfig{
			DailyBonusXP: 10,
			SyncCatalog:  true,
		},
		Notifications: NotificationsConfig{
			QueueSize: 1024,
			Workers:   4,
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
	}
}

// LoadProfile returns the defaults tuned for a named environment.
func LoadProfile(name string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.Profile = name
	switch Environment(name) {
	case EnvDevelopment:
		cfg.Logging.Level = "debug"
		cfg.Logging.Format = "text"
	case EnvTesting:
		cfg.Environment = EnvTesting
		cfg.Logging.Level = "warn"
		cfg.Server.Address = "127.0.0.1:0"
	case EnvStaging:
		cfg.Environment = EnvStaging
		cfg.Storage.Adapter = AdapterSQLite
		cfg.Notifications.Async = true
	case EnvProduction:
		cfg.Environment = EnvProduction
		cfg.Storage.Adapter = AdapterSQL
		cfg.Server.CORSOrigin = ""
		cfg.Notifications.Async = true
		cfg.Security.EnableRateLimit = true
		cfg.Telemetry.SampleRatio = 0.1
	default:
		return nil, fmt.Errorf("unknown profile %q", name)
	}
	return cfg, nil
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	sections := []struct {
		name string
		err  error
	}{
		{"server", c.Server.Validate()},
		{"storage", c.Storage.Validate()},
		{"logging", c.Logging.Validate()},
		{"telemetry", c.Telemetry.Validate()},
		{"engine", c.Engine.Validate()},
		{"notifications", c.Notifications.Validate()},
		{"security", c.Security.Validate()},
	}
	for _, s := range sections {
		if s.err != nil {
			errs = append(errs, fmt.Sprintf("%s config: %v", s.name, s.err))
		}
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

const redacted = "[REDACTED]"

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = redacted
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = redacted
	}
	if len(cfg.Security.APIKeys) > 0 {
		keys := make([]string, len(cfg.Security.APIKeys))
		for i := range keys {
			keys[i] = redacted
		}
		cfg.Security.APIKeys = keys
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
