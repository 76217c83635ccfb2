package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellnesskit/adapters/sqlx"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, AdapterMemory, cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, int64(10), cfg.Engine.DailyBonusXP)
	assert.Zero(t, cfg.Engine.MaxCascadeDepth)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("WELLNESSKIT_SERVER_ADDR", ":7070")
	t.Setenv("WELLNESSKIT_STORAGE_ADAPTER", "redis")
	t.Setenv("WELLNESSKIT_STORAGE_REDIS_ADDR", "redis:6379")
	t.Setenv("WELLNESSKIT_STORAGE_REDIS_DIAL_TIMEOUT", "2s")
	t.Setenv("WELLNESSKIT_ENGINE_MAX_CASCADE_DEPTH", "4")
	t.Setenv("WELLNESSKIT_ENGINE_DAILY_BONUS_XP", "25")
	t.Setenv("WELLNESSKIT_SECURITY_API_KEYS", "a,b")
	t.Setenv("WELLNESSKIT_LOG_ATTRIBUTES", "team:wellness,region:eu")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, AdapterRedis, cfg.Storage.Adapter)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2*time.Second, cfg.Storage.Redis.DialTimeout)
	assert.Equal(t, 4, cfg.Engine.MaxCascadeDepth)
	assert.Equal(t, int64(25), cfg.Engine.DailyBonusXP)
	assert.Equal(t, []string{"a", "b"}, cfg.Security.APIKeys)
	assert.Equal(t, map[string]string{"team": "wellness", "region": "eu"}, cfg.Logging.Attributes)
}

func TestLoadProfileFromEnv(t *testing.T) {
	t.Setenv("WELLNESSKIT_PROFILE", "testing")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, "warn", cfg.Logging.Level)

	t.Setenv("WELLNESSKIT_PROFILE", "bogus")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "sqlite",
			"sqlite": {"path": "/tmp/w.db"}
		}
	}`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, AdapterSQLite, cfg.Storage.Adapter)
	assert.Equal(t, "/tmp/w.db", cfg.Storage.SQLite.Path)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout, "unset fields keep defaults")
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeFile(t, "config.yaml", `
environment: staging
server:
  address: ":9191"
  read_timeout: 3s
storage:
  adapter: sql
  sql:
    driver: mysql
    dsn: "user:pass@tcp(db:3306)/wellness"
engine:
  max_cascade_depth: 3
  daily_bonus_xp: 0
notifications:
  async: true
  queue_size: 16
  workers: 2
  webhooks:
    - https://hooks.example/wellness
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, ":9191", cfg.Server.Address)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, sqlx.DriverMySQL, cfg.Storage.SQL.Driver)
	assert.Equal(t, 3, cfg.Engine.MaxCascadeDepth)
	assert.Zero(t, cfg.Engine.DailyBonusXP)
	assert.True(t, cfg.Notifications.Async)
	assert.Equal(t, []string{"https://hooks.example/wellness"}, cfg.Notifications.Webhooks)
}

func TestLoadFromFileRejectsInvalid(t *testing.T) {
	path := writeFile(t, "bad.json", `{"storage": {"adapter": "sql"}}`)
	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn cannot be empty")

	path = writeFile(t, "broken.yaml", "server: [")
	_, err = LoadFromFile(path)
	assert.Error(t, err)
}

func validConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Address:           ":8080",
			ReadTimeout:       time.Second,
			WriteTimeout:      time.Second,
			IdleTimeout:       time.Second,
			ReadHeaderTimeout: time.Second,
			ShutdownTimeout:   time.Second,
		},
		Storage: StorageConfig{
			Adapter: AdapterMemory,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{"valid config", func(*Config) {}, ""},
		{"invalid environment", func(c *Config) { c.Environment = "" }, "environment cannot be empty"},
		{"invalid server timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "read_timeout"},
		{"unknown adapter", func(c *Config) { c.Storage.Adapter = "mongo" }, "adapter must be one of"},
		{"sqlite without path", func(c *Config) { c.Storage.Adapter = AdapterSQLite }, "sqlite config"},
		{"redis without addr", func(c *Config) { c.Storage.Adapter = AdapterRedis }, "redis config"},
		{"telemetry without endpoint", func(c *Config) { c.Telemetry.Enabled = true }, "endpoint"},
		{"negative depth", func(c *Config) { c.Engine.MaxCascadeDepth = -1 }, "max_cascade_depth"},
		{"negative bonus", func(c *Config) { c.Engine.DailyBonusXP = -5 }, "daily_bonus_xp"},
		{"async without workers", func(c *Config) { c.Notifications.Async = true }, "queue_size"},
		{"bad webhook", func(c *Config) { c.Notifications.Webhooks = []string{"ftp://x"} }, "webhooks[0]"},
		{"rate limit without rpm", func(c *Config) { c.Security.EnableRateLimit = true }, "requests_per_minute"},
		{"blank api key", func(c *Config) { c.Security.APIKeys = []string{" "} }, "api_keys[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestProfiles(t *testing.T) {
	tests := []struct {
		name         string
		profileName  string
		expectConfig bool
		environment  Environment
	}{
		{"development", "development", true, EnvDevelopment},
		{"testing", "testing", true, EnvTesting},
		{"staging", "staging", true, EnvStaging},
		{"production", "production", true, EnvProduction},
		{"unknown", "unknown", false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := LoadProfile(tt.profileName)
			if tt.expectConfig {
				require.NoError(t, err)
				require.NotNil(t, cfg)
				assert.Equal(t, tt.environment, cfg.Environment)
				assert.Equal(t, tt.profileName, cfg.Profile)
			} else {
				assert.Error(t, err)
				assert.Nil(t, cfg)
			}
		})
	}
}

func TestStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://user:hunter2@db/wellness"
	cfg.Storage.Redis.Password = "s3cret"
	cfg.Security.APIKeys = []string{"key-1"}

	out := cfg.String()
	for _, secret := range []string{"hunter2", "s3cret", "key-1"} {
		assert.False(t, strings.Contains(out, secret), "leaked %s", secret)
	}
	assert.Contains(t, out, "[REDACTED]")
	assert.Equal(t, []string{"key-1"}, cfg.Security.APIKeys, "input untouched")
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"c.json", "c.yaml", "c.yml", "c.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600))
	}

	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"json file", filepath.Join(dir, "c.json"), false},
		{"yaml file", filepath.Join(dir, "c.yaml"), false},
		{"yml file", filepath.Join(dir, "c.yml"), false},
		{"empty path", "", true},
		{"path traversal", "../../../etc/passwd", true},
		{"non-config file", filepath.Join(dir, "c.txt"), true},
		{"nonexistent file", filepath.Join(dir, "missing.json"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
