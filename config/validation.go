package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"wellnesskit/adapters/sqlx"
)

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	var errs []string

	if s.Address == "" {
		errs = append(errs, "address cannot be empty")
	}

	if s.ReadTimeout <= 0 {
		errs = append(errs, "read_timeout must be positive")
	}

	if s.WriteTimeout <= 0 {
		errs = append(errs, "write_timeout must be positive")
	}

	if s.IdleTimeout <= 0 {
		errs = append(errs, "idle_timeout must be positive")
	}

	if s.ReadHeaderTimeout <= 0 {
		errs = append(errs, "read_header_timeout must be positive")
	}

	if s.ShutdownTimeout <= 0 {
		errs = append(errs, "shutdown_timeout must be positive")
	}

	return joinErrs(errs)
}

var validAdapters = []string{AdapterMemory, AdapterFile, AdapterSQLite, AdapterSQL, AdapterRedis}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	var errs []string

	if !slices.Contains(validAdapters, s.Adapter) {
		errs = append(errs, fmt.Sprintf("adapter must be one of: %s", strings.Join(validAdapters, ", ")))
	}

	switch s.Adapter {
	case AdapterFile:
		if s.File.Path == "" {
			errs = append(errs, "file config: path cannot be empty")
		}
	case AdapterSQLite:
		if s.SQLite.Path == "" {
			errs = append(errs, "sqlite config: path cannot be empty")
		}
	case AdapterSQL:
		if s.SQL.Driver != sqlx.DriverPostgres && s.SQL.Driver != sqlx.DriverMySQL {
			errs = append(errs, "sql config: driver must be postgres or mysql")
		}
		if strings.TrimSpace(s.SQL.DSN) == "" {
			errs = append(errs, "sql config: dsn cannot be empty")
		}
	case AdapterRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, "redis config: addr cannot be empty")
		}
	}

	return joinErrs(errs)
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"json", "text"}
	validOutputs = []string{"stdout", "stderr"}
)

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	var errs []string

	if !slices.Contains(validLevels, l.Level) {
		errs = append(errs, fmt.Sprintf("level must be one of: %s", strings.Join(validLevels, ", ")))
	}

	if !slices.Contains(validFormats, l.Format) {
		errs = append(errs, fmt.Sprintf("format must be one of: %s", strings.Join(validFormats, ", ")))
	}

	if !slices.Contains(validOutputs, l.Output) {
		errs = append(errs, fmt.Sprintf("output must be one of: %s", strings.Join(validOutputs, ", ")))
	}

	return joinErrs(errs)
}

// Validate validates telemetry configuration
func (t *TelemetryConfig) Validate() error {
	var errs []string

	if t.Enabled && t.Endpoint == "" {
		errs = append(errs, "endpoint cannot be empty when telemetry is enabled")
	}

	if t.SampleRatio < 0 || t.SampleRatio > 1 {
		errs = append(errs, "sample_ratio must be within [0, 1]")
	}

	return joinErrs(errs)
}

// Validate validates engine configuration
func (e *EngineConfig) Validate() error {
	var errs []string

	if e.MaxCascadeDepth < 0 {
		errs = append(errs, "max_cascade_depth must be >= 0")
	}

	if e.DailyBonusXP < 0 {
		errs = append(errs, "daily_bonus_xp must be >= 0")
	}

	return joinErrs(errs)
}

// Validate validates notification configuration
func (n *NotificationsConfig) Validate() error {
	var errs []string

	if n.Async {
		if n.QueueSize <= 0 {
			errs = append(errs, "queue_size must be > 0 when async")
		}
		if n.Workers <= 0 {
			errs = append(errs, "workers must be > 0 when async")
		}
	}

	for i, w := range n.Webhooks {
		if !strings.HasPrefix(w, "http://") && !strings.HasPrefix(w, "https://") {
			errs = append(errs, fmt.Sprintf("webhooks[%d] must be an http(s) URL", i))
		}
	}

	return joinErrs(errs)
}

// Validate validates security settings.
func (s *SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	return joinErrs(errs)
}

func joinErrs(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}
