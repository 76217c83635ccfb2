package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"wellnesskit/adapters/jsonfile"
	mem "wellnesskit/adapters/memory"
	redisAdapter "wellnesskit/adapters/redis"
	"wellnesskit/adapters/sqlite"
	sqlxAdapter "wellnesskit/adapters/sqlx"
	"wellnesskit/analytics"
	"wellnesskit/api/httpapi"
	"wellnesskit/config"
	"wellnesskit/engine"
	"wellnesskit/gamify"
	"wellnesskit/integrations/webhook"
	"wellnesskit/realtime"
	"wellnesskit/telemetry"
)

// ConfigPath is the optional config file given on the command line.
type ConfigPath string

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	KPIs    *analytics.KPIs
	Service *engine.Service
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(path ConfigPath) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(string(path))
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	var w io.Writer = os.Stdout
	if cfg.Logging.Output == "stderr" {
		w = os.Stderr
	}
	logger := setupLogging(cfg.Logging, w)
	slog.SetDefault(logger)
	return logger
}

func provideTracer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (trace.Tracer, func(), error) {
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, fmt.Errorf("setup telemetry: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
	return otel.Tracer("wellnesskit/engine"), cleanup, nil
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideKPIs() *analytics.KPIs {
	return analytics.NewKPIs()
}

func provideStorage(cfg *config.Config, logger *slog.Logger) (engine.Storage, func(), error) {
	storage, err := setupStorage(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if c, ok := storage.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logger.Warn("storage close failed", "adapter", cfg.Storage.Adapter, "error", err)
			}
		}
	}
	return storage, cleanup, nil
}

func provideService(ctx context.Context, cfg *config.Config, storage engine.Storage, hub *realtime.Hub,
	kpis *analytics.KPIs, tracer trace.Tracer, logger *slog.Logger) (*engine.Service, func(), error) {
	hooks := []analytics.Hook{kpis}
	if len(cfg.Notifications.Webhooks) > 0 {
		hooks = append(hooks, webhook.New(cfg.Notifications.Webhooks, webhook.WithLogger(logger)))
	}

	mode := engine.DispatchSync
	if cfg.Notifications.Async {
		mode = engine.DispatchAsync
	}

	svc, err := gamify.New(
		gamify.WithStorage(storage),
		gamify.WithLogger(logger),
		gamify.WithTracer(tracer),
		gamify.WithDispatchMode(mode),
		gamify.WithQueue(cfg.Notifications.QueueSize, cfg.Notifications.Workers),
		gamify.WithMaxDepth(cfg.Engine.MaxCascadeDepth),
		gamify.WithDailyBonus(cfg.Engine.DailyBonusXP),
		gamify.WithEvaluationHook(kpis.OnEvaluation),
		gamify.WithRealtime(hub),
		gamify.WithSinks(analytics.NewBridge(hooks...).OnNotification),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build service: %w", err)
	}

	if cfg.Engine.SyncCatalog {
		n, err := svc.SyncCatalog(ctx)
		if err != nil {
			svc.Close()
			return nil, nil, fmt.Errorf("sync achievement catalog: %w", err)
		}
		logger.Info("achievement catalog synced", "rules", n)
	}
	return svc, svc.Close, nil
}

func provideHandler(svc *engine.Service, hub *realtime.Hub, kpis *analytics.KPIs, cfg *config.Config) http.Handler {
	return httpapi.NewMux(svc, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		KPIs:             kpis,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging builds a slog logger from the logging section.
func setupLogging(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Level),
	}

	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	if len(cfg.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Attributes))
	}

	return slog.New(handler)
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}

// setupStorage opens the configured storage adapter.
func setupStorage(cfg config.StorageConfig) (engine.Storage, error) {
	switch cfg.Adapter {
	case config.AdapterMemory:
		return mem.New(), nil
	case config.AdapterFile:
		return jsonfile.New(cfg.File.Path)
	case config.AdapterSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
		return sqlite.Open(cfg.SQLite.Path)
	case config.AdapterSQL:
		return sqlxAdapter.New(cfg.SQL)
	case config.AdapterRedis:
		return redisAdapter.New(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown storage adapter: %s", cfg.Adapter)
	}
}
