// Package gamify assembles a ready-to-use achievement service from its parts.
package gamify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	mem "wellnesskit/adapters/memory"
	"wellnesskit/core"
	"wellnesskit/engine"
	"wellnesskit/realtime"
	"wellnesskit/rules"
)

// Option configures the service builder.
type Option func(*config)

type config struct {
	storage    engine.Storage
	ranks      core.RankTable
	mode       engine.DispatchMode
	busOpts    []engine.BusOption
	engineOpts []engine.Option
	svcOpts    []engine.ServiceOption
	extra      []core.Rule
	noDefaults bool
	hub        *realtime.Hub
	sinks      []engine.Handler
	logger     *slog.Logger
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithRanks replaces the default rank table for both the rank rules and the
// cascade. Build r with core.NewRankTable.
func WithRanks(r core.RankTable) Option { return func(c *config) { c.ranks = r } }

// WithDispatchMode selects sync or async notification dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithQueue sizes the async notification queue and its worker pool.
func WithQueue(size, workers int) Option {
	return func(c *config) {
		c.busOpts = append(c.busOpts, engine.WithQueueSize(size), engine.WithWorkers(workers))
	}
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func WithTracer(t trace.Tracer) Option {
	return func(c *config) { c.engineOpts = append(c.engineOpts, engine.WithTracer(t)) }
}

// WithMaxDepth bounds the rank cascade; 0 keeps the engine default.
func WithMaxDepth(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.engineOpts = append(c.engineOpts, engine.WithMaxDepth(n))
		}
	}
}

func WithEvaluationHook(fn func(context.Context, engine.Evaluation)) Option {
	return func(c *config) { c.engineOpts = append(c.engineOpts, engine.WithEvaluationHook(fn)) }
}

func WithDailyBonus(xp int64) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithDailyBonus(xp)) }
}

func WithClock(now func() time.Time) Option {
	return func(c *config) { c.svcOpts = append(c.svcOpts, engine.WithClock(now)) }
}

// WithRules registers additional rules after the built-in ones.
func WithRules(r ...core.Rule) Option { return func(c *config) { c.extra = append(c.extra, r...) } }

// WithoutDefaultRules skips the built-in streak, diversity and rank rules.
func WithoutDefaultRules() Option { return func(c *config) { c.noDefaults = true } }

// WithRealtime forwards every notification to hub.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithSinks subscribes each handler to every notification.
func WithSinks(h ...engine.Handler) Option { return func(c *config) { c.sinks = append(c.sinks, h...) } }

// New builds a configured Service. Unset parts default to in-memory storage,
// the default rank table, the built-in rules and async dispatch.
func New(opts ...Option) (*engine.Service, error) {
	cfg := &config{mode: engine.DispatchAsync, ranks: core.DefaultRanks}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if len(cfg.ranks) == 0 {
		return nil, errors.New("rank table is empty")
	}

	reg := engine.NewRegistry()
	if !cfg.noDefaults {
		if err := rules.RegisterDefaults(reg, cfg.storage, cfg.ranks); err != nil {
			return nil, err
		}
	}
	for _, r := range cfg.extra {
		if err := reg.Register(r); err != nil {
			return nil, fmt.Errorf("register %s: %w", r.Describe().Code, err)
		}
	}

	engineOpts := append([]engine.Option{
		engine.WithLogger(cfg.logger),
		engine.WithRanks(cfg.ranks),
	}, cfg.engineOpts...)
	eng := engine.NewEngine(reg, cfg.storage, engineOpts...)

	bus := engine.NewEventBus(cfg.mode, append([]engine.BusOption{engine.WithBusLogger(cfg.logger)}, cfg.busOpts...)...)
	svcOpts := append([]engine.ServiceOption{engine.WithServiceLogger(cfg.logger)}, cfg.svcOpts...)
	svc := engine.NewService(cfg.storage, eng, bus, svcOpts...)

	if cfg.hub != nil {
		svc.SubscribeAll(cfg.hub.Broadcast)
	}
	for _, h := range cfg.sinks {
		svc.SubscribeAll(h)
	}
	return svc, nil
}
