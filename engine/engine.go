package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wellnesskit/core"
)

// RuleState is the terminal state of one rule against one event.
type RuleState int

const (
	StateNotEvaluated RuleState = iota
	StateNotEarned
	StateEarnedNew
	StateEarnedDuplicate
	StateFailed
)

func (s RuleState) String() string {
	switch s {
	case StateNotEarned:
		return "not_earned"
	case StateEarnedNew:
		return "earned_new"
	case StateEarnedDuplicate:
		return "earned_duplicate"
	case StateFailed:
		return "failed"
	}
	return "not_evaluated"
}

// Evaluation is reported to the evaluation hook for every rule that handled
// an event.
type Evaluation struct {
	Code  string
	User  core.UserID
	Event core.EventType
	Depth int
	State RuleState
	Err   error
}

// Engine evaluates the registered rules against events, persists first-time
// unlocks and cascades into RankChanged events when a dispatch observes a
// rank boundary crossing. It never mutates XP or level; it only compares
// level snapshots taken before and after each unlock.
type Engine struct {
	registry *Registry
	store    Store
	ranks    core.RankTable
	maxDepth int
	logger   *slog.Logger
	tracer   trace.Tracer
	hook     func(context.Context, Evaluation)
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithTracer(t trace.Tracer) Option { return func(e *Engine) { e.tracer = t } }

// WithRanks sets the tier ladder used for cascade detection.
func WithRanks(r core.RankTable) Option { return func(e *Engine) { e.ranks = r } }

// WithMaxDepth caps cascade recursion. Defaults to len(ranks)+1.
func WithMaxDepth(n int) Option { return func(e *Engine) { e.maxDepth = n } }

// WithEvaluationHook receives one Evaluation per handled rule.
func WithEvaluationHook(fn func(context.Context, Evaluation)) Option {
	return func(e *Engine) { e.hook = fn }
}

// NewEngine builds an engine over reg and freezes it.
func NewEngine(reg *Registry, store Store, opts ...Option) *Engine {
	if reg == nil || store == nil {
		panic("NewEngine requires non-nil registry and store")
	}
	e := &Engine{registry: reg, store: store, ranks: core.DefaultRanks}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("wellnesskit/engine")
	}
	if e.maxDepth <= 0 {
		e.maxDepth = len(e.ranks) + 1
	}
	reg.Freeze()
	return e
}

func (e *Engine) Registry() *Registry { return e.registry }

func (e *Engine) Ranks() core.RankTable { return e.ranks }

// Dispatch runs every applicable rule against ev and returns the unlocks
// created during the whole cascade, in creation order. Rule failures and
// cascade failures are logged and swallowed; only persistence outages
// (core.ErrUnavailable) and context cancellation are returned, together with
// the unlocks already persisted.
func (e *Engine) Dispatch(ctx context.Context, ev core.Event) ([]core.UnlockResult, error) {
	if ev == nil || ev.User() == "" {
		return nil, core.ErrInvalidEvent
	}
	return e.dispatch(ctx, ev, 0)
}

func (e *Engine) dispatch(ctx context.Context, ev core.Event, depth int) ([]core.UnlockResult, error) {
	ctx, span := e.tracer.Start(ctx, "achievements.dispatch", trace.WithAttributes(
		attribute.String("event_type", string(ev.Type())),
		attribute.String("user_id", string(ev.User())),
		attribute.Int("depth", depth),
	))
	defer span.End()

	var earned []core.UnlockResult
	for _, rule := range e.registry.All() {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return earned, err
		}
		if !e.handles(rule, ev) {
			continue
		}
		res, state, err := e.processRule(ctx, rule, ev, depth)
		earned = append(earned, res...)
		e.report(ctx, rule, ev, depth, state, err)
		if err != nil && isFatal(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "dispatch aborted")
			return earned, err
		}
	}
	span.SetAttributes(attribute.Int("unlocked", len(earned)))
	return earned, nil
}

// processRule walks one rule through evaluate, catalog upsert, baseline
// level capture, unlock creation and cascade. Only fatal persistence errors
// are returned.
func (e *Engine) processRule(ctx context.Context, rule core.Rule, ev core.Event, depth int) ([]core.UnlockResult, RuleState, error) {
	def := rule.Describe()
	ctx, span := e.tracer.Start(ctx, "achievements.rule_evaluation", trace.WithAttributes(
		attribute.String("rule_code", def.Code),
		attribute.String("rule_name", def.Name),
	))
	defer span.End()

	out, err := e.evaluate(ctx, rule, ev)
	if err != nil {
		span.RecordError(err)
		e.logger.WarnContext(ctx, "achievement rule failed",
			"rule_code", def.Code, "user_id", ev.User(), "error", err)
		return nil, StateFailed, nil
	}
	if !out.Earned {
		return nil, StateNotEarned, nil
	}

	ctx, cspan := e.tracer.Start(ctx, "achievements.achievement_creation",
		trace.WithAttributes(attribute.String("rule_code", def.Code)))
	defer cspan.End()

	user := ev.User()
	ach, err := e.ensureAchievement(ctx, def)
	if err != nil {
		return nil, StateFailed, e.persistFailure(ctx, cspan, def.Code, user, "upsert achievement", err)
	}

	oldLevel, err := e.level(ctx, user)
	if err != nil {
		return nil, StateFailed, e.persistFailure(ctx, cspan, def.Code, user, "read baseline level", err)
	}

	exists, err := e.store.HasUnlock(ctx, user, ach.ID)
	if err != nil {
		return nil, StateFailed, e.persistFailure(ctx, cspan, def.Code, user, "check unlock", err)
	}
	if exists {
		e.logger.DebugContext(ctx, "achievement already unlocked", "rule_code", def.Code, "user_id", user)
		return nil, StateEarnedDuplicate, nil
	}

	if _, err := e.store.CreateUnlock(ctx, user, ach.ID, out.Metadata); err != nil {
		if errors.Is(err, core.ErrDuplicateUnlock) {
			e.logger.DebugContext(ctx, "concurrent unlock lost the race", "rule_code", def.Code, "user_id", user)
			return nil, StateEarnedDuplicate, nil
		}
		return nil, StateFailed, e.persistFailure(ctx, cspan, def.Code, user, "create unlock", err)
	}
	e.logger.InfoContext(ctx, "achievement unlocked", "rule_code", def.Code, "user_id", user, "depth", depth)

	results := []core.UnlockResult{{
		Code:        ach.Code,
		Name:        ach.Name,
		Description: ach.Description,
		XPValue:     ach.XPValue,
	}}
	return append(results, e.cascade(ctx, user, oldLevel, depth)...), StateEarnedNew, nil
}

// cascade re-reads the level after an unlock and, when the rank moved,
// dispatches a RankChanged event one level deeper. Every failure here is
// logged and swallowed; the unlock that led here is already durable.
func (e *Engine) cascade(ctx context.Context, user core.UserID, oldLevel int64, depth int) []core.UnlockResult {
	newLevel, err := e.level(ctx, user)
	if err != nil {
		e.logger.WarnContext(ctx, "achievement cascade skipped", "user_id", user, "error", err)
		return nil
	}
	oldRank, newRank := e.ranks.LevelToRank(oldLevel), e.ranks.LevelToRank(newLevel)
	if oldRank == newRank {
		return nil
	}
	if depth+1 > e.maxDepth {
		e.logger.WarnContext(ctx, "achievement cascade depth exceeded",
			"user_id", user, "depth", depth+1, "max_depth", e.maxDepth, "rank", newRank)
		return nil
	}
	chained, err := e.dispatch(ctx, core.NewRankChanged(user, newRank), depth+1)
	if err != nil {
		e.logger.WarnContext(ctx, "achievement cascade failed", "user_id", user, "rank", newRank, "error", err)
	}
	return chained
}

func (e *Engine) ensureAchievement(ctx context.Context, def core.Definition) (core.Achievement, error) {
	ach, err := e.store.FindByCode(ctx, def.Code)
	if err != nil {
		return core.Achievement{}, err
	}
	if ach != nil {
		return *ach, nil
	}
	return e.store.UpsertByCode(ctx, def)
}

// level reads the user's level; unknown users sit at level 1.
func (e *Engine) level(ctx context.Context, user core.UserID) (int64, error) {
	lvl, found, err := e.store.GetLevel(ctx, user)
	if err != nil {
		return 0, err
	}
	if !found || lvl < 1 {
		return 1, nil
	}
	return lvl, nil
}

func (e *Engine) evaluate(ctx context.Context, rule core.Rule, ev core.Event) (out core.Outcome, err error) {
	code := rule.Describe().Code
	defer func() {
		if r := recover(); r != nil {
			out, err = core.NotEarned, &core.EvaluationError{Code: code, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err = rule.Evaluate(ctx, ev)
	if err != nil {
		return core.NotEarned, &core.EvaluationError{Code: code, Err: err}
	}
	return out, nil
}

func (e *Engine) handles(rule core.Rule, ev core.Event) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("achievement rule Handles panicked", "rule_code", rule.Describe().Code, "panic", r)
			ok = false
		}
	}()
	return rule.Handles(ev)
}

func (e *Engine) persistFailure(ctx context.Context, span trace.Span, code string, user core.UserID, step string, err error) error {
	span.RecordError(err)
	err = fmt.Errorf("%s: %w", step, err)
	if isFatal(err) {
		return err
	}
	e.logger.WarnContext(ctx, "achievement persistence failed", "rule_code", code, "user_id", user, "error", err)
	return nil
}

func (e *Engine) report(ctx context.Context, rule core.Rule, ev core.Event, depth int, state RuleState, err error) {
	if e.hook == nil {
		return
	}
	e.hook(ctx, Evaluation{
		Code:  rule.Describe().Code,
		User:  ev.User(),
		Event: ev.Type(),
		Depth: depth,
		State: state,
		Err:   err,
	})
}

// isFatal reports whether err must escape a dispatch.
func isFatal(err error) bool {
	return errors.Is(err, core.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
