package engine

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellnesskit/core"
)

// funcRule is a configurable rule for engine tests.
type funcRule struct {
	def    core.Definition
	on     core.EventType
	eval   func(context.Context, core.Event) (core.Outcome, error)
	called atomic.Int64
}

func newRule(code string, on core.EventType, eval func(context.Context, core.Event) (core.Outcome, error)) *funcRule {
	return &funcRule{def: core.Definition{Code: code, Name: "Test: " + code, XPValue: 10}, on: on, eval: eval}
}

func always(code string) *funcRule {
	return newRule(code, core.EventActivityRecorded, func(context.Context, core.Event) (core.Outcome, error) {
		return core.Earned(nil), nil
	})
}

func (r *funcRule) Describe() core.Definition { return r.def }

func (r *funcRule) Handles(ev core.Event) bool { return ev.Type() == r.on }

func (r *funcRule) Evaluate(ctx context.Context, ev core.Event) (core.Outcome, error) {
	r.called.Add(1)
	return r.eval(ctx, ev)
}

func TestRegistryDeduplicatesByCode(t *testing.T) {
	reg := NewRegistry()
	first := always("streak_day_1")
	require.NoError(t, reg.Register(first))
	require.NoError(t, reg.Register(always("streak_day_1")))
	require.NoError(t, reg.Register(always("streak_day_13")))

	assert.Equal(t, 2, reg.Len())
	got, ok := reg.Lookup("streak_day_1")
	require.True(t, ok)
	assert.Same(t, first, got)

	codes := []string{}
	for _, r := range reg.All() {
		codes = append(codes, r.Describe().Code)
	}
	assert.Equal(t, []string{"streak_day_1", "streak_day_13"}, codes)
}

func TestRegistryRejectsInvalid(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(nil))
	assert.Error(t, reg.Register(always("Bad Code")))
	assert.Zero(t, reg.Len())
}

func TestRegistryFrozenByEngine(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(always("a"))
	NewEngine(reg, newTestStore())
	assert.True(t, reg.Frozen())
	assert.ErrorIs(t, reg.Register(always("b")), ErrRegistryFrozen)
	assert.Panics(t, func() { reg.MustRegister(always("c")) })
}
