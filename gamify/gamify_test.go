package gamify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "wellnesskit/adapters/memory"
	"wellnesskit/core"
	"wellnesskit/engine"
	"wellnesskit/realtime"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func seededStore(t *testing.T) *mem.Store {
	t.Helper()
	store := mem.New()
	for _, a := range []core.Activity{
		{ID: 1, Name: "Marathon", Category: "Cardio", XPValue: 2500},
		{ID: 2, Name: "Yoga", Category: "Flexibility", XPValue: 60},
	} {
		_, err := store.PutActivity(context.Background(), a)
		require.NoError(t, err)
	}
	return store
}

func unlockedCodes(rs []core.UnlockResult) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Code)
	}
	return out
}

func TestNewDefaultsAndOptions(t *testing.T) {
	ranks, err := core.NewRankTable(
		core.RankThreshold{MinLevel: 1, Name: "Novice"},
		core.RankThreshold{MinLevel: 5, Name: "Adept"},
	)
	require.NoError(t, err)

	hub := realtime.NewHub()
	_, ch := hub.Subscribe(16)

	var mu sync.Mutex
	var sunk []core.NotificationType
	var evaluations int

	svc, err := New(
		WithStorage(seededStore(t)),
		WithRanks(ranks),
		WithDispatchMode(engine.DispatchSync),
		WithRealtime(hub),
		WithSinks(func(_ context.Context, n core.Notification) {
			mu.Lock()
			defer mu.Unlock()
			sunk = append(sunk, n.Type)
		}),
		WithEvaluationHook(func(context.Context, engine.Evaluation) { evaluations++ }),
		WithClock(func() time.Time { return fixedNow }),
		WithDailyBonus(0),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	res, err := svc.RecordActivity(context.Background(), engine.RecordRequest{UserID: "alice", ActivityID: 1})
	require.NoError(t, err)
	assert.Zero(t, res.BonusXP)
	assert.Equal(t, int64(2500), res.Profile.TotalXP)
	assert.Equal(t, "Adept", res.Rank)
	assert.True(t, res.RankUp)
	assert.Contains(t, unlockedCodes(res.Unlocked), "streak_day_1")
	assert.Contains(t, unlockedCodes(res.Unlocked), "rank_adept")
	assert.Positive(t, evaluations)

	first := <-ch
	assert.Equal(t, core.NotifyRecordCreated, first.Type)
	assert.Equal(t, core.UserID("alice"), first.UserID)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, sunk, core.NotifyRankChanged)
	assert.Contains(t, sunk, core.NotifyAchievementUnlocked)
}

type yogaRule struct{ core.Definition }

func (yogaRule) Handles(ev core.Event) bool {
	_, ok := ev.(core.ActivityRecorded)
	return ok
}

func (yogaRule) Evaluate(_ context.Context, ev core.Event) (core.Outcome, error) {
	rec, ok := ev.(core.ActivityRecorded)
	if !ok || rec.Category != "Flexibility" {
		return core.NotEarned, nil
	}
	return core.Earned(map[string]any{"activity_id": rec.ActivityID}), nil
}

func TestCustomRulesOnly(t *testing.T) {
	svc, err := New(
		WithStorage(seededStore(t)),
		WithoutDefaultRules(),
		WithRules(yogaRule{core.Definition{Code: "first_stretch", Name: "First Stretch", XPValue: 5}}),
		WithDispatchMode(engine.DispatchSync),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	assert.Equal(t, 1, svc.Engine().Registry().Len())

	res, err := svc.RecordActivity(context.Background(), engine.RecordRequest{UserID: "bob", ActivityID: 1})
	require.NoError(t, err)
	assert.Empty(t, res.Unlocked)

	res, err = svc.RecordActivity(context.Background(), engine.RecordRequest{UserID: "bob", ActivityID: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"first_stretch"}, unlockedCodes(res.Unlocked))
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(WithRanks(core.RankTable{}))
	assert.Error(t, err)

	_, err = New(WithRules(yogaRule{core.Definition{Code: "Bad Code"}}))
	assert.Error(t, err)
}

func TestDuplicateRuleKeepsBuiltIn(t *testing.T) {
	svc, err := New(
		WithDispatchMode(engine.DispatchSync),
		WithRules(yogaRule{core.Definition{Code: "streak_day_1", Name: "Impostor"}}),
	)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	r, ok := svc.Engine().Registry().Lookup("streak_day_1")
	require.True(t, ok)
	assert.Equal(t, "Streak: Dailies", r.Describe().Name)
}

func TestInMemoryDefault(t *testing.T) {
	svc, err := New(WithDispatchMode(engine.DispatchSync))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	_, err = svc.PutActivity(context.Background(), core.Activity{ID: 7, Name: "Swim", Category: "Cardio", XPValue: 40})
	require.NoError(t, err)
	res, err := svc.RecordActivity(context.Background(), engine.RecordRequest{UserID: "carol", ActivityID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(40+engine.DefaultDailyBonusXP), res.Profile.TotalXP)
}
