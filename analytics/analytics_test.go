package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wellnesskit/adapters/memory"
	"wellnesskit/core"
	"wellnesskit/engine"
	"wellnesskit/rules"
)

func at(n core.Notification, t time.Time) core.Notification {
	n.Time = t
	return n
}

func TestKPIs_OnNotification(t *testing.T) {
	k := NewKPIs()
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rec := core.ActivityRecord{UserID: "alice", ActivityID: 1, DateOccurred: core.DateOf(now)}

	k.OnNotification(ctx, at(core.NewRecordCreated(rec, 1), now))
	k.OnNotification(ctx, at(core.NewRecordCreated(rec, 1), now))
	rec.UserID = "bob"
	k.OnNotification(ctx, at(core.NewRecordCreated(rec, 1), now.AddDate(0, 0, -1)))
	k.OnNotification(ctx, at(core.NewAchievementUnlocked("alice", core.UnlockResult{Code: "streak_day_1"}), now))
	k.OnNotification(ctx, at(core.NewAchievementUnlocked("bob", core.UnlockResult{Code: "streak_day_1"}), now))
	k.OnNotification(ctx, at(core.NewAchievementUnlocked("bob", core.UnlockResult{Code: "rank_iron"}), now))
	k.OnNotification(ctx, at(core.NewRankReached("bob", "Iron", 5), now))

	assert.Equal(t, 1, k.DailyActiveUsers("2026-03-10"))
	assert.Equal(t, 1, k.DailyActiveUsers("2026-03-09"))
	assert.Equal(t, 2, k.WeeklyActiveUsers("2026-W11"))
	assert.Equal(t, 2, k.MonthlyActiveUsers("2026-03"))
	assert.Equal(t, int64(2), k.UnlocksByCode("streak_day_1"))

	s := k.Summarize(now, 1)
	assert.Equal(t, "2026-03-10", s.Day)
	assert.Equal(t, int64(2), s.RecordsToday)
	assert.Equal(t, int64(3), s.UnlocksToday)
	assert.Equal(t, []CodeCount{{Code: "streak_day_1", Count: 2}}, s.TopAchievements)
	assert.Equal(t, map[string]int64{"Iron": 1}, s.RankChanges)
}

func TestKPIs_OnEvaluation(t *testing.T) {
	k := NewKPIs()
	ctx := context.Background()
	k.OnEvaluation(ctx, engine.Evaluation{Code: "a", State: engine.StateEarnedNew})
	k.OnEvaluation(ctx, engine.Evaluation{Code: "b", State: engine.StateFailed, Err: errors.New("boom")})
	k.OnEvaluation(ctx, engine.Evaluation{Code: "b", State: engine.StateFailed, Err: errors.New("boom")})
	k.OnEvaluation(ctx, engine.Evaluation{Code: "c", State: engine.StateNotEarned})

	assert.Equal(t, int64(2), k.RuleFailures("b"))
	s := k.Summarize(time.Now(), 0)
	assert.Equal(t, map[string]int64{"earned_new": 1, "failed": 2, "not_earned": 1}, s.Evaluations)
	assert.Equal(t, []CodeCount{{Code: "b", Count: 2}}, s.RuleFailures)
}

func TestBridgeFansOut(t *testing.T) {
	a, b := NewKPIs(), NewKPIs()
	n := core.NewAchievementUnlocked("alice", core.UnlockResult{Code: "x"})
	NewBridge(a, b).OnNotification(context.Background(), n)
	assert.Equal(t, int64(1), a.UnlocksByCode("x"))
	assert.Equal(t, int64(1), b.UnlocksByCode("x"))
}

func TestKPIsWiredIntoService(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	k := NewKPIs()

	reg := engine.NewRegistry()
	require.NoError(t, rules.RegisterDefaults(reg, store, core.DefaultRanks))
	eng := engine.NewEngine(reg, store, engine.WithEvaluationHook(k.OnEvaluation))
	svc := engine.NewService(store, eng, engine.NewEventBus(engine.DispatchSync))
	svc.SubscribeAll(k.OnNotification)

	for _, a := range []core.Activity{
		{ID: 1, Name: "Running", Category: "Cardio", XPValue: 100},
		{ID: 2, Name: "Yoga", Category: "Flexibility", XPValue: 60},
	} {
		_, err := svc.PutActivity(ctx, a)
		require.NoError(t, err)
	}
	_, err := svc.RecordActivity(ctx, engine.RecordRequest{UserID: "alice", ActivityID: 1})
	require.NoError(t, err)

	s := k.Summarize(time.Now(), 5)
	assert.Equal(t, 1, s.DailyActiveUsers)
	assert.Equal(t, int64(1), s.RecordsToday)
	assert.Equal(t, int64(1), k.UnlocksByCode("streak_day_1"))
	assert.Equal(t, int64(1), s.Evaluations["earned_new"])
}
