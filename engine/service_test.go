package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mem "wellnesskit/adapters/memory"
	"wellnesskit/core"
	"wellnesskit/rules"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *mem.Store, *[]core.Notification) {
	t.Helper()
	store := mem.New()
	ctx := context.Background()
	for _, a := range []core.Activity{
		{ID: 1, Name: "Running", Category: "Cardio", XPValue: 100},
		{ID: 2, Name: "Marathon", Category: "Cardio", XPValue: 2500},
		{ID: 3, Name: "Juggling", Category: "Skill", XPValue: 10, Archived: true},
		{ID: 4, Name: "Yoga", Category: "Flexibility", XPValue: 60},
	} {
		_, err := store.PutActivity(ctx, a)
		require.NoError(t, err)
	}
	reg := NewRegistry()
	require.NoError(t, rules.RegisterDefaults(reg, store, core.DefaultRanks))
	bus := NewEventBus(DispatchSync)
	var got []core.Notification
	bus.SubscribeAll(func(_ context.Context, n core.Notification) { got = append(got, n) })
	svc := NewService(store, NewEngine(reg, store), bus, WithClock(func() time.Time { return testNow }))
	return svc, store, &got
}

func notificationTypes(ns []core.Notification) []core.NotificationType {
	out := make([]core.NotificationType, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Type)
	}
	return out
}

func TestRecordActivityFirstOfDay(t *testing.T) {
	svc, _, got := newTestService(t)
	ctx := context.Background()

	res, err := svc.RecordActivity(ctx, RecordRequest{UserID: " Alice ", DisplayName: "Alice", ActivityID: 1})
	require.NoError(t, err)
	assert.Equal(t, core.UserID("alice"), res.Record.UserID)
	assert.Equal(t, core.DateOf(testNow), res.Record.DateOccurred)
	assert.Equal(t, DefaultDailyBonusXP, res.BonusXP)
	assert.Equal(t, int64(110), res.Profile.TotalXP)
	assert.Equal(t, "Bronze", res.Rank)
	assert.False(t, res.RankUp)
	assert.Equal(t, []string{"streak_day_1"}, unlockCodes(res.Unlocked))
	assert.Equal(t, []core.NotificationType{core.NotifyRecordCreated, core.NotifyAchievementUnlocked}, notificationTypes(*got))

	res, err = svc.RecordActivity(ctx, RecordRequest{UserID: "alice", ActivityID: 1})
	require.NoError(t, err)
	assert.Zero(t, res.BonusXP)
	assert.Equal(t, int64(210), res.Profile.TotalXP)
	assert.Empty(t, res.Unlocked)
}

func TestRecordActivityBackdatedHasNoBonus(t *testing.T) {
	svc, _, _ := newTestService(t)
	res, err := svc.RecordActivity(context.Background(), RecordRequest{
		UserID: "bob", ActivityID: 1, DateOccurred: testNow.AddDate(0, 0, -3),
	})
	require.NoError(t, err)
	assert.Zero(t, res.BonusXP)
	assert.Equal(t, core.NewDate(2026, 3, 7), res.Record.DateOccurred)
}

func TestRecordActivityRankUp(t *testing.T) {
	svc, _, got := newTestService(t)
	res, err := svc.RecordActivity(context.Background(), RecordRequest{UserID: "carol", ActivityID: 2})
	require.NoError(t, err)
	assert.True(t, res.RankUp)
	assert.Equal(t, "Iron", res.Rank)
	assert.Equal(t, []string{"streak_day_1", "rank_iron"}, unlockCodes(res.Unlocked))
	assert.Contains(t, notificationTypes(*got), core.NotifyRankChanged)
}

func TestRecordActivityRejects(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordActivity(ctx, RecordRequest{UserID: "dave", ActivityID: 3})
	assert.ErrorIs(t, err, core.ErrActivityArchived)
	_, err = svc.RecordActivity(ctx, RecordRequest{UserID: "dave", ActivityID: 42})
	assert.ErrorIs(t, err, core.ErrActivityNotFound)
	_, err = svc.RecordActivity(ctx, RecordRequest{UserID: "  ", ActivityID: 1})
	assert.Error(t, err)
}

func TestSyncCatalogAndAchievements(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	n, err := svc.SyncCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, svc.Engine().Registry().Len(), n)
	again, err := svc.SyncCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, again)

	_, err = svc.RecordActivity(ctx, RecordRequest{UserID: "erin", ActivityID: 1})
	require.NoError(t, err)

	all, err := svc.Achievements(ctx, "erin", ShowAll)
	require.NoError(t, err)
	assert.Len(t, all, n)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].Name, all[i].Name)
	}

	earned, err := svc.Achievements(ctx, "erin", ShowEarned)
	require.NoError(t, err)
	require.Len(t, earned, 1)
	assert.Equal(t, "streak_day_1", earned[0].Code)
	assert.NotNil(t, earned[0].EarnedAt)
	assert.Equal(t, 1, earned[0].Metadata["streak"])

	locked, err := svc.Achievements(ctx, "erin", ShowLocked)
	require.NoError(t, err)
	assert.Len(t, locked, n-1)
}

func TestProfileView(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Profile(ctx, "frank")
	assert.ErrorIs(t, err, core.ErrUserNotFound)

	_, err = svc.RecordActivity(ctx, RecordRequest{UserID: "frank", ActivityID: 1})
	require.NoError(t, err)
	view, err := svc.Profile(ctx, "frank")
	require.NoError(t, err)
	assert.Equal(t, "Bronze", view.Rank)
	assert.Equal(t, "Iron", view.NextRank)
	assert.Equal(t, int64(5), view.NextRankLevel)
	assert.Equal(t, 1, view.Achievements)
}

func TestParseShowFilter(t *testing.T) {
	for in, want := range map[string]ShowFilter{"": ShowAll, "EARNED": ShowEarned, "locked": ShowLocked, "all": ShowAll} {
		got, err := ParseShowFilter(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseShowFilter("mine")
	assert.Error(t, err)
}

func TestPutActivityValidates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.PutActivity(ctx, core.Activity{ID: 9, Name: " ", Category: "Cardio"})
	assert.Error(t, err)
	_, err = svc.PutActivity(ctx, core.Activity{ID: 9, Name: "Rowing", Category: "Cardio", XPValue: -1})
	assert.Error(t, err)
	a, err := svc.PutActivity(ctx, core.Activity{ID: 9, Name: " Rowing ", Category: "Cardio", XPValue: 90})
	require.NoError(t, err)
	assert.Equal(t, "Rowing", a.Name)
}
