// Package analytics aggregates engagement KPIs from bus notifications and
// engine evaluations.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wellnesskit/core"
	"wellnesskit/engine"
)

// Hook receives notifications for KPI aggregation.
type Hook interface {
	OnNotification(ctx context.Context, n core.Notification)
}

// KPIs tracks active users, records, unlocks, rank changes and rule health.
type KPIs struct {
	mu sync.RWMutex

	dailyActiveUsers   map[string]map[core.UserID]struct{}
	weeklyActiveUsers  map[string]map[core.UserID]struct{}
	monthlyActiveUsers map[string]map[core.UserID]struct{}

	recordsByDay map[string]int64

	unlocksByDay  map[string]int64
	unlocksByCode map[string]int64

	rankChanges map[string]int64

	evaluations  map[engine.RuleState]int64
	ruleFailures map[string]int64
}

func NewKPIs() *KPIs {
	return &KPIs{
		dailyActiveUsers:   make(map[string]map[core.UserID]struct{}),
		weeklyActiveUsers:  make(map[string]map[core.UserID]struct{}),
		monthlyActiveUsers: make(map[string]map[core.UserID]struct{}),
		recordsByDay:       make(map[string]int64),
		unlocksByDay:       make(map[string]int64),
		unlocksByCode:      make(map[string]int64),
		rankChanges:        make(map[string]int64),
		evaluations:        make(map[engine.RuleState]int64),
		ruleFailures:       make(map[string]int64),
	}
}

func (k *KPIs) OnNotification(_ context.Context, n core.Notification) {
	k.mu.Lock()
	defer k.mu.Unlock()

	day := dayKey(n.Time)
	switch n.Type {
	case core.NotifyRecordCreated:
		k.recordsByDay[day]++
		k.trackUser(n.UserID, n.Time)
	case core.NotifyAchievementUnlocked:
		k.unlocksByDay[day]++
		if n.Achievement != nil {
			k.unlocksByCode[n.Achievement.Code]++
		}
	case core.NotifyRankChanged:
		k.rankChanges[n.Rank]++
	}
}

// OnEvaluation counts rule outcomes. Pass it to engine.WithEvaluationHook.
func (k *KPIs) OnEvaluation(_ context.Context, ev engine.Evaluation) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.evaluations[ev.State]++
	if ev.State == engine.StateFailed {
		k.ruleFailures[ev.Code]++
	}
}

func (k *KPIs) trackUser(user core.UserID, t time.Time) {
	add := func(m map[string]map[core.UserID]struct{}, key string) {
		if m[key] == nil {
			m[key] = make(map[core.UserID]struct{})
		}
		m[key][user] = struct{}{}
	}
	add(k.dailyActiveUsers, dayKey(t))
	add(k.weeklyActiveUsers, weekKey(t))
	add(k.monthlyActiveUsers, monthKey(t))
}

// DailyActiveUsers counts users who recorded an activity on day (YYYY-MM-DD).
func (k *KPIs) DailyActiveUsers(day string) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.dailyActiveUsers[day])
}

// WeeklyActiveUsers takes an ISO week key such as 2026-W10.
func (k *KPIs) WeeklyActiveUsers(week string) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.weeklyActiveUsers[week])
}

// MonthlyActiveUsers takes a YYYY-MM key.
func (k *KPIs) MonthlyActiveUsers(month string) int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.monthlyActiveUsers[month])
}

func (k *KPIs) UnlocksByCode(code string) int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.unlocksByCode[code]
}

func (k *KPIs) RuleFailures(code string) int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.ruleFailures[code]
}

// CodeCount is one row of a ranked counter.
type CodeCount struct {
	Code  string `json:"code"`
	Count int64  `json:"count"`
}

// Summary is a point-in-time view of the KPIs for day.
type Summary struct {
	Day                string           `json:"day"`
	DailyActiveUsers   int              `json:"daily_active_users"`
	WeeklyActiveUsers  int              `json:"weekly_active_users"`
	MonthlyActiveUsers int              `json:"monthly_active_users"`
	RecordsToday       int64            `json:"records_today"`
	UnlocksToday       int64            `json:"unlocks_today"`
	TopAchievements    []CodeCount      `json:"top_achievements"`
	RankChanges        map[string]int64 `json:"rank_changes"`
	Evaluations        map[string]int64 `json:"evaluations"`
	RuleFailures       []CodeCount      `json:"rule_failures,omitempty"`
}

// Summarize reports the KPIs around now with the limit most unlocked codes.
func (k *KPIs) Summarize(now time.Time, limit int) Summary {
	k.mu.RLock()
	defer k.mu.RUnlock()

	day := dayKey(now)
	s := Summary{
		Day:                day,
		DailyActiveUsers:   len(k.dailyActiveUsers[day]),
		WeeklyActiveUsers:  len(k.weeklyActiveUsers[weekKey(now)]),
		MonthlyActiveUsers: len(k.monthlyActiveUsers[monthKey(now)]),
		RecordsToday:       k.recordsByDay[day],
		UnlocksToday:       k.unlocksByDay[day],
		TopAchievements:    ranked(k.unlocksByCode, limit),
		RankChanges:        make(map[string]int64, len(k.rankChanges)),
		Evaluations:        make(map[string]int64, len(k.evaluations)),
		RuleFailures:       ranked(k.ruleFailures, 0),
	}
	for rank, n := range k.rankChanges {
		s.RankChanges[rank] = n
	}
	for state, n := range k.evaluations {
		s.Evaluations[state.String()] = n
	}
	return s
}

// ranked sorts counts descending, then by code; limit <= 0 keeps all.
func ranked(m map[string]int64, limit int) []CodeCount {
	out := make([]CodeCount, 0, len(m))
	for code, n := range m {
		out = append(out, CodeCount{Code: code, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Code < out[j].Code
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func dayKey(t time.Time) string { return t.UTC().Format(core.DateLayout) }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }
