package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"wellnesskit/core"
)

// DefaultDailyBonusXP is credited for the first record of the current day.
const DefaultDailyBonusXP int64 = 10

// Service wires storage, the achievement engine and the notification bus
// into the record-activity workflow.
type Service struct {
	storage    Storage
	engine     *Engine
	bus        *EventBus
	logger     *slog.Logger
	now        func() time.Time
	dailyBonus int64
}

type ServiceOption func(*Service)

// WithClock overrides time.Now; "today" is derived from it.
func WithClock(now func() time.Time) ServiceOption { return func(s *Service) { s.now = now } }

func WithDailyBonus(xp int64) ServiceOption { return func(s *Service) { s.dailyBonus = xp } }

func WithServiceLogger(l *slog.Logger) ServiceOption { return func(s *Service) { s.logger = l } }

func NewService(storage Storage, eng *Engine, bus *EventBus, opts ...ServiceOption) *Service {
	if storage == nil || eng == nil || bus == nil {
		panic("NewService requires non-nil storage, engine, and bus")
	}
	s := &Service{
		storage:    storage,
		engine:     eng,
		bus:        bus,
		logger:     slog.Default(),
		now:        time.Now,
		dailyBonus: DefaultDailyBonusXP,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) Engine() *Engine { return s.engine }

// Subscribe convenience method.
func (s *Service) Subscribe(typ core.NotificationType, handler Handler) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *Service) SubscribeAll(handler Handler) func() { return s.bus.SubscribeAll(handler) }

func (s *Service) Close() { s.bus.Close() }

// Ping runs a lightweight read against storage.
func (s *Service) Ping(ctx context.Context) error {
	_, _, err := s.storage.GetLevel(ctx, "healthcheck_probe")
	return err
}

// PutActivity creates or replaces a catalog activity.
func (s *Service) PutActivity(ctx context.Context, a core.Activity) (core.Activity, error) {
	a.Name = strings.TrimSpace(a.Name)
	a.Category = strings.TrimSpace(a.Category)
	switch {
	case a.ID <= 0:
		return core.Activity{}, fmt.Errorf("%w: activity id must be positive", core.ErrInvalidInput)
	case a.Name == "":
		return core.Activity{}, fmt.Errorf("%w: activity name is required", core.ErrInvalidInput)
	case a.Category == "":
		return core.Activity{}, fmt.Errorf("%w: activity category is required", core.ErrInvalidInput)
	case a.XPValue < 0:
		return core.Activity{}, fmt.Errorf("%w: activity xp_value must be >= 0", core.ErrInvalidInput)
	}
	return s.storage.PutActivity(ctx, a)
}

func (s *Service) Activity(ctx context.Context, id core.ActivityID) (core.Activity, error) {
	return s.storage.GetActivity(ctx, id)
}

type RecordRequest struct {
	UserID      core.UserID
	DisplayName string
	ActivityID  core.ActivityID
	Note        string
	// DateOccurred defaults to today.
	DateOccurred time.Time
}

type RecordResult struct {
	Record   core.ActivityRecord
	Profile  core.Profile
	Rank     string
	RankUp   bool
	BonusXP  int64
	Unlocked []core.UnlockResult
}

// RecordActivity persists one activity record, credits its XP, runs the
// achievement engine and publishes notifications. Once the record is stored
// the call succeeds; engine failures only cost the unlocks.
func (s *Service) RecordActivity(ctx context.Context, req RecordRequest) (RecordResult, error) {
	user, err := core.NormalizeUserID(req.UserID)
	if err != nil {
		return RecordResult{}, err
	}
	activity, err := s.storage.GetActivity(ctx, req.ActivityID)
	if err != nil {
		return RecordResult{}, err
	}
	if activity.Archived {
		return RecordResult{}, core.ErrActivityArchived
	}

	today := core.DateOf(s.now())
	date := today
	if !req.DateOccurred.IsZero() {
		date = core.DateOf(req.DateOccurred)
	}

	before, err := s.level(ctx, user)
	if err != nil {
		return RecordResult{}, err
	}
	bonus, err := s.bonusFor(ctx, user, date, today)
	if err != nil {
		return RecordResult{}, err
	}

	rec, err := s.storage.RecordActivity(ctx, core.ActivityRecord{
		UserID:       user,
		DisplayName:  req.DisplayName,
		ActivityID:   activity.ID,
		Note:         req.Note,
		DateOccurred: date,
		CreatedAt:    s.now().UTC(),
	}, bonus)
	if err != nil {
		return RecordResult{}, fmt.Errorf("record activity: %w", err)
	}
	profile, err := s.storage.GetProfile(ctx, user)
	if err != nil {
		return RecordResult{}, fmt.Errorf("load profile: %w", err)
	}
	s.bus.Publish(ctx, core.NewRecordCreated(rec, profile.Level))

	ranks := s.engine.Ranks()
	res := RecordResult{
		Record:  rec,
		Profile: profile,
		Rank:    ranks.LevelToRank(profile.Level),
		BonusXP: bonus,
	}

	unlocked := s.dispatch(ctx, core.NewActivityRecorded(user, activity.ID, activity.Category, date))
	if ranks.LevelToRank(before) != res.Rank {
		res.RankUp = true
		s.bus.Publish(ctx, core.NewRankReached(user, res.Rank, profile.Level))
		unlocked = append(unlocked, s.dispatch(ctx, core.NewRankChanged(user, res.Rank))...)
	}
	res.Unlocked = core.DedupeByCode(unlocked)
	for _, u := range res.Unlocked {
		s.bus.Publish(ctx, core.NewAchievementUnlocked(user, u))
	}
	return res, nil
}

func (s *Service) dispatch(ctx context.Context, ev core.Event) []core.UnlockResult {
	out, err := s.engine.Dispatch(ctx, ev)
	if err != nil {
		s.logger.ErrorContext(ctx, "achievement dispatch failed",
			"event_type", ev.Type(), "user_id", ev.User(), "unlocked", len(out), "error", err)
	}
	return out
}

func (s *Service) bonusFor(ctx context.Context, user core.UserID, date, today time.Time) (int64, error) {
	if s.dailyBonus <= 0 || !date.Equal(today) {
		return 0, nil
	}
	dates, err := s.storage.ActiveDates(ctx, user, today, today)
	if err != nil {
		return 0, fmt.Errorf("check daily bonus: %w", err)
	}
	if len(dates) > 0 {
		return 0, nil
	}
	return s.dailyBonus, nil
}

func (s *Service) level(ctx context.Context, user core.UserID) (int64, error) {
	lvl, found, err := s.storage.GetLevel(ctx, user)
	if err != nil {
		return 0, err
	}
	if !found || lvl < 1 {
		return 1, nil
	}
	return lvl, nil
}

// SyncCatalog upserts a catalog row for every registered rule and returns
// how many rules were synced.
func (s *Service) SyncCatalog(ctx context.Context) (int, error) {
	n := 0
	for _, r := range s.engine.Registry().All() {
		if _, err := s.storage.UpsertByCode(ctx, r.Describe()); err != nil {
			return n, fmt.Errorf("sync %s: %w", r.Describe().Code, err)
		}
		n++
	}
	return n, nil
}

// ShowFilter selects which achievements a listing returns.
type ShowFilter string

const (
	ShowAll    ShowFilter = "all"
	ShowEarned ShowFilter = "earned"
	ShowLocked ShowFilter = "locked"
)

func ParseShowFilter(s string) (ShowFilter, error) {
	switch f := ShowFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return ShowAll, nil
	case ShowAll, ShowEarned, ShowLocked:
		return f, nil
	}
	return "", fmt.Errorf("%w: unknown show filter %q", core.ErrInvalidInput, s)
}

type AchievementStatus struct {
	core.Achievement
	Earned   bool           `json:"earned"`
	EarnedAt *time.Time     `json:"earned_at,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Achievements lists active catalog achievements with the user's earned
// status, sorted by name.
func (s *Service) Achievements(ctx context.Context, user core.UserID, show ShowFilter) ([]AchievementStatus, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	catalog, err := s.storage.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	unlocks, err := s.storage.ListUnlocks(ctx, user)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]core.Unlock, len(unlocks))
	for _, u := range unlocks {
		byID[u.AchievementID] = u
	}

	out := make([]AchievementStatus, 0, len(catalog))
	for _, a := range catalog {
		if !a.Active {
			continue
		}
		st := AchievementStatus{Achievement: a}
		if u, ok := byID[a.ID]; ok {
			earned := u.EarnedAt
			st.Earned, st.EarnedAt, st.Metadata = true, &earned, u.Metadata
		}
		if (show == ShowEarned && !st.Earned) || (show == ShowLocked && st.Earned) {
			continue
		}
		out = append(out, st)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

type ProfileView struct {
	core.Profile
	Rank          string `json:"rank"`
	NextRank      string `json:"next_rank,omitempty"`
	NextRankLevel int64  `json:"next_rank_level,omitempty"`
	Achievements  int    `json:"achievements"`
}

// Profile returns the user's progression summary.
func (s *Service) Profile(ctx context.Context, user core.UserID) (ProfileView, error) {
	user, err := core.NormalizeUserID(user)
	if err != nil {
		return ProfileView{}, err
	}
	p, err := s.storage.GetProfile(ctx, user)
	if err != nil {
		return ProfileView{}, err
	}
	unlocks, err := s.storage.ListUnlocks(ctx, user)
	if err != nil {
		return ProfileView{}, err
	}
	ranks := s.engine.Ranks()
	view := ProfileView{Profile: p, Rank: ranks.LevelToRank(p.Level), Achievements: len(unlocks)}
	// ranks are sorted by descending level; the next tier is the last one above.
	for _, th := range ranks {
		if th.MinLevel > p.Level {
			view.NextRank, view.NextRankLevel = th.Name, th.MinLevel
		}
	}
	return view, nil
}
