package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"wellnesskit/core"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	mu           sync.RWMutex
	activities   map[core.ActivityID]core.Activity
	records      []core.ActivityRecord
	profiles     map[core.UserID]core.Profile
	achievements map[string]core.Achievement
	unlocks      map[core.UserID]map[int64]core.Unlock
	nextRecord   int64
	nextAch      int64
	now          func() time.Time
}

func New() *Store {
	return &Store{
		activities:   map[core.ActivityID]core.Activity{},
		profiles:     map[core.UserID]core.Profile{},
		achievements: map[string]core.Achievement{},
		unlocks:      map[core.UserID]map[int64]core.Unlock{},
		now:          time.Now,
	}
}

func (s *Store) PutActivity(_ context.Context, a core.Activity) (core.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[a.ID] = a
	return a, nil
}

func (s *Store) GetActivity(_ context.Context, id core.ActivityID) (core.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.activities[id]
	if !ok {
		return core.Activity{}, core.ErrActivityNotFound
	}
	return a, nil
}

// RecordActivity appends rec and credits the activity XP plus bonusXP to the
// user's profile in the same critical section.
func (s *Store) RecordActivity(_ context.Context, rec core.ActivityRecord, bonusXP int64) (core.ActivityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.activities[rec.ActivityID]
	if !ok {
		return core.ActivityRecord{}, core.ErrActivityNotFound
	}
	p := s.profiles[rec.UserID]
	total, err := core.AddSafe(p.TotalXP, a.XPValue+bonusXP)
	if err != nil {
		return core.ActivityRecord{}, err
	}
	now := s.now().UTC()
	s.nextRecord++
	rec.ID = s.nextRecord
	rec.DateOccurred = core.DateOf(rec.DateOccurred)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	s.records = append(s.records, rec)

	p.UserID = rec.UserID
	if rec.DisplayName != "" {
		p.DisplayName = rec.DisplayName
	}
	p.TotalXP = total
	p.Level = core.LevelForXP(total)
	p.UpdatedAt = now
	s.profiles[rec.UserID] = p
	return rec, nil
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[user]
	if !ok {
		return core.Profile{}, core.ErrUserNotFound
	}
	return p, nil
}

func (s *Store) GetLevel(_ context.Context, user core.UserID) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[user]
	return p.Level, ok, nil
}

// SetLevel overwrites a user's level without touching XP. It stands in for
// out-of-band level adjustments.
func (s *Store) SetLevel(_ context.Context, user core.UserID, level int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.profiles[user]
	p.UserID, p.Level, p.UpdatedAt = user, level, s.now().UTC()
	s.profiles[user] = p
}

func (s *Store) FindByCode(_ context.Context, code string) (*core.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.achievements[code]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *Store) UpsertByCode(_ context.Context, def core.Definition) (core.Achievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.achievements[def.Code]; ok {
		return a, nil
	}
	s.nextAch++
	a := core.Achievement{
		ID:          s.nextAch,
		Code:        def.Code,
		Name:        def.Name,
		Description: def.Description,
		XPValue:     def.XPValue,
		Active:      true,
	}
	s.achievements[def.Code] = a
	return a, nil
}

func (s *Store) ListAchievements(_ context.Context) ([]core.Achievement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Achievement, 0, len(s.achievements))
	for _, a := range s.achievements {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) HasUnlock(_ context.Context, user core.UserID, achievementID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.unlocks[user][achievementID]
	return ok, nil
}

func (s *Store) CreateUnlock(_ context.Context, user core.UserID, achievementID int64, metadata map[string]any) (core.Unlock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.unlocks[user]
	if m == nil {
		m = map[int64]core.Unlock{}
		s.unlocks[user] = m
	}
	if _, dup := m[achievementID]; dup {
		return core.Unlock{}, core.ErrDuplicateUnlock
	}
	u := core.Unlock{UserID: user, AchievementID: achievementID, Metadata: metadata, EarnedAt: s.now().UTC()}
	m[achievementID] = u
	return u, nil
}

// DeleteUnlock drops an unlock row. Write-through wrappers use it to undo
// CreateUnlock when their backing write fails.
func (s *Store) DeleteUnlock(user core.UserID, achievementID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unlocks[user], achievementID)
}

func (s *Store) ListUnlocks(_ context.Context, user core.UserID) ([]core.Unlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Unlock, 0, len(s.unlocks[user]))
	for _, u := range s.unlocks[user] {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EarnedAt.Before(out[j].EarnedAt) })
	return out, nil
}

func (s *Store) ActiveDates(_ context.Context, user core.UserID, from, to time.Time) ([]time.Time, error) {
	from, to = core.DateOf(from), core.DateOf(to)
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[time.Time]struct{}{}
	var out []time.Time
	for _, r := range s.records {
		if r.UserID != user || r.DateOccurred.Before(from) || r.DateOccurred.After(to) {
			continue
		}
		if _, ok := seen[r.DateOccurred]; ok {
			continue
		}
		seen[r.DateOccurred] = struct{}{}
		out = append(out, r.DateOccurred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

func (s *Store) DistinctRecorded(_ context.Context, user core.UserID, dim core.Dimension) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, r := range s.records {
		if r.UserID != user {
			continue
		}
		a, ok := s.activities[r.ActivityID]
		if !ok || a.Archived {
			continue
		}
		seen[dimensionKey(a, dim)] = struct{}{}
	}
	return len(seen), nil
}

func (s *Store) CatalogSize(_ context.Context, dim core.Dimension) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := map[string]struct{}{}
	for _, a := range s.activities {
		if !a.Archived {
			seen[dimensionKey(a, dim)] = struct{}{}
		}
	}
	return len(seen), nil
}

func dimensionKey(a core.Activity, dim core.Dimension) string {
	if dim == core.DimensionCategories {
		return a.Category
	}
	return strconv.FormatInt(int64(a.ID), 10)
}
