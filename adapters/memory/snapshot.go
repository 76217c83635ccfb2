package memory

import (
	"sort"

	"wellnesskit/core"
)

// Snapshot is a serialisable copy of a Store.
type Snapshot struct {
	Activities   []core.Activity       `json:"activities"`
	Records      []core.ActivityRecord `json:"records"`
	Profiles     []core.Profile        `json:"profiles"`
	Achievements []core.Achievement    `json:"achievements"`
	Unlocks      []core.Unlock         `json:"unlocks"`
}

// Snapshot copies the full store contents in a stable order.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap Snapshot
	for _, a := range s.activities {
		snap.Activities = append(snap.Activities, a)
	}
	sort.Slice(snap.Activities, func(i, j int) bool { return snap.Activities[i].ID < snap.Activities[j].ID })
	snap.Records = append(snap.Records, s.records...)
	for _, p := range s.profiles {
		snap.Profiles = append(snap.Profiles, p)
	}
	sort.Slice(snap.Profiles, func(i, j int) bool { return snap.Profiles[i].UserID < snap.Profiles[j].UserID })
	for _, a := range s.achievements {
		snap.Achievements = append(snap.Achievements, a)
	}
	sort.Slice(snap.Achievements, func(i, j int) bool { return snap.Achievements[i].ID < snap.Achievements[j].ID })
	for _, m := range s.unlocks {
		for _, u := range m {
			snap.Unlocks = append(snap.Unlocks, u)
		}
	}
	sort.Slice(snap.Unlocks, func(i, j int) bool {
		if snap.Unlocks[i].UserID != snap.Unlocks[j].UserID {
			return snap.Unlocks[i].UserID < snap.Unlocks[j].UserID
		}
		return snap.Unlocks[i].AchievementID < snap.Unlocks[j].AchievementID
	})
	return snap
}

// Restore replaces the store contents with snap.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = make(map[core.ActivityID]core.Activity, len(snap.Activities))
	for _, a := range snap.Activities {
		s.activities[a.ID] = a
	}
	s.records = append([]core.ActivityRecord(nil), snap.Records...)
	s.nextRecord = 0
	for _, r := range s.records {
		s.nextRecord = max(s.nextRecord, r.ID)
	}
	s.profiles = make(map[core.UserID]core.Profile, len(snap.Profiles))
	for _, p := range snap.Profiles {
		s.profiles[p.UserID] = p
	}
	s.achievements = make(map[string]core.Achievement, len(snap.Achievements))
	s.nextAch = 0
	for _, a := range snap.Achievements {
		s.achievements[a.Code] = a
		s.nextAch = max(s.nextAch, a.ID)
	}
	s.unlocks = map[core.UserID]map[int64]core.Unlock{}
	for _, u := range snap.Unlocks {
		if s.unlocks[u.UserID] == nil {
			s.unlocks[u.UserID] = map[int64]core.Unlock{}
		}
		s.unlocks[u.UserID][u.AchievementID] = u
	}
}
