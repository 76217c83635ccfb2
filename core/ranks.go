package core

import (
	"errors"
	"sort"
)

// RankThreshold maps the minimum level of a tier to its name.
type RankThreshold struct {
	MinLevel int64  `json:"min_level" yaml:"min_level"`
	Name     string `json:"name" yaml:"name"`
}

// RankTable is an ordered set of tiers sorted by descending MinLevel.
type RankTable []RankThreshold

// DefaultRanks is the production tier ladder.
var DefaultRanks = RankTable{
	{99, "Max"},
	{92, "God"},
	{70, "Demon"},
	{60, "Dragon"},
	{40, "Rune"},
	{30, "Adamant"},
	{20, "Mithril"},
	{10, "Steel"},
	{5, "Iron"},
	{1, "Bronze"},
}

// NewRankTable validates and sorts thresholds. Names and levels must be
// unique and the table must not be empty.
func NewRankTable(thresholds ...RankThreshold) (RankTable, error) {
	if len(thresholds) == 0 {
		return nil, errors.New("rank table is empty")
	}
	t := make(RankTable, len(thresholds))
	copy(t, thresholds)
	sort.SliceStable(t, func(i, j int) bool { return t[i].MinLevel > t[j].MinLevel })
	names := make(map[string]struct{}, len(t))
	for i, th := range t {
		if th.Name == "" {
			return nil, errors.New("rank name is empty")
		}
		if _, dup := names[th.Name]; dup {
			return nil, errors.New("duplicate rank name " + th.Name)
		}
		names[th.Name] = struct{}{}
		if i > 0 && t[i-1].MinLevel == th.MinLevel {
			return nil, errors.New("duplicate rank threshold for " + th.Name)
		}
	}
	return t, nil
}

// LevelToRank returns the first tier whose threshold is <= level, after
// clamping level to at least 1. It never fails: below every threshold it
// falls back to the lowest tier.
func (t RankTable) LevelToRank(level int64) string {
	if len(t) == 0 {
		return ""
	}
	if level < 1 {
		level = 1
	}
	for _, th := range t {
		if level >= th.MinLevel {
			return th.Name
		}
	}
	return t[len(t)-1].Name
}

// Threshold returns the minimum level of the named tier.
func (t RankTable) Threshold(name string) (int64, bool) {
	for _, th := range t {
		if th.Name == name {
			return th.MinLevel, true
		}
	}
	return 0, false
}

// Names lists tier names from the lowest tier upwards.
func (t RankTable) Names() []string {
	out := make([]string, 0, len(t))
	for i := len(t) - 1; i >= 0; i-- {
		out = append(out, t[i].Name)
	}
	return out
}

// LevelToRank maps a level through DefaultRanks.
func LevelToRank(level int64) string { return DefaultRanks.LevelToRank(level) }
