package rules

import (
	"fmt"

	"wellnesskit/core"
)

type streakSpec struct {
	code, name, description string
	period                  Period
	length                  int
	xp                      int64
}

type diversitySpec struct {
	code, name, description string
	dim                     core.Dimension
	threshold               int
	xp                      int64
}

var streakTable = []streakSpec{
	{"streak_day_1", "Dailies", "Recorded activities for 1 day.", PeriodDay, 1, 50},
	{"streak_day_13", "Lucky", "Recorded activities for 13 consecutive days.", PeriodDay, 13, 130},
	{"streak_day_42", "The meaning of life", "Recorded activities for 42 consecutive days.", PeriodDay, 42, 420},
	{"streak_day_69", "Nice", "Recorded activities for 69 consecutive days.", PeriodDay, 69, 690},
	{"streak_day_100", "Century Club", "Recorded activities for 100 consecutive days.", PeriodDay, 100, 1000},
	{"streak_day_202", "Inferior Scout Troop", "Recorded activities for 202 consecutive days.", PeriodDay, 202, 2020},
	{"streak_day_350", "Tree Fiddy", "Recorded activities for 350 consecutive days.", PeriodDay, 350, 3500},
	{"streak_day_420", "Ayy lmao", "Recorded activities for 420 consecutive days.", PeriodDay, 420, 42000},

	{"streak_week_1", "Weeklies", "Recorded activities for 1 week.", PeriodWeek, 1, 100},
	{"streak_week_2", "2 Week Notice", "Recorded activities for 2 consecutive weeks.", PeriodWeek, 2, 200},
	{"streak_week_6", "First 6-weeks", "Recorded activities for 6 consecutive weeks.", PeriodWeek, 6, 600},
	{"streak_week_13", "First Trimester", "Recorded activities for 13 consecutive weeks.", PeriodWeek, 13, 1300},
	{"streak_week_27", "Second Trimester", "Recorded activities for 27 consecutive weeks.", PeriodWeek, 27, 2700},
	{"streak_week_40", "Third Trimester", "Recorded activities for 40 consecutive weeks.", PeriodWeek, 40, 4000},

	{"streak_month_1", "Monthlies", "Recorded activities for 1 consecutive months.", PeriodMonth, 1, 1000},
	{"streak_month_3", "Quarterlies", "Recorded activities for 3 consecutive months.", PeriodMonth, 3, 2000},
	{"streak_month_4", `"EARLY" 2023 Truther Part 2`, "Recorded activities for 4 consecutive months.", PeriodMonth, 4, 2023},
	{"streak_month_6", `"EARLY" 2023 Truther Part 3`, "Recorded activities for 6 consecutive months.", PeriodMonth, 6, 2023},
	{"streak_month_9", `"EARLY" 2023 Truther Finale`, "Recorded activities for 9 consecutive months.", PeriodMonth, 9, 2023},
	{"streak_month_13", "Leap Month", "Recorded activities for 13 consecutive months.", PeriodMonth, 13, 13130},

	{"streak_year_1", "Yearlies", "Recorded activities for 1 year.", PeriodYear, 1, 3650},
	{"streak_year_2", "Sophomore", "Recorded activities for 2 consecutive years.", PeriodYear, 2, 36500},
	{"streak_year_3", "Junior", "Recorded activities for 3 consecutive years.", PeriodYear, 3, 365000},
	{"streak_year_4", "Graduation", "Recorded activities for 4 consecutive years.", PeriodYear, 4, 3650000},
}

var diversityTable = []diversitySpec{
	{"diverse_activities_10", "Active Andy", "Recorded 10 different activities.", core.DimensionActivities, 10, 500},
	{"diverse_activities_20", "Active Anderson", "Recorded 20 different activities.", core.DimensionActivities, 20, 1000},
	{"diverse_activities_30", "Active Mister Anderson", "Recorded 30 different activities.", core.DimensionActivities, 30, 2000},
	{"diverse_activities_all", "Active Miss Anderson", "Recorded all different activities.", core.DimensionActivities, 0, 2500},
	{"diverse_categories_5", "Cross-Trainer", "Recorded activities across 5 different categories.", core.DimensionCategories, 5, 500},
	{"diverse_categories_all", "Diversity-Trainer", "Recorded activities across all available categories.", core.DimensionCategories, 0, 500},
}

// rankXP is the display reward of each default tier; unknown tiers get 50.
var rankXP = map[string]int64{
	"Bronze":  100,
	"Iron":    140,
	"Steel":   220,
	"Mithril": 3100,
	"Adamant": 4400,
	"Rune":    7000,
	"Dragon":  9300,
	"Demon":   10000,
	"God":     13200,
	"Max":     2277,
}

// Defaults returns every built-in rule in registration order: streaks,
// diversity, then one rank rule per tier of ranks from the lowest up.
func Defaults(stats ActivityStats, ranks core.RankTable) []core.Rule {
	out := make([]core.Rule, 0, len(streakTable)+len(diversityTable)+len(ranks))
	for _, s := range streakTable {
		out = append(out, Streak{
			Definition: core.Definition{Code: s.code, Name: "Streak: " + s.name, Description: s.description, XPValue: s.xp},
			Period:     s.period,
			Length:     s.length,
			Stats:      stats,
		})
	}
	for _, d := range diversityTable {
		out = append(out, Diversity{
			Definition: core.Definition{Code: d.code, Name: "Diversity: " + d.name, Description: d.description, XPValue: d.xp},
			Dimension:  d.dim,
			Threshold:  d.threshold,
			Stats:      stats,
		})
	}
	for _, name := range ranks.Names() {
		xp, ok := rankXP[name]
		if !ok {
			xp = 50
		}
		out = append(out, NewRankReached(name, xp))
	}
	return out
}

// Registrar is the subset of a rule registry Register needs.
type Registrar interface {
	Register(rule core.Rule) error
}

// RegisterDefaults registers Defaults into reg.
func RegisterDefaults(reg Registrar, stats ActivityStats, ranks core.RankTable) error {
	for _, r := range Defaults(stats, ranks) {
		if err := reg.Register(r); err != nil {
			return fmt.Errorf("register %s: %w", r.Describe().Code, err)
		}
	}
	return nil
}
