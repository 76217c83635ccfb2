package rules

import (
	"context"
	"fmt"

	"wellnesskit/core"
)

// Period is the unit a streak length is expressed in.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// Days returns the fixed day multiplier of the period. Weeks, months and
// years are day-equivalents (7, 31, 365), not calendar arithmetic: three
// months means 93 consecutive active days.
func (p Period) Days() int {
	switch p {
	case PeriodDay:
		return 1
	case PeriodWeek:
		return 7
	case PeriodMonth:
		return 31
	case PeriodYear:
		return 365
	}
	return 0
}

// Streak is earned when the user has records on RequiredDays consecutive
// calendar days ending on the event's date.
type Streak struct {
	core.Definition
	Period Period
	Length int
	Stats  ActivityStats
}

// RequiredDays is Length expressed in days.
func (s Streak) RequiredDays() int { return s.Period.Days() * s.Length }

func (s Streak) Handles(ev core.Event) bool {
	_, ok := ev.(core.ActivityRecorded)
	return ok
}

func (s Streak) Evaluate(ctx context.Context, ev core.Event) (core.Outcome, error) {
	rec, ok := ev.(core.ActivityRecorded)
	if !ok {
		return core.NotEarned, nil
	}
	required := s.RequiredDays()
	if required <= 0 {
		return core.Outcome{Metadata: streakMeta(0)}, nil
	}
	if s.Stats == nil {
		return core.NotEarned, fmt.Errorf("streak rule %s has no stats source", s.Code)
	}
	end := core.DateOf(rec.DateOccurred)
	start := end.AddDate(0, 0, -(required - 1))
	dates, err := s.Stats.ActiveDates(ctx, rec.UserID, start, end)
	if err != nil {
		return core.NotEarned, err
	}
	active := make(map[string]struct{}, len(dates))
	for _, d := range dates {
		active[d.Format(core.DateLayout)] = struct{}{}
	}
	streak := 0
	for cur := end; ; cur = cur.AddDate(0, 0, -1) {
		if _, ok := active[cur.Format(core.DateLayout)]; !ok {
			break
		}
		streak++
		if streak >= required {
			return core.Earned(streakMeta(streak)), nil
		}
	}
	return core.Outcome{Metadata: streakMeta(streak)}, nil
}

func streakMeta(streak int) map[string]any {
	return map[string]any{"streak": streak, "unit": string(PeriodDay)}
}
