package rules

import (
	"context"
	"strings"

	"wellnesskit/core"
)

// RankReached is earned when a RankChanged event names exactly Rank.
type RankReached struct {
	core.Definition
	Rank string
}

// NewRankReached builds the rule for one tier with the conventional code
// rank_<snake_name>.
func NewRankReached(rank string, xp int64) RankReached {
	return RankReached{
		Definition: core.Definition{
			Code:        "rank_" + strings.ReplaceAll(strings.ToLower(rank), " ", "_"),
			Name:        "Rank: " + rank,
			Description: "Reached rank " + rank + ".",
			XPValue:     xp,
		},
		Rank: rank,
	}
}

func (r RankReached) Handles(ev core.Event) bool {
	_, ok := ev.(core.RankChanged)
	return ok
}

func (r RankReached) Evaluate(_ context.Context, ev core.Event) (core.Outcome, error) {
	rc, ok := ev.(core.RankChanged)
	if !ok {
		return core.NotEarned, nil
	}
	meta := map[string]any{"rank": rc.NewRank}
	return core.Outcome{Earned: rc.NewRank == r.Rank, Metadata: meta}, nil
}
