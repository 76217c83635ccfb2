package rules

import (
	"context"
	"fmt"

	"wellnesskit/core"
)

// Diversity compares how many distinct activities or categories a user has
// recorded against a fixed Threshold. A zero Threshold means "everything":
// the live catalog size is used instead, and an empty catalog never counts
// as completed.
type Diversity struct {
	core.Definition
	Dimension core.Dimension
	Threshold int
	Stats     ActivityStats
}

// All reports whether the rule targets the whole catalog.
func (d Diversity) All() bool { return d.Threshold <= 0 }

func (d Diversity) Handles(ev core.Event) bool {
	_, ok := ev.(core.ActivityRecorded)
	return ok
}

func (d Diversity) Evaluate(ctx context.Context, ev core.Event) (core.Outcome, error) {
	rec, ok := ev.(core.ActivityRecorded)
	if !ok {
		return core.NotEarned, nil
	}
	if d.Stats == nil {
		return core.NotEarned, fmt.Errorf("diversity rule %s has no stats source", d.Code)
	}
	count, err := d.Stats.DistinctRecorded(ctx, rec.UserID, d.Dimension)
	if err != nil {
		return core.NotEarned, err
	}
	if !d.All() {
		meta := map[string]any{"distinct_" + string(d.Dimension): count}
		return core.Outcome{Earned: count >= d.Threshold, Metadata: meta}, nil
	}

	total, err := d.Stats.CatalogSize(ctx, d.Dimension)
	if err != nil {
		return core.NotEarned, err
	}
	meta := map[string]any{
		"user_distinct_" + string(d.Dimension): count,
		"total_" + string(d.Dimension):         total,
	}
	return core.Outcome{Earned: total > 0 && count >= total, Metadata: meta}, nil
}
