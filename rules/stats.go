// Package rules holds the built-in achievement rule families and the default
// rule table.
package rules

import (
	"context"
	"time"

	"wellnesskit/core"
)

// ActivityStats is the read-only query surface rules evaluate against.
type ActivityStats interface {
	// ActiveDates returns the distinct dates in [from, to] on which the user
	// has at least one record.
	ActiveDates(ctx context.Context, user core.UserID, from, to time.Time) ([]time.Time, error)
	// DistinctRecorded counts the distinct activities (non-archived only) or
	// categories the user has recorded.
	DistinctRecorded(ctx context.Context, user core.UserID, dim core.Dimension) (int, error)
	// CatalogSize counts non-archived activities, or distinct categories among them.
	CatalogSize(ctx context.Context, dim core.Dimension) (int, error)
}
