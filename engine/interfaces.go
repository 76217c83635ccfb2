package engine

import (
	"context"

	"wellnesskit/core"
	"wellnesskit/rules"
)

// AchievementCatalog stores achievement rows keyed by code.
type AchievementCatalog interface {
	// FindByCode returns nil and no error when the code is unknown.
	FindByCode(ctx context.Context, code string) (*core.Achievement, error)
	// UpsertByCode creates the row if absent and is idempotent otherwise.
	UpsertByCode(ctx context.Context, def core.Definition) (core.Achievement, error)
	ListAchievements(ctx context.Context) ([]core.Achievement, error)
}

// UnlockStore persists per-user unlocks. Implementations must enforce
// uniqueness of (user, achievement) themselves and report a conflicting
// insert as core.ErrDuplicateUnlock.
type UnlockStore interface {
	HasUnlock(ctx context.Context, user core.UserID, achievementID int64) (bool, error)
	CreateUnlock(ctx context.Context, user core.UserID, achievementID int64, metadata map[string]any) (core.Unlock, error)
	ListUnlocks(ctx context.Context, user core.UserID) ([]core.Unlock, error)
}

// ProfileReader exposes the externally maintained level of a user.
type ProfileReader interface {
	// GetLevel reports found=false for unknown users.
	GetLevel(ctx context.Context, user core.UserID) (level int64, found bool, err error)
}

// ActivityStore is the record-activity side of persistence. RecordActivity
// must credit the activity's XP plus bonusXP and recompute the user's level
// atomically with the insert.
type ActivityStore interface {
	PutActivity(ctx context.Context, a core.Activity) (core.Activity, error)
	GetActivity(ctx context.Context, id core.ActivityID) (core.Activity, error)
	RecordActivity(ctx context.Context, rec core.ActivityRecord, bonusXP int64) (core.ActivityRecord, error)
	GetProfile(ctx context.Context, user core.UserID) (core.Profile, error)
}

// Store is what the achievement engine itself needs.
type Store interface {
	AchievementCatalog
	UnlockStore
	ProfileReader
}

// Storage is the full persistence surface of a deployment.
type Storage interface {
	Store
	ActivityStore
	rules.ActivityStats
}
