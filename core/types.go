package core

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the gamification domain.
type UserID string

// ActivityID identifies an activity in the catalog.
type ActivityID int64

// Dimension selects what a diversity count is taken over.
type Dimension string

const (
	DimensionActivities Dimension = "activities"
	DimensionCategories Dimension = "categories"
)

var (
	// ErrUnavailable marks a persistence outage. It is the only error class
	// the achievement engine lets escape a dispatch.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrDuplicateUnlock is returned by unlock stores when the (user, achievement)
	// pair already exists.
	ErrDuplicateUnlock = errors.New("achievement already unlocked")

	ErrActivityNotFound = errors.New("activity not found")
	ErrActivityArchived = errors.New("activity is archived")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidEvent     = errors.New("invalid event")
	ErrInvalidInput     = errors.New("invalid input")
)

// Activity is a recordable catalog entry.
type Activity struct {
	ID       ActivityID `json:"id"`
	Name     string     `json:"name"`
	Category string     `json:"category"`
	XPValue  int64      `json:"xp_value"`
	Archived bool       `json:"archived"`
}

// ActivityRecord is one occurrence of an activity logged by a user.
type ActivityRecord struct {
	ID           int64      `json:"id"`
	UserID       UserID     `json:"user_id"`
	DisplayName  string     `json:"display_name,omitempty"`
	ActivityID   ActivityID `json:"activity_id"`
	Note         string     `json:"note,omitempty"`
	DateOccurred time.Time  `json:"date_occurred"`
	CreatedAt    time.Time  `json:"created_at"`
}

// Profile is the progression state of a user. Level is maintained by the
// storage layer whenever XP is credited; the engine only reads it.
type Profile struct {
	UserID      UserID    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	TotalXP     int64     `json:"total_xp"`
	Level       int64     `json:"level"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Achievement is a persisted catalog row keyed by Code.
type Achievement struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	XPValue     int64  `json:"xp_value"`
	Active      bool   `json:"is_active"`
}

// Unlock records that a user earned an achievement. Created once, never updated.
type Unlock struct {
	UserID        UserID         `json:"user_id"`
	AchievementID int64          `json:"achievement_id"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	EarnedAt      time.Time      `json:"earned_at"`
}

// UnlockResult is the compact record returned by a dispatch for every new unlock.
type UnlockResult struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	XPValue     int64  `json:"xp_value"`
}

// DedupeByCode keeps the first occurrence of every achievement code.
// Dispatch results can repeat a code across a cascade; callers that display
// them are expected to run this.
func DedupeByCode(in []UnlockResult) []UnlockResult {
	seen := make(map[string]struct{}, len(in))
	out := make([]UnlockResult, 0, len(in))
	for _, r := range in {
		if _, ok := seen[r.Code]; ok {
			continue
		}
		seen[r.Code] = struct{}{}
		out = append(out, r)
	}
	return out
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateCode ensures a non-empty achievement code made of [a-z0-9_-].
func ValidateCode(code string) error {
	if strings.TrimSpace(code) == "" {
		return errors.New("empty achievement code")
	}
	for _, r := range code {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return errors.New("invalid achievement code")
	}
	return nil
}

// LevelForXP computes a level from total XP using a sublinear curve.
// level = floor(sqrt(xp)/10) + 1, ensuring at least 1.
func LevelForXP(totalXP int64) int64 {
	if totalXP <= 0 {
		return 1
	}
	lvl := int64(math.Floor(math.Sqrt(float64(totalXP))/10.0)) + 1
	if lvl < 1 {
		return 1
	}
	return lvl
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// NewDate builds a UTC calendar date.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.New("invalid date, want YYYY-MM-DD")
	}
	return t, nil
}
