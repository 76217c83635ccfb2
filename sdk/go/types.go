package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Activity mirrors a catalog activity.
type Activity struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category"`
	XPValue  int64  `json:"xp_value"`
	Archived bool   `json:"archived"`
}

// Record is one logged activity occurrence.
type Record struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name,omitempty"`
	ActivityID   int64     `json:"activity_id"`
	Note         string    `json:"note,omitempty"`
	DateOccurred time.Time `json:"date_occurred"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile is the progression state of a user.
type Profile struct {
	UserID        string    `json:"user_id"`
	DisplayName   string    `json:"display_name"`
	TotalXP       int64     `json:"total_xp"`
	Level         int64     `json:"level"`
	UpdatedAt     time.Time `json:"updated_at"`
	Rank          string    `json:"rank,omitempty"`
	NextRank      string    `json:"next_rank,omitempty"`
	NextRankLevel int64     `json:"next_rank_level,omitempty"`
	Achievements  int       `json:"achievements,omitempty"`
}

// Unlocked describes an achievement earned by a request.
type Unlocked struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Description string `json:"description"`
	XPValue     int64  `json:"xp_value"`
}

// RecordInput is the body of a record-activity call. Date uses YYYY-MM-DD
// and defaults to today on the server.
type RecordInput struct {
	ActivityID  int64  `json:"activity_id"`
	Date        string `json:"date,omitempty"`
	Note        string `json:"note,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

// RecordResult is the outcome of recording an activity.
type RecordResult struct {
	Record   Record     `json:"record"`
	Profile  Profile    `json:"profile"`
	Rank     string     `json:"rank"`
	RankUp   bool       `json:"rank_up"`
	BonusXP  int64      `json:"bonus_xp"`
	Unlocked []Unlocked `json:"unlocked"`
}

// Achievement is a catalog row with the user's earned status.
type Achievement struct {
	ID          int64          `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	XPValue     int64          `json:"xp_value"`
	Earned      bool           `json:"earned"`
	EarnedAt    *time.Time     `json:"earned_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Notification is a message received from the WebSocket stream.
type Notification struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Time        time.Time      `json:"time"`
	UserID      string         `json:"user_id"`
	Achievement *Unlocked      `json:"achievement,omitempty"`
	Rank        string         `json:"rank,omitempty"`
	Level       int64          `json:"level,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is a non-2xx response decoded from the server's error body.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.Status)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
