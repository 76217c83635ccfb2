package core

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates the domain events rules are evaluated against.
type EventType string

const (
	EventActivityRecorded EventType = "activity_recorded"
	EventRankChanged      EventType = "rank_changed"
)

// Event is the sealed union of engine inputs. Only ActivityRecorded and
// RankChanged implement it; switch on the concrete type.
type Event interface {
	Type() EventType
	User() UserID
	isEvent()
}

// ActivityRecorded is raised after a user's activity record is persisted.
type ActivityRecorded struct {
	UserID       UserID
	ActivityID   ActivityID
	Category     string
	DateOccurred time.Time
}

func (ActivityRecorded) Type() EventType { return EventActivityRecorded }
func (e ActivityRecorded) User() UserID { return e.UserID }
func (ActivityRecorded) isEvent() {}

// RankChanged is synthesized by the engine when a user's rank tier moves.
type RankChanged struct {
	UserID  UserID
	NewRank string
}

func (RankChanged) Type() EventType { return EventRankChanged }
func (e RankChanged) User() UserID { return e.UserID }
func (RankChanged) isEvent() {}

func NewActivityRecorded(user UserID, activity ActivityID, category string, date time.Time) ActivityRecorded {
	return ActivityRecorded{UserID: user, ActivityID: activity, Category: category, DateOccurred: DateOf(date)}
}

func NewRankChanged(user UserID, rank string) RankChanged {
	return RankChanged{UserID: user, NewRank: rank}
}

// NotificationType enumerates what is published on the event bus after the
// engine has run.
type NotificationType string

const (
	NotifyRecordCreated       NotificationType = "record_created"
	NotifyAchievementUnlocked NotificationType = "achievement_unlocked"
	NotifyRankChanged         NotificationType = "rank_changed"
)

// Notification is an immutable outbound message for subscribers (realtime
// clients, webhooks, analytics).
type Notification struct {
	ID          string           `json:"id"`
	Type        NotificationType `json:"type"`
	Time        time.Time        `json:"time"`
	UserID      UserID           `json:"user_id"`
	Achievement *UnlockResult    `json:"achievement,omitempty"`
	Rank        string           `json:"rank,omitempty"`
	Level       int64            `json:"level,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

func newNotification(typ NotificationType, user UserID) Notification {
	return Notification{ID: uuid.NewString(), Type: typ, Time: time.Now().UTC(), UserID: user}
}

func NewRecordCreated(rec ActivityRecord, level int64) Notification {
	n := newNotification(NotifyRecordCreated, rec.UserID)
	n.Level = level
	n.Metadata = map[string]any{
		"activity_id":   int64(rec.ActivityID),
		"date_occurred": rec.DateOccurred.Format(DateLayout),
	}
	return n
}

func NewAchievementUnlocked(user UserID, res UnlockResult) Notification {
	n := newNotification(NotifyAchievementUnlocked, user)
	n.Achievement = &res
	return n
}

func NewRankReached(user UserID, rank string, level int64) Notification {
	n := newNotification(NotifyRankChanged, user)
	n.Rank = rank
	n.Level = level
	return n
}
