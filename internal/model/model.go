// Package model defines the domain types used across the application.
package model

import "time"

// User is a notification recipient. Users are owned by the web application and
// synced into the store.
type User struct {
	ID             int64
	Email          string
	Name           string
	TelegramChatID *int64
	CreatedAt      time.Time
}

// Keyword is a search pattern registered by a user.
// The pattern is never changed in place: edits are a delete followed by a create.
type Keyword struct {
	ID        int64
	UserID    int64
	Pattern   string
	Enabled   bool
	CreatedAt time.Time
}

// Announcement is an externally sourced, immutable item of text.
type Announcement struct {
	ID          string
	Title       string
	Body        string
	URL         string
	PublishedAt time.Time
}

// Text returns the searchable content of the announcement.
func (a Announcement) Text() string {
	if a.Body == "" {
		return a.Title
	}
	return a.Title + " " + a.Body
}

// Match records that a keyword's pattern was found in an announcement.
type Match struct {
	ID             int64
	KeywordID      int64
	AnnouncementID string
	MatchedAt      time.Time
	NotifiedAt     *time.Time
	// FailedAt is set when delivery failed permanently. Such a match is never
	// retried and never counts as notified.
	FailedAt       *time.Time
	FailureReason  string
}

// Notified reports whether a notification for the match was confirmed as sent.
func (m Match) Notified() bool {
	return m.NotifiedAt != nil
}

// MatchDetail is a match joined with its keyword and announcement.
type MatchDetail struct {
	Match        Match
	Keyword      Keyword
	Announcement Announcement
}

// DeliveryMode selects when notifications for new matches are sent.
type DeliveryMode string

// Supported delivery modes.
const (
	ModeImmediate DeliveryMode = "IMMEDIATE"
	ModeDigest    DeliveryMode = "DIGEST"
)

// DigestPeriod is the cadence of digest notifications.
type DigestPeriod string

// Supported digest periods.
const (
	PeriodDaily  DigestPeriod = "DAILY"
	PeriodWeekly DigestPeriod = "WEEKLY"
)

// Channel is the delivery channel of a notification.
type Channel string

// Supported channels.
const (
	ChannelEmail    Channel = "email"
	ChannelTelegram Channel = "telegram"
)

// DefaultDigestTime is used when a digest preference has no explicit time.
const DefaultDigestTime = "09:00"

// NotificationPreference holds a user's delivery settings.
type NotificationPreference struct {
	UserID        int64
	Enabled       bool
	Mode          DeliveryMode
	Period        DigestPeriod
	DigestWeekday time.Weekday
	DigestTime    string
	Channel       Channel
	UpdatedAt     time.Time
}

// DefaultPreference is applied to users who never saved a preference.
func DefaultPreference(userID int64) NotificationPreference {
	return NotificationPreference{
		UserID:        userID,
		Enabled:       true,
		Mode:          ModeImmediate,
		Period:        PeriodDaily,
		DigestWeekday: time.Monday,
		DigestTime:    DefaultDigestTime,
		Channel:       ChannelEmail,
	}
}

// NotificationKind distinguishes single-match sends from digests.
type NotificationKind string

// Supported notification kinds.
const (
	KindImmediate NotificationKind = "immediate"
	KindDigest    NotificationKind = "digest"
)

// NotificationStatus is the outcome of a send attempt.
type NotificationStatus string

// Supported notification statuses.
const (
	StatusSent   NotificationStatus = "SENT"
	StatusFailed NotificationStatus = "FAILED"
)

// NotificationRecord is the history entry of one send attempt.
type NotificationRecord struct {
	ID                int64
	UserID            int64
	Kind              NotificationKind
	Channel           Channel
	Status            NotificationStatus
	Subject           string
	ProviderMessageID string
	Error             string
	MatchCount        int
	CreatedAt         time.Time
}
