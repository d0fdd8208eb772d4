// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"
	"time"

	"keyword_alerts/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a unique row already exists.
var ErrDuplicate = errors.New("already exists")

// ErrLimitReached is returned when an insert would exceed a per-owner cap.
var ErrLimitReached = errors.New("limit reached")

// MatchStore owns the lifecycle of matches.
type MatchStore interface {
	// RecordIfNew stores the (keyword, announcement) pair once. The second call for the
	// same pair returns the existing match with created set to false.
	RecordIfNew(ctx context.Context, keywordID int64, announcementID string, matchedAt time.Time) (m model.Match, created bool, err error)
	// MarkNotified sets notified_at once. It reports alreadyNotified for a match that
	// was notified before and leaves it untouched.
	MarkNotified(ctx context.Context, matchID int64, notifiedAt time.Time) (alreadyNotified bool, err error)
	// MarkFailed records a permanent delivery failure. Failed matches keep notified_at
	// unset and drop out of UnnotifiedForUser and UsersWithUnnotified.
	MarkFailed(ctx context.Context, matchIDs []int64, reason string, failedAt time.Time) error
	// UnnotifiedForUser returns the user's pending matches, oldest first.
	UnnotifiedForUser(ctx context.Context, userID int64) ([]model.MatchDetail, error)
	// UsersWithUnnotified lists users that own at least one pending match.
	UsersWithUnnotified(ctx context.Context) ([]int64, error)
	GetMatch(ctx context.Context, id int64) (*model.Match, error)
}

// Storage is the interface for all persistence operations.
type Storage interface {
	MatchStore

	UpsertUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id int64) (*model.User, error)
	DeleteUser(ctx context.Context, id int64) error

	// CreateKeyword inserts k unless its user already owns limit keywords.
	CreateKeyword(ctx context.Context, k *model.Keyword, limit int) error
	GetKeyword(ctx context.Context, id int64) (*model.Keyword, error)
	ListKeywords(ctx context.Context, userID int64) ([]model.Keyword, error)
	ListActiveKeywords(ctx context.Context) ([]model.Keyword, error)
	CountKeywords(ctx context.Context, userID int64) (int, error)
	SetKeywordEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteKeyword(ctx context.Context, id int64) error

	GetPreference(ctx context.Context, userID int64) (*model.NotificationPreference, error)
	UpsertPreference(ctx context.Context, p *model.NotificationPreference) error

	SaveAnnouncement(ctx context.Context, a model.Announcement) (created bool, err error)
	GetAnnouncement(ctx context.Context, id string) (*model.Announcement, error)
	ListAnnouncementsSince(ctx context.Context, since time.Time) ([]model.Announcement, error)

	RecordNotification(ctx context.Context, r *model.NotificationRecord) error
	ListNotifications(ctx context.Context, userID int64, limit int) ([]model.NotificationRecord, error)

	Close() error
}
