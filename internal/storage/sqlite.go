package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"keyword_alerts/internal/model"
	"keyword_alerts/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if dsn == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	if err := migrations.Run(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// RecordIfNew inserts a match unless the (keyword, announcement) pair already exists.
// The UNIQUE constraint resolves races between concurrent writers.
func (s *SQLite) RecordIfNew(ctx context.Context, keywordID int64, announcementID string, matchedAt time.Time) (model.Match, bool, error) {
	at := formatTime(matchedAt)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO matches (keyword_id, announcement_id, matched_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (keyword_id, announcement_id) DO NOTHING`,
		keywordID, announcementID, at,
	)
	if err != nil {
		return model.Match{}, false, fmt.Errorf("insert match: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Match{}, false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		id, err := res.LastInsertId()
		if err != nil {
			return model.Match{}, false, fmt.Errorf("last insert id: %w", err)
		}
		return model.Match{
			ID:             id,
			KeywordID:      keywordID,
			AnnouncementID: announcementID,
			MatchedAt:      parseTime(at),
		}, true, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, keyword_id, announcement_id, matched_at, notified_at, failed_at, failure_reason
		 FROM matches WHERE keyword_id = ? AND announcement_id = ?`,
		keywordID, announcementID,
	)
	m, err := scanMatch(row)
	if err != nil {
		return model.Match{}, false, err
	}
	return *m, false, nil
}

// MarkNotified sets notified_at on a match that has not been notified yet.
func (s *SQLite) MarkNotified(ctx context.Context, matchID int64, notifiedAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE matches SET notified_at = ? WHERE id = ? AND notified_at IS NULL`,
		formatTime(notifiedAt), matchID,
	)
	if err != nil {
		return false, fmt.Errorf("mark notified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return false, nil
	}
	if _, err := s.GetMatch(ctx, matchID); err != nil {
		return false, err
	}
	return true, nil
}

// MarkFailed sets failed_at and failure_reason on pending matches. Matches that
// were notified or already failed are left untouched.
func (s *SQLite) MarkFailed(ctx context.Context, matchIDs []int64, reason string, failedAt time.Time) error {
	if len(matchIDs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	at := formatTime(failedAt)
	for _, id := range matchIDs {
		_, err := tx.ExecContext(ctx,
			`UPDATE matches SET failed_at = ?, failure_reason = ?
			 WHERE id = ? AND notified_at IS NULL AND failed_at IS NULL`,
			at, reason, id,
		)
		if err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
	}
	return tx.Commit()
}

// GetMatch returns a single match by its ID.
func (s *SQLite) GetMatch(ctx context.Context, id int64) (*model.Match, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, keyword_id, announcement_id, matched_at, notified_at, failed_at, failure_reason
		 FROM matches WHERE id = ?`, id,
	)
	return scanMatch(row)
}

// UnnotifiedForUser returns the pending matches of a user with their keyword and
// announcement, ordered oldest first.
func (s *SQLite) UnnotifiedForUser(ctx context.Context, userID int64) ([]model.MatchDetail, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.keyword_id, m.announcement_id, m.matched_at, m.notified_at,
		        k.user_id, k.pattern, k.enabled, k.created_at,
		        a.title, a.body, a.url, a.published_at
		 FROM matches m
		 JOIN keywords k ON k.id = m.keyword_id
		 JOIN announcements a ON a.id = m.announcement_id
		 WHERE k.user_id = ? AND m.notified_at IS NULL AND m.failed_at IS NULL
		 ORDER BY m.matched_at, m.id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query unnotified: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var details []model.MatchDetail
	for rows.Next() {
		var d model.MatchDetail
		var matchedAt, kwCreated, published string
		var notifiedAt sql.NullString
		var enabled int
		err := rows.Scan(
			&d.Match.ID, &d.Match.KeywordID, &d.Match.AnnouncementID, &matchedAt, &notifiedAt,
			&d.Keyword.UserID, &d.Keyword.Pattern, &enabled, &kwCreated,
			&d.Announcement.Title, &d.Announcement.Body, &d.Announcement.URL, &published,
		)
		if err != nil {
			return nil, fmt.Errorf("scan match detail: %w", err)
		}
		d.Match.MatchedAt = parseTime(matchedAt)
		d.Match.NotifiedAt = parseNullTime(notifiedAt)
		d.Keyword.ID = d.Match.KeywordID
		d.Keyword.Enabled = enabled == 1
		d.Keyword.CreatedAt = parseTime(kwCreated)
		d.Announcement.ID = d.Match.AnnouncementID
		d.Announcement.PublishedAt = parseTime(published)
		details = append(details, d)
	}
	return details, rows.Err()
}

// UsersWithUnnotified lists the owners of pending matches in ascending order.
func (s *SQLite) UsersWithUnnotified(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT k.user_id
		 FROM matches m
		 JOIN keywords k ON k.id = m.keyword_id
		 WHERE m.notified_at IS NULL AND m.failed_at IS NULL
		 ORDER BY k.user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertUser creates the user or updates its contact details. Changing the email
// address or Telegram chat clears permanent delivery failures of the user's
// matches so they are delivered to the new recipient.
func (s *SQLite) UpsertUser(ctx context.Context, u *model.User) error {
	now := time.Now().UTC().Format(timeLayout)
	var chatID sql.NullInt64
	if u.TelegramChatID != nil {
		chatID = sql.NullInt64{Int64: *u.TelegramChatID, Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var oldEmail string
	var oldChat sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT email, telegram_chat_id FROM users WHERE id = ?`, u.ID,
	).Scan(&oldEmail, &oldChat)
	existed := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read user: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, name, telegram_chat_id, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		     email = excluded.email,
		     name = excluded.name,
		     telegram_chat_id = excluded.telegram_chat_id`,
		u.ID, u.Email, u.Name, chatID, now,
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}

	if existed && (oldEmail != u.Email || oldChat != chatID) {
		_, err := tx.ExecContext(ctx,
			`UPDATE matches SET failed_at = NULL, failure_reason = ''
			 WHERE failed_at IS NOT NULL
			   AND keyword_id IN (SELECT id FROM keywords WHERE user_id = ?)`,
			u.ID,
		)
		if err != nil {
			return fmt.Errorf("clear failed matches: %w", err)
		}
	}
	return tx.Commit()
}

// GetUser returns a single user by its ID.
func (s *SQLite) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	var chatID sql.NullInt64
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, email, name, telegram_chat_id, created_at FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Name, &chatID, &created)
	if err != nil {
		return nil, wrapNotFound("scan user", err)
	}
	if chatID.Valid {
		v := chatID.Int64
		u.TelegramChatID = &v
	}
	u.CreatedAt = parseTime(created)
	return &u, nil
}

// DeleteUser removes a user together with keywords, matches, preference and history.
func (s *SQLite) DeleteUser(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`DELETE FROM matches WHERE keyword_id IN (SELECT id FROM keywords WHERE user_id = ?)`,
		`DELETE FROM keywords WHERE user_id = ?`,
		`DELETE FROM notification_preferences WHERE user_id = ?`,
		`DELETE FROM notification_history WHERE user_id = ?`,
		`DELETE FROM users WHERE id = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
	}
	return tx.Commit()
}

// CreateKeyword inserts a keyword and populates its ID and CreatedAt unless the
// user already owns limit keywords. The count and the insert run as one
// statement, so concurrent callers cannot exceed the cap. It returns
// ErrLimitReached or ErrDuplicate.
func (s *SQLite) CreateKeyword(ctx context.Context, k *model.Keyword, limit int) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO keywords (user_id, pattern, enabled, created_at)
		 SELECT ?, ?, ?, ?
		 WHERE (SELECT COUNT(*) FROM keywords WHERE user_id = ?) < ?
		 ON CONFLICT (user_id, pattern) DO NOTHING`,
		k.UserID, k.Pattern, boolToInt(k.Enabled), now, k.UserID, limit,
	)
	if err != nil {
		return fmt.Errorf("insert keyword: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists bool
		err := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM keywords WHERE user_id = ? AND pattern = ?)`,
			k.UserID, k.Pattern,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check keyword: %w", err)
		}
		if exists {
			return fmt.Errorf("keyword %q: %w", k.Pattern, ErrDuplicate)
		}
		return fmt.Errorf("keywords of user %d: %w", k.UserID, ErrLimitReached)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	k.ID = id
	k.CreatedAt = parseTime(now)
	return nil
}

// GetKeyword returns a single keyword by its ID.
func (s *SQLite) GetKeyword(ctx context.Context, id int64) (*model.Keyword, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, pattern, enabled, created_at FROM keywords WHERE id = ?`, id,
	)
	k, err := scanKeyword(row)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// ListKeywords returns all keywords of a user.
func (s *SQLite) ListKeywords(ctx context.Context, userID int64) ([]model.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, pattern, enabled, created_at
		 FROM keywords WHERE user_id = ? ORDER BY id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanKeywords(rows)
}

// ListActiveKeywords returns every enabled keyword of every user.
func (s *SQLite) ListActiveKeywords(ctx context.Context) ([]model.Keyword, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, pattern, enabled, created_at
		 FROM keywords WHERE enabled = 1 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query active keywords: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanKeywords(rows)
}

// CountKeywords returns the number of keywords owned by a user.
func (s *SQLite) CountKeywords(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM keywords WHERE user_id = ?`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count keywords: %w", err)
	}
	return n, nil
}

// SetKeywordEnabled toggles whether a keyword takes part in matching.
func (s *SQLite) SetKeywordEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE keywords SET enabled = ? WHERE id = ?`, boolToInt(enabled), id,
	)
	if err != nil {
		return fmt.Errorf("update keyword: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("keyword %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteKeyword removes a keyword and its matches.
func (s *SQLite) DeleteKeyword(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE keyword_id = ?`, id); err != nil {
		return fmt.Errorf("delete matches: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM keywords WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("keyword %d: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

// GetPreference returns the stored preference of a user or ErrNotFound.
func (s *SQLite) GetPreference(ctx context.Context, userID int64) (*model.NotificationPreference, error) {
	var p model.NotificationPreference
	var enabled, weekday int
	var mode, period, channel, updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, enabled, mode, digest_period, digest_weekday, digest_time, channel, updated_at
		 FROM notification_preferences WHERE user_id = ?`, userID,
	).Scan(&p.UserID, &enabled, &mode, &period, &weekday, &p.DigestTime, &channel, &updated)
	if err != nil {
		return nil, wrapNotFound("scan preference", err)
	}
	p.Enabled = enabled == 1
	p.Mode = model.DeliveryMode(mode)
	p.Period = model.DigestPeriod(period)
	p.DigestWeekday = time.Weekday(weekday)
	p.Channel = model.Channel(channel)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// UpsertPreference stores the preference of a user.
func (s *SQLite) UpsertPreference(ctx context.Context, p *model.NotificationPreference) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_preferences
		     (user_id, enabled, mode, digest_period, digest_weekday, digest_time, channel, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		     enabled = excluded.enabled,
		     mode = excluded.mode,
		     digest_period = excluded.digest_period,
		     digest_weekday = excluded.digest_weekday,
		     digest_time = excluded.digest_time,
		     channel = excluded.channel,
		     updated_at = excluded.updated_at`,
		p.UserID, boolToInt(p.Enabled), string(p.Mode), string(p.Period),
		int(p.DigestWeekday), p.DigestTime, string(p.Channel), now,
	)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	p.UpdatedAt = parseTime(now)
	return nil
}

// SaveAnnouncement stores an announcement once; later saves of the same ID are ignored.
func (s *SQLite) SaveAnnouncement(ctx context.Context, a model.Announcement) (bool, error) {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO announcements (id, title, body, url, published_at, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		a.ID, a.Title, a.Body, a.URL, formatTime(a.PublishedAt), now,
	)
	if err != nil {
		return false, fmt.Errorf("insert announcement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// GetAnnouncement returns a single announcement by its ID.
func (s *SQLite) GetAnnouncement(ctx context.Context, id string) (*model.Announcement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, body, url, published_at FROM announcements WHERE id = ?`, id,
	)
	a, err := scanAnnouncement(row)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAnnouncementsSince returns announcements published at or after since.
func (s *SQLite) ListAnnouncementsSince(ctx context.Context, since time.Time) ([]model.Announcement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, body, url, published_at
		 FROM announcements WHERE published_at >= ? ORDER BY published_at, id`,
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []model.Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// RecordNotification appends a send attempt to the notification history.
func (s *SQLite) RecordNotification(ctx context.Context, r *model.NotificationRecord) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO notification_history
		     (user_id, kind, channel, status, subject, provider_message_id, error, match_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.UserID, string(r.Kind), string(r.Channel), string(r.Status), r.Subject,
		r.ProviderMessageID, r.Error, r.MatchCount, now,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt = parseTime(now)
	return nil
}

// ListNotifications returns the most recent history entries of a user, newest first.
func (s *SQLite) ListNotifications(ctx context.Context, userID int64, limit int) ([]model.NotificationRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, channel, status, subject, provider_message_id, error, match_count, created_at
		 FROM notification_history WHERE user_id = ?
		 ORDER BY id DESC LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var list []model.NotificationRecord
	for rows.Next() {
		var r model.NotificationRecord
		var kind, channel, status, created string
		err := rows.Scan(&r.ID, &r.UserID, &kind, &channel, &status, &r.Subject,
			&r.ProviderMessageID, &r.Error, &r.MatchCount, &created)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		r.Kind = model.NotificationKind(kind)
		r.Channel = model.Channel(channel)
		r.Status = model.NotificationStatus(status)
		r.CreatedAt = parseTime(created)
		list = append(list, r)
	}
	return list, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func wrapNotFound(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanMatch(row scannable) (*model.Match, error) {
	var m model.Match
	var matchedAt string
	var notifiedAt, failedAt sql.NullString
	err := row.Scan(&m.ID, &m.KeywordID, &m.AnnouncementID, &matchedAt, &notifiedAt, &failedAt, &m.FailureReason)
	if err != nil {
		return nil, wrapNotFound("scan match", err)
	}
	m.MatchedAt = parseTime(matchedAt)
	m.NotifiedAt = parseNullTime(notifiedAt)
	m.FailedAt = parseNullTime(failedAt)
	return &m, nil
}

func scanKeyword(row scannable) (model.Keyword, error) {
	var k model.Keyword
	var enabled int
	var created string
	err := row.Scan(&k.ID, &k.UserID, &k.Pattern, &enabled, &created)
	if err != nil {
		return k, wrapNotFound("scan keyword", err)
	}
	k.Enabled = enabled == 1
	k.CreatedAt = parseTime(created)
	return k, nil
}

func scanKeywords(rows *sql.Rows) ([]model.Keyword, error) {
	var list []model.Keyword
	for rows.Next() {
		k, err := scanKeyword(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, k)
	}
	return list, rows.Err()
}

func scanAnnouncement(row scannable) (model.Announcement, error) {
	var a model.Announcement
	var published string
	err := row.Scan(&a.ID, &a.Title, &a.Body, &a.URL, &published)
	if err != nil {
		return a, wrapNotFound("scan announcement", err)
	}
	a.PublishedAt = parseTime(published)
	return a, nil
}
