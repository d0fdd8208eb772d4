// Package matching runs incoming announcements through the keyword matcher and
// hands every newly recorded match to the notification scheduler.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"keyword_alerts/internal/matcher"
	"keyword_alerts/internal/model"
	"keyword_alerts/internal/scheduler"
)

// ErrMissingID is returned for announcements without a stable identifier.
var ErrMissingID = errors.New("announcement id is required")

// Store is the persistence the service depends on.
type Store interface {
	SaveAnnouncement(ctx context.Context, a model.Announcement) (bool, error)
	ListAnnouncementsSince(ctx context.Context, since time.Time) ([]model.Announcement, error)
	ListActiveKeywords(ctx context.Context) ([]model.Keyword, error)
	RecordIfNew(ctx context.Context, keywordID int64, announcementID string, matchedAt time.Time) (model.Match, bool, error)
}

// Enqueuer routes new matches to delivery.
type Enqueuer interface {
	Enqueue(ctx context.Context, item model.MatchDetail) (scheduler.State, error)
}

// Result describes the processing of one announcement.
type Result struct {
	AnnouncementID string
	// Stored is false when the announcement had been ingested before.
	Stored   bool
	Created  []model.Match
	Notified int
}

// BatchResult aggregates the processing of several announcements.
type BatchResult struct {
	Processed int
	Failed    int
	Matches   int
	Notified  int
}

func (b *BatchResult) add(r Result) {
	b.Processed++
	b.Matches += len(r.Created)
	b.Notified += r.Notified
}

// Service matches announcements against all active keywords.
type Service struct {
	store    Store
	enqueuer Enqueuer
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Service.
func New(store Store, enqueuer Enqueuer, log *slog.Logger) *Service {
	return &Service{
		store:    store,
		enqueuer: enqueuer,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process stores the announcement, records a match for every active keyword whose
// pattern occurs in it and enqueues the matches that did not exist before.
// Store failures for a single keyword are logged and skipped.
func (s *Service) Process(ctx context.Context, a model.Announcement) (Result, error) {
	if a.ID == "" {
		return Result{}, ErrMissingID
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = s.now()
	}

	stored, err := s.store.SaveAnnouncement(ctx, a)
	if err != nil {
		return Result{}, fmt.Errorf("save announcement %s: %w", a.ID, err)
	}

	keywords, err := s.store.ListActiveKeywords(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list active keywords: %w", err)
	}

	res := s.match(ctx, a, keywords)
	res.Stored = stored
	return res, nil
}

// ProcessBatch processes announcements one by one. A failing announcement does not
// stop the batch; cancelling ctx stops it between announcements.
func (s *Service) ProcessBatch(ctx context.Context, items []model.Announcement) BatchResult {
	var out BatchResult
	for _, a := range items {
		if ctx.Err() != nil {
			break
		}
		res, err := s.Process(ctx, a)
		if err != nil {
			s.log.Error("process announcement", "announcement_id", a.ID, "error", err)
			out.Failed++
			continue
		}
		out.add(res)
	}
	return out
}

// Rescan matches stored announcements published since the given time again, so
// keywords created after ingestion pick up recent announcements. Existing matches
// are left alone.
func (s *Service) Rescan(ctx context.Context, since time.Time) (BatchResult, error) {
	announcements, err := s.store.ListAnnouncementsSince(ctx, since)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list announcements: %w", err)
	}
	keywords, err := s.store.ListActiveKeywords(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list active keywords: %w", err)
	}

	var out BatchResult
	for _, a := range announcements {
		if ctx.Err() != nil {
			break
		}
		out.add(s.match(ctx, a, keywords))
	}
	s.log.Info("rescan finished", "since", since, "announcements", out.Processed, "matches", out.Matches)
	return out, nil
}

func (s *Service) match(ctx context.Context, a model.Announcement, keywords []model.Keyword) Result {
	res := Result{AnnouncementID: a.ID}

	ids := matcher.Match(a, keywords)
	if len(ids) == 0 {
		return res
	}

	byID := make(map[int64]model.Keyword, len(keywords))
	for _, k := range keywords {
		byID[k.ID] = k
	}

	now := s.now()
	var details []model.MatchDetail
	for _, id := range ids {
		m, created, err := s.store.RecordIfNew(ctx, id, a.ID, now)
		if err != nil {
			s.log.Error("record match", "keyword_id", id, "announcement_id", a.ID, "error", err)
			continue
		}
		if !created {
			continue
		}
		res.Created = append(res.Created, m)
		details = append(details, model.MatchDetail{Match: m, Keyword: byID[id], Announcement: a})
	}

	// All matches of the announcement are recorded before any of them is enqueued.
	for _, d := range details {
		state, err := s.enqueuer.Enqueue(ctx, d)
		if err != nil {
			s.log.Warn("enqueue match", "match_id", d.Match.ID, "user_id", d.Keyword.UserID, "state", state, "error", err)
			continue
		}
		if state == scheduler.StateSent {
			res.Notified++
		}
	}

	if len(res.Created) > 0 {
		s.log.Debug("announcement matched", "announcement_id", a.ID, "matches", len(res.Created), "notified", res.Notified)
	}
	return res
}
