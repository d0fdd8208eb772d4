// Package scheduler decides when matches are delivered: immediately on arrival or
// batched into a periodic digest. Digests are flushed by one global tick.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"keyword_alerts/internal/dispatch"
	"keyword_alerts/internal/model"
	"keyword_alerts/internal/storage"
)

// State is the delivery state of a match.
type State string

// Match states. A match only moves forward: CREATED to one of the queued states,
// then to SENT or, after a non-retryable dispatch error, to FAILED.
const (
	StateCreated         State = "CREATED"
	StateQueuedImmediate State = "QUEUED_IMMEDIATE"
	StateQueuedDigest    State = "QUEUED_DIGEST"
	StateSent            State = "SENT"
	StateFailed          State = "FAILED"
)

// Dispatcher sends rendered notifications.
type Dispatcher interface {
	Send(ctx context.Context, user model.User, pref model.NotificationPreference, item model.MatchDetail) (dispatch.Result, error)
	SendBatch(ctx context.Context, user model.User, pref model.NotificationPreference, items []model.MatchDetail) (dispatch.Result, error)
}

// DigestReport summarizes one digest tick.
type DigestReport struct {
	Users   int
	Sent    int
	Failed  int
	Matches int
}

// RetryReport summarizes one immediate retry run.
type RetryReport struct {
	Attempted int
	Sent      int
	Failed    int
}

// Options configures a Scheduler.
type Options struct {
	// Location is the time zone digest times are interpreted in. Defaults to UTC.
	Location *time.Location
	// Concurrency bounds how many users are processed at once. Defaults to 4.
	Concurrency int
	// JobTimeout bounds each cron-triggered run. Defaults to 5 minutes.
	JobTimeout time.Duration
}

// Scheduler routes matches to the immediate or digest path.
type Scheduler struct {
	store       storage.Storage
	dispatcher  Dispatcher
	log         *slog.Logger
	loc         *time.Location
	concurrency int
	jobTimeout  time.Duration
	now         func() time.Time
	cron        *cron.Cron
}

// New creates a Scheduler.
func New(store storage.Storage, d Dispatcher, log *slog.Logger, opts Options) *Scheduler {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	return &Scheduler{
		store:       store,
		dispatcher:  d,
		log:         log,
		loc:         opts.Location,
		concurrency: opts.Concurrency,
		jobTimeout:  opts.JobTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// Enqueue routes a freshly recorded match. Immediate users get one send attempt
// before Enqueue returns; on a retryable failure the match stays queued for
// RetryImmediate, otherwise it is marked failed. The dispatch error is returned
// in both cases. Digest users and users with notifications
// disabled keep the match pending for RunDigests.
func (s *Scheduler) Enqueue(ctx context.Context, item model.MatchDetail) (State, error) {
	if item.Match.Notified() {
		return StateSent, nil
	}

	userID := item.Keyword.UserID
	pref, err := s.preference(ctx, userID)
	if err != nil {
		return StateCreated, err
	}
	if !pref.Enabled || pref.Mode == model.ModeDigest {
		return StateQueuedDigest, nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return StateCreated, fmt.Errorf("get user %d: %w", userID, err)
	}

	if err := s.sendImmediate(ctx, *user, pref, item); err != nil {
		if !dispatch.IsRetryable(err) {
			s.markFailed(ctx, []model.MatchDetail{item}, err)
			return StateFailed, err
		}
		return StateQueuedImmediate, err
	}
	return StateSent, nil
}

// RunDigests sends one digest to every digest user whose window has closed and marks
// the included matches notified. A failure for one user leaves that user's matches
// pending for the next tick and does not affect other users.
func (s *Scheduler) RunDigests(ctx context.Context) DigestReport {
	var report DigestReport
	now := s.now()

	users, err := s.store.UsersWithUnnotified(ctx)
	if err != nil {
		s.log.Error("list users with pending matches", "error", err)
		return report
	}

	var mu sync.Mutex
	s.forEachUser(ctx, users, func(ctx context.Context, userID int64) {
		n, err := s.flushDigest(ctx, userID, now)
		if n == 0 && err == nil {
			return
		}

		mu.Lock()
		defer mu.Unlock()
		report.Users++
		if err != nil {
			report.Failed++
			s.logDispatchError("send digest", userID, err)
			return
		}
		report.Sent++
		report.Matches += n
	})

	if report.Users > 0 {
		s.log.Info("digest tick", "users", report.Users, "sent", report.Sent, "failed", report.Failed, "matches", report.Matches)
	}
	return report
}

// flushDigest returns the number of matches delivered. Zero with a nil error means
// nothing was due.
func (s *Scheduler) flushDigest(ctx context.Context, userID int64, now time.Time) (int, error) {
	pref, err := s.preference(ctx, userID)
	if err != nil {
		return 0, err
	}
	if !pref.Enabled || pref.Mode != model.ModeDigest {
		return 0, nil
	}

	items, err := s.store.UnnotifiedForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list pending matches: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}
	if !items[0].Match.MatchedAt.Before(LastBoundary(pref, now, s.loc)) {
		return 0, nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get user: %w", err)
	}
	if _, err := s.dispatcher.SendBatch(ctx, *user, pref, items); err != nil {
		if !dispatch.IsRetryable(err) {
			s.markFailed(ctx, items, err)
		}
		return 0, err
	}

	notifiedAt := s.now()
	for _, it := range items {
		s.markNotified(ctx, it.Match.ID, notifiedAt)
	}
	return len(items), nil
}

// RetryImmediate resends pending matches of users on immediate delivery, one send
// per match. An invalid recipient marks the user's remaining matches failed.
func (s *Scheduler) RetryImmediate(ctx context.Context) RetryReport {
	var report RetryReport

	users, err := s.store.UsersWithUnnotified(ctx)
	if err != nil {
		s.log.Error("list users with pending matches", "error", err)
		return report
	}

	var mu sync.Mutex
	s.forEachUser(ctx, users, func(ctx context.Context, userID int64) {
		r, err := s.retryUser(ctx, userID)
		if err != nil {
			s.logDispatchError("retry immediate", userID, err)
		}
		mu.Lock()
		report.Attempted += r.Attempted
		report.Sent += r.Sent
		report.Failed += r.Failed
		mu.Unlock()
	})

	if report.Attempted > 0 {
		s.log.Info("immediate retry", "attempted", report.Attempted, "sent", report.Sent, "failed", report.Failed)
	}
	return report
}

func (s *Scheduler) retryUser(ctx context.Context, userID int64) (RetryReport, error) {
	var r RetryReport

	pref, err := s.preference(ctx, userID)
	if err != nil {
		return r, err
	}
	if !pref.Enabled || pref.Mode != model.ModeImmediate {
		return r, nil
	}

	items, err := s.store.UnnotifiedForUser(ctx, userID)
	if err != nil {
		return r, fmt.Errorf("list pending matches: %w", err)
	}
	if len(items) == 0 {
		return r, nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return r, fmt.Errorf("get user: %w", err)
	}

	var lastErr error
	for i, it := range items {
		if ctx.Err() != nil {
			break
		}
		r.Attempted++
		if err := s.sendImmediate(ctx, *user, pref, it); err != nil {
			r.Failed++
			lastErr = err
			if !dispatch.IsRetryable(err) {
				// The recipient is the same for every remaining match.
				s.markFailed(ctx, items[i:], err)
				break
			}
			continue
		}
		r.Sent++
	}
	return r, lastErr
}

func (s *Scheduler) sendImmediate(ctx context.Context, user model.User, pref model.NotificationPreference, item model.MatchDetail) error {
	if _, err := s.dispatcher.Send(ctx, user, pref, item); err != nil {
		return err
	}
	s.markNotified(ctx, item.Match.ID, s.now())
	return nil
}

// markNotified logs instead of failing: the message is already out, and a match
// left pending is only re-sent, never lost.
func (s *Scheduler) markNotified(ctx context.Context, matchID int64, at time.Time) {
	already, err := s.store.MarkNotified(ctx, matchID, at)
	if err != nil {
		s.log.Error("mark notified", "match_id", matchID, "error", err)
		return
	}
	if already {
		s.log.Debug("match already notified", "match_id", matchID)
	}
}

func (s *Scheduler) markFailed(ctx context.Context, items []model.MatchDetail, cause error) {
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.Match.ID
	}
	if err := s.store.MarkFailed(ctx, ids, string(dispatch.ReasonOf(cause)), s.now()); err != nil {
		s.log.Error("mark failed", "match_ids", ids, "error", err)
		return
	}
	s.log.Warn("matches failed permanently", "match_ids", ids, "reason", dispatch.ReasonOf(cause))
}

func (s *Scheduler) preference(ctx context.Context, userID int64) (model.NotificationPreference, error) {
	p, err := s.store.GetPreference(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.DefaultPreference(userID), nil
	}
	if err != nil {
		return model.NotificationPreference{}, fmt.Errorf("get preference for user %d: %w", userID, err)
	}
	return *p, nil
}

func (s *Scheduler) forEachUser(ctx context.Context, users []int64, fn func(ctx context.Context, userID int64)) {
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, id := range users {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			fn(ctx, id)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) logDispatchError(msg string, userID int64, err error) {
	if dispatch.IsRetryable(err) {
		s.log.Warn(msg, "user_id", userID, "reason", dispatch.ReasonOf(err), "error", err)
		return
	}
	s.log.Error(msg, "user_id", userID, "reason", dispatch.ReasonOf(err), "error", err)
}

// Start registers the digest tick and, when retrySpec is set, the immediate retry
// job, then starts the cron engine in the scheduler's location.
func (s *Scheduler) Start(digestSpec, retrySpec string) error {
	c := cron.New(cron.WithLocation(s.loc))

	if _, err := c.AddFunc(digestSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
		defer cancel()
		s.RunDigests(ctx)
	}); err != nil {
		return fmt.Errorf("add digest job %q: %w", digestSpec, err)
	}

	if retrySpec != "" {
		if _, err := c.AddFunc(retrySpec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
			defer cancel()
			s.RetryImmediate(ctx)
		}); err != nil {
			return fmt.Errorf("add retry job %q: %w", retrySpec, err)
		}
	}

	s.cron = c
	c.Start()
	s.log.Info("scheduler started", "digest", digestSpec, "retry", retrySpec, "location", s.loc.String())
	return nil
}

// Stop stops the cron engine and waits for running jobs.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}
