package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"keyword_alerts/internal/dispatch"
	"keyword_alerts/internal/model"
	"keyword_alerts/internal/storage"
)

type call struct {
	UserID  int64
	Matches []int64
}

type mockDispatcher struct {
	mu      sync.Mutex
	single  []call
	batches []call
	fail    map[int64]error
}

func (m *mockDispatcher) Send(_ context.Context, user model.User, _ model.NotificationPreference, item model.MatchDetail) (dispatch.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.single = append(m.single, call{UserID: user.ID, Matches: []int64{item.Match.ID}})
	if err := m.fail[user.ID]; err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{ProviderMessageID: "ok"}, nil
}

func (m *mockDispatcher) SendBatch(_ context.Context, user model.User, _ model.NotificationPreference, items []model.MatchDetail) (dispatch.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, len(items))
	for i, it := range items {
		ids[i] = it.Match.ID
	}
	m.batches = append(m.batches, call{UserID: user.ID, Matches: ids})
	if err := m.fail[user.ID]; err != nil {
		return dispatch.Result{}, err
	}
	return dispatch.Result{ProviderMessageID: "ok"}, nil
}

func (m *mockDispatcher) batchCalls() []call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]call(nil), m.batches...)
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestScheduler(store storage.Storage, d Dispatcher, now time.Time) *Scheduler {
	s := New(store, d, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{})
	s.SetClock(func() time.Time { return now })
	return s
}

func seedUser(t *testing.T, store *storage.SQLite, id int64, mode model.DeliveryMode) {
	t.Helper()
	ctx := context.Background()
	if err := store.UpsertUser(ctx, &model.User{ID: id, Email: "user@example.com"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	pref := model.DefaultPreference(id)
	pref.Mode = mode
	if err := store.UpsertPreference(ctx, &pref); err != nil {
		t.Fatalf("upsert preference: %v", err)
	}
}

// seedMatches records one match per announcement id for a fresh keyword of userID.
func seedMatches(t *testing.T, store *storage.SQLite, userID int64, matchedAt time.Time, annIDs ...string) []model.MatchDetail {
	t.Helper()
	ctx := context.Background()
	kw := model.Keyword{UserID: userID, Pattern: "bank", Enabled: true}
	if err := store.CreateKeyword(ctx, &kw, 50); err != nil {
		t.Fatalf("create keyword: %v", err)
	}
	var out []model.MatchDetail
	for i, id := range annIDs {
		a := model.Announcement{ID: id, Title: "Bank " + id, PublishedAt: matchedAt}
		if _, err := store.SaveAnnouncement(ctx, a); err != nil {
			t.Fatalf("save announcement: %v", err)
		}
		m, _, err := store.RecordIfNew(ctx, kw.ID, id, matchedAt.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("record match: %v", err)
		}
		out = append(out, model.MatchDetail{Match: m, Keyword: kw, Announcement: a})
	}
	return out
}

func pendingCount(t *testing.T, store *storage.SQLite, userID int64) int {
	t.Helper()
	items, err := store.UnnotifiedForUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("unnotified: %v", err)
	}
	return len(items)
}

func TestEnqueueImmediateSendsBeforeReturning(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, 1, model.ModeImmediate)
	items := seedMatches(t, store, 1, time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC), "a-1")

	d := &mockDispatcher{}
	s := newTestScheduler(store, d, time.Date(2026, 10, 5, 10, 1, 0, 0, time.UTC))

	state, err := s.Enqueue(ctx, items[0])
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if diff := cmp.Diff(StateSent, state); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]call{{UserID: 1, Matches: []int64{items[0].Match.ID}}}, d.single); diff != "" {
		t.Errorf("send calls mismatch (-want +got):\n%s", diff)
	}
	if n := pendingCount(t, store, 1); n != 0 {
		t.Errorf("expected match to be notified, %d pending", n)
	}

	// No digest tick picks it up again.
	s.RunDigests(ctx)
	if len(d.batches) != 0 {
		t.Errorf("expected no digest, got %d", len(d.batches))
	}
}

func TestEnqueueRouting(t *testing.T) {
	unavailable := dispatch.NewError(dispatch.ReasonProviderUnavailable, errors.New("502"))
	invalid := dispatch.NewError(dispatch.ReasonInvalidRecipient, errors.New("422"))
	tests := []struct {
		name      string
		mode      model.DeliveryMode
		disabled  bool
		noPref    bool
		failWith  error
		wantState State
		wantErr   bool
		wantSends int
	}{
		{name: "digest user is held", mode: model.ModeDigest, wantState: StateQueuedDigest},
		{name: "disabled user is held", mode: model.ModeImmediate, disabled: true, wantState: StateQueuedDigest},
		{name: "missing preference sends immediately", noPref: true, wantState: StateSent, wantSends: 1},
		{name: "failed immediate stays queued", mode: model.ModeImmediate, failWith: unavailable, wantState: StateQueuedImmediate, wantErr: true, wantSends: 1},
		{name: "invalid recipient fails for good", mode: model.ModeImmediate, failWith: invalid, wantState: StateFailed, wantErr: true, wantSends: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := newTestStore(t)
			if tt.noPref {
				if err := store.UpsertUser(ctx, &model.User{ID: 1, Email: "u@example.com"}); err != nil {
					t.Fatalf("upsert user: %v", err)
				}
			} else {
				seedUser(t, store, 1, tt.mode)
			}
			if tt.disabled {
				pref := model.DefaultPreference(1)
				pref.Enabled = false
				if err := store.UpsertPreference(ctx, &pref); err != nil {
					t.Fatalf("upsert preference: %v", err)
				}
			}
			items := seedMatches(t, store, 1, time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC), "a-1")

			d := &mockDispatcher{fail: map[int64]error{}}
			if tt.failWith != nil {
				d.fail[1] = tt.failWith
			}
			s := newTestScheduler(store, d, time.Date(2026, 10, 5, 10, 1, 0, 0, time.UTC))

			state, err := s.Enqueue(ctx, items[0])
			if (err != nil) != tt.wantErr {
				t.Fatalf("enqueue error = %v, wantErr %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.wantState, state); diff != "" {
				t.Errorf("state mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantSends, len(d.single)); diff != "" {
				t.Errorf("send count mismatch (-want +got):\n%s", diff)
			}
			wantPending := 1
			if tt.wantState == StateSent || tt.wantState == StateFailed {
				wantPending = 0
			}
			if diff := cmp.Diff(wantPending, pendingCount(t, store, 1)); diff != "" {
				t.Errorf("pending mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnqueueAlreadyNotified(t *testing.T) {
	now := time.Now()
	d := &mockDispatcher{}
	s := newTestScheduler(newTestStore(t), d, now)

	state, err := s.Enqueue(context.Background(), model.MatchDetail{Match: model.Match{ID: 9, NotifiedAt: &now}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if diff := cmp.Diff(StateSent, state); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
	if len(d.single) != 0 {
		t.Error("notified match must not be sent again")
	}
}

func TestRunDigestsAccumulates(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	seedUser(t, store, 1, model.ModeDigest)
	items := seedMatches(t, store, 1, time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC), "a-1", "a-2", "a-3")

	for _, it := range items {
		s := newTestScheduler(store, &mockDispatcher{}, time.Now())
		state, err := s.Enqueue(ctx, it)
		if err != nil || state != StateQueuedDigest {
			t.Fatalf("enqueue: state=%s err=%v", state, err)
		}
	}

	d := &mockDispatcher{}

	// Same day, before the next 09:00 boundary: window still open.
	s := newTestScheduler(store, d, time.Date(2026, 10, 5, 23, 0, 0, 0, time.UTC))
	if r := s.RunDigests(ctx); r.Users != 0 {
		t.Errorf("expected no digest before boundary, got %+v", r)
	}

	s = newTestScheduler(store, d, time.Date(2026, 10, 6, 9, 0, 0, 0, time.UTC))
	report := s.RunDigests(ctx)

	want := DigestReport{Users: 1, Sent: 1, Matches: 3}
	if diff := cmp.Diff(want, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	wantCalls := []call{{UserID: 1, Matches: []int64{items[0].Match.ID, items[1].Match.ID, items[2].Match.ID}}}
	if diff := cmp.Diff(wantCalls, d.batchCalls()); diff != "" {
		t.Errorf("batch calls mismatch (-want +got):\n%s", diff)
	}
	if n := pendingCount(t, store, 1); n != 0 {
		t.Errorf("expected all matches notified, %d pending", n)
	}

	// A second tick has nothing left to send.
	if r := s.RunDigests(ctx); r.Users != 0 {
		t.Errorf("expected empty second tick, got %+v", r)
	}
}

func TestRunDigestsIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	matchedAt := time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC)

	seedUser(t, store, 1, model.ModeDigest)
	seedUser(t, store, 2, model.ModeDigest)
	seedMatches(t, store, 1, matchedAt, "u-1", "u-2")
	seedMatches(t, store, 2, matchedAt, "v-1")

	d := &mockDispatcher{fail: map[int64]error{
		1: dispatch.NewError(dispatch.ReasonProviderUnavailable, errors.New("503")),
	}}
	s := newTestScheduler(store, d, time.Date(2026, 10, 6, 9, 30, 0, 0, time.UTC))

	report := s.RunDigests(ctx)
	if diff := cmp.Diff(DigestReport{Users: 2, Sent: 1, Failed: 1, Matches: 1}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(2, pendingCount(t, store, 1)); diff != "" {
		t.Errorf("failed user's matches must stay pending (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(0, pendingCount(t, store, 2)); diff != "" {
		t.Errorf("other user's digest must complete (-want +got):\n%s", diff)
	}

	// Provider recovers: the next tick retries user 1.
	delete(d.fail, 1)
	report = s.RunDigests(ctx)
	if diff := cmp.Diff(DigestReport{Users: 1, Sent: 1, Matches: 2}, report); diff != "" {
		t.Errorf("retry report mismatch (-want +got):\n%s", diff)
	}
	if n := pendingCount(t, store, 1); n != 0 {
		t.Errorf("expected retry to flush user 1, %d pending", n)
	}
}

func TestRetryImmediate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	matchedAt := time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC)

	seedUser(t, store, 1, model.ModeImmediate)
	seedUser(t, store, 2, model.ModeImmediate)
	seedUser(t, store, 3, model.ModeDigest)
	seedMatches(t, store, 1, matchedAt, "a-1", "a-2")
	seedMatches(t, store, 2, matchedAt, "b-1", "b-2")
	seedMatches(t, store, 3, matchedAt, "c-1")

	d := &mockDispatcher{fail: map[int64]error{
		2: dispatch.NewError(dispatch.ReasonInvalidRecipient, errors.New("bounced")),
	}}
	s := newTestScheduler(store, d, matchedAt.Add(time.Hour))

	report := s.RetryImmediate(ctx)
	// User 2 stops after the first invalid recipient; user 3 is on digest.
	if diff := cmp.Diff(RetryReport{Attempted: 3, Sent: 2, Failed: 1}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
	if n := pendingCount(t, store, 1); n != 0 {
		t.Errorf("user 1: %d pending, want 0", n)
	}
	if n := pendingCount(t, store, 2); n != 0 {
		t.Errorf("user 2: %d pending, want 0 after invalid recipient", n)
	}
	if n := pendingCount(t, store, 3); n != 1 {
		t.Errorf("user 3: %d pending, want 1", n)
	}
}

func TestInvalidRecipientIsNotRetried(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	matchedAt := time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC)

	seedUser(t, store, 1, model.ModeDigest)
	seedUser(t, store, 2, model.ModeImmediate)
	digestItems := seedMatches(t, store, 1, matchedAt, "d-1", "d-2")
	immediateItems := seedMatches(t, store, 2, matchedAt, "i-1", "i-2")

	invalid := dispatch.NewError(dispatch.ReasonInvalidRecipient, errors.New("address rejected"))
	d := &mockDispatcher{fail: map[int64]error{1: invalid, 2: invalid}}
	s := newTestScheduler(store, d, time.Date(2026, 10, 6, 9, 30, 0, 0, time.UTC))

	for range 3 {
		s.RunDigests(ctx)
		s.RetryImmediate(ctx)
	}

	if diff := cmp.Diff(1, len(d.batches)); diff != "" {
		t.Errorf("digest attempts mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(1, len(d.single)); diff != "" {
		t.Errorf("immediate attempts mismatch (-want +got):\n%s", diff)
	}

	for _, it := range append(digestItems, immediateItems...) {
		m, err := store.GetMatch(ctx, it.Match.ID)
		if err != nil {
			t.Fatalf("get match: %v", err)
		}
		if m.Notified() {
			t.Errorf("match %d must not be marked notified", m.ID)
		}
		if m.FailedAt == nil {
			t.Errorf("match %d: expected failed_at to be set", m.ID)
		}
		if diff := cmp.Diff(string(dispatch.ReasonInvalidRecipient), m.FailureReason); diff != "" {
			t.Errorf("failure reason mismatch (-want +got):\n%s", diff)
		}
	}

	users, err := store.UsersWithUnnotified(ctx)
	if err != nil {
		t.Fatalf("users with unnotified: %v", err)
	}
	if len(users) != 0 {
		t.Errorf("expected no users with pending matches, got %v", users)
	}
}

func TestNewRecipientRevivesFailedMatches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	matchedAt := time.Date(2026, 10, 5, 10, 0, 0, 0, time.UTC)

	seedUser(t, store, 1, model.ModeImmediate)
	seedMatches(t, store, 1, matchedAt, "a-1")

	d := &mockDispatcher{fail: map[int64]error{
		1: dispatch.NewError(dispatch.ReasonInvalidRecipient, errors.New("bounced")),
	}}
	s := newTestScheduler(store, d, matchedAt.Add(time.Hour))
	s.RetryImmediate(ctx)
	if n := pendingCount(t, store, 1); n != 0 {
		t.Fatalf("expected failed match, %d pending", n)
	}

	if err := store.UpsertUser(ctx, &model.User{ID: 1, Email: "fixed@example.com"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	delete(d.fail, 1)

	report := s.RetryImmediate(ctx)
	if diff := cmp.Diff(RetryReport{Attempted: 1, Sent: 1}, report); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestLastBoundary(t *testing.T) {
	daily := model.DefaultPreference(1)
	weekly := model.DefaultPreference(1)
	weekly.Period = model.PeriodWeekly
	weekly.DigestWeekday = time.Friday
	weekly.DigestTime = "18:30"
	broken := model.DefaultPreference(1)
	broken.DigestTime = "late"

	riyadh := time.FixedZone("AST", 3*60*60)

	tests := []struct {
		name string
		pref model.NotificationPreference
		now  time.Time
		loc  *time.Location
		want time.Time
	}{
		{
			name: "daily after time",
			pref: daily,
			now:  time.Date(2026, 10, 6, 10, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 10, 6, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "daily before time uses previous day",
			pref: daily,
			now:  time.Date(2026, 10, 6, 8, 59, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 10, 5, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "daily exactly at time",
			pref: daily,
			now:  time.Date(2026, 10, 6, 9, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 10, 6, 9, 0, 0, 0, time.UTC),
		},
		{
			name: "weekly steps back to weekday",
			pref: weekly,
			now:  time.Date(2026, 10, 7, 12, 0, 0, 0, time.UTC), // Wednesday
			loc:  time.UTC,
			want: time.Date(2026, 10, 2, 18, 30, 0, 0, time.UTC), // previous Friday
		},
		{
			name: "weekly on weekday before time",
			pref: weekly,
			now:  time.Date(2026, 10, 9, 18, 0, 0, 0, time.UTC), // Friday
			loc:  time.UTC,
			want: time.Date(2026, 10, 2, 18, 30, 0, 0, time.UTC),
		},
		{
			name: "local zone",
			pref: daily,
			now:  time.Date(2026, 10, 6, 6, 30, 0, 0, time.UTC), // 09:30 in AST
			loc:  riyadh,
			want: time.Date(2026, 10, 6, 6, 0, 0, 0, time.UTC),
		},
		{
			name: "invalid time falls back to default",
			pref: broken,
			now:  time.Date(2026, 10, 6, 10, 0, 0, 0, time.UTC),
			loc:  time.UTC,
			want: time.Date(2026, 10, 6, 9, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LastBoundary(tt.pref, tt.now, tt.loc)
			if !got.Equal(tt.want) {
				t.Errorf("LastBoundary = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestStartRejectsBadSpec(t *testing.T) {
	s := newTestScheduler(newTestStore(t), &mockDispatcher{}, time.Now())
	if err := s.Start("not a cron spec", ""); err == nil {
		s.Stop()
		t.Fatal("expected error for invalid spec")
	}
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(newTestStore(t), &mockDispatcher{}, time.Now())
	if err := s.Start("0 9 * * *", "*/10 * * * *"); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Stop()
}
