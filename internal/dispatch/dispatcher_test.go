package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"keyword_alerts/internal/model"
	"keyword_alerts/internal/ratelimit"
)

type fakeProvider struct {
	mu   sync.Mutex
	name string
	err  error
	sent []Message
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Send(_ context.Context, msg Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, msg)
	return "msg-1", nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	records []model.NotificationRecord
}

func (r *fakeRecorder) RecordNotification(_ context.Context, rec *model.NotificationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

type stubRenderer struct{}

func (stubRenderer) Immediate(_ model.User, item model.MatchDetail) Content {
	return Content{Subject: "immediate " + item.Keyword.Pattern, Body: item.Announcement.Title}
}

func (stubRenderer) Digest(_ model.User, _ model.DigestPeriod, items []model.MatchDetail) Content {
	return Content{Subject: "digest", Body: items[0].Announcement.Title}
}

func newTestDispatcher(p Provider, limit int, rec Recorder) *Dispatcher {
	return New(Config{
		Providers: map[model.Channel]Provider{model.ChannelEmail: p},
		Renderer:  stubRenderer{},
		Limiter:   ratelimit.New(ratelimit.Options{}),
		Limit:     limit,
		Recorder:  rec,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

var (
	testUser = model.User{ID: 1, Email: "user@example.com"}
	testPref = model.DefaultPreference(1)
	testItem = model.MatchDetail{
		Match:        model.Match{ID: 1},
		Keyword:      model.Keyword{ID: 1, Pattern: "bank"},
		Announcement: model.Announcement{ID: "a-1", Title: "Bank insolvency"},
	}
)

func TestSend(t *testing.T) {
	p := &fakeProvider{name: "email"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(p, 100, rec)

	res, err := d.Send(context.Background(), testUser, testPref, testItem)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if diff := cmp.Diff(Result{ProviderMessageID: "msg-1"}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	want := []Message{{To: "user@example.com", Subject: "immediate bank", Body: "Bank insolvency"}}
	if diff := cmp.Diff(want, p.sent); diff != "" {
		t.Errorf("sent messages mismatch (-want +got):\n%s", diff)
	}

	wantRec := []model.NotificationRecord{{
		UserID: 1, Kind: model.KindImmediate, Channel: model.ChannelEmail, Status: model.StatusSent,
		Subject: "immediate bank", ProviderMessageID: "msg-1", MatchCount: 1,
	}}
	if diff := cmp.Diff(wantRec, rec.records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestSendBatch(t *testing.T) {
	p := &fakeProvider{name: "email"}
	rec := &fakeRecorder{}
	d := newTestDispatcher(p, 100, rec)

	items := []model.MatchDetail{testItem, testItem, testItem}
	if _, err := d.SendBatch(context.Background(), testUser, testPref, items); err != nil {
		t.Fatalf("send batch: %v", err)
	}
	if diff := cmp.Diff(1, len(p.sent)); diff != "" {
		t.Errorf("one digest message expected (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(3, rec.records[0].MatchCount); diff != "" {
		t.Errorf("match count mismatch (-want +got):\n%s", diff)
	}

	if _, err := d.SendBatch(context.Background(), testUser, testPref, nil); err == nil {
		t.Error("expected error for empty digest")
	}
}

func TestSendFailures(t *testing.T) {
	chat := int64(77)
	tests := []struct {
		name       string
		user       model.User
		pref       model.NotificationPreference
		providerEr error
		limit      int
		wantReason Reason
		wantCalls  int
	}{
		{
			name:       "rate limited before contacting provider",
			user:       testUser,
			pref:       testPref,
			limit:      1,
			wantReason: ReasonRateLimited,
		},
		{
			name:       "missing email",
			user:       model.User{ID: 1},
			pref:       testPref,
			limit:      100,
			wantReason: ReasonInvalidRecipient,
		},
		{
			name:       "malformed email",
			user:       model.User{ID: 1, Email: "not an address"},
			pref:       testPref,
			limit:      100,
			wantReason: ReasonInvalidRecipient,
		},
		{
			name:       "unconfigured channel",
			user:       model.User{ID: 1, TelegramChatID: &chat},
			pref:       model.NotificationPreference{Channel: model.ChannelTelegram},
			limit:      100,
			wantReason: ReasonInvalidRecipient,
		},
		{
			name:       "plain provider error is unavailable",
			user:       testUser,
			pref:       testPref,
			providerEr: errors.New("connection reset"),
			limit:      100,
			wantReason: ReasonProviderUnavailable,
		},
		{
			name:       "provider reports invalid recipient",
			user:       testUser,
			pref:       testPref,
			providerEr: NewError(ReasonInvalidRecipient, errors.New("bounced")),
			limit:      100,
			wantReason: ReasonInvalidRecipient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{name: "email", err: tt.providerEr}
			rec := &fakeRecorder{}
			d := newTestDispatcher(p, tt.limit, rec)

			_, err := d.Send(context.Background(), tt.user, tt.pref, testItem)
			var de *Error
			if !errors.As(err, &de) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if diff := cmp.Diff(tt.wantReason, de.Reason); diff != "" {
				t.Errorf("reason mismatch (-want +got):\n%s", diff)
			}
			if len(p.sent) != 0 {
				t.Errorf("expected no delivered messages, got %d", len(p.sent))
			}
			if diff := cmp.Diff(1, len(rec.records)); diff != "" {
				t.Fatalf("record count mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(model.StatusFailed, rec.records[0].Status); diff != "" {
				t.Errorf("status mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{err: NewError(ReasonRateLimited, nil), want: true},
		{err: NewError(ReasonProviderUnavailable, nil), want: true},
		{err: NewError(ReasonInvalidRecipient, nil), want: false},
		{err: errors.New("unclassified"), want: true},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
