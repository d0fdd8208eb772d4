package feed

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"keyword_alerts/internal/matching"
	"keyword_alerts/internal/model"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
}

func (m *mockTransport) Do(_ *http.Request) (*http.Response, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func loadFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("testdata/announcements.xml")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return string(data)
}

func TestFetch(t *testing.T) {
	xml := loadFixture(t)

	tests := []struct {
		name      string
		transport *mockTransport
		wantTitle string
		wantItems int
		wantErr   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: xml, statusCode: 200},
			wantTitle: "Official Gazette",
			wantItems: 3,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "gone", statusCode: 410},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "not a feed",
			transport: &mockTransport{body: "<html>maintenance</html>", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := NewFetcher(tt.transport).Fetch(context.Background(), "https://gazette.example.com/rss")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.wantTitle, parsed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(parsed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestItemGUID(t *testing.T) {
	withGUID := &gofeed.Item{GUID: "abc", Title: "t", Link: "l"}
	if got := ItemGUID(withGUID); got != "abc" {
		t.Errorf("ItemGUID = %q, want abc", got)
	}

	a := ItemGUID(&gofeed.Item{Title: "t", Link: "l"})
	b := ItemGUID(&gofeed.Item{Title: "t", Link: "l"})
	c := ItemGUID(&gofeed.Item{Title: "t", Link: "other"})
	if a != b {
		t.Errorf("hash should be stable: %q != %q", a, b)
	}
	if a == c {
		t.Error("different links should give different ids")
	}
	if !strings.HasPrefix(a, "sha256:") {
		t.Errorf("unexpected fallback id %q", a)
	}
}

func TestToAnnouncements(t *testing.T) {
	parsed, err := gofeed.NewParser().ParseString(loadFixture(t))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := ToAnnouncements(parsed.Items)
	if diff := cmp.Diff(3, len(got)); diff != "" {
		t.Fatalf("count mismatch (-want +got):\n%s", diff)
	}

	want := model.Announcement{
		ID:          "gazette-1002",
		Title:       "Bank restructuring notice",
		Body:        "The National Bank announces a creditor meeting.",
		URL:         "https://gazette.example.com/a/1002",
		PublishedAt: time.Date(2026, 10, 5, 9, 30, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got[1]); diff != "" {
		t.Errorf("announcement mismatch (-want +got):\n%s", diff)
	}
	if !got[2].PublishedAt.IsZero() {
		t.Errorf("expected zero publish time for undated item, got %s", got[2].PublishedAt)
	}
	if !strings.HasPrefix(got[2].ID, "sha256:") {
		t.Errorf("expected hashed id for item without guid, got %q", got[2].ID)
	}
}

type mockProcessor struct {
	mu      sync.Mutex
	batches [][]model.Announcement
}

func (m *mockProcessor) ProcessBatch(_ context.Context, items []model.Announcement) matching.BatchResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, items)
	return matching.BatchResult{Processed: len(items)}
}

func (m *mockProcessor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func TestPollerSkipsFailingFeeds(t *testing.T) {
	xml := loadFixture(t)
	client := &routingClient{bodies: map[string]string{"https://ok.example.com/rss": xml}}
	proc := &mockProcessor{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := NewPoller(NewFetcher(client), proc, []string{"https://down.example.com/rss", "https://ok.example.com/rss"}, log)
	p.pollAll(context.Background())

	if diff := cmp.Diff(1, proc.count()); diff != "" {
		t.Fatalf("batch count mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(3, len(proc.batches[0])); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
}

func TestPollerRunStopsOnCancel(t *testing.T) {
	client := &routingClient{bodies: map[string]string{"https://ok.example.com/rss": loadFixture(t)}}
	proc := &mockProcessor{}
	p := NewPoller(NewFetcher(client), proc, []string{"https://ok.example.com/rss"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	p.SetTickInterval(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for proc.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("poller did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

type routingClient struct {
	bodies map[string]string
}

func (c *routingClient) Do(req *http.Request) (*http.Response, error) {
	body, ok := c.bodies[req.URL.String()]
	if !ok {
		return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(""))}, nil
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(body))}, nil
}
