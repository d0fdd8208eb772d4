package feed

import (
	"context"
	"log/slog"
	"time"

	"keyword_alerts/internal/matching"
	"keyword_alerts/internal/model"
)

// Processor consumes ingested announcements.
type Processor interface {
	ProcessBatch(ctx context.Context, items []model.Announcement) matching.BatchResult
}

// Poller periodically fetches the configured feeds and hands their items to a
// Processor. Already ingested items are ignored downstream.
type Poller struct {
	fetcher   *Fetcher
	processor Processor
	urls      []string
	log       *slog.Logger
	tick      time.Duration
}

// NewPoller creates a Poller with a 15-minute interval.
func NewPoller(f *Fetcher, p Processor, urls []string, log *slog.Logger) *Poller {
	return &Poller{
		fetcher:   f,
		processor: p,
		urls:      urls,
		log:       log,
		tick:      15 * time.Minute,
	}
}

// SetTickInterval overrides the default poll interval.
func (p *Poller) SetTickInterval(d time.Duration) {
	p.tick = d
}

// Run polls all feeds immediately and then on every tick, blocking until ctx is
// cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.pollAll(ctx)

	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for _, url := range p.urls {
		if ctx.Err() != nil {
			return
		}
		p.poll(ctx, url)
	}
}

func (p *Poller) poll(ctx context.Context, url string) {
	p.log.Debug("polling feed", "url", url)

	parsed, err := p.fetcher.Fetch(ctx, url)
	if err != nil {
		p.log.Error("fetch feed", "url", url, "error", err)
		return
	}

	res := p.processor.ProcessBatch(ctx, ToAnnouncements(parsed.Items))
	if res.Matches > 0 || res.Failed > 0 {
		p.log.Info("feed processed", "url", url, "items", res.Processed, "failed", res.Failed, "matches", res.Matches, "notified", res.Notified)
	}
}
