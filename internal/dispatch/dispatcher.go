// Package dispatch turns decided notifications into rate-limited sends through a
// delivery channel provider and records the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strconv"

	"keyword_alerts/internal/model"
)

// Message is what a Provider delivers.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Content is a rendered notification.
type Content struct {
	Subject string
	Body    string
}

// Renderer builds notification content from matches.
type Renderer interface {
	Immediate(user model.User, item model.MatchDetail) Content
	Digest(user model.User, period model.DigestPeriod, items []model.MatchDetail) Content
}

// Provider delivers a message through one channel and returns the provider's
// message ID. Failures should be returned as *Error.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

// Limiter gates calls into providers.
type Limiter interface {
	Check(limit int, token string) error
}

// Recorder stores the outcome of each send attempt.
type Recorder interface {
	RecordNotification(ctx context.Context, r *model.NotificationRecord) error
}

// Result describes a delivered notification.
type Result struct {
	ProviderMessageID string
}

// Dispatcher sends notifications.
type Dispatcher struct {
	providers map[model.Channel]Provider
	renderer  Renderer
	limiter   Limiter
	limit     int
	recorder  Recorder
	log       *slog.Logger
}

// Config holds the collaborators of a Dispatcher.
type Config struct {
	Providers map[model.Channel]Provider
	Renderer  Renderer
	Limiter   Limiter
	// Limit is the per-interval allowance passed to Limiter.Check for each provider.
	Limit    int
	Recorder Recorder
	Log      *slog.Logger
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		providers: cfg.Providers,
		renderer:  cfg.Renderer,
		limiter:   cfg.Limiter,
		limit:     cfg.Limit,
		recorder:  cfg.Recorder,
		log:       cfg.Log,
	}
}

// Send delivers a single-match notification.
func (d *Dispatcher) Send(ctx context.Context, user model.User, pref model.NotificationPreference, item model.MatchDetail) (Result, error) {
	content := d.renderer.Immediate(user, item)
	return d.deliver(ctx, user, pref.Channel, model.KindImmediate, content, 1)
}

// SendBatch delivers one digest covering all items.
func (d *Dispatcher) SendBatch(ctx context.Context, user model.User, pref model.NotificationPreference, items []model.MatchDetail) (Result, error) {
	if len(items) == 0 {
		return Result{}, errors.New("empty digest")
	}
	content := d.renderer.Digest(user, pref.Period, items)
	return d.deliver(ctx, user, pref.Channel, model.KindDigest, content, len(items))
}

func (d *Dispatcher) deliver(ctx context.Context, user model.User, channel model.Channel, kind model.NotificationKind, content Content, matchCount int) (Result, error) {
	if channel == "" {
		channel = model.ChannelEmail
	}
	rec := &model.NotificationRecord{
		UserID:     user.ID,
		Kind:       kind,
		Channel:    channel,
		Subject:    content.Subject,
		MatchCount: matchCount,
	}

	res, err := d.attempt(ctx, user, channel, content)
	if err != nil {
		rec.Status = model.StatusFailed
		rec.Error = err.Error()
		d.record(ctx, rec)
		return Result{}, err
	}

	rec.Status = model.StatusSent
	rec.ProviderMessageID = res.ProviderMessageID
	d.record(ctx, rec)
	return res, nil
}

func (d *Dispatcher) attempt(ctx context.Context, user model.User, channel model.Channel, content Content) (Result, error) {
	provider, ok := d.providers[channel]
	if !ok {
		return Result{}, NewError(ReasonInvalidRecipient, fmt.Errorf("channel %q is not configured", channel))
	}

	to, err := recipient(user, channel)
	if err != nil {
		return Result{}, NewError(ReasonInvalidRecipient, err)
	}

	if err := d.limiter.Check(d.limit, provider.Name()+"-provider"); err != nil {
		return Result{}, NewError(ReasonRateLimited, err)
	}

	id, err := provider.Send(ctx, Message{To: to, Subject: content.Subject, Body: content.Body})
	if err != nil {
		var de *Error
		if errors.As(err, &de) {
			return Result{}, err
		}
		return Result{}, NewError(ReasonProviderUnavailable, err)
	}
	return Result{ProviderMessageID: id}, nil
}

func (d *Dispatcher) record(ctx context.Context, rec *model.NotificationRecord) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordNotification(ctx, rec); err != nil {
		d.log.Error("record notification", "user_id", rec.UserID, "status", rec.Status, "error", err)
	}
}

func recipient(user model.User, channel model.Channel) (string, error) {
	switch channel {
	case model.ChannelEmail:
		if user.Email == "" {
			return "", errors.New("user has no email address")
		}
		addr, err := mail.ParseAddress(user.Email)
		if err != nil {
			return "", fmt.Errorf("parse email %q: %w", user.Email, err)
		}
		return addr.Address, nil
	case model.ChannelTelegram:
		if user.TelegramChatID == nil {
			return "", errors.New("user has no telegram chat")
		}
		return strconv.FormatInt(*user.TelegramChatID, 10), nil
	default:
		return "", fmt.Errorf("unknown channel %q", channel)
	}
}
