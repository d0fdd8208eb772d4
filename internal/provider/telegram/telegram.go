// Package telegram delivers notifications as Telegram bot messages.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"keyword_alerts/internal/dispatch"
)

// maxMessageRunes is Telegram's limit for a single text message.
const maxMessageRunes = 4096

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Provider sends messages through the Telegram Bot API.
type Provider struct {
	api telegramAPI
}

// New creates a Provider authenticated with the given bot token.
func New(token string) (*Provider, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return &Provider{api: api}, nil
}

func newWithAPI(api telegramAPI) *Provider {
	return &Provider{api: api}
}

// Name identifies the provider for rate limiting.
func (p *Provider) Name() string {
	return "telegram"
}

// Send posts msg to the chat whose ID is msg.To.
func (p *Provider) Send(ctx context.Context, msg dispatch.Message) (string, error) {
	chatID, err := strconv.ParseInt(msg.To, 10, 64)
	if err != nil {
		return "", dispatch.NewError(dispatch.ReasonInvalidRecipient, fmt.Errorf("parse chat id %q: %w", msg.To, err))
	}
	if err := ctx.Err(); err != nil {
		return "", dispatch.NewError(dispatch.ReasonProviderUnavailable, err)
	}

	text := msg.Body
	if msg.Subject != "" {
		text = msg.Subject + "\n\n" + msg.Body
	}
	out := tgbotapi.NewMessage(chatID, truncate(text, maxMessageRunes))
	out.DisableWebPagePreview = true

	sent, err := p.api.Send(out)
	if err != nil {
		return "", dispatch.NewError(classify(err), fmt.Errorf("send message: %w", err))
	}
	return strconv.Itoa(sent.MessageID), nil
}

func classify(err error) dispatch.Reason {
	var apiErr *tgbotapi.Error
	if !errors.As(err, &apiErr) {
		return dispatch.ReasonProviderUnavailable
	}
	switch apiErr.Code {
	case http.StatusBadRequest, http.StatusForbidden:
		// chat not found, or the user blocked the bot
		return dispatch.ReasonInvalidRecipient
	case http.StatusTooManyRequests:
		return dispatch.ReasonRateLimited
	default:
		return dispatch.ReasonProviderUnavailable
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
