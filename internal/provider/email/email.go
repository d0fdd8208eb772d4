// Package email delivers notifications through a transactional email HTTP API
// that accepts a bearer-authenticated JSON payload {to, subject, body}.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"keyword_alerts/internal/dispatch"
)

// DefaultURL is the send endpoint used when none is configured.
const DefaultURL = "https://api.useplunk.com/v1/send"

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider sends email through the HTTP API.
type Provider struct {
	client  HTTPClient
	url     string
	apiKey  string
	timeout time.Duration
}

// New creates a Provider posting to url with apiKey as bearer token.
func New(client HTTPClient, url, apiKey string) *Provider {
	if url == "" {
		url = DefaultURL
	}
	return &Provider{
		client:  client,
		url:     url,
		apiKey:  apiKey,
		timeout: 30 * time.Second,
	}
}

// Name identifies the provider for rate limiting.
func (p *Provider) Name() string {
	return "email"
}

type sendRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Emails  []struct {
		Email struct {
			ID string `json:"id"`
		} `json:"email"`
	} `json:"emails"`
}

func (r sendResponse) messageID() string {
	if r.ID != "" {
		return r.ID
	}
	if len(r.Emails) > 0 {
		return r.Emails[0].Email.ID
	}
	return ""
}

func (r sendResponse) detail() string {
	switch {
	case r.Message != "":
		return r.Message
	case r.Error != "":
		return r.Error
	}
	return ""
}

// Send posts msg to the API. Any 2xx status is a success.
func (p *Provider) Send(ctx context.Context, msg dispatch.Message) (string, error) {
	payload, err := json.Marshal(sendRequest{To: msg.To, Subject: msg.Subject, Body: msg.Body})
	if err != nil {
		return "", dispatch.NewError(dispatch.ReasonInvalidRecipient, fmt.Errorf("encode payload: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(payload))
	if err != nil {
		return "", dispatch.NewError(dispatch.ReasonProviderUnavailable, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", dispatch.NewError(dispatch.ReasonProviderUnavailable, fmt.Errorf("http post: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", dispatch.NewError(dispatch.ReasonProviderUnavailable, fmt.Errorf("read body: %w", err))
	}

	var parsed sendResponse
	_ = json.Unmarshal(body, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", dispatch.NewError(classify(resp.StatusCode), statusError(resp.StatusCode, parsed, body))
	}
	if parsed.Success != nil && !*parsed.Success {
		return "", dispatch.NewError(dispatch.ReasonProviderUnavailable, statusError(resp.StatusCode, parsed, body))
	}
	return parsed.messageID(), nil
}

func classify(status int) dispatch.Reason {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return dispatch.ReasonInvalidRecipient
	case http.StatusTooManyRequests:
		return dispatch.ReasonRateLimited
	default:
		return dispatch.ReasonProviderUnavailable
	}
}

func statusError(status int, parsed sendResponse, raw []byte) error {
	detail := parsed.detail()
	if detail == "" {
		detail = strings.TrimSpace(string(raw))
	}
	if detail == "" {
		return fmt.Errorf("unexpected status %d", status)
	}
	return fmt.Errorf("unexpected status %d: %s", status, detail)
}
