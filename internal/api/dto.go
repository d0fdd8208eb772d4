package api

import (
	"time"

	"keyword_alerts/internal/matching"
	"keyword_alerts/internal/model"
	"keyword_alerts/internal/scheduler"
)

type userRequest struct {
	Email          string `json:"email" binding:"omitempty,email"`
	Name           string `json:"name" binding:"max=200"`
	TelegramChatID *int64 `json:"telegram_chat_id"`
}

type userResponse struct {
	ID             int64  `json:"id"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	TelegramChatID *int64 `json:"telegram_chat_id,omitempty"`
	KeywordCount   *int   `json:"keyword_count,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, Name: u.Name, TelegramChatID: u.TelegramChatID}
}

type keywordRequest struct {
	Pattern string `json:"pattern"`
}

type keywordToggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type keywordResponse struct {
	ID        int64     `json:"id"`
	Pattern   string    `json:"pattern"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

func toKeywordResponse(k model.Keyword) keywordResponse {
	return keywordResponse{ID: k.ID, Pattern: k.Pattern, Enabled: k.Enabled, CreatedAt: k.CreatedAt}
}

func toKeywordResponses(list []model.Keyword) []keywordResponse {
	out := make([]keywordResponse, 0, len(list))
	for _, k := range list {
		out = append(out, toKeywordResponse(k))
	}
	return out
}

// preferenceRequest fields left out keep their current value.
type preferenceRequest struct {
	Enabled       *bool   `json:"enabled"`
	Mode          *string `json:"mode" binding:"omitempty,oneof=IMMEDIATE DIGEST"`
	Period        *string `json:"digest_period" binding:"omitempty,oneof=DAILY WEEKLY"`
	DigestWeekday *int    `json:"digest_weekday" binding:"omitempty,min=0,max=6"`
	DigestTime    *string `json:"digest_time"`
	Channel       *string `json:"channel" binding:"omitempty,oneof=email telegram"`
}

func (r preferenceRequest) apply(p *model.NotificationPreference) {
	if r.Enabled != nil {
		p.Enabled = *r.Enabled
	}
	if r.Mode != nil {
		p.Mode = model.DeliveryMode(*r.Mode)
	}
	if r.Period != nil {
		p.Period = model.DigestPeriod(*r.Period)
	}
	if r.DigestWeekday != nil {
		p.DigestWeekday = time.Weekday(*r.DigestWeekday)
	}
	if r.DigestTime != nil {
		p.DigestTime = *r.DigestTime
	}
	if r.Channel != nil {
		p.Channel = model.Channel(*r.Channel)
	}
}

type preferenceResponse struct {
	Enabled       bool   `json:"enabled"`
	Mode          string `json:"mode"`
	Period        string `json:"digest_period"`
	DigestWeekday int    `json:"digest_weekday"`
	DigestTime    string `json:"digest_time"`
	Channel       string `json:"channel"`
}

func toPreferenceResponse(p model.NotificationPreference) preferenceResponse {
	return preferenceResponse{
		Enabled:       p.Enabled,
		Mode:          string(p.Mode),
		Period:        string(p.Period),
		DigestWeekday: int(p.DigestWeekday),
		DigestTime:    p.DigestTime,
		Channel:       string(p.Channel),
	}
}

type notificationResponse struct {
	ID                int64     `json:"id"`
	Kind              string    `json:"kind"`
	Channel           string    `json:"channel"`
	Status            string    `json:"status"`
	Subject           string    `json:"subject"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Error             string    `json:"error,omitempty"`
	MatchCount        int       `json:"match_count"`
	CreatedAt         time.Time `json:"created_at"`
}

func toNotificationResponses(list []model.NotificationRecord) []notificationResponse {
	out := make([]notificationResponse, 0, len(list))
	for _, r := range list {
		out = append(out, notificationResponse{
			ID:                r.ID,
			Kind:              string(r.Kind),
			Channel:           string(r.Channel),
			Status:            string(r.Status),
			Subject:           r.Subject,
			ProviderMessageID: r.ProviderMessageID,
			Error:             r.Error,
			MatchCount:        r.MatchCount,
			CreatedAt:         r.CreatedAt,
		})
	}
	return out
}

type announcementRequest struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at"`
}

type announcementResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	PublishedAt time.Time `json:"published_at"`
}

func toAnnouncementResponse(a model.Announcement) announcementResponse {
	return announcementResponse{ID: a.ID, Title: a.Title, Body: a.Body, URL: a.URL, PublishedAt: a.PublishedAt}
}

func (r announcementRequest) toModel() model.Announcement {
	a := model.Announcement{ID: r.ID, Title: r.Title, Body: r.Body, URL: r.URL}
	if r.PublishedAt != nil {
		a.PublishedAt = r.PublishedAt.UTC()
	}
	return a
}

type batchResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
	Matches   int `json:"matches"`
	Notified  int `json:"notified"`
}

func toBatchResponse(r matching.BatchResult) batchResponse {
	return batchResponse{Processed: r.Processed, Failed: r.Failed, Matches: r.Matches, Notified: r.Notified}
}

type digestResponse struct {
	Users   int `json:"users"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Matches int `json:"matches"`
}

func toDigestResponse(r scheduler.DigestReport) digestResponse {
	return digestResponse{Users: r.Users, Sent: r.Sent, Failed: r.Failed, Matches: r.Matches}
}

type retryResponse struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

func toRetryResponse(r scheduler.RetryReport) retryResponse {
	return retryResponse{Attempted: r.Attempted, Sent: r.Sent, Failed: r.Failed}
}
