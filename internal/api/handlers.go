package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"keyword_alerts/internal/keywords"
	"keyword_alerts/internal/model"
	"keyword_alerts/internal/scheduler"
	"keyword_alerts/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxRescanHours      = 24 * 30
)

// writeError maps domain errors to status codes. Unknown errors are logged and
// reported as 500 without details.
func (s *Server) writeError(c *gin.Context, err error) {
	var verr *keywords.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, keywords.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, keywords.ErrDuplicateKeyword):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, keywords.ErrKeywordLimit):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, fmt.Sprintf("invalid %s", name))
		return 0, false
	}
	return id, true
}

func (s *Server) handleIngest() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req []announcementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		items := make([]model.Announcement, 0, len(req))
		for _, r := range req {
			items = append(items, r.toModel())
		}
		res := s.matching.ProcessBatch(c.Request.Context(), items)
		c.JSON(http.StatusOK, toBatchResponse(res))
	}
}

func (s *Server) handleGetAnnouncement() gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := s.store.GetAnnouncement(c.Request.Context(), c.Param("announcementID"))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toAnnouncementResponse(*a))
	}
}

func (s *Server) handleGetUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		u, err := s.store.GetUser(c.Request.Context(), id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		n, err := s.store.CountKeywords(c.Request.Context(), id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		resp := toUserResponse(u)
		resp.KeywordCount = &n
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) handleUpsertUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req userRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		u := &model.User{ID: id, Email: req.Email, Name: req.Name, TelegramChatID: req.TelegramChatID}
		if err := s.store.UpsertUser(c.Request.Context(), u); err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toUserResponse(u))
	}
}

func (s *Server) handleDeleteUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		if err := s.store.DeleteUser(c.Request.Context(), id); err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleListKeywords() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		list, err := s.keywords.List(c.Request.Context(), id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toKeywordResponses(list))
	}
}

func (s *Server) handleCreateKeyword() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req keywordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request body")
			return
		}
		if _, err := s.store.GetUser(c.Request.Context(), id); err != nil {
			s.writeError(c, err)
			return
		}
		k, err := s.keywords.Create(c.Request.Context(), id, req.Pattern)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, toKeywordResponse(*k))
	}
}

// handleBulkKeywords accepts a multipart upload with a "file" field holding comma
// or newline separated patterns.
func (s *Server) handleBulkKeywords() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			badRequest(c, "no file provided")
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "unreadable file")
			return
		}
		defer func() { _ = f.Close() }()
		data, err := io.ReadAll(f)
		if err != nil {
			badRequest(c, "unreadable file")
			return
		}

		if _, err := s.store.GetUser(c.Request.Context(), id); err != nil {
			s.writeError(c, err)
			return
		}
		res, err := s.keywords.CreateBulk(c.Request.Context(), id, string(data))
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func (s *Server) handleToggleKeyword() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		kwID, ok := pathID(c, "keywordID")
		if !ok {
			return
		}
		var req keywordToggleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "enabled is required")
			return
		}
		k, err := s.keywords.SetEnabled(c.Request.Context(), id, kwID, *req.Enabled)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toKeywordResponse(*k))
	}
}

func (s *Server) handleDeleteKeyword() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		kwID, ok := pathID(c, "keywordID")
		if !ok {
			return
		}
		if err := s.keywords.Delete(c.Request.Context(), id, kwID); err != nil {
			s.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) preference(c *gin.Context, userID int64) (model.NotificationPreference, error) {
	p, err := s.store.GetPreference(c.Request.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.DefaultPreference(userID), nil
	}
	if err != nil {
		return model.NotificationPreference{}, err
	}
	return *p, nil
}

func (s *Server) handleGetPreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		p, err := s.preference(c, id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toPreferenceResponse(p))
	}
}

func (s *Server) handlePutPreference() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		var req preferenceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid preference")
			return
		}
		if req.DigestTime != nil && !scheduler.ValidDigestTime(*req.DigestTime) {
			badRequest(c, "digest_time must be HH:MM")
			return
		}
		if _, err := s.store.GetUser(c.Request.Context(), id); err != nil {
			s.writeError(c, err)
			return
		}

		p, err := s.preference(c, id)
		if err != nil {
			s.writeError(c, err)
			return
		}
		req.apply(&p)
		if err := s.store.UpsertPreference(c.Request.Context(), &p); err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toPreferenceResponse(p))
	}
}

func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathID(c, "id")
		if !ok {
			return
		}
		limit := defaultHistoryLimit
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				badRequest(c, "invalid limit")
				return
			}
			limit = min(n, maxHistoryLimit)
		}
		list, err := s.store.ListNotifications(c.Request.Context(), id, limit)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toNotificationResponses(list))
	}
}

func (s *Server) handleRunDigests() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, toDigestResponse(s.jobs.RunDigests(c.Request.Context())))
	}
}

func (s *Server) handleRetry() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, toRetryResponse(s.jobs.RetryImmediate(c.Request.Context())))
	}
}

func (s *Server) handleRescan() gin.HandlerFunc {
	return func(c *gin.Context) {
		hours := 24
		if raw := c.Query("hours"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 || n > maxRescanHours {
				badRequest(c, fmt.Sprintf("hours must be between 1 and %d", maxRescanHours))
				return
			}
			hours = n
		}
		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		res, err := s.matching.Rescan(c.Request.Context(), since)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toBatchResponse(res))
	}
}
