// Package api exposes announcement ingestion, keyword and preference management
// and job triggers over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"keyword_alerts/internal/keywords"
	"keyword_alerts/internal/matching"
	"keyword_alerts/internal/scheduler"
	"keyword_alerts/internal/storage"
)

const maxBodyBytes = 5 << 20

// Limiter gates requests per client.
type Limiter interface {
	Check(limit int, token string) error
}

// Jobs runs the delivery jobs on demand.
type Jobs interface {
	RunDigests(ctx context.Context) scheduler.DigestReport
	RetryImmediate(ctx context.Context) scheduler.RetryReport
}

// Config holds the collaborators of a Server.
type Config struct {
	Store     storage.Storage
	Keywords  *keywords.Service
	Matching  *matching.Service
	Jobs      Jobs
	Limiter   Limiter
	RateLimit int
	APIToken  string
	Log       *slog.Logger
}

// Server is the HTTP API.
type Server struct {
	router   *gin.Engine
	store    storage.Storage
	keywords *keywords.Service
	matching *matching.Service
	jobs     Jobs
	log      *slog.Logger
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	router := gin.New()
	router.Use(RequestID(), Recovery(cfg.Log), Logger(cfg.Log), BodyLimit(maxBodyBytes))

	s := &Server{
		router:   router,
		store:    cfg.Store,
		keywords: cfg.Keywords,
		matching: cfg.Matching,
		jobs:     cfg.Jobs,
		log:      cfg.Log,
	}
	s.setupRoutes(cfg)
	return s
}

// Handler returns the http.Handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes(cfg Config) {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api/v1")
	api.Use(BearerAuth(cfg.APIToken), RateLimit(cfg.Limiter, cfg.RateLimit))
	{
		api.POST("/announcements", s.handleIngest())
		api.GET("/announcements/:announcementID", s.handleGetAnnouncement())

		users := api.Group("/users/:id")
		{
			users.GET("", s.handleGetUser())
			users.PUT("", s.handleUpsertUser())
			users.DELETE("", s.handleDeleteUser())

			users.GET("/keywords", s.handleListKeywords())
			users.POST("/keywords", s.handleCreateKeyword())
			users.POST("/keywords/bulk", s.handleBulkKeywords())
			users.PATCH("/keywords/:keywordID", s.handleToggleKeyword())
			users.DELETE("/keywords/:keywordID", s.handleDeleteKeyword())

			users.GET("/preferences", s.handleGetPreference())
			users.PUT("/preferences", s.handlePutPreference())

			users.GET("/notifications", s.handleListNotifications())
		}

		jobs := api.Group("/jobs")
		{
			jobs.POST("/digests", s.handleRunDigests())
			jobs.POST("/retry", s.handleRetry())
			jobs.POST("/rescan", s.handleRescan())
		}
	}
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
