package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"

	"keyword_alerts/internal/api"
	"keyword_alerts/internal/config"
	"keyword_alerts/internal/dispatch"
	"keyword_alerts/internal/feed"
	"keyword_alerts/internal/format"
	"keyword_alerts/internal/keywords"
	"keyword_alerts/internal/matching"
	"keyword_alerts/internal/model"
	"keyword_alerts/internal/provider/email"
	"keyword_alerts/internal/provider/telegram"
	"keyword_alerts/internal/ratelimit"
	"keyword_alerts/internal/scheduler"
	"keyword_alerts/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	providers := map[model.Channel]dispatch.Provider{
		model.ChannelEmail: email.New(http.DefaultClient, cfg.EmailAPIURL, cfg.EmailAPIKey),
	}
	if cfg.TelegramBotToken != "" {
		tg, err := telegram.New(cfg.TelegramBotToken)
		if err != nil {
			log.Error("create telegram provider", "error", err)
			os.Exit(1)
		}
		providers[model.ChannelTelegram] = tg
	}

	dispatcher := dispatch.New(dispatch.Config{
		Providers: providers,
		Renderer:  format.Plain{},
		Limiter: ratelimit.New(ratelimit.Options{
			UniqueTokenPerInterval: cfg.RateLimitTokens,
			Interval:               cfg.RateLimitInterval,
		}),
		Limit:    cfg.EmailRateLimit,
		Recorder: store,
		Log:      log,
	})

	sched := scheduler.New(store, dispatcher, log, scheduler.Options{Location: cfg.DigestTimezone})
	matcher := matching.New(store, sched, log)

	server := api.New(api.Config{
		Store:    store,
		Keywords: keywords.New(store, log),
		Matching: matcher,
		Jobs:     sched,
		Limiter: ratelimit.New(ratelimit.Options{
			UniqueTokenPerInterval: cfg.RateLimitTokens,
			Interval:               cfg.RateLimitInterval,
		}),
		RateLimit: cfg.APIRateLimit,
		APIToken:  cfg.APIToken,
		Log:       log,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := sched.Start(cfg.DigestCron, cfg.RetryCron); err != nil {
		log.Error("start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	var wg sync.WaitGroup
	if len(cfg.FeedURLs) > 0 {
		poller := feed.NewPoller(feed.NewFetcher(http.DefaultClient), matcher, cfg.FeedURLs, log)
		poller.SetTickInterval(cfg.FeedInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	log.Info("starting keyword alerts", "addr", cfg.HTTPAddr, "feeds", len(cfg.FeedURLs), "telegram", cfg.TelegramBotToken != "")

	if err := server.Run(ctx, cfg.HTTPAddr); err != nil {
		log.Error("http server", "error", err)
		cancel()
	}

	wg.Wait()
	log.Info("keyword alerts stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
