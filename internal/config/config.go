// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath string
	LogLevel     string
	HTTPAddr     string
	// APIToken guards /api/v1 with a bearer token. Empty disables the check.
	APIToken     string
	APIRateLimit int

	EmailAPIURL      string
	EmailAPIKey      string
	TelegramBotToken string

	// EmailRateLimit is the per-provider allowance within RateLimitInterval.
	EmailRateLimit    int
	RateLimitInterval time.Duration
	RateLimitTokens   int

	DigestCron     string
	RetryCron      string
	DigestTimezone *time.Location

	FeedURLs     []string
	FeedInterval time.Duration
}

// Load reads configuration from environment variables. A .env file in the working
// directory is loaded first; it never overrides variables already set.
func Load() (*Config, error) {
	_ = godotenv.Load()

	apiKey := os.Getenv("EMAIL_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("EMAIL_API_KEY is required")
	}

	cfg := &Config{
		DatabasePath:     stringOr("DATABASE_PATH", "./data/alerts.db"),
		LogLevel:         strings.ToLower(stringOr("LOG_LEVEL", "info")),
		HTTPAddr:         stringOr("HTTP_ADDR", ":8080"),
		APIToken:         os.Getenv("API_TOKEN"),
		EmailAPIURL:      stringOr("EMAIL_API_URL", "https://api.useplunk.com/v1/send"),
		EmailAPIKey:      apiKey,
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		DigestCron:       stringOr("DIGEST_CRON", "*/15 * * * *"),
		RetryCron:        stringOr("RETRY_CRON", "*/10 * * * *"),
	}

	var err error
	if cfg.APIRateLimit, err = intOr("API_RATE_LIMIT", 60); err != nil {
		return nil, err
	}
	if cfg.EmailRateLimit, err = intOr("EMAIL_RATE_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.RateLimitTokens, err = intOr("RATE_LIMIT_TOKENS", 500); err != nil {
		return nil, err
	}
	if cfg.RateLimitInterval, err = durationOr("RATE_LIMIT_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.FeedInterval, err = durationOr("FEED_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}

	tz := stringOr("DIGEST_TIMEZONE", "UTC")
	if cfg.DigestTimezone, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid DIGEST_TIMEZONE %q: %w", tz, err)
	}

	if raw := os.Getenv("FEED_URLS"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			s = strings.TrimSpace(s)
			if s == "" {
				continue
			}
			cfg.FeedURLs = append(cfg.FeedURLs, s)
		}
	}

	return cfg, nil
}

func stringOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intOr(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return n, nil
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return d, nil
}
