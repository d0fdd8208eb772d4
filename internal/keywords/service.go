// Package keywords manages the keywords users register for matching.
package keywords

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"keyword_alerts/internal/matcher"
	"keyword_alerts/internal/model"
	"keyword_alerts/internal/storage"
)

// MaxPerUser is the number of keywords a single user may register.
const MaxPerUser = 50

var (
	// ErrDuplicateKeyword is returned when the user already watches the same pattern.
	ErrDuplicateKeyword = errors.New("keyword already exists")
	// ErrKeywordLimit is returned when the user reached MaxPerUser keywords.
	ErrKeywordLimit = fmt.Errorf("keyword limit of %d reached", MaxPerUser)
	// ErrNotFound is returned for unknown keywords or keywords of another user.
	ErrNotFound = errors.New("keyword not found")
)

// ValidationError reports an unusable pattern.
type ValidationError struct {
	Pattern string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid keyword %q: %v", e.Pattern, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Store is the persistence the service depends on.
type Store interface {
	CreateKeyword(ctx context.Context, k *model.Keyword, limit int) error
	GetKeyword(ctx context.Context, id int64) (*model.Keyword, error)
	ListKeywords(ctx context.Context, userID int64) ([]model.Keyword, error)
	SetKeywordEnabled(ctx context.Context, id int64, enabled bool) error
	DeleteKeyword(ctx context.Context, id int64) error
}

// Service validates and stores keywords.
type Service struct {
	store Store
	log   *slog.Logger
}

// New creates a Service.
func New(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// Create registers a new enabled keyword for the user. Patterns are trimmed; two
// patterns that normalize to the same text count as duplicates.
func (s *Service) Create(ctx context.Context, userID int64, pattern string) (*model.Keyword, error) {
	existing, err := s.store.ListKeywords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return s.create(ctx, userID, pattern, existing)
}

func (s *Service) create(ctx context.Context, userID int64, pattern string, existing []model.Keyword) (*model.Keyword, error) {
	pattern = strings.TrimSpace(pattern)
	if err := matcher.ValidatePattern(pattern); err != nil {
		return nil, &ValidationError{Pattern: pattern, Err: err}
	}

	normalized := matcher.Normalize(pattern)
	for _, k := range existing {
		if matcher.Normalize(k.Pattern) == normalized {
			return nil, ErrDuplicateKeyword
		}
	}
	if len(existing) >= MaxPerUser {
		return nil, ErrKeywordLimit
	}

	// The store enforces the cap again so concurrent requests cannot exceed it.
	k := &model.Keyword{UserID: userID, Pattern: pattern, Enabled: true}
	if err := s.store.CreateKeyword(ctx, k, MaxPerUser); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return nil, ErrDuplicateKeyword
		case errors.Is(err, storage.ErrLimitReached):
			return nil, ErrKeywordLimit
		}
		return nil, fmt.Errorf("create keyword: %w", err)
	}
	s.log.Debug("keyword created", "user_id", userID, "keyword_id", k.ID)
	return k, nil
}

// BulkResult counts the outcome of a bulk upload.
type BulkResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// CreateBulk registers every pattern of a comma or newline separated list. Invalid,
// duplicate and over-limit entries are skipped.
func (s *Service) CreateBulk(ctx context.Context, userID int64, list string) (BulkResult, error) {
	var res BulkResult

	existing, err := s.store.ListKeywords(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("list keywords: %w", err)
	}

	entries := strings.FieldsFunc(list, func(r rune) bool { return r == ',' || r == '\n' || r == '\r' })
	for _, entry := range entries {
		if strings.TrimSpace(entry) == "" {
			continue
		}
		k, err := s.create(ctx, userID, entry, existing)
		if err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) && !errors.Is(err, ErrDuplicateKeyword) && !errors.Is(err, ErrKeywordLimit) {
				return res, err
			}
			res.Skipped++
			continue
		}
		existing = append(existing, *k)
		res.Added++
	}

	s.log.Info("bulk keyword upload", "user_id", userID, "added", res.Added, "skipped", res.Skipped)
	return res, nil
}

// List returns the user's keywords.
func (s *Service) List(ctx context.Context, userID int64) ([]model.Keyword, error) {
	list, err := s.store.ListKeywords(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list keywords: %w", err)
	}
	return list, nil
}

// SetEnabled turns matching for one of the user's keywords on or off.
func (s *Service) SetEnabled(ctx context.Context, userID, keywordID int64, enabled bool) (*model.Keyword, error) {
	k, err := s.owned(ctx, userID, keywordID)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetKeywordEnabled(ctx, keywordID, enabled); err != nil {
		return nil, fmt.Errorf("set keyword enabled: %w", err)
	}
	k.Enabled = enabled
	return k, nil
}

// Delete removes one of the user's keywords together with its matches.
func (s *Service) Delete(ctx context.Context, userID, keywordID int64) error {
	if _, err := s.owned(ctx, userID, keywordID); err != nil {
		return err
	}
	if err := s.store.DeleteKeyword(ctx, keywordID); err != nil {
		return fmt.Errorf("delete keyword: %w", err)
	}
	return nil
}

func (s *Service) owned(ctx context.Context, userID, keywordID int64) (*model.Keyword, error) {
	k, err := s.store.GetKeyword(ctx, keywordID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get keyword: %w", err)
	}
	if k.UserID != userID {
		return nil, ErrNotFound
	}
	return k, nil
}
