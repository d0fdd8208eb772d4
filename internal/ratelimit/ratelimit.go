// Package ratelimit implements a fixed-capacity, time-expiring counter per token
// used to gate calls into external APIs.
package ratelimit

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrRateLimitExceeded is returned by Check when the token used up its allowance.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// Options configure a Limiter. Zero values fall back to 500 tokens and one minute.
type Options struct {
	// UniqueTokenPerInterval bounds how many tokens are tracked at once.
	UniqueTokenPerInterval int
	// Interval is how long a token's counter lives after its first use.
	Interval time.Duration
}

// Limiter counts calls per token. Counters are evicted Interval after they were
// created, or earlier when the cache is full.
type Limiter struct {
	mu     sync.Mutex
	tokens *expirable.LRU[string, *atomic.Int64]
}

// New creates a Limiter.
func New(opts Options) *Limiter {
	if opts.UniqueTokenPerInterval <= 0 {
		opts.UniqueTokenPerInterval = 500
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	return &Limiter{
		tokens: expirable.NewLRU[string, *atomic.Int64](opts.UniqueTokenPerInterval, nil, opts.Interval),
	}
}

// Check counts one call for token and fails when the count after incrementing
// reaches limit. The call that reaches the limit is itself rejected.
// Check never blocks waiting for capacity.
func (l *Limiter) Check(limit int, token string) error {
	n := l.counter(token).Add(1)
	if n >= int64(limit) {
		return ErrRateLimitExceeded
	}
	return nil
}

func (l *Limiter) counter(token string) *atomic.Int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.tokens.Get(token); ok {
		return c
	}
	c := new(atomic.Int64)
	l.tokens.Add(token, c)
	return c
}
