// Package ratelimit bounds wallet authentication attempts per client
// identifier: a fixed window (default 15 minutes) with a maximum number of
// attempts (default 5). The attempt store is injected so single-instance
// deployments run in-memory while clustered deployments share state via
// Redis behind the same contract.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// LimitExceededError is what callers surface when a denial becomes an error.
// RetryAfterSeconds feeds the Retry-After response header.
type LimitExceededError struct {
	RetryAfterSeconds int
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds)
}

// Result reports the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns the seconds until the window resets, floored at 1 so
// the Retry-After header is never zero for a denial.
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// AttemptStore records attempts within a window. Hit must be atomic: on the
// first attempt for a key, or when the previous window has elapsed, the
// counter resets to 1 and a new window opens; at or above the cap inside an
// open window the attempt is denied without incrementing.
type AttemptStore interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	Sweep(ctx context.Context, now time.Time) error
}

// Service is the limiter consumed by the authenticator.
type Service struct {
	store         AttemptStore
	logger        *slog.Logger
	maxAttempts   int
	window        time.Duration
	sweepInterval time.Duration
}

func New(store AttemptStore, logger *slog.Logger, maxAttempts int, window, sweepInterval time.Duration) *Service {
	return &Service{
		store:         store,
		logger:        logger,
		maxAttempts:   maxAttempts,
		window:        window,
		sweepInterval: sweepInterval,
	}
}

// Allow records an attempt for the client key and reports whether it may
// proceed. A store failure allows the attempt: availability of login wins
// over strictness when the limiter backend is down.
func (s *Service) Allow(ctx context.Context, clientKey string) (Result, error) {
	key := "auth:" + sanitizeKeySegment(clientKey)
	result, err := s.store.Hit(ctx, key, s.maxAttempts, s.window)
	if err != nil {
		s.logger.ErrorContext(ctx, "rate limit check failed, allowing attempt", "error", err)
		return Result{Allowed: true, Remaining: s.maxAttempts}, nil
	}
	return result, nil
}

// Run sweeps elapsed windows on a fixed interval until ctx is cancelled,
// bounding the memory of the in-memory store. The Redis store self-expires
// via TTL and its Sweep is a no-op.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := s.store.Sweep(ctx, now); err != nil {
				s.logger.ErrorContext(ctx, "rate limit sweep failed", "error", err)
			}
		}
	}
}

// sanitizeKeySegment escapes the delimiter so user-controlled identifiers
// containing ':' cannot collide with adjacent buckets.
func sanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}
