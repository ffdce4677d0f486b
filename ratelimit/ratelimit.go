// Package ratelimit implements per-principal admission control as a fixed
// window counter in the shared Redis store.
//
// The counter for "rl:{principal}" is incremented atomically; the first
// request of a window arms the key's expiry, and the window resets lazily
// when Redis expires the key. Check-then-increment runs as one optimistic
// transaction (kv.Atomic) so two racing requests can never both slip past
// the boundary; a conflict is only ever retried, never converted into a
// false allow or false deny.
//
// Availability tradeoff: when the store itself is unreachable the limiter
// FAILS OPEN and admits the request rather than turning a storage outage
// into a full API outage. This is a deliberate, load-bearing policy — keep
// the branch explicit and the warning log in place.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adreel/adreel/kv"
)

// DeniedError reports that the principal exhausted the current window.
// RetryAfter is the window's remaining lifetime.
type DeniedError struct {
	RetryAfter time.Duration
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("ratelimit: limit exceeded, retry in %s", e.RetryAfter)
}

// Limiter is a fixed-window rate limiter keyed by principal.
type Limiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// New creates a Limiter allowing limit requests per window per principal.
func New(client redis.UniversalClient, limit int, window time.Duration, opts ...Option) *Limiter {
	lim := &Limiter{client: client, limit: limit, window: window, logger: slog.Default()}
	for _, opt := range opts {
		opt(lim)
	}
	return lim
}

func key(principal string) string { return "rl:" + principal }

// Allow admits or denies one request for the principal.
//
// Returns nil when admitted. Returns *DeniedError when the window is
// exhausted; the caller surfaces RetryAfter to the client. Store errors
// are swallowed here by design: the request is admitted and a warning is
// logged (fail open).
func (l *Limiter) Allow(ctx context.Context, principal string) error {
	k := key(principal)

	err := kv.Atomic(ctx, l.client, func(tx *redis.Tx) error {
		current, ttl, err := l.observe(ctx, tx, k)
		if err != nil {
			return err
		}

		if current >= l.limit {
			retryAfter := ttl
			if retryAfter <= 0 {
				// Key without expiry: fall back to the full window.
				retryAfter = l.window
			}
			return &DeniedError{RetryAfter: retryAfter}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Incr(ctx, k)
			if ttl < 0 {
				// First request of a new window arms the expiry.
				pipe.Expire(ctx, k, l.window)
			}
			return nil
		})
		return err
	}, k)

	var denied *DeniedError
	if errors.As(err, &denied) {
		return denied
	}
	if err != nil {
		l.logger.Warn("rate limiter store unavailable, failing open",
			slog.String("principal", principal),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return nil
}

// observe reads the current count and remaining TTL inside the watched
// transaction. A missing key reads as count 0 with no expiry.
func (l *Limiter) observe(ctx context.Context, tx *redis.Tx, k string) (int, time.Duration, error) {
	val, err := tx.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		return 0, -1, nil
	}
	if err != nil {
		return 0, 0, err
	}
	current, err := strconv.Atoi(val)
	if err != nil {
		return 0, 0, fmt.Errorf("ratelimit: corrupt counter at %q: %w", k, err)
	}

	ttl, err := tx.TTL(ctx, k).Result()
	if err != nil {
		return 0, 0, err
	}
	return current, ttl, nil
}
