// Package throttle counts invalid requests per identifying key inside a
// fixed time window and rejects once a threshold is exceeded, backed by
// Redis counters so concurrent increments never lose updates.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds the throttle tuning parameters.
type Config struct {
	// MaxAttempts is the number of failures tolerated inside one window.
	MaxAttempts int
	// Window is the accumulation period started by the first failure.
	Window time.Duration
	// BlockDuration replaces the counter's remaining life once
	// MaxAttempts is reached; the key expires (is deleted, never
	// decremented) when it elapses, starting the next window clean.
	BlockDuration time.Duration
}

// Limiter enforces per-key attempt budgets using Redis INCR/EXPIRE, so
// increment-or-insert is atomic across concurrent failures.
type Limiter struct {
	redis  redis.UniversalClient
	prefix string
	cfg    Config
}

// New creates a Limiter namespacing its keys under prefix.
func New(client redis.UniversalClient, prefix string, cfg Config) *Limiter {
	return &Limiter{redis: client, prefix: prefix, cfg: cfg}
}

// KeyForUser builds a throttle key for a login identifier.
func KeyForUser(identifier string) string { return "user:" + identifier }

// KeyForIP builds a throttle key for a client IP address.
func KeyForIP(ip string) string { return "ip:" + ip }

// KeyForRoute builds a throttle key for a method+path pair.
func KeyForRoute(route string) string { return "route:" + route }

// Check rejects when the key's counter has reached MaxAttempts and its
// window has not yet elapsed. The returned error unwraps to
// [ErrTooManyRequests] and carries the remaining cooldown for client
// backoff headers.
func (l *Limiter) Check(ctx context.Context, key string) error {
	full := l.prefix + key

	count, err := l.redis.Get(ctx, full).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < int64(l.cfg.MaxAttempts) {
		return nil
	}

	remaining, err := l.redis.PTTL(ctx, full).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if remaining <= 0 {
		// Counter is mid-expiry; treat the window as elapsed.
		_ = l.redis.Del(ctx, full).Err()
		return nil
	}

	return &TooManyRequestsError{RetryAfter: remaining}
}

// Increment records one invalid attempt for the key, creating the
// counter with the window TTL on first use and promoting the TTL to
// BlockDuration when the maximum is reached. Increments past the
// maximum are harmless; the check path already rejects.
func (l *Limiter) Increment(ctx context.Context, key string) error {
	full := l.prefix + key

	count, err := l.redis.Incr(ctx, full).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	switch {
	case count == 1:
		err = l.redis.Expire(ctx, full, l.cfg.Window).Err()
	case count == int64(l.cfg.MaxAttempts):
		err = l.redis.Expire(ctx, full, l.cfg.BlockDuration).Err()
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Reset deletes the counters for the given keys, e.g. after a
// successful login.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = l.prefix + k
	}
	if err := l.redis.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Attempts returns the current counter for a key; missing keys read as
// zero and do not reveal whether the key was ever throttled.
func (l *Limiter) Attempts(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.prefix+key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}
