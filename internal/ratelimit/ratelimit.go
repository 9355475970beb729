// Package ratelimit throttles per-party actions with a fixed-window counter
// kept in Redis.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Counter increments the counter stored at key and makes it expire after
// ttl.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type redisCounter struct {
	client *redis.Client
}

// NewRedisCounter returns a Counter backed by client.
func NewRedisCounter(client *redis.Client) Counter {
	return &redisCounter{client: client}
}

func (c *redisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incrCmd.Val(), nil
}

type Result struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type Limiter struct {
	counter Counter
	limit   int
	window  time.Duration
	prefix  string
	now     func() time.Time
}

// New returns a limiter allowing limit actions per window for each key. A
// nil client or a non-positive limit disables limiting.
func New(client *redis.Client, limit int, window time.Duration, prefix string) *Limiter {
	var counter Counter
	if client != nil {
		counter = NewRedisCounter(client)
	}
	return NewWithCounter(counter, limit, window, prefix)
}

func NewWithCounter(counter Counter, limit int, window time.Duration, prefix string) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	return &Limiter{
		counter: counter,
		limit:   limit,
		window:  window,
		prefix:  prefix,
		now:     time.Now,
	}
}

// Check counts one action for key. When the counter fails the action is
// allowed and the error is returned so the caller can log it.
func (l *Limiter) Check(ctx context.Context, key string) (Result, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	windowEnd := windowStart.Add(l.window)

	if l.counter == nil || l.limit <= 0 {
		return Result{Allowed: true, Remaining: l.limit, ResetAt: windowEnd}, nil
	}

	// The window start is part of the key, so refreshing the TTL on every
	// hit never stretches a window.
	bucket := fmt.Sprintf("%s:%s:%d", l.prefix, key, windowStart.Unix())
	count, err := l.counter.Incr(ctx, bucket, l.window)
	if err != nil {
		return Result{Allowed: true, Remaining: l.limit, ResetAt: windowEnd}, fmt.Errorf("incrementing %s: %w", bucket, err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: int(count) <= l.limit, Remaining: remaining, ResetAt: windowEnd}, nil
}

// Allow reports whether one more action for key fits in the current window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	res, err := l.Check(ctx, key)
	return res.Allowed, err
}
