// Package ratelimit provides a Redis-backed fixed-window limiter guarding
// the batch ingest endpoints. When Redis is absent (no client), ingest
// proceeds unrestricted. When a check against Redis fails, the batch is
// allowed if the limiter was built with failOpen; otherwise Allow returns
// the error.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts batch submissions per session in one-minute windows.
type Limiter struct {
	client   *redis.Client
	perMin   int
	failOpen bool
}

// NewLimiter creates a Limiter. client may be nil (limiter disabled) and
// perMin may be 0 (unlimited).
func NewLimiter(client *redis.Client, perMin int, failOpen bool) *Limiter {
	return &Limiter{client: client, perMin: perMin, failOpen: failOpen}
}

// Connect dials Redis at addr and verifies connectivity. It returns nil
// (no client) on failure so the caller can run without a limiter.
func Connect(ctx context.Context, addr, password string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 5,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Printf("WARNING ratelimit: Redis unavailable at %s (%v); ingest rate limiting disabled", addr, err)
		client.Close()
		return nil
	}
	log.Printf("ratelimit: connected to Redis at %s", addr)
	return client
}

// windowKey constructs the Redis key for one session's current window.
func windowKey(sessionID string, now time.Time) string {
	return fmt.Sprintf("ratelimit:batches:%s:%d", sessionID, now.Unix()/60)
}

// Allow reports whether another batch may be processed for the session.
// Errors talking to Redis obey the fail-open policy.
func (l *Limiter) Allow(ctx context.Context, sessionID string) (bool, error) {
	if l.client == nil || l.perMin <= 0 {
		return true, nil
	}

	key := windowKey(sessionID, time.Now())
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		if l.failOpen {
			log.Printf("WARNING ratelimit: check failed for %s (%v); allowing batch", sessionID, err)
			return true, nil
		}
		return false, fmt.Errorf("ratelimit: check failed: %w", err)
	}
	if count == 1 {
		// First hit in this window; expire the key two windows out.
		l.client.Expire(ctx, key, 2*time.Minute)
	}
	return count <= int64(l.perMin), nil
}

// Close releases the Redis connection, if any.
func (l *Limiter) Close() error {
	if l.client != nil {
		return l.client.Close()
	}
	return nil
}
