// Package ratelimit throttles per-user requests in fixed time windows.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pysugar/assistant/internal/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// Limiter reports whether key may proceed and, if not, how long until the
// current window closes.
type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// FixedWindowLimiter limits requests per key in a fixed time window. With a
// Redis client the count is shared across server instances; without one it
// is kept in process.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	redisClient *redis.Client
	redisPrefix string

	mu     sync.Mutex
	counts map[string]windowCount
}

type windowCount struct {
	slot  int64
	count int
}

// NewRedisFixedWindowLimiter creates a Redis-backed distributed limiter.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "assistant:ratelimit"
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		redisClient: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		redisPrefix: prefix,
	}, nil
}

// NewMemoryFixedWindowLimiter creates a process-local limiter.
func NewMemoryFixedWindowLimiter(limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &FixedWindowLimiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		counts: make(map[string]windowCount),
	}, nil
}

// Allow returns true when the key is within quota. Otherwise it also returns
// the time left in the current window. On Redis failures it fails closed.
func (l *FixedWindowLimiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	if windowMs <= 0 {
		return true, 0
	}
	nowMs := l.now().UTC().UnixMilli()
	slot := nowMs / windowMs
	retryAfter := time.Duration((slot+1)*windowMs-nowMs) * time.Millisecond

	var count int64
	if l.redisClient != nil {
		redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, slot)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		res, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
		if err != nil {
			logging.L().Warn("⚠️ Rate limiter unavailable", zap.Error(err))
			return false, l.window
		}
		count = res
	} else {
		count = l.incrMemory(key, slot)
	}
	if count <= int64(l.limit) {
		return true, 0
	}
	return false, retryAfter
}

func (l *FixedWindowLimiter) incrMemory(key string, slot int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.counts[key]
	if entry.slot != slot {
		entry = windowCount{slot: slot}
	}
	entry.count++
	l.counts[key] = entry
	if len(l.counts) > 10000 {
		for k, v := range l.counts {
			if v.slot != slot {
				delete(l.counts, k)
			}
		}
	}
	return int64(entry.count)
}

// Close releases the Redis connection pool, if any.
func (l *FixedWindowLimiter) Close() error {
	if l == nil || l.redisClient == nil {
		return nil
	}
	return l.redisClient.Close()
}
