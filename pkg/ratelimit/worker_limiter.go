// Package ratelimit limits ingestion traffic, in memory or shared through Redis.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more request for key is allowed. When it is
// not, the returned duration is how long until the next slot frees up.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, time.Duration)
}

// =============================================================================
// SlidingWindowLimiter - Redis sliding window, shared by every API process
// =============================================================================

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local max_requests = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local count = redis.call('ZCARD', key)

	if count < max_requests then
		redis.call('ZADD', key, now, now .. '-' .. math.random())
		redis.call('PEXPIRE', key, window_ms * 2)
		return 1
	else
		local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
		if #oldest > 0 then
			return -(oldest[2] + window_ms - now)
		end
		return 0
	end
`)

// SlidingWindowLimiter implements sliding window rate limiting using Redis.
type SlidingWindowLimiter struct {
	redis  redis.Scripter
	limit  int
	window time.Duration
}

// NewSlidingWindowLimiter allows limit requests per window and key.
func NewSlidingWindowLimiter(client redis.Scripter, limit int, window time.Duration) *SlidingWindowLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &SlidingWindowLimiter{redis: client, limit: limit, window: window}
}

// Allow fails open: a Redis error lets the request through.
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, time.Duration) {
	if l.redis == nil || l.limit <= 0 {
		return true, 0
	}

	now := time.Now()
	result, err := slidingWindowScript.Run(ctx, l.redis, []string{"ratelimit:" + key},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()
	if err != nil {
		return true, 0
	}

	if result == 1 {
		return true, 0
	}
	if result < 0 {
		return false, time.Duration(-result) * time.Millisecond
	}
	return false, l.window
}

// =============================================================================
// MemoryLimiter - fixed window per key, single process
// =============================================================================

type windowInfo struct {
	count     int
	expiresAt time.Time
}

// MemoryLimiter is a fixed window limiter for a single process.
type MemoryLimiter struct {
	mu       sync.Mutex
	requests map[string]*windowInfo
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewMemoryLimiter(limit int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		requests: make(map[string]*windowInfo),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration) {
	if l.limit <= 0 {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	info, ok := l.requests[key]
	if !ok || now.After(info.expiresAt) {
		if len(l.requests) > 10000 {
			l.cleanupLocked(now)
		}
		l.requests[key] = &windowInfo{count: 1, expiresAt: now.Add(l.window)}
		return true, 0
	}

	if info.count >= l.limit {
		return false, info.expiresAt.Sub(now)
	}
	info.count++
	return true, 0
}

func (l *MemoryLimiter) cleanupLocked(now time.Time) {
	for key, info := range l.requests {
		if now.After(info.expiresAt) {
			delete(l.requests, key)
		}
	}
}
