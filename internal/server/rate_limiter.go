package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/dmchat/internal/config"
)

// rateLimiter is a token bucket holding up to capacity tokens, refilled at
// capacity per interval.
type rateLimiter struct {
	mu        sync.Mutex
	tokens    float64
	capacity  float64
	rate      float64
	lastCheck time.Time
	now       func() time.Time
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	rate := float64(capacity) / interval.Seconds()
	if rate <= 0 {
		rate = float64(capacity)
	}

	return &rateLimiter{
		tokens:    float64(capacity),
		capacity:  float64(capacity),
		rate:      rate,
		lastCheck: time.Now(),
		now:       time.Now,
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	elapsed := now.Sub(rl.lastCheck).Seconds()
	rl.lastCheck = now

	if elapsed > 0 {
		rl.tokens += elapsed * rl.rate
		if rl.tokens > rl.capacity {
			rl.tokens = rl.capacity
		}
	}

	if rl.tokens < 1 {
		return false
	}

	rl.tokens--
	return true
}

// Limiter decides whether the caller identified by key may send another message.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rateLimiter
	limit   config.RateLimitConfig
}

// NewMemoryLimiter creates a per-key token bucket limiter.
func NewMemoryLimiter(limit config.RateLimitConfig) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*rateLimiter),
		limit:   limit,
	}
}

// Allow takes a token from key's bucket.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	bucket, ok := l.buckets[key]
	if !ok {
		bucket = newRateLimiter(l.limit.Burst, l.limit.RefillInterval)
		l.buckets[key] = bucket
	}
	l.mu.Unlock()

	return bucket.allow(), nil
}

// RedisLimiter counts sends in a sliding window shared by every server
// process: at most Burst sends per RefillInterval for each key.
type RedisLimiter struct {
	client *redis.Client
	limit  int
	window time.Duration
	prefix string
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client *redis.Client, limit config.RateLimitConfig) *RedisLimiter {
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}
	window := limit.RefillInterval
	if window <= 0 {
		window = time.Second
	}
	return &RedisLimiter{
		client: client,
		limit:  burst,
		window: window,
		prefix: "dmchat:ratelimit:send:",
	}
}

// Allow records an attempt for key and reports whether it fits in the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()
	windowKey := l.prefix + key
	windowStart := now.Add(-l.window)

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMicro()))
	countCmd := pipe.ZCard(ctx, windowKey)
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMicro()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, windowKey, l.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}

	return countCmd.Val() < int64(l.limit), nil
}

// NewLimiter returns a RedisLimiter when redisURL is set and a MemoryLimiter
// otherwise. The returned close function releases the Redis client.
func NewLimiter(ctx context.Context, redisURL string, limit config.RateLimitConfig) (Limiter, func() error, error) {
	if redisURL == "" {
		return NewMemoryLimiter(limit), func() error { return nil }, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewRedisLimiter(client, limit), client.Close, nil
}
