package server

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/dmchat/internal/config"
)

type steppedClock struct {
	now time.Time
}

func (c *steppedClock) Now() time.Time { return c.now }

func TestRateLimiterTokenBucket(t *testing.T) {
	clock := &steppedClock{now: time.Unix(1700000000, 0)}
	rl := newRateLimiter(3, time.Second)
	rl.now = clock.Now
	rl.lastCheck = clock.now

	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Expected call %d to be allowed within burst", i+1)
		}
	}
	if rl.allow() {
		t.Fatal("Expected burst to be exhausted")
	}

	clock.now = clock.now.Add(400 * time.Millisecond)
	if !rl.allow() {
		t.Error("Expected one token to be refilled")
	}
	if rl.allow() {
		t.Error("Expected refill to grant a single token")
	}

	clock.now = clock.now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !rl.allow() {
			t.Fatalf("Expected refill to be capped at capacity, call %d denied", i+1)
		}
	}
	if rl.allow() {
		t.Error("Expected bucket not to exceed its capacity")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		interval time.Duration
		wantCap  float64
	}{
		{"zero capacity", 0, time.Second, 1},
		{"negative capacity", -5, time.Second, 1},
		{"zero interval", 4, 0, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := newRateLimiter(tt.capacity, tt.interval)
			if rl.capacity != tt.wantCap {
				t.Errorf("Expected capacity %v, got %v", tt.wantCap, rl.capacity)
			}
			if rl.rate <= 0 {
				t.Errorf("Expected positive refill rate, got %v", rl.rate)
			}
		})
	}
}

func TestMemoryLimiterIsPerKey(t *testing.T) {
	limiter := NewMemoryLimiter(config.RateLimitConfig{Burst: 1, RefillInterval: time.Minute})
	ctx := context.Background()

	if ok, _ := limiter.Allow(ctx, "alice"); !ok {
		t.Fatal("Expected first send from alice to be allowed")
	}
	if ok, _ := limiter.Allow(ctx, "alice"); ok {
		t.Error("Expected second send from alice to be limited")
	}
	if ok, _ := limiter.Allow(ctx, "bob"); !ok {
		t.Error("Expected bob to have his own budget")
	}
}

func TestNewLimiterWithoutRedis(t *testing.T) {
	limiter, closeFn, err := NewLimiter(context.Background(), "", config.RateLimitConfig{Burst: 1, RefillInterval: time.Second})
	if err != nil {
		t.Fatalf("NewLimiter failed: %v", err)
	}
	defer func() { _ = closeFn() }()

	if _, ok := limiter.(*MemoryLimiter); !ok {
		t.Errorf("Expected *MemoryLimiter, got %T", limiter)
	}
}

func TestNewLimiterRejectsBadRedisURL(t *testing.T) {
	if _, _, err := NewLimiter(context.Background(), "not a url", config.RateLimitConfig{}); err == nil {
		t.Error("Expected an error for an invalid redis url")
	}
}

func TestRedisLimiter(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("Invalid TEST_REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer func() { _ = client.Close() }()

	limiter := NewRedisLimiter(client, config.RateLimitConfig{Burst: 2, RefillInterval: time.Minute})
	limiter.prefix = "dmchat:test:" + time.Now().Format("150405.000000") + ":"
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "alice")
		if err != nil || !ok {
			t.Fatalf("Expected call %d to be allowed, got %v, %v", i+1, ok, err)
		}
	}
	if ok, err := limiter.Allow(ctx, "alice"); err != nil || ok {
		t.Errorf("Expected third call to be limited, got %v, %v", ok, err)
	}
	if ok, err := limiter.Allow(ctx, "bob"); err != nil || !ok {
		t.Errorf("Expected bob to be allowed, got %v, %v", ok, err)
	}
}
