package ratelimiter

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLuaLimiter(t *testing.T) (*RedisLuaLimiter, *miniredis.Miniredis, func()) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := NewRedisLuaLimiter(rdb, nil)

	cleanup := func() {
		_ = rdb.Close()
		mr.Close()
	}

	return limiter, mr, cleanup
}

func TestNewBucketConfigFromPerMinute(t *testing.T) {
	if cfg := NewBucketConfigFromPerMinute(0); cfg.Capacity != 0 || cfg.RefillRate != 0 {
		t.Fatalf("expected zero config, got %+v", cfg)
	}
	cfg := NewBucketConfigFromPerMinute(6)
	if cfg.Capacity != 6 || cfg.RefillRate != 0.1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestNewRedisLuaLimiter_NilClient(t *testing.T) {
	if l := NewRedisLuaLimiter(nil, nil); l != nil {
		t.Fatalf("expected nil limiter without redis")
	}
}

func TestAllow_NilLimiter_FailOpen(t *testing.T) {
	ctx := context.Background()
	var limiter *RedisLuaLimiter

	allowed, retryAfter, err := limiter.Allow(ctx, BucketProvision, "job-1:15551234567", 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed to be true for nil limiter")
	}
	if retryAfter != 0 {
		t.Fatalf("expected zero retryAfter, got %v", retryAfter)
	}
	limiter.SetBucketConfig(BucketProvision, BucketConfig{Capacity: 1, RefillRate: 1})
}

func TestAllow_NoBucketConfig_FailOpen(t *testing.T) {
	ctx := context.Background()
	limiter, _, cleanup := newTestRedisLuaLimiter(t)
	defer cleanup()

	allowed, retryAfter, err := limiter.Allow(ctx, "unknown-bucket", "s", 1)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !allowed {
		t.Fatalf("expected allowed to be true when no bucket config is present")
	}
	if retryAfter != 0 {
		t.Fatalf("expected zero retryAfter, got %v", retryAfter)
	}
}

func TestAllow_WithBucket_RespectsCapacityAndRetryAfter(t *testing.T) {
	ctx := context.Background()
	limiter, mr, cleanup := newTestRedisLuaLimiter(t)
	defer cleanup()

	fixed := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return fixed }
	limiter.SetBucketConfig(BucketProvision, BucketConfig{Capacity: 3, RefillRate: 0.5})

	for i := 0; i < 3; i++ {
		allowed, retryAfter, err := limiter.Allow(ctx, BucketProvision, "job-1:15551234567", 1)
		if err != nil {
			t.Fatalf("unexpected error on allowed call %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("expected allowed=true on call %d", i)
		}
		if retryAfter != 0 {
			t.Fatalf("expected retryAfter=0 on allowed call %d, got %v", i, retryAfter)
		}
	}

	allowed, retryAfter, err := limiter.Allow(ctx, BucketProvision, "job-1:15551234567", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limiter to deny once capacity exhausted")
	}
	if retryAfter != 2*time.Second {
		t.Fatalf("expected 2s retryAfter at 0.5 tokens/s, got %v", retryAfter)
	}
	if !mr.Exists("rate:provision:job-1:15551234567") {
		t.Fatalf("expected bucket key to exist")
	}
	if ttl := mr.TTL("rate:provision:job-1:15551234567"); ttl <= 0 {
		t.Fatalf("expected bucket key to carry a ttl, got %v", ttl)
	}

	// Subjects are isolated from each other.
	allowed, _, err = limiter.Allow(ctx, BucketProvision, "job-1:15550000000", 1)
	if err != nil || !allowed {
		t.Fatalf("expected a fresh subject to be allowed, allowed=%v err=%v", allowed, err)
	}

	// Refill after two seconds gives one token back.
	limiter.now = func() time.Time { return fixed.Add(2 * time.Second) }
	allowed, _, err = limiter.Allow(ctx, BucketProvision, "job-1:15551234567", 1)
	if err != nil || !allowed {
		t.Fatalf("expected refill to allow, allowed=%v err=%v", allowed, err)
	}
}

func TestAllow_RedisDown_FailOpen(t *testing.T) {
	ctx := context.Background()
	limiter, mr, cleanup := newTestRedisLuaLimiter(t)
	defer cleanup()
	limiter.SetBucketConfig(BucketProvision, BucketConfig{Capacity: 1, RefillRate: 1})
	mr.Close()

	allowed, _, err := limiter.Allow(ctx, BucketProvision, "s", 1)
	if err == nil {
		t.Fatalf("expected redis error to surface")
	}
	if !allowed {
		t.Fatalf("expected fail-open when redis is unavailable")
	}
}

func TestToInt64(t *testing.T) {
	cases := map[interface{}]int64{int64(3): 3, 4: 4, 5.9: 5, "x": 0}
	for in, want := range cases {
		if got := toInt64(in); got != want {
			t.Fatalf("toInt64(%v) = %d, want %d", in, got, want)
		}
	}
}
