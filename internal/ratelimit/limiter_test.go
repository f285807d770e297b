package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	cleanup := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewLimiter(client), client
}

func TestAllowWithinLimit(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: 10 * time.Second}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "within", rule)
		if err != nil {
			t.Fatalf("Allow() error: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, err := l.Allow(ctx, "within", rule)
	if err != nil {
		t.Fatalf("Allow() error: %v", err)
	}
	if ok {
		t.Error("fourth request should be limited")
	}
}

func TestAllowSetsExpiry(t *testing.T) {
	l, client := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 5, Window: 30 * time.Second}

	if _, err := l.Allow(ctx, "expiry", rule); err != nil {
		t.Fatal(err)
	}
	ttl := client.TTL(ctx, "rl:test:expiry").Val()
	if ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("expected ttl in (0,30s], got %s", ttl)
	}
}

func TestIdentifiersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}

	if ok, _ := l.Allow(ctx, "a", rule); !ok {
		t.Fatal("first request for a should be allowed")
	}
	if ok, _ := l.Allow(ctx, "b", rule); !ok {
		t.Error("first request for b should be allowed")
	}
}

func TestRetryAfter(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: 10 * time.Second}

	d, err := l.RetryAfter(ctx, "retry", rule)
	if err != nil {
		t.Fatal(err)
	}
	if d != 0 {
		t.Errorf("expected no wait before any hit, got %s", d)
	}

	l.Allow(ctx, "retry", rule)
	if ok, _ := l.Allow(ctx, "retry", rule); ok {
		t.Fatal("second hit should be limited")
	}
	d, _ = l.RetryAfter(ctx, "retry", rule)
	if d <= 0 || d > rule.Window {
		t.Errorf("expected wait in (0,%s], got %s", rule.Window, d)
	}
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	l := NewLimiter(client)

	ok, err := l.Allow(context.Background(), "down", RuleDraw)
	if !ok {
		t.Error("expected fail-open when redis is unreachable")
	}
	if err == nil {
		t.Error("expected the redis error to be reported")
	}
}
