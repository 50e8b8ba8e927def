package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newLimiter(t *testing.T) *TokenBucketLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTokenBucketLimiter(rdb)
}

func TestAllowDisabledBucket(t *testing.T) {
	lim := newLimiter(t)
	dec, err := lim.Allow(context.Background(), "verdict", "ver-1", Bucket{})
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("expected allowed when bucket disabled")
	}
}

func TestAllowBlocksAfterBurst(t *testing.T) {
	lim := newLimiter(t)
	bucket := Bucket{RequestsPerMinute: 60, BurstSize: 1} // 1 token/sec, burst=1

	dec1, err := lim.Allow(context.Background(), "verdict", "ver-1", bucket)
	if err != nil {
		t.Fatalf("allow 1: %v", err)
	}
	if !dec1.Allowed {
		t.Fatal("expected first request allowed")
	}

	dec2, err := lim.Allow(context.Background(), "verdict", "ver-1", bucket)
	if err != nil {
		t.Fatalf("allow 2: %v", err)
	}
	if dec2.Allowed {
		t.Fatal("expected second request limited")
	}
	if dec2.RetryAfter <= 0 {
		t.Fatal("expected RetryAfter set")
	}

	// Buckets are per subject.
	decOther, err := lim.Allow(context.Background(), "verdict", "ver-2", bucket)
	if err != nil {
		t.Fatalf("allow other: %v", err)
	}
	if !decOther.Allowed {
		t.Fatal("expected independent bucket for other verifier")
	}
}

func TestAllowNilLimiterFailsOpen(t *testing.T) {
	var lim *TokenBucketLimiter
	dec, err := lim.Allow(context.Background(), "verdict", "ver-1", Bucket{RequestsPerMinute: 1, BurstSize: 1})
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if !dec.Allowed {
		t.Fatal("nil limiter must fail open")
	}
}
