package handlers

import (
	"testing"
	"time"
)

func TestKeyedRateLimiterBucketsPerKey(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(60, 2, func() time.Time { return now })

	if !limiter.Allow("uid:a") || !limiter.Allow("uid:a") {
		t.Fatalf("burst should admit two calls")
	}
	if limiter.Allow("uid:a") {
		t.Fatalf("third call within the same instant must be limited")
	}
	if !limiter.Allow("uid:b") {
		t.Fatalf("other callers keep their own bucket")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("uid:a") {
		t.Fatalf("one token refills per second at 60/min")
	}
}

func TestKeyedRateLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newKeyedRateLimiter(10, 1, func() time.Time { return now })
	limiter.Allow("uid:old")

	now = now.Add(rateLimiterIdleTTL + time.Minute)
	limiter.Allow("uid:new")

	if _, ok := limiter.buckets["uid:old"]; ok {
		t.Fatalf("idle bucket should be pruned")
	}
	if len(limiter.buckets) != 1 {
		t.Fatalf("expected one live bucket, got %d", len(limiter.buckets))
	}
}

func TestKeyedRateLimiterDisabled(t *testing.T) {
	limiter := newKeyedRateLimiter(0, 0, nil)
	if limiter != nil {
		t.Fatalf("non-positive rate disables limiting")
	}
	if !limiter.Allow("anything") {
		t.Fatalf("nil limiter admits everything")
	}
}
