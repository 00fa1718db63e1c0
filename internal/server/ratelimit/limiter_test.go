package ratelimit

import (
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	// 5 requests per minute, burst of 5
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	key := "test:key"

	// First 5 requests should be allowed (within burst)
	for i := range 5 {
		result := l.Allow(key)
		if !result.Allowed {
			t.Errorf("request %d should be allowed", i+1)
		}
		if result.Limit != 5 {
			t.Errorf("expected Limit=5, got %d", result.Limit)
		}
	}

	// 6th request should be rate limited
	result := l.Allow(key)
	if result.Allowed {
		t.Error("6th request should be rate limited")
	}
	if result.RetryAfter < time.Second {
		t.Errorf("expected RetryAfter >= 1s, got %v", result.RetryAfter)
	}
}

func TestLimiter_DifferentKeys(t *testing.T) {
	l := NewLimiter(5, time.Minute, 5)
	defer l.Close()

	// Exhaust limit for key1
	for range 5 {
		l.Allow("key1")
	}
	if l.Allow("key1").Allowed {
		t.Error("key1 should be rate limited")
	}

	// key2 should still have full quota
	for range 5 {
		if !l.Allow("key2").Allowed {
			t.Error("key2 should not be rate limited")
		}
	}
}
