package middlewares

import (
	"testing"
	"time"
)

func countKeys(rl *RateLimiter) int {
	n := 0
	rl.limiters.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

func TestRateLimiterEvictsIdleKeys(t *testing.T) {
	rl := NewRateLimiter(10, 1)
	if rl.idleTTL != minIdleTTL {
		t.Fatalf("idleTTL = %s, want %s", rl.idleTTL, minIdleTTL)
	}

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rl.limiterFor("user:a", t0)
	rl.limiterFor("user:b", t0)
	rl.limiterFor("user:a", t0.Add(6*time.Minute))

	// first sweep ran at t0, so nothing is dropped yet
	if n := countKeys(rl); n != 2 {
		t.Fatalf("keys = %d, want 2", n)
	}

	rl.limiterFor("user:c", t0.Add(11*time.Minute))

	if _, ok := rl.limiters.Load("user:b"); ok {
		t.Fatalf("idle key user:b was not evicted")
	}
	if _, ok := rl.limiters.Load("user:a"); !ok {
		t.Fatalf("recently used key user:a was evicted")
	}
	if n := countKeys(rl); n != 2 {
		t.Fatalf("keys = %d, want 2", n)
	}
}

func TestRateLimiterIdleTTLCoversRefill(t *testing.T) {
	rl := NewRateLimiter(0.001, 2)
	if rl.idleTTL != 2000*time.Second {
		t.Fatalf("idleTTL = %s, want 2000s", rl.idleTTL)
	}

	// a bucket that never refills is never forgotten
	rl = NewRateLimiter(0, 3)
	t0 := time.Now()
	rl.limiterFor("k", t0)
	rl.limiterFor("other", t0.Add(24*time.Hour))
	if _, ok := rl.limiters.Load("k"); !ok {
		t.Fatalf("key evicted although its bucket cannot refill")
	}
}
