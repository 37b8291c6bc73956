package ratelimit

import (
	"context"
	"testing"
	"time"
)

func limiterAt(start time.Time) (*MemoryLimiter, *time.Time) {
	l := NewMemoryLimiter()
	current := start
	l.now = func() time.Time { return current }
	return l, &current
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	l, clock := limiterAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "k", 3, time.Minute, StrategyFixed)
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !res.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if res.CurrentCount != int64(i+1) {
			t.Errorf("request %d: expected count %d, got %d", i, i+1, res.CurrentCount)
		}
	}

	res, _ := l.Allow(ctx, "k", 3, time.Minute, StrategyFixed)
	if res.Allowed {
		t.Fatal("fourth request should be rejected")
	}
	if res.RetryAfter != time.Minute {
		t.Errorf("expected retry after one minute, got %v", res.RetryAfter)
	}

	// A different key has its own budget.
	if res, _ := l.Allow(ctx, "other", 3, time.Minute, StrategyFixed); !res.Allowed {
		t.Error("separate key should be allowed")
	}

	// The window resets on the boundary.
	*clock = clock.Add(time.Minute)
	if res, _ := l.Allow(ctx, "k", 3, time.Minute, StrategyFixed); !res.Allowed {
		t.Error("request after window reset should be allowed")
	}
}

func TestMemoryLimiter_SlidingWindow(t *testing.T) {
	l, clock := limiterAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	l.Allow(ctx, "k", 2, time.Minute, StrategySliding)
	*clock = clock.Add(30 * time.Second)
	l.Allow(ctx, "k", 2, time.Minute, StrategySliding)

	// Both stamps still inside the window.
	res, _ := l.Allow(ctx, "k", 2, time.Minute, StrategySliding)
	if res.Allowed {
		t.Fatal("third request inside the window should be rejected")
	}
	if res.RetryAfter != 30*time.Second {
		t.Errorf("expected 30s until the oldest stamp slides out, got %v", res.RetryAfter)
	}

	// 31s later the first stamp has slid out; one slot is free again.
	*clock = clock.Add(31 * time.Second)
	res, _ = l.Allow(ctx, "k", 2, time.Minute, StrategySliding)
	if !res.Allowed {
		t.Fatal("request should be allowed after the oldest stamp expires")
	}
	if res.CurrentCount != 2 {
		t.Errorf("expected count 2, got %d", res.CurrentCount)
	}
}
