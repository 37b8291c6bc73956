package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a process-local limiter. Counters live per key; fixed
// windows reset on boundary crossing, sliding windows prune a timestamp log.
type MemoryLimiter struct {
	mu      sync.Mutex
	fixed   map[string]*fixedWindow
	sliding map[string][]time.Time
	now     func() time.Time
}

type fixedWindow struct {
	start time.Time
	count int64
}

// NewMemoryLimiter creates a new in-memory rate limiter
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		fixed:   make(map[string]*fixedWindow),
		sliding: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow checks and consumes one slot for the key
func (m *MemoryLimiter) Allow(ctx context.Context, key string, limit int64, window time.Duration, strategy string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	if strategy == StrategySliding {
		return m.allowSliding(key, limit, window, now), nil
	}
	return m.allowFixed(key, limit, window, now), nil
}

func (m *MemoryLimiter) allowFixed(key string, limit int64, window time.Duration, now time.Time) *Result {
	w, ok := m.fixed[key]
	if !ok || now.Sub(w.start) >= window {
		w = &fixedWindow{start: now}
		m.fixed[key] = w
	}

	if w.count >= limit {
		return &Result{
			Allowed:      false,
			CurrentCount: w.count,
			Limit:        limit,
			RetryAfter:   w.start.Add(window).Sub(now),
		}
	}

	w.count++
	return &Result{Allowed: true, CurrentCount: w.count, Limit: limit}
}

func (m *MemoryLimiter) allowSliding(key string, limit int64, window time.Duration, now time.Time) *Result {
	cutoff := now.Add(-window)
	log := m.sliding[key]

	// Prune entries that slid out of the window
	kept := log[:0]
	for _, t := range log {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if int64(len(kept)) >= limit {
		m.sliding[key] = kept
		return &Result{
			Allowed:      false,
			CurrentCount: int64(len(kept)),
			Limit:        limit,
			RetryAfter:   kept[0].Add(window).Sub(now),
		}
	}

	m.sliding[key] = append(kept, now)
	return &Result{Allowed: true, CurrentCount: int64(len(kept)) + 1, Limit: limit}
}
