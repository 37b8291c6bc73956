package ratelimit

import (
	"context"
	"time"
)

// Window strategies supported by the rate_limit node.
const (
	StrategyFixed   = "fixed"
	StrategySliding = "sliding"
)

// Result contains the outcome of a rate limit check
type Result struct {
	Allowed      bool          // Whether the request is allowed
	CurrentCount int64         // Current count in the window
	Limit        int64         // The limit that was checked
	RetryAfter   time.Duration // Time until the limit resets (0 if allowed)
}

// Limiter checks whether a keyed request fits inside its window.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration, strategy string) (*Result, error)
}

// Logger interface for logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}
