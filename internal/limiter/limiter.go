// Package limiter throttles repeated authentication failures per caller.
package limiter

import (
	"context"
	"time"
)

// Limiter controls authentication attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and optional retry-after.
	Allow(ctx context.Context, key string) (bool, time.Duration, error)
	// Success resets counters after a successful attempt.
	Success(ctx context.Context, key string) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, key string) (bool, time.Duration, error)
}
