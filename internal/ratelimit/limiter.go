package ratelimit

import "context"

// RateLimiter throttles outbound email throughput per transport scope so the
// dispatcher stays under relay provider limits.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
