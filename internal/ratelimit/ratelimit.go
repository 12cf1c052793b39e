// Package ratelimit throttles expensive endpoints per client.
//
// Image generation costs real backend quota, so /v1/generate and /mcp are
// limited per caller IP. The Limiter interface keeps the HTTP layer
// independent of where bucket state lives.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. Returning an error
	// signals a limiter malfunction; the middleware fails open on errors.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources such as cleanup goroutines.
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
