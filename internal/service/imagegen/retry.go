package imagegen

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ashita-ai/gazou/internal/model"
)

// maxBackoff caps a single wait so a retrying attempt cannot stall its
// siblings for long.
const maxBackoff = 10 * time.Second

// WithRetry executes fn, retrying up to maxRetries times on transient errors.
// Retries use jittered exponential backoff starting at baseDelay.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := range maxRetries + 1 {
		err = fn()
		if err == nil || KindOf(err) != Transient {
			return err
		}
		if attempt == maxRetries || baseDelay <= 0 {
			break
		}
		jitter := time.Duration(rand.Int64N(int64(baseDelay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return err
		case <-time.After(min(baseDelay+jitter, maxBackoff)):
		}
		baseDelay *= 2
	}
	return err
}

// Retrying wraps an adapter so transient failures are retried.
type Retrying struct {
	next       Adapter
	maxRetries int
	baseDelay  time.Duration
}

// NewRetrying returns an adapter that retries next up to maxRetries times.
func NewRetrying(next Adapter, maxRetries int, baseDelay time.Duration) *Retrying {
	return &Retrying{next: next, maxRetries: maxRetries, baseDelay: baseDelay}
}

// Generate calls the wrapped adapter with retry.
func (r *Retrying) Generate(ctx context.Context, call Call) ([]model.Image, error) {
	var images []model.Image
	err := WithRetry(ctx, r.maxRetries, r.baseDelay, func() error {
		var err error
		images, err = r.next.Generate(ctx, call)
		return err
	})
	return images, err
}

// Model returns the wrapped adapter's model.
func (r *Retrying) Model() string { return r.next.Model() }

// Watermarked reports whether the wrapped adapter watermarks its outputs.
func (r *Retrying) Watermarked() bool { return IsWatermarked(r.next) }
