package imagegen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/gazou/internal/model"
)

func TestWithRetry_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return &Error{Kind: Transient, Op: "test", Err: errors.New("busy")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return &Error{Kind: InvalidInput, Op: "test", Err: errors.New("bad prompt")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, InvalidInput, KindOf(err))
}

func TestWithRetry_BoundedAttempts(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return &Error{Kind: Transient, Op: "test", Err: errors.New("busy")}
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "one call plus two retries")
}

func TestWithRetry_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := WithRetry(ctx, 5, time.Hour, func() error {
		calls++
		return &Error{Kind: Transient, Op: "test", Err: errors.New("busy")}
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Transient, KindOf(err), "returns the last adapter error, not ctx.Err")
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Permanent, KindOf(errors.New("plain")))
	assert.Equal(t, Transient, KindOf(context.DeadlineExceeded))
	wrapped := errors.Join(errors.New("outer"), &Error{Kind: InvalidInput, Err: errors.New("x")})
	assert.Equal(t, InvalidInput, KindOf(wrapped))
}

func TestRetryingAdapter(t *testing.T) {
	calls := 0
	inner := Func(func(_ context.Context, _ Call) ([]model.Image, error) {
		calls++
		if calls == 1 {
			return nil, &Error{Kind: Transient, Op: "test", Err: errors.New("429")}
		}
		return []model.Image{{Data: []byte{1}, MIMEType: "image/png"}}, nil
	})
	r := NewRetrying(inner, 2, time.Millisecond)

	images, err := r.Generate(context.Background(), Call{Prompt: "x"})
	require.NoError(t, err)
	assert.Len(t, images, 1)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "func", r.Model())
}
