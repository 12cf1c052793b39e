package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("disk I/O error"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTransient(tt.err))
		})
	}
}

func TestIsDuplicateID(t *testing.T) {
	assert.True(t, isDuplicateID(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isDuplicateID(&pgconn.PgError{Code: "40001"}))
	assert.False(t, isDuplicateID(errors.New("boom")))
}

func TestRetryWriteReplaysTransient(t *testing.T) {
	calls := 0
	err := retryWrite(context.Background(), func() error {
		calls++
		if calls < 3 {
			return &pgconn.PgError{Code: "40001"}
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryWriteGivesUp(t *testing.T) {
	calls := 0
	err := retryWrite(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.Equal(t, writeRetries+1, calls)
}

func TestRetryWriteStopsOnPermanent(t *testing.T) {
	calls := 0
	err := retryWrite(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "23505"}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWriteCancelledReturnsWriteError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cause := &pgconn.PgError{Code: "40001"}
	err := retryWrite(ctx, func() error { return cause })
	assert.ErrorIs(t, err, cause)
}
