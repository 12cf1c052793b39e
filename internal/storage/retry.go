package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Index writes are small single-statement operations, so a few short
// retries ride out lock contention without holding up an attempt.
const (
	writeRetries = 3
	writeBackoff = 10 * time.Millisecond
)

// isTransient reports whether an index write failed on contention that a
// replay of the same statement can get past.
func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03": // lock_not_available
			return true
		}
		return false
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

// isDuplicateID reports whether err is a primary key collision on the
// artifacts table.
func isDuplicateID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

// retryWrite runs an idempotent index write, replaying it on transient
// errors with jittered exponential backoff. When ctx ends during a wait the
// last write error is returned, not the context error, so callers log the
// real cause.
func retryWrite(ctx context.Context, fn func() error) error {
	delay := writeBackoff
	var err error
	for attempt := range writeRetries + 1 {
		err = fn()
		if err == nil || !isTransient(err) || attempt == writeRetries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return err
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
