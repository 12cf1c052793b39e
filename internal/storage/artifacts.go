package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/gazou/internal/model"
)

const artifactColumns = `id, mime_type, size_bytes, width, height, content_hash,
	 has_thumbnail, metadata, created_at, expires_at`

// InsertArtifact records a new artifact. The row is the artifact's
// visibility point: once committed, readers can find it.
func (db *DB) InsertArtifact(ctx context.Context, a model.Artifact) error {
	if a.Metadata == nil {
		a.Metadata = map[string]any{}
	}
	err := retryWrite(ctx, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO artifacts (`+artifactColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			a.ID, a.MIMEType, a.SizeBytes, a.Width, a.Height, a.ContentHash,
			a.HasThumbnail, a.Metadata, a.CreatedAt, a.ExpiresAt,
		)
		return err
	})
	return insertError(a.ID, err)
}

// insertError wraps a failed insert, distinguishing id collisions.
func insertError(id uuid.UUID, err error) error {
	switch {
	case err == nil:
		return nil
	case isDuplicateID(err):
		return fmt.Errorf("%w: %s", ErrDuplicateID, id)
	default:
		return fmt.Errorf("storage: insert artifact: %w", err)
	}
}

// GetArtifact returns the artifact row for id, or ErrNotFound.
func (db *DB) GetArtifact(ctx context.Context, id uuid.UUID) (model.Artifact, error) {
	var a model.Artifact
	err := db.pool.QueryRow(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.MIMEType, &a.SizeBytes, &a.Width, &a.Height, &a.ContentHash,
		&a.HasThumbnail, &a.Metadata, &a.CreatedAt, &a.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return model.Artifact{}, fmt.Errorf("storage: get artifact: %w", err)
	}
	return a, nil
}

// DeleteArtifact removes the row for id and reports whether it existed.
func (db *DB) DeleteArtifact(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM artifacts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("storage: delete artifact: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpiredArtifacts removes every row whose expiry is at or before
// cutoff and returns the removed ids. A single DELETE ... RETURNING claims
// each row for exactly one caller.
func (db *DB) DeleteExpiredArtifacts(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := retryWrite(ctx, func() error {
		rows, err := db.pool.Query(ctx,
			`DELETE FROM artifacts WHERE expires_at IS NOT NULL AND expires_at <= $1 RETURNING id`, cutoff)
		if err != nil {
			return err
		}
		ids, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("storage: delete expired artifacts: %w", err)
	}
	return ids, nil
}

// CountArtifacts returns the number of stored artifacts, including ones
// that have expired but not yet been evicted.
func (db *DB) CountArtifacts(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count artifacts: %w", err)
	}
	return n, nil
}
