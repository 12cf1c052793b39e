package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/gazou/internal/model"

	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver
)

// LiteDB is an artifact index backed by an embedded SQLite file. Timestamps
// are stored as Unix nanoseconds so range comparisons stay numeric.
type LiteDB struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenLite opens (creating if needed) the SQLite database at path.
func OpenLite(ctx context.Context, path string, logger *slog.Logger) (*LiteDB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// SQLite admits one writer at a time; a single connection serializes
	// access instead of surfacing SQLITE_BUSY to callers.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	return &LiteDB{db: db, logger: logger}, nil
}

// Ping checks the database is reachable.
func (l *LiteDB) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Close closes the database handle.
func (l *LiteDB) Close() error {
	return l.db.Close()
}

// RunMigrations applies unapplied SQLite migrations from migrationsFS.
func (l *LiteDB) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	return runMigrations(ctx, l, migrationsFS, l.logger)
}

func (l *LiteDB) ensureMigrationTable(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

func (l *LiteDB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (l *LiteDB) applyMigration(ctx context.Context, name, content string) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		name, time.Now().UnixNano(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// InsertArtifact records a new artifact.
func (l *LiteDB) InsertArtifact(ctx context.Context, a model.Artifact) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("storage: marshal metadata: %w", err)
	}
	if a.Metadata == nil {
		meta = []byte("{}")
	}
	var expires sql.NullInt64
	if a.ExpiresAt != nil {
		expires = sql.NullInt64{Int64: a.ExpiresAt.UnixNano(), Valid: true}
	}
	err = retryWrite(ctx, func() error {
		_, err := l.db.ExecContext(ctx,
			`INSERT INTO artifacts (`+artifactColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID.String(), a.MIMEType, a.SizeBytes, a.Width, a.Height, a.ContentHash,
			a.HasThumbnail, string(meta), a.CreatedAt.UnixNano(), expires,
		)
		return err
	})
	return insertError(a.ID, err)
}

// GetArtifact returns the artifact row for id, or ErrNotFound.
func (l *LiteDB) GetArtifact(ctx context.Context, id uuid.UUID) (model.Artifact, error) {
	var (
		a         model.Artifact
		rawID     string
		meta      string
		createdAt int64
		expires   sql.NullInt64
	)
	err := l.db.QueryRowContext(ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE id = ?`, id.String(),
	).Scan(
		&rawID, &a.MIMEType, &a.SizeBytes, &a.Width, &a.Height, &a.ContentHash,
		&a.HasThumbnail, &meta, &createdAt, &expires,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return model.Artifact{}, fmt.Errorf("storage: get artifact: %w", err)
	}

	if a.ID, err = uuid.Parse(rawID); err != nil {
		return model.Artifact{}, fmt.Errorf("storage: parse artifact id: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
		return model.Artifact{}, fmt.Errorf("storage: unmarshal metadata: %w", err)
	}
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	if expires.Valid {
		t := time.Unix(0, expires.Int64).UTC()
		a.ExpiresAt = &t
	}
	return a, nil
}

// DeleteArtifact removes the row for id and reports whether it existed.
func (l *LiteDB) DeleteArtifact(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM artifacts WHERE id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("storage: delete artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("storage: delete artifact: %w", err)
	}
	return n > 0, nil
}

// DeleteExpiredArtifacts removes every row whose expiry is at or before
// cutoff and returns the removed ids.
func (l *LiteDB) DeleteExpiredArtifacts(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := l.db.QueryContext(ctx,
		`DELETE FROM artifacts WHERE expires_at IS NOT NULL AND expires_at <= ? RETURNING id`,
		cutoff.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("storage: delete expired artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("storage: scan expired id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("storage: parse expired id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: delete expired artifacts: %w", err)
	}
	return ids, nil
}

// CountArtifacts returns the number of stored artifacts.
func (l *LiteDB) CountArtifacts(ctx context.Context) (int, error) {
	var n int
	if err := l.db.QueryRowContext(ctx, `SELECT count(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count artifacts: %w", err)
	}
	return n, nil
}
