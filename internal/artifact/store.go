// Package artifact owns generated images: identity, durable bytes, derived
// thumbnails, and time-based eviction.
//
// Bytes live in a sharded blob directory; the searchable record lives in an
// Index (Postgres or SQLite). An artifact becomes visible only when its index
// row is committed, after both blobs are already in place, and stops being
// visible the moment its row is deleted. Readers therefore never see a
// half-written or half-removed artifact.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/storage"
)

var (
	// ErrNotFound is returned for absent, deleted, or expired artifacts.
	ErrNotFound = errors.New("artifact: not found")

	// ErrCorrupt is returned when stored bytes no longer match their digest.
	ErrCorrupt = errors.New("artifact: content hash mismatch")

	// ErrInvalidArtifact is returned by Put for empty input.
	ErrInvalidArtifact = errors.New("artifact: empty artifact")
)

// DefaultThumbnailSize is the longest thumbnail edge in pixels.
const DefaultThumbnailSize = 256

// Index is the metadata store behind a Store. Implementations must be safe
// for concurrent use.
type Index interface {
	InsertArtifact(ctx context.Context, a model.Artifact) error
	GetArtifact(ctx context.Context, id uuid.UUID) (model.Artifact, error)
	DeleteArtifact(ctx context.Context, id uuid.UUID) (bool, error)
	DeleteExpiredArtifacts(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// Blob is artifact or thumbnail bytes with their MIME type.
type Blob struct {
	Data     []byte
	MIMEType string
}

// Store persists artifacts. It holds no locks of its own; atomicity comes
// from rename-into-place for blobs and single-statement index writes.
type Store struct {
	index     Index
	blobs     *blobDir
	retention time.Duration
	thumbSize int
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithRetention sets how long artifacts live. Zero means they never expire.
func WithRetention(d time.Duration) Option {
	return func(s *Store) { s.retention = d }
}

// WithThumbnailSize sets the longest thumbnail edge.
func WithThumbnailSize(px int) Option {
	return func(s *Store) {
		if px > 0 {
			s.thumbSize = px
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store writing blobs under root and records to index.
func New(index Index, root string, logger *slog.Logger, opts ...Option) (*Store, error) {
	blobs, err := newBlobDir(root)
	if err != nil {
		return nil, err
	}
	s := &Store{
		index:     index,
		blobs:     blobs,
		thumbSize: DefaultThumbnailSize,
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put stores data and its thumbnail, returning a handle once both are
// visible. Either everything is persisted or nothing is. A thumbnail that
// cannot be derived does not fail Put; the handle reports ThumbnailAbsent
// and GetThumbnail serves the full bytes instead.
func (s *Store) Put(ctx context.Context, data []byte, mimeType string, metadata map[string]any) (model.Handle, error) {
	if len(data) == 0 {
		return model.Handle{}, ErrInvalidArtifact
	}
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
	}

	width, height, err := dimensions(data)
	if err != nil {
		s.logger.Warn("artifact: unreadable image header", "mime_type", mimeType, "error", err)
	}

	thumb, err := thumbnail(data, s.thumbSize)
	if err != nil {
		s.logger.Warn("artifact: thumbnail derivation failed, storing without thumbnail",
			"mime_type", mimeType, "size_bytes", len(data), "error", err)
		thumb = nil
	}

	now := s.now().UTC()
	a := model.Artifact{
		ID:           uuid.New(),
		MIMEType:     mimeType,
		SizeBytes:    int64(len(data)),
		Width:        width,
		Height:       height,
		ContentHash:  contentHash(data),
		HasThumbnail: thumb != nil,
		CreatedAt:    now,
		Metadata:     maps.Clone(metadata),
	}
	if s.retention > 0 {
		exp := now.Add(s.retention)
		a.ExpiresAt = &exp
	}

	if err := s.blobs.write(blobFull, a.ID, data); err != nil {
		return model.Handle{}, err
	}
	if thumb != nil {
		if err := s.blobs.write(blobThumb, a.ID, thumb); err != nil {
			_ = s.blobs.remove(a.ID)
			return model.Handle{}, err
		}
	}
	if err := s.index.InsertArtifact(ctx, a); err != nil {
		if rmErr := s.blobs.remove(a.ID); rmErr != nil {
			s.logger.Warn("artifact: cleanup after failed insert", "artifact_id", a.ID, "error", rmErr)
		}
		return model.Handle{}, fmt.Errorf("artifact: index insert: %w", err)
	}

	return model.HandleFor(a), nil
}

// Lookup returns the index record for id.
func (s *Store) Lookup(ctx context.Context, id uuid.UUID) (model.Artifact, error) {
	a, err := s.index.GetArtifact(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.Artifact{}, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return model.Artifact{}, fmt.Errorf("artifact: lookup: %w", err)
	}
	if a.Expired(s.now()) {
		return model.Artifact{}, fmt.Errorf("%w: %s (expired)", ErrNotFound, id)
	}
	return a, nil
}

// Get returns the full artifact bytes.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Blob, error) {
	a, err := s.Lookup(ctx, id)
	if err != nil {
		return Blob{}, err
	}
	data, err := s.readBlob(blobFull, id)
	if err != nil {
		return Blob{}, err
	}
	if !verifyContentHash(a.ContentHash, data) {
		s.logger.Error("artifact: content hash mismatch", "artifact_id", id)
		return Blob{}, fmt.Errorf("%w: %s", ErrCorrupt, id)
	}
	return Blob{Data: data, MIMEType: a.MIMEType}, nil
}

// GetThumbnail returns the thumbnail bytes. When no thumbnail could be
// derived at put time it returns the full bytes.
func (s *Store) GetThumbnail(ctx context.Context, id uuid.UUID) (Blob, error) {
	a, err := s.Lookup(ctx, id)
	if err != nil {
		return Blob{}, err
	}
	if !a.HasThumbnail {
		data, err := s.readBlob(blobFull, id)
		if err != nil {
			return Blob{}, err
		}
		return Blob{Data: data, MIMEType: a.MIMEType}, nil
	}
	data, err := s.readBlob(blobThumb, id)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Data: data, MIMEType: ThumbnailMIMEType}, nil
}

// Delete removes id. Deleting an absent artifact is a no-op.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.index.DeleteArtifact(ctx, id); err != nil {
		return fmt.Errorf("artifact: delete: %w", err)
	}
	if err := s.blobs.remove(id); err != nil {
		s.logger.Warn("artifact: remove blobs", "artifact_id", id, "error", err)
	}
	return nil
}

// EvictExpired removes every artifact whose expiry has passed and returns
// how many were removed. Rows are deleted before files are unlinked, and each
// row is claimed by exactly one caller, so concurrent runs never double count.
func (s *Store) EvictExpired(ctx context.Context) (int, error) {
	ids, err := s.index.DeleteExpiredArtifacts(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("artifact: evict: %w", err)
	}
	for _, id := range ids {
		if err := s.blobs.remove(id); err != nil {
			s.logger.Warn("artifact: remove evicted blobs", "artifact_id", id, "error", err)
		}
	}
	return len(ids), nil
}

// readBlob maps a missing file to ErrNotFound: the row was visible a moment
// ago, so the artifact was evicted or deleted in between.
func (s *Store) readBlob(kind blobKind, id uuid.UUID) ([]byte, error) {
	data, err := s.blobs.read(kind, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("artifact: read %s blob: %w", kind, err)
	}
	return data, nil
}
