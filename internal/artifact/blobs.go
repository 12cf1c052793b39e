package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// blobKind selects the blob area for an artifact.
type blobKind string

const (
	blobFull  blobKind = "full"
	blobThumb blobKind = "thumb"
)

// blobDir persists artifact bytes on the local filesystem. Files are sharded
// by the first two hex characters of the id to keep directories small.
type blobDir struct {
	root string
}

func newBlobDir(root string) (*blobDir, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("artifact: blob root is required")
	}
	for _, kind := range []blobKind{blobFull, blobThumb} {
		if err := os.MkdirAll(filepath.Join(root, string(kind)), 0o750); err != nil {
			return nil, fmt.Errorf("artifact: ensure blob dir: %w", err)
		}
	}
	return &blobDir{root: root}, nil
}

func (b *blobDir) path(kind blobKind, id uuid.UUID) string {
	s := id.String()
	return filepath.Join(b.root, string(kind), s[:2], s)
}

// write stores data under a temp name and renames it into place, so a
// reader never observes a partially written file.
func (b *blobDir) write(kind blobKind, id uuid.UUID, data []byte) error {
	dst := b.path(kind, id)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("artifact: ensure shard dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("artifact: create temp blob: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("artifact: write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("artifact: close blob: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("artifact: commit blob: %w", err)
	}
	return nil
}

// read returns the blob bytes, or an error wrapping fs.ErrNotExist.
func (b *blobDir) read(kind blobKind, id uuid.UUID) ([]byte, error) {
	return os.ReadFile(b.path(kind, id))
}

// remove deletes both blobs for id. Missing files are not an error.
func (b *blobDir) remove(id uuid.UUID) error {
	var errs []error
	for _, kind := range []blobKind{blobFull, blobThumb} {
		if err := os.Remove(b.path(kind, id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
