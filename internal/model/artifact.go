package model

import (
	"time"

	"github.com/google/uuid"
)

// Artifact is the index record for one stored image. The bytes themselves
// live in the artifact store's blob area and are never carried here.
type Artifact struct {
	ID           uuid.UUID      `json:"id"`
	MIMEType     string         `json:"mime_type"`
	SizeBytes    int64          `json:"size_bytes"`
	Width        int            `json:"width"`
	Height       int            `json:"height"`
	ContentHash  string         `json:"content_hash"`
	HasThumbnail bool           `json:"has_thumbnail"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Expired reports whether the artifact's expiry is at or before now.
func (a Artifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Handle is returned by a successful store put.
type Handle struct {
	ID              uuid.UUID  `json:"id"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	SizeBytes       int64      `json:"size_bytes"`
	Width           int        `json:"width"`
	Height          int        `json:"height"`
	ThumbnailAbsent bool       `json:"thumbnail_absent,omitempty"`
}

// HandleFor builds the caller-facing handle for an index record.
func HandleFor(a Artifact) Handle {
	return Handle{
		ID:              a.ID,
		ExpiresAt:       a.ExpiresAt,
		SizeBytes:       a.SizeBytes,
		Width:           a.Width,
		Height:          a.Height,
		ThumbnailAbsent: !a.HasThumbnail,
	}
}
