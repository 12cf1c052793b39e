package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "UNAVAILABLE"
)

// GenerateRequest is the request body for POST /v1/generate. Reference
// images travel inline as base64; the MCP tool reads them from paths instead.
type GenerateRequest struct {
	Prompt            string           `json:"prompt"`
	NegativePrompt    string           `json:"negative_prompt,omitempty"`
	SystemInstruction string           `json:"system_instruction,omitempty"`
	ModelTier         string           `json:"model_tier,omitempty"`
	Resolution        string           `json:"resolution,omitempty"`
	AspectRatio       string           `json:"aspect_ratio,omitempty"`
	ThinkingLevel     string           `json:"thinking_level,omitempty"`
	EnableGrounding   bool             `json:"enable_grounding,omitempty"`
	N                 *int             `json:"n,omitempty"`
	Mode              string           `json:"mode,omitempty"`
	InputImages       []InlineImageDTO `json:"input_images,omitempty"`
}

// InlineImageDTO is a base64-encoded image in a JSON body.
type InlineImageDTO struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type,omitempty"`
}

// GenerateResponse is the caller-facing summary of a BatchResult.
type GenerateResponse struct {
	Tier         Tier                `json:"tier"`
	AutoSelected bool                `json:"auto_selected"`
	Rule         string              `json:"rule"`
	Model        string              `json:"model"`
	Requested    int                 `json:"requested"`
	Returned     int                 `json:"returned"`
	Succeeded    int                 `json:"succeeded"`
	Failed       int                 `json:"failed"`
	Attempts     []Attempt           `json:"attempts"`
	Artifacts    []GeneratedArtifact `json:"artifacts"`
	Warnings     []string            `json:"warnings,omitempty"`
}

// GeneratedArtifact is one stored image in a GenerateResponse. Thumbnail
// is filled by transports that inline previews.
type GeneratedArtifact struct {
	ArtifactRef
	Thumbnail         []byte `json:"thumbnail,omitempty"`
	ThumbnailMIMEType string `json:"thumbnail_mime_type,omitempty"`
}

// NewGenerateResponse summarizes b. Thumbnails are left empty.
func NewGenerateResponse(b *BatchResult, warnings []string) GenerateResponse {
	resp := GenerateResponse{
		Tier:         b.Tier,
		AutoSelected: b.AutoSelected,
		Rule:         b.Rule,
		Model:        b.Model,
		Requested:    b.Requested,
		Returned:     len(b.Artifacts),
		Succeeded:    b.Succeeded(),
		Failed:       b.Failed(),
		Attempts:     b.Attempts,
		Artifacts:    make([]GeneratedArtifact, len(b.Artifacts)),
		Warnings:     warnings,
	}
	for i, ref := range b.Artifacts {
		resp.Artifacts[i] = GeneratedArtifact{ArtifactRef: ref}
	}
	return resp
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Index     string `json:"index"`
	Artifacts int    `json:"artifacts"`
	Uptime    int64  `json:"uptime_seconds"`
}

// ArtifactEvent is published to event stream subscribers.
type ArtifactEvent struct {
	ArtifactIDs []uuid.UUID `json:"artifact_ids,omitempty"`
	Tier        Tier        `json:"tier,omitempty"`
	Count       int         `json:"count"`
}

// Event stream types.
const (
	EventArtifactsCreated = "artifacts.created"
	EventArtifactsDeleted = "artifacts.deleted"
	EventArtifactsEvicted = "artifacts.evicted"
)
