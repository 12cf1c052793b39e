// Package imagegen is the boundary to remote image-generation backends.
//
// Defines an Adapter interface with one implementation per backend, plus a
// synthetic adapter used when no API key is configured. Adapters classify
// every failure as transient, permanent, or invalid input so callers can
// decide whether a retry is worthwhile.
package imagegen

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashita-ai/gazou/internal/model"
)

// Adapter performs one remote generation call for a single tier.
type Adapter interface {
	// Generate returns zero or more encoded images. Errors should be
	// *Error values so the caller can classify them.
	Generate(ctx context.Context, call Call) ([]model.Image, error)

	// Model returns the backend model identifier, for metadata.
	Model() string
}

// Watermarker is implemented by adapters whose outputs carry an invisible
// provenance watermark.
type Watermarker interface {
	Watermarked() bool
}

// IsWatermarked reports whether a's outputs are watermarked.
func IsWatermarked(a Adapter) bool {
	w, ok := a.(Watermarker)
	return ok && w.Watermarked()
}

// Config is the tier-specific generation configuration. Fields a tier does
// not support are left at their zero values by the profile that builds it.
type Config struct {
	MaxEdge     int
	ImageSize   string // "1K", "2K" or "4K"; empty lets the backend decide.
	Reasoning   model.ReasoningDepth
	Grounding   bool
	AspectRatio string

	// HighMediaResolution asks the backend to read reference images at
	// full fidelity.
	HighMediaResolution bool
}

// Call is one outbound generation request.
type Call struct {
	Prompt            string
	NegativePrompt    string
	SystemInstruction string
	References        []model.Image
	Config            Config
}

// Kind classifies an adapter failure.
type Kind int

const (
	// Transient failures (rate limits, timeouts, 5xx) may succeed on retry.
	Transient Kind = iota
	// Permanent failures will not succeed on retry.
	Permanent
	// InvalidInput means the backend rejected the parameters.
	InvalidInput
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case InvalidInput:
		return "invalid_input"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified adapter failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("imagegen: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err. Unclassified errors are permanent, except
// context deadlines which are transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Permanent
}

// Func adapts a plain function to the Adapter interface. Tests use it to
// script per-call behaviour.
type Func func(ctx context.Context, call Call) ([]model.Image, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, call Call) ([]model.Image, error) {
	return f(ctx, call)
}

// Model returns a fixed name for function adapters.
func (f Func) Model() string { return "func" }
