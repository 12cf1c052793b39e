package imagegen

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/disintegration/imaging"

	"github.com/ashita-ai/gazou/internal/model"
)

// syntheticEdge bounds synthetic output so local runs stay cheap.
const syntheticEdge = 512

// SyntheticAdapter renders deterministic gradient images locally. It stands
// in for a real backend when no API key is configured, so the rest of the
// pipeline (store, thumbnails, MCP results) can be exercised offline.
type SyntheticAdapter struct {
	model string
	calls atomic.Uint64
}

// NewSyntheticAdapter creates a synthetic adapter reporting the given model name.
func NewSyntheticAdapter(modelName string) *SyntheticAdapter {
	return &SyntheticAdapter{model: modelName}
}

// Model returns the configured model name.
func (s *SyntheticAdapter) Model() string {
	return s.model
}

// Generate returns one PNG whose colours derive from the prompt. When a
// reference image is supplied it is blended underneath, mimicking an edit.
func (s *SyntheticAdapter) Generate(ctx context.Context, call Call) ([]model.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Kind: Transient, Op: "synthetic", Err: err}
	}

	n := s.calls.Add(1)
	seed := deterministicSeed(call.Prompt, call.NegativePrompt, call.Config.AspectRatio, n)
	w, h := syntheticSize(call.Config.MaxEdge, call.Config.AspectRatio)

	img := renderGradient(w, h, seed)
	if len(call.References) > 0 {
		ref, err := imaging.Decode(bytes.NewReader(call.References[0].Data))
		if err != nil {
			return nil, &Error{Kind: InvalidInput, Op: "synthetic", Err: fmt.Errorf("decode reference: %w", err)}
		}
		img = imaging.Overlay(imaging.Fill(ref, w, h, imaging.Center, imaging.Lanczos), img, image.Pt(0, 0), 0.4)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, &Error{Kind: Permanent, Op: "synthetic", Err: fmt.Errorf("encode: %w", err)}
	}
	return []model.Image{{Data: buf.Bytes(), MIMEType: "image/png"}}, nil
}

func renderGradient(w, h int, seed uint64) *image.NRGBA {
	from := seedColor(seed)
	to := seedColor(seed >> 24)
	img := imaging.New(w, h, from)
	for y := range h {
		for x := range w {
			t := float64(x+y) / float64(w+h)
			img.SetNRGBA(x, y, color.NRGBA{
				R: lerp(from.R, to.R, t),
				G: lerp(from.G, to.G, t),
				B: lerp(from.B, to.B, t),
				A: 255,
			})
		}
	}
	return img
}

func seedColor(seed uint64) color.NRGBA {
	return color.NRGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255} //nolint:gosec // truncation intended
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*t) //nolint:gosec // result stays within [a, b]
}

// syntheticSize fits the requested aspect ratio inside min(maxEdge, syntheticEdge).
func syntheticSize(maxEdge int, aspect string) (int, int) {
	edge := syntheticEdge
	if maxEdge > 0 && maxEdge < edge {
		edge = maxEdge
	}
	rw, rh := parseAspect(aspect)
	if rw >= rh {
		return edge, max(1, edge*rh/rw)
	}
	return max(1, edge*rw/rh), edge
}

func parseAspect(aspect string) (int, int) {
	w, h, ok := strings.Cut(aspect, ":")
	if !ok {
		return 1, 1
	}
	rw, err1 := strconv.Atoi(w)
	rh, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || rw <= 0 || rh <= 0 {
		return 1, 1
	}
	return rw, rh
}

func deterministicSeed(values ...any) uint64 {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return binary.BigEndian.Uint64(sum[:8])
}
