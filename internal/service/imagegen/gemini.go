package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/ashita-ai/gazou/internal/model"
)

// GeminiConfig configures a Gemini image adapter.
type GeminiConfig struct {
	APIKey     string
	Model      string
	Timeout    time.Duration // Per-call timeout; zero means rely on the caller's context.
	BaseURL    string        // Overrides the API endpoint. Used by tests.
	HTTPClient *http.Client
}

// GeminiAdapter generates images with a Gemini image model. One adapter is
// created per tier; the tier is expressed entirely through the Call config.
type GeminiAdapter struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGeminiAdapter creates an adapter backed by the Gemini API.
func NewGeminiAdapter(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*GeminiAdapter, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("gemini: model is required")
	}
	cc := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiAdapter{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Model returns the Gemini model id.
func (a *GeminiAdapter) Model() string {
	return a.model
}

// Watermarked is true: Gemini image outputs carry a SynthID watermark.
func (a *GeminiAdapter) Watermarked() bool { return true }

// Generate sends one generateContent call. Reference images precede the
// text part so the model treats them as the subject of the instruction.
func (a *GeminiAdapter) Generate(ctx context.Context, call Call) ([]model.Image, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	parts := make([]*genai.Part, 0, len(call.References)+1)
	for _, ref := range call.References {
		parts = append(parts, genai.NewPartFromBytes(ref.Data, ref.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(call.Prompt))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	start := time.Now()
	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, a.generateConfig(call))
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	images := extractImages(resp)
	a.logger.Debug("gemini: generate complete",
		"model", a.model,
		"images", len(images),
		"duration_ms", time.Since(start).Milliseconds())

	if len(images) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, &Error{Kind: InvalidInput, Op: "generate",
				Err: fmt.Errorf("prompt blocked: %s", resp.PromptFeedback.BlockReason)}
		}
	}
	return images, nil
}

func (a *GeminiAdapter) generateConfig(call Call) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}
	if call.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(call.SystemInstruction, genai.RoleUser)
	}
	if call.Config.AspectRatio != "" || call.Config.ImageSize != "" {
		cfg.ImageConfig = &genai.ImageConfig{
			AspectRatio: call.Config.AspectRatio,
			ImageSize:   call.Config.ImageSize,
		}
	}
	switch call.Config.Reasoning {
	case model.ReasoningHigh:
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: genai.ThinkingLevelHigh}
	case model.ReasoningLow:
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingLevel: genai.ThinkingLevelLow}
	}
	if call.Config.HighMediaResolution {
		cfg.MediaResolution = genai.MediaResolutionHigh
	}
	if call.Config.Grounding {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

// extractImages collects every inline image part across all candidates.
func extractImages(resp *genai.GenerateContentResponse) []model.Image {
	if resp == nil {
		return nil
	}
	var images []model.Image
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if !strings.HasPrefix(mime, "image/") {
				mime = ""
			}
			images = append(images, model.Image{Data: part.InlineData.Data, MIMEType: mime})
		}
	}
	return images
}

// classifyGeminiError maps SDK errors onto adapter error kinds.
func classifyGeminiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Transient, Op: "generate", Err: fmt.Errorf("timeout: %w", err)}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: Permanent, Op: "generate", Err: err}
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	default:
		// No status: a transport failure before the backend answered.
		return &Error{Kind: Transient, Op: "generate", Err: err}
	}

	switch {
	case code == http.StatusTooManyRequests:
		return &Error{Kind: Transient, Op: "generate", Err: fmt.Errorf("rate limited: %w", err)}
	case code == http.StatusRequestTimeout || code >= 500:
		return &Error{Kind: Transient, Op: "generate", Err: err}
	case code == http.StatusBadRequest:
		return &Error{Kind: InvalidInput, Op: "generate", Err: err}
	default:
		return &Error{Kind: Permanent, Op: "generate", Err: err}
	}
}
