package model

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// Limits applied to every Request before it reaches the orchestrator.
const (
	MaxPromptLen            = 8192
	MaxNegativePromptLen    = 1024
	MaxSystemInstructionLen = 512
	MaxBatchSize            = 4
	MaxReferenceImages      = 3
)

// Validation error codes. They follow the E1xxx family reported to MCP clients.
const (
	CodeEmptyInput        = "E1001"
	CodeInvalidFormat     = "E1002"
	CodeSizeExceeded      = "E1003"
	CodeInvalidMode       = "E1004"
	CodeInvalidPath       = "E1005"
	CodeFileCountExceeded = "E1006"
)

// AspectRatios lists the output aspect ratios accepted by both tiers.
var AspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}

// Tier is a backend profile. TierAuto is only meaningful on a Request;
// the selection policy always resolves it before orchestration.
type Tier string

const (
	TierAuto    Tier = "auto"
	TierFast    Tier = "fast"
	TierQuality Tier = "quality"
)

// ParseTier accepts the canonical tier names and the caller-facing aliases
// "flash" and "pro". Empty input is AUTO. Unknown input returns TierAuto
// and ok=false so callers can log the fallback.
func ParseTier(s string) (tier Tier, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return TierAuto, true
	case "fast", "flash":
		return TierFast, true
	case "quality", "pro":
		return TierQuality, true
	default:
		return TierAuto, false
	}
}

// Resolved reports whether t names a concrete backend tier.
func (t Tier) Resolved() bool {
	return t == TierFast || t == TierQuality
}

// Resolution is a tier-dependent output size hint.
type Resolution string

const (
	ResolutionStandard Resolution = "standard"
	ResolutionHigh     Resolution = "high"
	ResolutionUltra    Resolution = "ultra"
)

// ParseResolution maps caller-facing values ("1k", "2k", "high", "4k") and the
// canonical names onto a Resolution. Empty input is STANDARD.
func ParseResolution(s string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "1k", "standard":
		return ResolutionStandard, nil
	case "2k", "high":
		return ResolutionHigh, nil
	case "4k", "ultra":
		return ResolutionUltra, nil
	default:
		return "", &ValidationError{Field: "resolution", Code: CodeInvalidFormat,
			Message: fmt.Sprintf("unsupported resolution %q (want 1k, 2k, high or 4k)", s)}
	}
}

// ReasoningDepth controls how much the quality tier deliberates before
// rendering. The zero value means the caller did not ask for a depth.
type ReasoningDepth string

const (
	ReasoningUnset ReasoningDepth = ""
	ReasoningLow   ReasoningDepth = "low"
	ReasoningHigh  ReasoningDepth = "high"
)

// ParseReasoningDepth parses "low" or "high". Empty input is unset. Any other
// value falls back to HIGH with ok=false.
func ParseReasoningDepth(s string) (depth ReasoningDepth, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return ReasoningUnset, true
	case "low":
		return ReasoningLow, true
	case "high":
		return ReasoningHigh, true
	default:
		return ReasoningHigh, false
	}
}

// Mode distinguishes fresh generation from editing a supplied image.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeEdit     Mode = "edit"
)

// ParseMode resolves "auto", "generate" or "edit". In auto mode exactly one
// reference image means edit; anything else means generate.
func ParseMode(s string, references int) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		if references == 1 {
			return ModeEdit, nil
		}
		return ModeGenerate, nil
	case "generate":
		return ModeGenerate, nil
	case "edit":
		return ModeEdit, nil
	default:
		return "", &ValidationError{Field: "mode", Code: CodeInvalidMode,
			Message: "mode must be 'auto', 'generate', or 'edit'"}
	}
}

// Image is an encoded image buffer with its MIME type.
type Image struct {
	Data     []byte
	MIMEType string
}

// Request is one logical generation ask. It is immutable once handed to the
// orchestrator.
type Request struct {
	Prompt            string
	NegativePrompt    string
	SystemInstruction string
	Tier              Tier
	Count             int
	Resolution        Resolution
	Reasoning         ReasoningDepth
	Grounding         bool
	AspectRatio       string
	Mode              Mode
	References        []Image
}

// Validate checks field bounds. It returns a *ValidationError naming the
// first offending field.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &ValidationError{Field: "prompt", Code: CodeEmptyInput, Message: "prompt is required"}
	}
	if utf8.RuneCountInString(r.Prompt) > MaxPromptLen {
		return &ValidationError{Field: "prompt", Code: CodeSizeExceeded,
			Message: fmt.Sprintf("prompt exceeds maximum length of %d characters", MaxPromptLen)}
	}
	if utf8.RuneCountInString(r.NegativePrompt) > MaxNegativePromptLen {
		return &ValidationError{Field: "negative_prompt", Code: CodeSizeExceeded,
			Message: fmt.Sprintf("negative_prompt exceeds maximum length of %d characters", MaxNegativePromptLen)}
	}
	if utf8.RuneCountInString(r.SystemInstruction) > MaxSystemInstructionLen {
		return &ValidationError{Field: "system_instruction", Code: CodeSizeExceeded,
			Message: fmt.Sprintf("system_instruction exceeds maximum length of %d characters", MaxSystemInstructionLen)}
	}
	if r.Count < 1 || r.Count > MaxBatchSize {
		return &ValidationError{Field: "n", Code: CodeInvalidFormat,
			Message: fmt.Sprintf("n must be between 1 and %d", MaxBatchSize)}
	}
	switch r.Tier {
	case TierAuto, TierFast, TierQuality, "":
	default:
		return &ValidationError{Field: "model_tier", Code: CodeInvalidFormat,
			Message: fmt.Sprintf("unknown model tier %q", r.Tier)}
	}
	switch r.Resolution {
	case ResolutionStandard, ResolutionHigh, ResolutionUltra, "":
	default:
		return &ValidationError{Field: "resolution", Code: CodeInvalidFormat,
			Message: fmt.Sprintf("unsupported resolution %q", r.Resolution)}
	}
	switch r.Reasoning {
	case ReasoningUnset, ReasoningLow, ReasoningHigh:
	default:
		return &ValidationError{Field: "thinking_level", Code: CodeInvalidFormat,
			Message: fmt.Sprintf("unsupported thinking level %q", r.Reasoning)}
	}
	if r.AspectRatio != "" && !slices.Contains(AspectRatios, r.AspectRatio) {
		return &ValidationError{Field: "aspect_ratio", Code: CodeInvalidFormat,
			Message: fmt.Sprintf("aspect_ratio must be one of %s", strings.Join(AspectRatios, ", "))}
	}
	if len(r.References) > MaxReferenceImages {
		return &ValidationError{Field: "input_image_paths", Code: CodeFileCountExceeded,
			Message: fmt.Sprintf("maximum %d input images allowed", MaxReferenceImages)}
	}
	for i, ref := range r.References {
		if len(ref.Data) == 0 {
			return &ValidationError{Field: fmt.Sprintf("input_image_path_%d", i+1), Code: CodeEmptyInput,
				Message: "input image is empty"}
		}
	}
	switch r.Mode {
	case ModeGenerate, "":
	case ModeEdit:
		if len(r.References) == 0 {
			return &ValidationError{Field: "mode", Code: CodeInvalidMode,
				Message: "edit mode requires at least one input image"}
		}
	default:
		return &ValidationError{Field: "mode", Code: CodeInvalidMode,
			Message: "mode must be 'generate' or 'edit'"}
	}
	return nil
}

// ValidationError reports a malformed Request. It never reaches the orchestrator.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}
