package generation

import (
	"strings"

	"github.com/ashita-ai/gazou/internal/model"
	"github.com/ashita-ai/gazou/internal/service/imagegen"
)

// Default longest-edge limits per tier, in pixels.
const (
	DefaultFastMaxEdge    = 1024
	DefaultQualityMaxEdge = 3840
)

// shortPromptLen is the length under which QUALITY prompts get the
// narrative template.
const shortPromptLen = 50

// Profile holds everything that differs between tiers. One orchestrator
// runs every tier; only the profile changes.
type Profile struct {
	Tier    model.Tier
	MaxEdge int
}

// ProfileFor returns the profile for a resolved tier with the given edge
// limit. A non-positive maxEdge selects the tier default.
func ProfileFor(tier model.Tier, maxEdge int) Profile {
	if maxEdge <= 0 {
		maxEdge = DefaultFastMaxEdge
		if tier == model.TierQuality {
			maxEdge = DefaultQualityMaxEdge
		}
	}
	return Profile{Tier: tier, MaxEdge: maxEdge}
}

// BuildConfig derives the backend configuration for req. FAST drops
// reasoning and grounding; QUALITY maps resolution to an image size and
// reasons deeply unless told otherwise.
func (p Profile) BuildConfig(req model.Request) imagegen.Config {
	cfg := imagegen.Config{
		MaxEdge:     p.MaxEdge,
		AspectRatio: req.AspectRatio,
	}
	if p.Tier != model.TierQuality {
		return cfg
	}

	switch req.Resolution {
	case model.ResolutionUltra:
		cfg.ImageSize = "4K"
	case model.ResolutionHigh:
		cfg.ImageSize = "2K"
	default:
		cfg.ImageSize = "1K"
	}
	cfg.Reasoning = req.Reasoning
	if cfg.Reasoning == model.ReasoningUnset {
		cfg.Reasoning = model.ReasoningHigh
	}
	cfg.Grounding = req.Grounding
	cfg.HighMediaResolution = len(req.References) > 0
	return cfg
}

// EnhancePrompt rewrites prompt for the tier and appends the negative
// prompt as an explicit constraint block.
func (p Profile) EnhancePrompt(prompt string, req model.Request) string {
	enhanced := prompt

	if p.Tier == model.TierQuality && req.Mode != model.ModeEdit {
		if len([]rune(prompt)) < shortPromptLen {
			enhanced = "Create a high-quality, detailed image: " + prompt +
				". Pay attention to composition, lighting, and fine details."
		}
		if req.Resolution == model.ResolutionHigh || req.Resolution == model.ResolutionUltra {
			lower := strings.ToLower(prompt)
			if strings.Contains(lower, "text") || strings.Contains(lower, "diagram") {
				enhanced += " Ensure text is sharp and clearly readable at high resolution."
			}
			if req.Resolution == model.ResolutionUltra {
				enhanced += " Render at maximum 4K quality with exceptional detail."
			} else {
				enhanced += " Render at high resolution with crisp detail."
			}
		}
	}

	if neg := strings.TrimSpace(req.NegativePrompt); neg != "" {
		enhanced += "\n\nConstraints (avoid): " + neg
	}
	return enhanced
}
