package selection

import "github.com/ashita-ai/gazou/internal/model"

// TierInfo describes one backend tier for display and for building backend
// configuration.
type TierInfo struct {
	Tier      model.Tier `json:"tier"`
	Name      string     `json:"name"`
	Emoji     string     `json:"emoji"`
	Model     string     `json:"model_id"`
	MaxEdge   int        `json:"max_resolution"`
	Grounding bool       `json:"supports_grounding"`
	Reasoning bool       `json:"supports_thinking"`
	BestFor   string     `json:"best_for"`
}

// Catalogue maps each resolved tier to its description.
type Catalogue map[model.Tier]TierInfo

// NewCatalogue builds the two-tier catalogue from configured model ids and
// maximum output edges.
func NewCatalogue(fastModel string, fastMaxEdge int, qualityModel string, qualityMaxEdge int) Catalogue {
	return Catalogue{
		model.TierFast: {
			Tier:    model.TierFast,
			Name:    "Flash",
			Emoji:   "⚡",
			Model:   fastModel,
			MaxEdge: fastMaxEdge,
			BestFor: "rapid prototyping and drafts",
		},
		model.TierQuality: {
			Tier:      model.TierQuality,
			Name:      "Pro",
			Emoji:     "🏆",
			Model:     qualityModel,
			MaxEdge:   qualityMaxEdge,
			Grounding: true,
			Reasoning: true,
			BestFor:   "production assets, legible text, factual subjects",
		},
	}
}

// Ordered returns the tiers fast-first, for stable listings.
func (c Catalogue) Ordered() []TierInfo {
	out := make([]TierInfo, 0, len(c))
	for _, t := range []model.Tier{model.TierFast, model.TierQuality} {
		if info, ok := c[t]; ok {
			out = append(out, info)
		}
	}
	return out
}
