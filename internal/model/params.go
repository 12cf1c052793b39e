package model

// Params carries the caller-facing generation fields before they are parsed
// into a Request. The MCP tool and the HTTP handler both fill one in.
type Params struct {
	Prompt            string
	NegativePrompt    string
	SystemInstruction string
	ModelTier         string
	Resolution        string
	AspectRatio       string
	ThinkingLevel     string
	EnableGrounding   bool
	N                 *int // nil means 1
	Mode              string
	References        []Image
}

// ToRequest parses and validates p. Lenient fields (an unknown model tier or
// thinking level) fall back to their defaults and are reported in warnings.
func (p Params) ToRequest() (Request, []string, error) {
	var warnings []string

	tier, ok := ParseTier(p.ModelTier)
	if !ok {
		warnings = append(warnings, "invalid model_tier "+quote(p.ModelTier)+", defaulting to auto")
	}
	reasoning, ok := ParseReasoningDepth(p.ThinkingLevel)
	if !ok {
		warnings = append(warnings, "invalid thinking_level "+quote(p.ThinkingLevel)+", defaulting to high")
	}
	resolution, err := ParseResolution(p.Resolution)
	if err != nil {
		return Request{}, warnings, err
	}
	mode, err := ParseMode(p.Mode, len(p.References))
	if err != nil {
		return Request{}, warnings, err
	}
	n := 1
	if p.N != nil {
		n = *p.N
	}

	req := Request{
		Prompt:            p.Prompt,
		NegativePrompt:    p.NegativePrompt,
		SystemInstruction: p.SystemInstruction,
		Tier:              tier,
		Count:             n,
		Resolution:        resolution,
		Reasoning:         reasoning,
		Grounding:         p.EnableGrounding,
		AspectRatio:       p.AspectRatio,
		Mode:              mode,
		References:        p.References,
	}
	if err := req.Validate(); err != nil {
		return Request{}, warnings, err
	}
	return req, warnings, nil
}

func quote(s string) string {
	return "'" + s + "'"
}
