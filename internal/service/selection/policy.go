// Package selection decides which backend tier serves a generation request.
// Selection is a pure function of the request: no I/O, no hidden state, and
// identical input always resolves to the same tier.
package selection

import (
	"strings"

	"github.com/ashita-ai/gazou/internal/model"
)

// DefaultSpeedTerms signal that the caller wants a fast, rough result.
var DefaultSpeedTerms = []string{"draft", "sketch", "quick", "prototype"}

// DefaultQualityTerms signal that the caller wants a polished result.
var DefaultQualityTerms = []string{"4k", "professional", "production", "high quality", "high-res"}

// Rule names the selection rule that produced a decision.
type Rule string

const (
	RuleExplicit    Rule = "explicit"
	RuleFeatureFlag Rule = "quality_feature"
	RuleSpeedTerm   Rule = "speed_term"
	RuleQualityTerm Rule = "quality_term"
	RuleDefault     Rule = "default"
)

// Lexicon holds the keyword lists consulted for AUTO requests.
type Lexicon struct {
	SpeedTerms   []string `yaml:"speed_terms"`
	QualityTerms []string `yaml:"quality_terms"`
}

// DefaultLexicon returns a copy of the built-in keyword lists.
func DefaultLexicon() Lexicon {
	return Lexicon{
		SpeedTerms:   append([]string(nil), DefaultSpeedTerms...),
		QualityTerms: append([]string(nil), DefaultQualityTerms...),
	}
}

// Decision is a resolved tier plus the rule that fired and, for lexicon
// rules, the matching term.
type Decision struct {
	Tier model.Tier
	Rule Rule
	Term string
}

// Policy resolves requests to tiers. The zero value is not usable; build one
// with New.
type Policy struct {
	speed   []string
	quality []string
}

// New creates a Policy. Terms are lowercased once here so Select never
// allocates for them.
func New(lex Lexicon) *Policy {
	return &Policy{
		speed:   lowerAll(lex.SpeedTerms),
		quality: lowerAll(lex.QualityTerms),
	}
}

// Select resolves req to FAST or QUALITY. It never fails: an unrecognised
// explicit tier is treated as AUTO.
func (p *Policy) Select(req model.Request) model.Tier {
	return p.Explain(req).Tier
}

// Explain is Select plus the rule that decided it. Rules are checked in a
// fixed order and the first match wins:
//
//  1. explicit FAST or QUALITY is returned unchanged
//  2. ULTRA resolution, grounding, or HIGH reasoning forces QUALITY
//  3. a speed term in the prompt selects FAST
//  4. a quality term in the prompt selects QUALITY
//  5. otherwise QUALITY
//
// A prompt containing both a speed and a quality term therefore resolves to
// FAST.
func (p *Policy) Explain(req model.Request) Decision {
	if req.Tier.Resolved() {
		return Decision{Tier: req.Tier, Rule: RuleExplicit}
	}

	if req.Resolution == model.ResolutionUltra || req.Grounding || req.Reasoning == model.ReasoningHigh {
		return Decision{Tier: model.TierQuality, Rule: RuleFeatureFlag}
	}

	prompt := strings.ToLower(req.Prompt)
	if term, ok := firstMatch(prompt, p.speed); ok {
		return Decision{Tier: model.TierFast, Rule: RuleSpeedTerm, Term: term}
	}
	if term, ok := firstMatch(prompt, p.quality); ok {
		return Decision{Tier: model.TierQuality, Rule: RuleQualityTerm, Term: term}
	}

	return Decision{Tier: model.TierQuality, Rule: RuleDefault}
}

func firstMatch(text string, terms []string) (string, bool) {
	for _, t := range terms {
		if t != "" && strings.Contains(text, t) {
			return t, true
		}
	}
	return "", false
}

func lowerAll(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}
