package selection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadLexicon reads keyword overrides from a YAML file of the form
//
//	speed_terms: [draft, sketch]
//	quality_terms: [4k, professional]
//
// A list that is missing or empty keeps its default. An empty path returns
// the defaults.
func LoadLexicon(path string) (Lexicon, error) {
	lex := DefaultLexicon()
	if path == "" {
		return lex, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return Lexicon{}, fmt.Errorf("selection: read lexicon: %w", err)
	}

	var override Lexicon
	if err := yaml.Unmarshal(data, &override); err != nil {
		return Lexicon{}, fmt.Errorf("selection: parse lexicon %s: %w", path, err)
	}
	if len(override.SpeedTerms) > 0 {
		lex.SpeedTerms = override.SpeedTerms
	}
	if len(override.QualityTerms) > 0 {
		lex.QualityTerms = override.QualityTerms
	}
	return lex, nil
}
