package scenario

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

var (
	defaultLexicon     Lexicon
	defaultLexiconErr  error
	defaultLexiconOnce sync.Once
)

// DefaultLexicon returns the embedded shared vocabulary. It panics if the
// embedded file is malformed, which only a bad build can cause.
func DefaultLexicon() Lexicon {
	defaultLexiconOnce.Do(func() {
		defaultLexicon, defaultLexiconErr = ParseLexicon(defaultsYAML)
	})
	if defaultLexiconErr != nil {
		panic(defaultLexiconErr)
	}
	return defaultLexicon
}

// ParseLexicon decodes a YAML lexicon document.
func ParseLexicon(data []byte) (Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return Lexicon{}, fmt.Errorf("scenario: parse lexicon: %w", err)
	}
	return lex, nil
}
