package scenario

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Phrase is a trigger phrase and its normalized content tokens.
type Phrase struct {
	Text   string
	Tokens []string
}

// CompiledScenario is a Scenario with pre-normalized triggers.
type CompiledScenario struct {
	Scenario
	Triggers  []Phrase
	Negatives []Phrase
	Regexes   []*regexp.Regexp

	pool *CompiledPool
}

// Pool returns the snapshot this scenario was compiled into.
func (c *CompiledScenario) Pool() *CompiledPool { return c.pool }

// CompiledPool is an immutable, versioned snapshot of a tenant's enabled
// scenarios plus the indexes Tier 1 needs. Never mutate one after Compile.
type CompiledPool struct {
	TenantID string
	// Version fingerprints the scenarios and lexicon; equal inputs give equal versions.
	Version string
	BuiltAt time.Time

	Scenarios []*CompiledScenario
	// KeywordIndex maps a content token to the ids of scenarios whose triggers use it.
	KeywordIndex map[string][]string
	// RegexScenarios lists scenarios with regex triggers. They are always
	// candidates because a regex can match without any indexed token.
	RegexScenarios []string
	// Vocabulary is the sorted key set of KeywordIndex.
	Vocabulary  []string
	Synonyms    map[string][]string
	FillerWords []string
	// Warnings records triggers that could not be compiled.
	Warnings []string

	normalizer *Normalizer
	byID       map[string]*CompiledScenario
}

// Normalizer returns the normalizer built from the pool's lexicon.
func (p *CompiledPool) Normalizer() *Normalizer { return p.normalizer }

// Scenario looks up a scenario by id.
func (p *CompiledPool) Scenario(id string) (*CompiledScenario, bool) {
	sc, ok := p.byID[id]
	return sc, ok
}

// Len is the number of enabled scenarios.
func (p *CompiledPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Scenarios)
}

// HasIndex reports whether keyword lookup is available.
func (p *CompiledPool) HasIndex() bool {
	return p != nil && len(p.KeywordIndex) > 0
}

// Compile builds a pool snapshot. Disabled scenarios are dropped, scenarios
// are ordered by id, and bad regex triggers are skipped with a warning.
func Compile(tenantID string, scenarios []Scenario, lex Lexicon, now time.Time) (*CompiledPool, error) {
	enabled := make([]Scenario, 0, len(scenarios))
	seen := make(map[string]struct{}, len(scenarios))
	for _, sc := range scenarios {
		if !sc.IsEnabledForTenant {
			continue
		}
		if strings.TrimSpace(sc.ID) == "" {
			return nil, fmt.Errorf("scenario: tenant %s has a scenario without id", tenantID)
		}
		if _, dup := seen[sc.ID]; dup {
			return nil, fmt.Errorf("scenario: tenant %s has duplicate scenario id %s", tenantID, sc.ID)
		}
		seen[sc.ID] = struct{}{}
		enabled = append(enabled, sc)
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].ID < enabled[j].ID })

	version, err := fingerprint(enabled, lex)
	if err != nil {
		return nil, err
	}

	pool := &CompiledPool{
		TenantID:     tenantID,
		Version:      version,
		BuiltAt:      now,
		Scenarios:    make([]*CompiledScenario, 0, len(enabled)),
		KeywordIndex: make(map[string][]string),
		Synonyms:     lex.Synonyms,
		FillerWords:  lex.FillerWords,
		normalizer:   NewNormalizer(lex),
		byID:         make(map[string]*CompiledScenario, len(enabled)),
	}

	for _, sc := range enabled {
		cs := &CompiledScenario{Scenario: sc, pool: pool}
		for _, text := range sc.TriggerPhrases {
			if ph, ok := pool.phrase(text); ok {
				cs.Triggers = append(cs.Triggers, ph)
			} else {
				pool.Warnings = append(pool.Warnings, fmt.Sprintf("%s: trigger %q has no content words", sc.ID, text))
			}
		}
		for _, text := range sc.NegativeTriggerPhrases {
			if ph, ok := pool.phrase(text); ok {
				cs.Negatives = append(cs.Negatives, ph)
			}
		}
		for _, expr := range sc.RegexTriggers {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				pool.Warnings = append(pool.Warnings, fmt.Sprintf("%s: regex %q: %v", sc.ID, expr, err))
				continue
			}
			cs.Regexes = append(cs.Regexes, re)
		}

		indexed := make(map[string]struct{})
		for _, ph := range cs.Triggers {
			for _, tok := range ph.Tokens {
				if _, done := indexed[tok]; done {
					continue
				}
				indexed[tok] = struct{}{}
				pool.KeywordIndex[tok] = append(pool.KeywordIndex[tok], sc.ID)
			}
		}
		if len(cs.Regexes) > 0 {
			pool.RegexScenarios = append(pool.RegexScenarios, sc.ID)
		}

		pool.Scenarios = append(pool.Scenarios, cs)
		pool.byID[sc.ID] = cs
	}

	pool.Vocabulary = make([]string, 0, len(pool.KeywordIndex))
	for tok := range pool.KeywordIndex {
		pool.Vocabulary = append(pool.Vocabulary, tok)
	}
	sort.Strings(pool.Vocabulary)
	return pool, nil
}

func (p *CompiledPool) phrase(text string) (Phrase, bool) {
	a := p.normalizer.Analyze(text)
	if len(a.Content) == 0 {
		return Phrase{}, false
	}
	return Phrase{Text: strings.TrimSpace(text), Tokens: a.Content}, true
}

func fingerprint(scenarios []Scenario, lex Lexicon) (string, error) {
	canonical := struct {
		Scenarios []Scenario `json:"scenarios"`
		Lexicon   Lexicon    `json:"lexicon"`
	}{scenarios, canonicalLexicon(lex)}
	data, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("scenario: fingerprint pool: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8]), nil
}

func canonicalLexicon(lex Lexicon) Lexicon {
	out := Lexicon{Synonyms: make(map[string][]string, len(lex.Synonyms))}
	for k, v := range lex.Synonyms {
		vs := append([]string(nil), v...)
		sort.Strings(vs)
		out.Synonyms[k] = vs
	}
	out.FillerWords = append([]string(nil), lex.FillerWords...)
	sort.Strings(out.FillerWords)
	out.StopWords = append([]string(nil), lex.StopWords...)
	sort.Strings(out.StopWords)
	return out
}
