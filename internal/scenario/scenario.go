// Package scenario owns tenant scenario pools: loading, normalization, and
// compilation into immutable, versioned snapshots for Tier 1 matching.
package scenario

import "strings"

// Scenario is one unit of tenant conversational knowledge.
type Scenario struct {
	TenantID               string   `json:"tenantId" dynamodbav:"tenantId" yaml:"-"`
	ID                     string   `json:"id" dynamodbav:"scenarioId" yaml:"id"`
	Category               string   `json:"category,omitempty" dynamodbav:"category,omitempty" yaml:"category"`
	TriggerPhrases         []string `json:"triggerPhrases" dynamodbav:"triggerPhrases" yaml:"triggers"`
	NegativeTriggerPhrases []string `json:"negativeTriggerPhrases,omitempty" dynamodbav:"negativeTriggerPhrases,omitempty" yaml:"negativeTriggers"`
	RegexTriggers          []string `json:"regexTriggers,omitempty" dynamodbav:"regexTriggers,omitempty" yaml:"regexTriggers"`
	MinConfidence          float64  `json:"minConfidence" dynamodbav:"minConfidence" yaml:"minConfidence"`
	Priority               int      `json:"priority" dynamodbav:"priority" yaml:"priority"`
	QuickReplies           []string `json:"quickReplies,omitempty" dynamodbav:"quickReplies,omitempty" yaml:"quickReplies"`
	FullReplies            []string `json:"fullReplies,omitempty" dynamodbav:"fullReplies,omitempty" yaml:"fullReplies"`
	// Summary is the retrievable fact given to semantic scoring and Tier 3.
	Summary            string `json:"summary,omitempty" dynamodbav:"summary,omitempty" yaml:"summary"`
	IsEnabledForTenant bool   `json:"isEnabledForTenant" dynamodbav:"isEnabledForTenant" yaml:"enabled"`
}

// SummaryText falls back to the first reply when no summary is configured.
func (s Scenario) SummaryText() string {
	if v := strings.TrimSpace(s.Summary); v != "" {
		return v
	}
	for _, group := range [][]string{s.FullReplies, s.QuickReplies} {
		for _, r := range group {
			if v := strings.TrimSpace(r); v != "" {
				return v
			}
		}
	}
	return strings.Join(s.TriggerPhrases, "; ")
}

// Replies lists quick replies before full replies.
func (s Scenario) Replies() []string {
	out := make([]string, 0, len(s.QuickReplies)+len(s.FullReplies))
	for _, group := range [][]string{s.QuickReplies, s.FullReplies} {
		for _, r := range group {
			if v := strings.TrimSpace(r); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}

// Lexicon is the vocabulary used to normalize utterances and triggers.
type Lexicon struct {
	// Synonyms maps a canonical form to the variants rewritten into it.
	Synonyms    map[string][]string `json:"synonyms,omitempty" yaml:"synonyms"`
	FillerWords []string            `json:"fillerWords,omitempty" yaml:"fillers"`
	StopWords   []string            `json:"stopWords,omitempty" yaml:"stopwords"`
}

// Merge returns l extended by other. Synonym variants are unioned per canonical form.
func (l Lexicon) Merge(other Lexicon) Lexicon {
	out := Lexicon{Synonyms: make(map[string][]string, len(l.Synonyms)+len(other.Synonyms))}
	for _, src := range []map[string][]string{l.Synonyms, other.Synonyms} {
		for canonical, variants := range src {
			out.Synonyms[canonical] = appendUnique(out.Synonyms[canonical], variants...)
		}
	}
	out.FillerWords = appendUnique(appendUnique(nil, l.FillerWords...), other.FillerWords...)
	out.StopWords = appendUnique(appendUnique(nil, l.StopWords...), other.StopWords...)
	return out
}

func appendUnique(dst []string, values ...string) []string {
	seen := make(map[string]struct{}, len(dst)+len(values))
	for _, v := range dst {
		seen[v] = struct{}{}
	}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		dst = append(dst, v)
	}
	return dst
}
