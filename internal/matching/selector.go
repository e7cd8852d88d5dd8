// Package matching is the Tier 1 rule matcher: it scores a tenant's compiled
// scenarios against an utterance by trigger containment, regex, and
// negative-trigger exclusion.
package matching

import (
	"math"
	"sort"

	"github.com/wolfman30/voice-turn-core/internal/scenario"
)

// MatchKind says how a candidate's best trigger matched.
type MatchKind string

const (
	MatchPhrase  MatchKind = "phrase"
	MatchTokens  MatchKind = "tokens"
	MatchPartial MatchKind = "partial"
	MatchRegex   MatchKind = "regex"
)

// Weights tunes scoring. Scores are clamped to [0,1].
type Weights struct {
	Phrase        float64 // all trigger tokens, contiguous and in order
	Tokens        float64 // all trigger tokens, any order
	CoverageBonus float64 // scaled by trigger tokens / utterance content tokens
	PartialBase   float64
	PartialSpan   float64 // scaled by matched / trigger tokens
	PartialMin    float64 // minimum matched ratio for partial credit
	FuzzyPenalty  float64 // per token matched only within one edit
	Regex         float64
}

func DefaultWeights() Weights {
	return Weights{
		Phrase:        0.9,
		Tokens:        0.75,
		CoverageBonus: 0.1,
		PartialBase:   0.4,
		PartialSpan:   0.4,
		PartialMin:    0.5,
		FuzzyPenalty:  0.1,
		Regex:         0.9,
	}
}

// Context carries per-call selection hints.
type Context struct {
	// MaxCandidates caps the returned candidate list. Zero means 10.
	MaxCandidates int
	// PreferredCategory breaks ties left after priority and trigger length.
	PreferredCategory string
}

// Candidate is one scored scenario.
type Candidate struct {
	Scenario       *scenario.CompiledScenario
	Score          float64
	Kind           MatchKind
	MatchedTrigger string
	FuzzyTokens    int
}

// ID is the scenario id.
func (c Candidate) ID() string { return c.Scenario.ID }

// Result is the outcome of Select. Best is nil when nothing scored above zero.
type Result struct {
	Best       *Candidate
	Confidence float64
	Candidates []Candidate
	Analysis   scenario.Analysis
	UsedIndex  bool
	Scanned    int
}

// Selector is stateless; one instance can serve every tenant concurrently.
type Selector struct {
	weights Weights
}

func NewSelector(weights Weights) *Selector {
	return &Selector{weights: weights}
}

// Select scores pool against utterance. It has no side effects.
func (s *Selector) Select(utterance string, pool *scenario.CompiledPool, sctx Context) Result {
	if pool == nil || pool.Len() == 0 {
		return Result{}
	}
	analysis := pool.Normalizer().Analyze(utterance)
	res := Result{Analysis: analysis}
	if len(analysis.Tokens) == 0 {
		return res
	}

	var pending []*scenario.CompiledScenario
	if pool.HasIndex() {
		res.UsedIndex = true
		pending = indexedCandidates(pool, analysis.Content)
	} else {
		pending = pool.Scenarios
	}
	res.Scanned = len(pending)

	for _, sc := range pending {
		if c, ok := s.score(analysis, sc); ok {
			res.Candidates = append(res.Candidates, c)
		}
	}
	if len(res.Candidates) == 0 {
		return res
	}

	sort.SliceStable(res.Candidates, func(i, j int) bool {
		return better(res.Candidates[i], res.Candidates[j], sctx.PreferredCategory)
	})
	limit := sctx.MaxCandidates
	if limit <= 0 {
		limit = 10
	}
	if len(res.Candidates) > limit {
		res.Candidates = res.Candidates[:limit]
	}
	best := res.Candidates[0]
	res.Best = &best
	res.Confidence = best.Score
	return res
}

// indexedCandidates unions the posting lists of the utterance's content
// tokens (and their one-edit neighbours in the vocabulary) with every
// regex-bearing scenario.
func indexedCandidates(pool *scenario.CompiledPool, content []string) []*scenario.CompiledScenario {
	ids := make(map[string]struct{})
	for _, tok := range content {
		postings := pool.KeywordIndex[tok]
		if len(postings) == 0 {
			for _, near := range fuzzyVocabulary(tok, pool.Vocabulary) {
				postings = append(postings, pool.KeywordIndex[near]...)
			}
		}
		for _, id := range postings {
			ids[id] = struct{}{}
		}
	}
	for _, id := range pool.RegexScenarios {
		ids[id] = struct{}{}
	}

	out := make([]*scenario.CompiledScenario, 0, len(ids))
	for _, sc := range pool.Scenarios {
		if _, ok := ids[sc.ID]; ok {
			out = append(out, sc)
		}
	}
	return out
}

func (s *Selector) score(a scenario.Analysis, sc *scenario.CompiledScenario) (Candidate, bool) {
	for _, neg := range sc.Negatives {
		if containsRun(a.Content, neg.Tokens) {
			return Candidate{}, false
		}
	}

	best := Candidate{Scenario: sc}
	for _, trig := range sc.Triggers {
		c := s.scoreTrigger(a.Content, trig)
		c.Scenario = sc
		if c.Score > best.Score+epsilon || (math.Abs(c.Score-best.Score) <= epsilon && c.Score > 0 && len(c.MatchedTrigger) < len(best.MatchedTrigger)) {
			best = c
		}
	}
	for _, re := range sc.Regexes {
		if re.MatchString(a.Folded) && s.weights.Regex > best.Score+epsilon {
			best = Candidate{Scenario: sc, Score: s.weights.Regex, Kind: MatchRegex, MatchedTrigger: re.String()}
		}
	}
	return best, best.Score > 0
}

func (s *Selector) scoreTrigger(content []string, trig scenario.Phrase) Candidate {
	n := len(trig.Tokens)
	if n == 0 || len(content) == 0 {
		return Candidate{}
	}
	coverage := float64(n) / float64(max(n, len(content)))
	if containsRun(content, trig.Tokens) {
		return Candidate{
			Score:          clamp(s.weights.Phrase + s.weights.CoverageBonus*coverage),
			Kind:           MatchPhrase,
			MatchedTrigger: trig.Text,
		}
	}

	used := make([]bool, len(content))
	positions := make([]int, 0, n)
	matched, fuzzyHits := 0, 0
	for _, want := range trig.Tokens {
		pos := indexOf(content, used, want, false)
		if pos < 0 {
			if pos = indexOf(content, used, want, true); pos >= 0 {
				fuzzyHits++
			}
		}
		if pos >= 0 {
			used[pos] = true
			matched++
			positions = append(positions, pos)
		}
	}

	penalty := s.weights.FuzzyPenalty * float64(fuzzyHits)
	if matched == n {
		base, kind := s.weights.Tokens, MatchTokens
		if isRun(positions) {
			base, kind = s.weights.Phrase, MatchPhrase
		}
		return Candidate{
			Score:          clamp(base + s.weights.CoverageBonus*coverage - penalty),
			Kind:           kind,
			MatchedTrigger: trig.Text,
			FuzzyTokens:    fuzzyHits,
		}
	}

	ratio := float64(matched) / float64(n)
	if n >= 2 && ratio >= s.weights.PartialMin {
		return Candidate{
			Score:          clamp(s.weights.PartialBase + s.weights.PartialSpan*ratio - penalty),
			Kind:           MatchPartial,
			MatchedTrigger: trig.Text,
			FuzzyTokens:    fuzzyHits,
		}
	}
	return Candidate{}
}

const epsilon = 1e-9

// better orders by score, then priority, then the shortest (most specific)
// matched trigger, then preferred category, then id.
func better(a, b Candidate, preferred string) bool {
	if math.Abs(a.Score-b.Score) > epsilon {
		return a.Score > b.Score
	}
	if a.Scenario.Priority != b.Scenario.Priority {
		return a.Scenario.Priority > b.Scenario.Priority
	}
	if len(a.MatchedTrigger) != len(b.MatchedTrigger) {
		return len(a.MatchedTrigger) < len(b.MatchedTrigger)
	}
	if preferred != "" {
		ap, bp := a.Scenario.Category == preferred, b.Scenario.Category == preferred
		if ap != bp {
			return ap
		}
	}
	return a.Scenario.ID < b.Scenario.ID
}

func containsRun(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

func indexOf(content []string, used []bool, want string, fuzzy bool) int {
	for i, tok := range content {
		if used[i] {
			continue
		}
		if tok == want || (fuzzy && fuzzyEqual(tok, want)) {
			return i
		}
	}
	return -1
}

func isRun(positions []int) bool {
	for i := 1; i < len(positions); i++ {
		if positions[i] != positions[i-1]+1 {
			return false
		}
	}
	return true
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
