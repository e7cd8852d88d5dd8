package scenario

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var quoteReplacer = strings.NewReplacer(
	"‘", "'", "’", "'", "‛", "'", "′", "'",
	"“", "\"", "”", "\"", "‟", "\"",
)

// Fold lowercases s, strips diacritics, and straightens curly quotes.
func Fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(quoteReplacer.Replace(folded))
}

// Tokenize splits folded text into letter/digit runs. Apostrophes are
// dropped inside words so "don't" becomes "dont".
func Tokenize(folded string) []string {
	var tokens []string
	var b strings.Builder
	flush := func() {
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'':
		default:
			flush()
		}
	}
	flush()
	return tokens
}

// Analysis is a normalized utterance.
type Analysis struct {
	// Folded is the lowercased, diacritic-free text; regex triggers run on it.
	Folded string
	// Tokens have fillers removed and synonyms applied.
	Tokens []string
	// Content is Tokens without stop words.
	Content []string
}

// Normalized is the canonical space-joined token form.
func (a Analysis) Normalized() string {
	return strings.Join(a.Tokens, " ")
}

type rewriteRule struct {
	from []string
	to   []string
}

// Normalizer applies a Lexicon. It is immutable after construction.
type Normalizer struct {
	fillers   []rewriteRule
	synonyms  []rewriteRule
	stopWords map[string]struct{}
}

func NewNormalizer(lex Lexicon) *Normalizer {
	n := &Normalizer{stopWords: make(map[string]struct{}, len(lex.StopWords))}
	for _, f := range lex.FillerWords {
		if toks := Tokenize(Fold(f)); len(toks) > 0 {
			n.fillers = append(n.fillers, rewriteRule{from: toks})
		}
	}
	for canonical, variants := range lex.Synonyms {
		to := Tokenize(Fold(canonical))
		if len(to) == 0 {
			continue
		}
		for _, v := range variants {
			from := Tokenize(Fold(v))
			if len(from) == 0 || equalTokens(from, to) {
				continue
			}
			n.synonyms = append(n.synonyms, rewriteRule{from: from, to: to})
		}
	}
	for _, w := range lex.StopWords {
		for _, tok := range Tokenize(Fold(w)) {
			n.stopWords[tok] = struct{}{}
		}
	}
	sortRules(n.fillers)
	sortRules(n.synonyms)
	return n
}

// longest match first, then lexical for a stable order
func sortRules(rules []rewriteRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if len(rules[i].from) != len(rules[j].from) {
			return len(rules[i].from) > len(rules[j].from)
		}
		fi, fj := strings.Join(rules[i].from, " "), strings.Join(rules[j].from, " ")
		if fi != fj {
			return fi < fj
		}
		return strings.Join(rules[i].to, " ") < strings.Join(rules[j].to, " ")
	})
}

// Analyze folds, tokenizes, strips fillers, and applies synonyms.
func (n *Normalizer) Analyze(text string) Analysis {
	folded := Fold(text)
	tokens := rewrite(Tokenize(folded), n.fillers)
	tokens = rewrite(tokens, n.synonyms)
	return Analysis{Folded: folded, Tokens: tokens, Content: n.ContentTokens(tokens)}
}

// ContentTokens drops stop words.
func (n *Normalizer) ContentTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, stop := n.stopWords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

// IsStopWord reports whether tok is ignored for matching.
func (n *Normalizer) IsStopWord(tok string) bool {
	_, ok := n.stopWords[tok]
	return ok
}

func rewrite(tokens []string, rules []rewriteRule) []string {
	if len(rules) == 0 {
		return tokens
	}
	out := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		matched := false
		for _, rule := range rules {
			if hasPrefixTokens(tokens[i:], rule.from) {
				out = append(out, rule.to...)
				i += len(rule.from)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, tokens[i])
			i++
		}
	}
	return out
}

func hasPrefixTokens(tokens, prefix []string) bool {
	if len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

func equalTokens(a, b []string) bool {
	return len(a) == len(b) && hasPrefixTokens(a, b)
}
