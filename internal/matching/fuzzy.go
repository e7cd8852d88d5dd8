package matching

import (
	"github.com/sahilm/fuzzy"
)

// minFuzzyLen keeps short tokens ("ac", "gas") exact-only.
const minFuzzyLen = 4

// fuzzyEqual reports whether a and b differ by one dropped, added, or
// substituted character. Both must be at least minFuzzyLen long.
func fuzzyEqual(a, b string) bool {
	if a == b {
		return true
	}
	if len(a) < minFuzzyLen || len(b) < minFuzzyLen {
		return false
	}
	switch len(a) - len(b) {
	case 0:
		return hammingOne(a, b)
	case 1:
		return isSubsequence(b, a)
	case -1:
		return isSubsequence(a, b)
	default:
		return false
	}
}

// isSubsequence uses fuzzy's in-order character match.
func isSubsequence(pattern, word string) bool {
	return len(fuzzy.Find(pattern, []string{word})) == 1
}

func hammingOne(a, b string) bool {
	diff := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			diff++
			if diff > 1 {
				return false
			}
		}
	}
	return diff == 1
}

// fuzzyVocabulary returns vocabulary entries within one edit of tok.
func fuzzyVocabulary(tok string, vocabulary []string) []string {
	if len(tok) < minFuzzyLen {
		return nil
	}
	var out []string
	for _, v := range vocabulary {
		if v != tok && fuzzyEqual(tok, v) {
			out = append(out, v)
		}
	}
	return out
}
