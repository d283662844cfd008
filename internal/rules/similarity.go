package rules

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// tokenRegex extracts letter/digit runs after regex metacharacters are
// discarded. Works for Korean as well as ASCII patterns.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// patternTokens returns the set of alphanumeric tokens (longer than one
// rune) in a regex pattern, lowercased.
func patternTokens(pattern string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range tokenRegex.FindAllString(strings.ToLower(pattern), -1) {
		if utf8.RuneCountInString(tok) > 1 {
			tokens[tok] = true
		}
	}
	return tokens
}

// PatternSimilarity computes the Jaccard similarity of the token sets of two
// regex patterns, in [0, 1]. Patterns with no usable tokens score 0.
func PatternSimilarity(a, b string) float64 {
	ta, tb := patternTokens(a), patternTokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
