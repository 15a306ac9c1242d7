// Package retrieval implements hybrid keyword and semantic knowledge search
// with query-adaptive thresholds and result limits.
package retrieval

import (
	"math"
	"regexp"
	"strings"
	"unicode"
)

var (
	yearPattern       = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	properNounPattern = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)

	domainKeywords = map[string]bool{"api": true, "config": true, "system": true}

	interrogatives = map[string]bool{
		"what": true, "when": true, "where": true, "how": true, "which": true, "who": true,
	}

	preferenceStems = []string{"prefer", "like", "want", "need", "favorite", "setting"}
)

// Semantic similarity floors by query type.
const (
	baseMinSemantic       = 0.4
	specificMinSemantic   = 0.5
	preferenceMinSemantic = 0.6
	shortMinSemantic      = 0.7
)

// Analysis is the classification of a query.
type Analysis struct {
	Tokens      []string
	Specific    bool
	Factual     bool
	Preference  bool
	Complexity  float64
	MinSemantic float64
}

// Analyze classifies a query and derives its minimum semantic similarity.
func Analyze(text string) Analysis {
	a := Analysis{Tokens: tokenize(text)}

	a.Specific = yearPattern.MatchString(text) || properNounPattern.MatchString(text)
	for _, tok := range a.Tokens {
		if domainKeywords[tok] || len([]rune(tok)) > 8 {
			a.Specific = true
		}
		if interrogatives[tok] {
			a.Factual = true
		}
		for _, stem := range preferenceStems {
			if strings.HasPrefix(tok, stem) {
				a.Preference = true
			}
		}
	}

	a.Complexity = math.Min(float64(len(a.Tokens))/10, 1)

	a.MinSemantic = baseMinSemantic
	if a.Specific {
		a.MinSemantic = specificMinSemantic
	}
	if a.Preference {
		a.MinSemantic = preferenceMinSemantic
	}
	if len(a.Tokens) < 3 {
		a.MinSemantic = shortMinSemantic
	}
	return a
}

// Complexity bands for DynamicLimit.
const (
	lowComplexity  = 0.3
	highComplexity = 0.8
	maxScaledLimit = 12
	minSpecificCap = 3
)

// DynamicLimit adjusts the requested limit to the query: specific simple
// queries get fewer results, complex ones slightly more.
func DynamicLimit(a Analysis, limit int) int {
	if limit <= 0 {
		limit = DefaultLimit
	}
	switch {
	case a.Specific && a.Complexity < lowComplexity:
		return max(limit/2, minSpecificCap)
	case a.Complexity >= highComplexity:
		scaled := min(int(math.Ceil(float64(limit)*1.2)), maxScaledLimit)
		return max(scaled, limit)
	default:
		return limit
	}
}

// CorpusThreshold is the semantic floor for a corpus of n embedded snippets.
func CorpusThreshold(n, tokens int) float64 {
	switch {
	case n > 20:
		return 0.6
	case n > 10:
		return 0.5
	case tokens < 3:
		return 0.45
	default:
		return 0.4
	}
}

// tokenize lowercases text and splits it on whitespace, trimming
// punctuation from each token.
func tokenize(text string) []string {
	var out []string
	for _, f := range strings.Fields(strings.ToLower(text)) {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
