package retrieval

import (
	"math"
	"sort"
	"time"

	"github.com/rcliao/tiermem/internal/model"
)

// MatchType records which index produced a candidate.
type MatchType string

const (
	MatchKeyword  MatchType = "keyword"
	MatchSemantic MatchType = "semantic"
)

// Candidate is a snippet moving through the pipeline.
type Candidate struct {
	Knowledge  model.Knowledge
	Score      float64
	MatchType  MatchType
	Similarity float64
}

const (
	dedupSkipAtOrBelow = 3
	dedupOverlap       = 0.7
)

// Dedupe drops candidates whose significant words overlap an already
// accepted, higher-scored candidate by more than 70%. Sets of three or
// fewer are returned unchanged.
func Dedupe(cands []Candidate) []Candidate {
	if len(cands) <= dedupSkipAtOrBelow {
		return cands
	}
	sorted := append([]Candidate(nil), cands...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var kept []Candidate
	var keptWords []map[string]bool
	for _, c := range sorted {
		words := significantWords(c.Knowledge.Content)
		dup := false
		for _, w := range keptWords {
			if jaccard(words, w) > dedupOverlap {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, c)
		keptWords = append(keptWords, words)
	}
	return kept
}

func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range tokenize(text) {
		if len([]rune(w)) > 3 {
			words[w] = true
		}
	}
	return words
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if b[w] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Re-scoring weights.
const (
	recencyWeight     = 0.1
	recencyWindowDays = 30.0
	accessPerHit      = 0.02
	accessCap         = 0.2
	importanceWeight  = 0.15
	preferenceBonus   = 0.3
	factualBonus      = 0.2
)

// Rescore adds recency, access, importance and category bonuses to each
// candidate's raw score and sorts by the result, highest first.
func Rescore(cands []Candidate, a Analysis, now time.Time) {
	for i := range cands {
		k := cands[i].Knowledge
		days := now.Sub(k.UpdatedAt).Hours() / 24
		bonus := recencyWeight * math.Max(0, 1-math.Max(0, days)/recencyWindowDays)
		bonus += math.Min(accessPerHit*float64(k.AccessCount), accessCap)
		bonus += k.Importance * importanceWeight
		if a.Preference && k.Category == model.CategoryPreference {
			bonus += preferenceBonus
		}
		if a.Factual && (k.Category == model.CategoryFact || k.Category == model.CategoryTechnical) {
			bonus += factualBonus
		}
		cands[i].Score += bonus
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
}

// AdaptiveLimit trims a score-sorted list longer than limit. Results at or
// above mean+0.5σ are kept when they fit in 1.5×limit; otherwise the list
// is cut to limit. A skewed distribution can put every score under the
// threshold, which also cuts to limit.
func AdaptiveLimit(cands []Candidate, limit int) []Candidate {
	if len(cands) <= limit {
		return cands
	}
	var sum float64
	for _, c := range cands {
		sum += c.Score
	}
	mean := sum / float64(len(cands))
	var variance float64
	for _, c := range cands {
		variance += (c.Score - mean) * (c.Score - mean)
	}
	threshold := mean + 0.5*math.Sqrt(variance/float64(len(cands)))

	var kept []Candidate
	for _, c := range cands {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) > 0 && float64(len(kept)) <= 1.5*float64(limit) {
		return kept
	}
	return cands[:limit]
}
