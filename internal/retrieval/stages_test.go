package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/tiermem/internal/model"
)

func TestAnalyze(t *testing.T) {
	tests := []struct {
		query       string
		specific    bool
		factual     bool
		preference  bool
		complexity  float64
		minSemantic float64
	}{
		{"dark mode", false, false, false, 0.2, 0.7},
		{"dark mode preference", true, false, true, 0.3, 0.6},
		{"What is the API rate limit", true, true, false, 0.6, 0.5},
		{"notes from the trip to New York in 2019", true, false, false, 0.9, 0.5},
		{"how do I like my coffee in the morning usually", false, true, true, 1.0, 0.6},
		{"tell me about it", false, false, false, 0.4, 0.4},
		{"Where?", false, true, false, 0.1, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			a := Analyze(tt.query)
			assert.Equal(t, tt.specific, a.Specific, "specific")
			assert.Equal(t, tt.factual, a.Factual, "factual")
			assert.Equal(t, tt.preference, a.Preference, "preference")
			assert.InDelta(t, tt.complexity, a.Complexity, 1e-9, "complexity")
			assert.InDelta(t, tt.minSemantic, a.MinSemantic, 1e-9, "min semantic")
		})
	}
}

func TestDynamicLimit(t *testing.T) {
	specificSimple := Analysis{Specific: true, Complexity: 0.2}
	complexQuery := Analysis{Complexity: 1.0}
	plain := Analysis{Complexity: 0.5}

	tests := []struct {
		name  string
		a     Analysis
		limit int
		want  int
	}{
		{"default", plain, 0, 10},
		{"unchanged", plain, 7, 7},
		{"specific halves", specificSimple, 10, 5},
		{"specific floor", specificSimple, 4, 3},
		{"complex scales", complexQuery, 5, 6},
		{"complex capped", complexQuery, 10, 12},
		{"complex never shrinks", complexQuery, 20, 20},
		{"specific but complex", Analysis{Specific: true, Complexity: 0.9}, 10, 12},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DynamicLimit(tt.a, tt.limit))
		})
	}
}

func TestCorpusThreshold(t *testing.T) {
	assert.Equal(t, 0.6, CorpusThreshold(21, 5))
	assert.Equal(t, 0.5, CorpusThreshold(11, 1))
	assert.Equal(t, 0.45, CorpusThreshold(10, 2))
	assert.Equal(t, 0.4, CorpusThreshold(10, 3))
	assert.Equal(t, 0.4, CorpusThreshold(0, 5))
}

func cand(id int64, content string, score float64) Candidate {
	return Candidate{Knowledge: model.Knowledge{ID: id, Content: content}, Score: score, MatchType: MatchKeyword}
}

func TestDedupe_CollapsesNearDuplicates(t *testing.T) {
	in := []Candidate{
		cand(2, "User prefers dark mode in code editor", 2.0),
		cand(1, "User prefers dark mode in the code editor", 3.0),
		cand(3, "Deploys happen every Friday afternoon", 1.5),
		cand(4, "Favorite coffee is a flat white", 1.2),
		cand(5, "Backups are kept for seven days", 1.0),
	}
	out := Dedupe(in)
	require.Len(t, out, 4)
	ids := []int64{}
	for _, c := range out {
		ids = append(ids, c.Knowledge.ID)
	}
	assert.Contains(t, ids, int64(1), "higher scored duplicate survives")
	assert.NotContains(t, ids, int64(2))
}

func TestDedupe_SkipsSmallSets(t *testing.T) {
	in := []Candidate{
		cand(1, "User prefers dark mode", 2.0),
		cand(2, "User prefers dark mode", 1.0),
		cand(3, "User prefers dark mode", 0.5),
	}
	assert.Len(t, Dedupe(in), 3)
}

func TestDedupe_KeepsModerateOverlap(t *testing.T) {
	in := []Candidate{
		cand(1, "golang note about topic01 and detail01", 1),
		cand(2, "golang note about topic02 and detail02", 1),
		cand(3, "golang note about topic03 and detail03", 1),
		cand(4, "golang note about topic04 and detail04", 1),
	}
	assert.Len(t, Dedupe(in), 4)
}

func TestRescore(t *testing.T) {
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	cands := []Candidate{
		{Knowledge: model.Knowledge{ID: 1, Category: model.CategoryFact, UpdatedAt: now.Add(-60 * 24 * time.Hour)}, Score: 1},
		{Knowledge: model.Knowledge{ID: 2, Category: model.CategoryPreference, Importance: 1, AccessCount: 20, UpdatedAt: now}, Score: 1},
	}

	Rescore(cands, Analysis{Preference: true}, now)

	require.Equal(t, int64(2), cands[0].Knowledge.ID)
	assert.InDelta(t, 1.75, cands[0].Score, 1e-9)
	assert.InDelta(t, 1.0, cands[1].Score, 1e-9)
}

func TestRescore_FactualBonus(t *testing.T) {
	now := time.Now()
	cands := []Candidate{
		{Knowledge: model.Knowledge{ID: 1, Category: model.CategoryPersonal, UpdatedAt: now}, Score: 1},
		{Knowledge: model.Knowledge{ID: 2, Category: model.CategoryTechnical, UpdatedAt: now}, Score: 1},
	}
	Rescore(cands, Analysis{Factual: true}, now)
	assert.Equal(t, int64(2), cands[0].Knowledge.ID)
	assert.InDelta(t, 0.2, cands[0].Score-cands[1].Score, 1e-9)
}

func TestAdaptiveLimit(t *testing.T) {
	scores := func(vals ...float64) []Candidate {
		out := make([]Candidate, len(vals))
		for i, v := range vals {
			out[i] = cand(int64(i+1), "", v)
		}
		return out
	}

	// Within the limit: untouched.
	assert.Len(t, AdaptiveLimit(scores(3, 2, 1), 3), 3)

	// A clear leader clears mean+0.5σ alone.
	out := AdaptiveLimit(scores(10, 1, 1, 1, 1, 1, 1), 3)
	require.Len(t, out, 1)
	assert.Equal(t, 10.0, out[0].Score)

	// Flat scores keep everything above threshold, which exceeds 1.5×limit.
	out = AdaptiveLimit(scores(1, 1, 1, 1, 1, 1, 1, 1, 1, 1), 3)
	assert.Len(t, out, 3)
}

func TestAdaptiveLimit_NothingAboveThreshold(t *testing.T) {
	in := []Candidate{}
	for i := 0; i < 9; i++ {
		in = append(in, cand(int64(i+1), "", 1))
	}
	in = append(in, cand(10, "", 0))

	out := AdaptiveLimit(in, 4)
	assert.Len(t, out, 4)
}
