package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/rcliao/tiermem/internal/embedding"
	"github.com/rcliao/tiermem/internal/model"
	"github.com/rcliao/tiermem/internal/store"
)

// DefaultLimit is used when a request has no limit.
const DefaultLimit = 10

// Default keyword quality floors. Keyword scores are negated BM25 ranks.
// BM25 weights a term found in half or more of the rows at nearly zero, so
// on a corpus of a few rows a snippet can miss the floor even for a query
// that repeats its own content. Semantic backfill covers that case when an
// embedder is configured.
const (
	DefaultKeywordFloor         = 1.0
	DefaultSpecificKeywordFloor = 0.5
)

// KnowledgeStore is the subset of the store the retriever reads and touches.
type KnowledgeStore interface {
	SearchKnowledgeFTS(ctx context.Context, text string, category model.Category, limit int) ([]store.KeywordHit, error)
	ListEmbeddedKnowledge(ctx context.Context, category model.Category) ([]model.Knowledge, error)
	TouchKnowledge(ctx context.Context, ids []int64) (time.Time, error)
}

// Options tunes a Retriever. A nil floor uses its default; zero keeps
// every keyword match.
type Options struct {
	KeywordFloor         *float64
	SpecificKeywordFloor *float64
	Now                  func() time.Time
	Logger               *slog.Logger
}

// Floor returns a pointer to v for Options.
func Floor(v float64) *float64 { return &v }

// Retriever runs the query pipeline over a store and an optional embedder.
type Retriever struct {
	store         KnowledgeStore
	embedder      embedding.Embedder
	opts          Options
	keywordFloor  float64
	specificFloor float64
	logger        *slog.Logger
}

// New creates a Retriever. A nil embedder disables semantic backfill.
func New(s KnowledgeStore, e embedding.Embedder, opts Options) *Retriever {
	r := &Retriever{
		store:         s,
		embedder:      e,
		keywordFloor:  DefaultKeywordFloor,
		specificFloor: DefaultSpecificKeywordFloor,
	}
	if opts.KeywordFloor != nil {
		r.keywordFloor = *opts.KeywordFloor
	}
	if opts.SpecificKeywordFloor != nil {
		r.specificFloor = *opts.SpecificKeywordFloor
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	r.opts = opts
	r.logger = opts.Logger
	return r
}

// Request is a knowledge query.
type Request struct {
	Text     string
	Category model.Category
	Limit    int
}

// Result is one ranked snippet. Similarity is set for semantic matches.
type Result struct {
	Knowledge  model.Knowledge `json:"knowledge"`
	Score      float64         `json:"score"`
	MatchType  MatchType       `json:"match_type"`
	Similarity float64         `json:"similarity,omitempty"`
}

// Query returns at most req.Limit snippets ranked for the query. Returned
// snippets have their access count bumped, and the copies reflect it.
func (r *Retriever) Query(ctx context.Context, req Request) ([]Result, error) {
	results := []Result{}
	if strings.TrimSpace(req.Text) == "" {
		return results, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	a := Analyze(req.Text)
	dyn := DynamicLimit(a, limit)

	cands, err := r.keyword(ctx, req, a, dyn)
	if err != nil {
		return nil, err
	}
	keywordCount := len(cands)

	if len(cands) < dyn && r.embedder != nil {
		sem, err := r.semantic(ctx, req, a, dyn)
		if err != nil {
			r.logger.Warn("semantic search unavailable, using keyword results only", "error", err)
		} else {
			cands = mergeByID(cands, sem)
		}
	}

	cands = Dedupe(cands)
	Rescore(cands, a, r.opts.Now())
	cands = AdaptiveLimit(cands, dyn)
	if len(cands) > limit {
		cands = cands[:limit]
	}

	r.logger.Debug("knowledge query",
		"tokens", len(a.Tokens), "specific", a.Specific, "factual", a.Factual, "preference", a.Preference,
		"dynamic_limit", dyn, "keyword", keywordCount, "returned", len(cands))

	if len(cands) == 0 {
		return results, nil
	}

	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.Knowledge.ID
	}
	touched, err := r.store.TouchKnowledge(ctx, ids)
	if err != nil {
		r.logger.Warn("access bookkeeping failed", "error", err)
	}

	for _, c := range cands {
		k := c.Knowledge
		if err == nil {
			k.AccessCount++
			k.UpdatedAt = touched
		}
		results = append(results, Result{
			Knowledge:  k,
			Score:      c.Score,
			MatchType:  c.MatchType,
			Similarity: c.Similarity,
		})
	}
	return results, nil
}

func (r *Retriever) keyword(ctx context.Context, req Request, a Analysis, dyn int) ([]Candidate, error) {
	hits, err := r.store.SearchKnowledgeFTS(ctx, req.Text, req.Category, 2*dyn)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	floor := r.keywordFloor
	if a.Specific {
		floor = r.specificFloor
	}
	var out []Candidate
	for _, h := range hits {
		if h.Score < floor {
			continue
		}
		out = append(out, Candidate{Knowledge: h.Knowledge, Score: h.Score, MatchType: MatchKeyword})
	}
	return out, nil
}

func (r *Retriever) semantic(ctx context.Context, req Request, a Analysis, dyn int) ([]Candidate, error) {
	q, err := r.embedder.Embed(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	rows, err := r.store.ListEmbeddedKnowledge(ctx, req.Category)
	if err != nil {
		return nil, fmt.Errorf("scan embeddings: %w", err)
	}

	threshold := CorpusThreshold(len(rows), len(a.Tokens))
	var out []Candidate
	for _, k := range rows {
		sim, err := embedding.CosineSimilarity(q, k.Embedding)
		if err != nil {
			r.logger.Debug("skipping snippet with mismatched vector", "id", k.ID, "dims", len(k.Embedding))
			continue
		}
		if sim < threshold || sim < a.MinSemantic {
			continue
		}
		out = append(out, Candidate{Knowledge: k, Score: sim, MatchType: MatchSemantic, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > dyn {
		out = out[:dyn]
	}
	return out, nil
}

// mergeByID appends semantic candidates not already found by keyword.
func mergeByID(keyword, semantic []Candidate) []Candidate {
	seen := make(map[int64]bool, len(keyword))
	for _, c := range keyword {
		seen[c.Knowledge.ID] = true
	}
	for _, c := range semantic {
		if seen[c.Knowledge.ID] {
			continue
		}
		seen[c.Knowledge.ID] = true
		keyword = append(keyword, c)
	}
	return keyword
}
