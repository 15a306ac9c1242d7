// Package episodes provides semantic recall over episode summaries.
package episodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/rcliao/tiermem/internal/embedding"
	"github.com/rcliao/tiermem/internal/model"
)

const collectionName = "episodes"

// Source lists stored episodes. A limit of 0 returns all of them.
type Source interface {
	ListEpisodes(ctx context.Context, limit int) ([]model.Episode, error)
}

// Hit is one recalled episode.
type Hit struct {
	Episode    model.Episode `json:"episode"`
	Similarity float64       `json:"similarity"`
}

// Index is an in-memory vector index over episodes, built from the store
// on first use and kept current by Add.
type Index struct {
	src      Source
	embedder embedding.Embedder
	logger   *slog.Logger

	mu       sync.Mutex
	col      *chromem.Collection
	episodes map[string]model.Episode
}

// NewIndex creates an Index. A nil embedder disables recall.
func NewIndex(src Source, e embedding.Embedder, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{src: src, embedder: e, logger: logger}
}

// Document is the text embedded for an episode.
func Document(ep model.Episode) string {
	var sb strings.Builder
	sb.WriteString(ep.Summary)
	if len(ep.Topics) > 0 {
		sb.WriteString("\nTopics: ")
		sb.WriteString(strings.Join(ep.Topics, ", "))
	}
	if len(ep.Takeaways) > 0 {
		sb.WriteString("\nTakeaways: ")
		sb.WriteString(strings.Join(ep.Takeaways, "; "))
	}
	return sb.String()
}

// Add indexes a newly stored episode. Before the index is built this is a
// no-op since the build reads every episode from the store.
func (x *Index) Add(ctx context.Context, ep model.Episode) error {
	if x.embedder == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.col == nil {
		return nil
	}
	return x.addLocked(ctx, ep)
}

// Reset drops the index so the next Recall rebuilds it, e.g. after a
// restore or import.
func (x *Index) Reset() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.col = nil
	x.episodes = nil
}

// Recall returns up to limit episodes most similar to query.
func (x *Index) Recall(ctx context.Context, query string, limit int) ([]Hit, error) {
	if x.embedder == nil || strings.TrimSpace(query) == "" {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 5
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.col == nil {
		if err := x.buildLocked(ctx); err != nil {
			return nil, err
		}
	}

	n := min(limit, x.col.Count())
	if n == 0 {
		return []Hit{}, nil
	}

	qv, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("recall episodes: %w", err)
	}
	results, err := x.col.QueryEmbedding(ctx, embedding.Normalize(qv), n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("recall episodes: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		ep, ok := x.episodes[r.ID]
		if !ok {
			continue
		}
		hits = append(hits, Hit{Episode: ep, Similarity: float64(r.Similarity)})
	}
	return hits, nil
}

func (x *Index) buildLocked(ctx context.Context) error {
	db := chromem.NewDB()
	col, err := db.CreateCollection(collectionName, nil, nil)
	if err != nil {
		return fmt.Errorf("create episode collection: %w", err)
	}
	x.col = col
	x.episodes = make(map[string]model.Episode)

	eps, err := x.src.ListEpisodes(ctx, 0)
	if err != nil {
		x.col, x.episodes = nil, nil
		return fmt.Errorf("load episodes: %w", err)
	}
	for _, ep := range eps {
		if err := x.addLocked(ctx, ep); err != nil {
			x.logger.Warn("skip episode in recall index", "episode", ep.ID, "error", err)
		}
	}
	x.logger.Debug("episode index built", "episodes", len(x.episodes))
	return nil
}

func (x *Index) addLocked(ctx context.Context, ep model.Episode) error {
	v, err := x.embedder.Embed(ctx, Document(ep))
	if err != nil {
		return fmt.Errorf("embed episode: %w", err)
	}
	doc := chromem.Document{
		ID:        ep.ID,
		Content:   ep.Summary,
		Embedding: embedding.Normalize(v),
		Metadata:  map[string]string{"session_id": ep.SessionID},
	}
	if err := x.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index episode: %w", err)
	}
	x.episodes[ep.ID] = ep
	return nil
}
