package episodes

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/tiermem/internal/embedding"
	"github.com/rcliao/tiermem/internal/model"
	"github.com/rcliao/tiermem/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "memory.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addEpisode(t *testing.T, s *store.SQLiteStore, session, summary string, topics ...string) *model.Episode {
	t.Helper()
	ep, err := s.AddEpisode(context.Background(), store.EpisodeParams{
		SessionID:    session,
		Summary:      summary,
		Topics:       topics,
		MessageCount: 4,
	})
	require.NoError(t, err)
	return ep
}

func TestRecall_EmptyStore(t *testing.T) {
	s := newTestStore(t)
	x := NewIndex(s, embedding.NewHashEmbedder(128), nil)

	hits, err := x.Recall(context.Background(), "anything at all", 5)
	require.NoError(t, err)
	assert.NotNil(t, hits)
	assert.Empty(t, hits)
}

func TestRecall_RanksMostSimilarFirst(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	addEpisode(t, s, "s-tax", "Talked through quarterly tax filing deadlines and receipts", "taxes")
	hugo := addEpisode(t, s, "s-hugo", "Migrated the personal blog from Jekyll to Hugo and planned deploys", "blog", "hugo")
	addEpisode(t, s, "s-hike", "Planned a weekend hiking trip along the coast", "hiking")

	x := NewIndex(s, embedding.NewHashEmbedder(256), nil)
	hits, err := x.Recall(ctx, "hugo blog migration", 10)
	require.NoError(t, err)
	require.Len(t, hits, 3, "limit larger than the index is capped")
	assert.Equal(t, hugo.ID, hits[0].Episode.ID)
	assert.Equal(t, "s-hugo", hits[0].Episode.SessionID)
	assert.GreaterOrEqual(t, hits[0].Similarity, hits[1].Similarity)

	hits, err = x.Recall(ctx, "hugo blog migration", 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestRecall_AddAfterBuildAndReset(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	addEpisode(t, s, "s-1", "Discussed sourdough starter feeding schedule", "baking")

	x := NewIndex(s, embedding.NewHashEmbedder(128), nil)
	hits, err := x.Recall(ctx, "sourdough", 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	ep := addEpisode(t, s, "s-2", "Reviewed the kubernetes cluster upgrade runbook", "kubernetes")
	require.NoError(t, x.Add(ctx, *ep))
	hits, err = x.Recall(ctx, "kubernetes upgrade", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, ep.ID, hits[0].Episode.ID)

	// Written behind the index's back; only a rebuild sees it.
	addEpisode(t, s, "s-3", "Chose paint colors for the kitchen", "home")
	hits, err = x.Recall(ctx, "kitchen paint", 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	x.Reset()
	hits, err = x.Recall(ctx, "kitchen paint", 5)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "s-3", hits[0].Episode.SessionID)
}

func TestRecall_Disabled(t *testing.T) {
	s := newTestStore(t)
	addEpisode(t, s, "s-1", "Anything")
	x := NewIndex(s, nil, nil)

	require.NoError(t, x.Add(context.Background(), model.Episode{ID: "e"}))
	hits, err := x.Recall(context.Background(), "anything", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDocument(t *testing.T) {
	doc := Document(model.Episode{Summary: "Summary.", Topics: []string{"a", "b"}, Takeaways: []string{"x", "y"}})
	assert.Equal(t, "Summary.\nTopics: a, b\nTakeaways: x; y", doc)
	assert.Equal(t, "Only", Document(model.Episode{Summary: "Only"}))
}
