package reflection

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/tiermem/internal/llm"
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

func fixedGenerator(out string, calls *int) llm.Generator {
	return llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		if calls != nil {
			*calls++
		}
		return out, nil
	})
}

func conversation() []model.Turn {
	start := time.Date(2026, 7, 1, 18, 0, 0, 0, time.UTC)
	return []model.Turn{
		{Role: "user", Content: "I switched the blog to Hugo today", Timestamp: start},
		{Role: "assistant", Content: "Nice, want a deploy checklist?", Timestamp: start.Add(time.Minute)},
		{Role: "user", Content: "Yes, and remember I prefer short answers", Timestamp: start.Add(3 * time.Minute)},
	}
}

const goodOutput = "Here is the summary you asked for:\n```json\n" + `{
  "summary": "User migrated their blog to Hugo and asked for a deploy checklist.",
  "topics": ["blog", "hugo"],
  "takeaways": ["send deploy checklist"],
  "facts": [
    {"content": "User prefers short answers", "category": "preference", "importance": 0.9, "is_core": true},
    {"content": "The blog runs on Hugo", "category": "Project", "importance": 0.6, "is_core": false},
    {"content": "User writes about {braces} in posts", "category": "hobby", "importance": 7},
    {"content": "   ", "category": "fact"}
  ]
}` + "\n```\nLet me know if you need anything else."

func TestReflect_TooFewTurns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	calls := 0
	r := New(s, fixedGenerator(goodOutput, &calls), Options{})

	sum, err := r.Reflect(ctx, "s-empty", nil)
	require.NoError(t, err)
	assert.Nil(t, sum)

	sum, err = r.Reflect(ctx, "s-one", conversation()[:1])
	require.NoError(t, err)
	assert.Nil(t, sum)

	assert.Zero(t, calls)
	n, err := s.CountEpisodes(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReflect_Success(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	embedded := 0
	r := New(s, fixedGenerator(goodOutput, nil), Options{
		Embed: func(context.Context, string) []float32 { embedded++; return []float32{1, 0, 0} },
	})

	sum, err := r.Reflect(ctx, "s-1", conversation())
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, []string{"blog", "hugo"}, sum.Topics)
	assert.Equal(t, 1, sum.CoreFactsAdded)
	assert.Equal(t, 2, sum.KnowledgeAdded)
	assert.Equal(t, 2, embedded)

	ep, err := s.GetEpisodeBySession(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, sum.EpisodeID, ep.ID)
	assert.Equal(t, 3, ep.MessageCount)
	assert.True(t, ep.StartedAt.Equal(conversation()[0].Timestamp))
	assert.True(t, ep.EndedAt.Equal(conversation()[2].Timestamp))

	facts, err := s.ListActiveCoreFacts(ctx)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, "User prefers short answers", facts[0].Content)
	assert.Equal(t, model.CategoryPreference, facts[0].Category)

	knowledge, err := s.ListKnowledge(ctx, store.ListParams{})
	require.NoError(t, err)
	require.Len(t, knowledge, 2)
	byContent := map[string]model.Knowledge{}
	for _, k := range knowledge {
		byContent[k.Content] = k
		assert.Equal(t, model.SourceReflection, k.Source)
		assert.Equal(t, "s-1", k.SessionID)
	}
	assert.Equal(t, model.CategoryProject, byContent["The blog runs on Hugo"].Category)
	braces := byContent["User writes about {braces} in posts"]
	assert.Equal(t, model.CategoryFact, braces.Category, "unknown category falls back to fact")
	assert.Equal(t, 1.0, braces.Importance, "importance is clamped")
}

func TestReflect_UnparseableOutputStoresNothing(t *testing.T) {
	ctx := context.Background()
	for name, out := range map[string]string{
		"prose":         "I could not summarize this conversation.",
		"broken json":   `{"summary": "half done", "topics": [}`,
		"empty summary": `{"summary": "  ", "topics": []}`,
		"wrong shape":   `{"summary": 42}`,
	} {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t)
			r := New(s, fixedGenerator(out, nil), Options{})

			sum, err := r.Reflect(ctx, "s-bad", conversation())
			require.NoError(t, err)
			assert.Nil(t, sum)

			n, _ := s.CountEpisodes(ctx)
			assert.Zero(t, n)
			st, _ := s.Stats(ctx)
			assert.Zero(t, st.Knowledge)
			assert.Zero(t, st.CoreFacts)
		})
	}
}

func TestReflect_GeneratorErrorPropagates(t *testing.T) {
	s := newTestStore(t)
	boom := errors.New("rate limited")
	r := New(s, llm.GeneratorFunc(func(context.Context, string, string) (string, error) {
		return "", boom
	}), Options{})

	_, err := r.Reflect(context.Background(), "s-err", conversation())
	assert.ErrorIs(t, err, boom)
}

func TestReflect_OneEpisodePerSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	r := New(s, fixedGenerator(goodOutput, nil), Options{})

	_, err := r.Reflect(ctx, "s-dup", conversation())
	require.NoError(t, err)
	_, err = r.Reflect(ctx, "s-dup", conversation())
	assert.ErrorIs(t, err, store.ErrEpisodeExists)
}

func TestReflect_TruncatesTranscript(t *testing.T) {
	var sent string
	gen := llm.GeneratorFunc(func(_ context.Context, _, user string) (string, error) {
		sent = user
		return `{"summary": "long chat"}`, nil
	})
	s := newTestStore(t)
	r := New(s, gen, Options{MaxChars: 40})

	turns := []model.Turn{
		{Role: "user", Content: strings.Repeat("a", 100)},
		{Role: "assistant", Content: strings.Repeat("b", 100)},
	}
	sum, err := r.Reflect(context.Background(), "s-long", turns)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.True(t, strings.HasSuffix(sent, TruncationMarker))
	assert.Equal(t, 40+len(TruncationMarker), len([]rune(sent)))
	assert.True(t, strings.HasPrefix(sent, "USER: aaa"))
}

func TestTranscript(t *testing.T) {
	turns := []model.Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "hello"}}
	assert.Equal(t, "USER: hi\nASSISTANT: hello", Transcript(turns, 1000))
	assert.Equal(t, "USER: hi\nASSISTANT: hello", Transcript(turns, 0))
}

func TestNormalizeCategory(t *testing.T) {
	assert.Equal(t, model.CategoryTechnical, NormalizeCategory(" Technical "))
	assert.Equal(t, model.CategoryFact, NormalizeCategory("gossip"))
	assert.Equal(t, model.CategoryFact, NormalizeCategory(""))
}
