// Package reflection summarizes finished conversations into episodes and
// extracts new memories from them.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rcliao/tiermem/internal/llm"
	"github.com/rcliao/tiermem/internal/model"
	"github.com/rcliao/tiermem/internal/store"
)

// DefaultMaxChars bounds the transcript sent to the generator.
const DefaultMaxChars = 12000

// TruncationMarker is appended to a cut transcript.
const TruncationMarker = "\n...[conversation truncated]"

const systemPrompt = `You review a finished conversation between a user and their personal assistant.
Respond with a single JSON object and nothing else, using exactly these keys:

{
  "summary": "two or three sentences describing what happened",
  "topics": ["short topic", "..."],
  "takeaways": ["decision, outcome or follow-up", "..."],
  "facts": [
    {
      "content": "a standalone statement about the user worth remembering",
      "category": "identity | instruction | preference | project | personal | fact | technical",
      "importance": 0.0,
      "is_core": false
    }
  ]
}

Only extract facts that will still be true and useful in future conversations.
Set is_core to true only for stable, high-importance facts about who the user is or how they want to be helped.
Importance is between 0 and 1.`

// Store is what reflection writes to.
type Store interface {
	AddEpisode(ctx context.Context, p store.EpisodeParams) (*model.Episode, error)
	AddCoreFact(ctx context.Context, content string, category model.Category, importance float64) (*model.CoreFact, error)
	AddKnowledge(ctx context.Context, p store.KnowledgeParams) (*model.Knowledge, error)
}

// Fact is a candidate memory extracted from a conversation.
type Fact struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Importance *float64 `json:"importance,omitempty"`
	IsCore     bool     `json:"is_core"`
}

// Summary is the parsed generator output plus what was stored from it.
type Summary struct {
	Summary   string   `json:"summary"`
	Topics    []string `json:"topics"`
	Takeaways []string `json:"takeaways"`
	Facts     []Fact   `json:"facts"`

	EpisodeID      string `json:"episode_id,omitempty"`
	CoreFactsAdded int    `json:"core_facts_added"`
	KnowledgeAdded int    `json:"knowledge_added"`
}

// Options tunes a Reflector.
type Options struct {
	MaxChars int

	// Embed, when set, supplies vectors for extracted knowledge. A nil
	// return stores the snippet without one.
	Embed func(ctx context.Context, text string) []float32

	Logger *slog.Logger
}

// Reflector runs the end-of-session pipeline.
type Reflector struct {
	store  Store
	gen    llm.Generator
	opts   Options
	logger *slog.Logger
}

// New creates a Reflector.
func New(s Store, gen llm.Generator, opts Options) *Reflector {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Reflector{store: s, gen: gen, opts: opts, logger: opts.Logger}
}

// Reflect summarizes a session. It returns nil without storing anything
// when there are fewer than two turns or the generator output cannot be
// parsed. On success exactly one episode is stored before any fact.
func (r *Reflector) Reflect(ctx context.Context, sessionID string, turns []model.Turn) (*Summary, error) {
	if len(turns) < 2 {
		return nil, nil
	}
	if r.gen == nil {
		return nil, fmt.Errorf("reflect: no text generator configured")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("reflect: session id is required")
	}

	out, err := r.gen.Generate(ctx, systemPrompt, Transcript(turns, r.opts.MaxChars))
	if err != nil {
		return nil, fmt.Errorf("reflect: %w", err)
	}

	sum, err := parseSummary(out)
	if err != nil {
		r.logger.Warn("discarding reflection output", "session", sessionID, "error", err, "output_len", len(out))
		return nil, nil
	}

	ep, err := r.store.AddEpisode(ctx, store.EpisodeParams{
		SessionID:    sessionID,
		Summary:      sum.Summary,
		Topics:       sum.Topics,
		Takeaways:    sum.Takeaways,
		MessageCount: len(turns),
		StartedAt:    turns[0].Timestamp,
		EndedAt:      turns[len(turns)-1].Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("reflect: %w", err)
	}
	sum.EpisodeID = ep.ID

	for _, f := range sum.Facts {
		r.applyFact(ctx, sessionID, f, sum)
	}

	r.logger.Info("session reflected", "session", sessionID, "episode", ep.ID,
		"core_facts", sum.CoreFactsAdded, "knowledge", sum.KnowledgeAdded)
	return sum, nil
}

func (r *Reflector) applyFact(ctx context.Context, sessionID string, f Fact, sum *Summary) {
	content := strings.TrimSpace(f.Content)
	if content == "" {
		return
	}
	category := NormalizeCategory(f.Category)
	importance := 0.5
	if f.Importance != nil {
		importance = model.ClampImportance(*f.Importance)
	}

	if f.IsCore {
		if _, err := r.store.AddCoreFact(ctx, content, category, importance); err != nil {
			r.logger.Warn("store reflected core fact", "error", err)
			return
		}
		sum.CoreFactsAdded++
		return
	}

	p := store.KnowledgeParams{
		Content:    content,
		Category:   category,
		Importance: importance,
		Source:     model.SourceReflection,
		SessionID:  sessionID,
	}
	if r.opts.Embed != nil {
		p.Embedding = r.opts.Embed(ctx, content)
	}
	if _, err := r.store.AddKnowledge(ctx, p); err != nil {
		r.logger.Warn("store reflected knowledge", "error", err)
		return
	}
	sum.KnowledgeAdded++
}

func parseSummary(out string) (*Summary, error) {
	block, err := ExtractJSONBlock(out)
	if err != nil {
		return nil, err
	}
	var sum Summary
	if err := json.Unmarshal([]byte(block), &sum); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	sum.Summary = strings.TrimSpace(sum.Summary)
	if sum.Summary == "" {
		return nil, fmt.Errorf("decode summary: empty summary")
	}
	sum.EpisodeID, sum.CoreFactsAdded, sum.KnowledgeAdded = "", 0, 0
	return &sum, nil
}

// NormalizeCategory maps free-form category text to a known category,
// falling back to fact.
func NormalizeCategory(s string) model.Category {
	c := model.Category(strings.ToLower(strings.TrimSpace(s)))
	if model.ValidCategories[c] {
		return c
	}
	return model.CategoryFact
}

// Transcript renders turns as "ROLE: content" lines, cut to maxChars runes
// with a trailing marker when too long.
func Transcript(turns []model.Turn, maxChars int) string {
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteString("\n")
		}
		role := strings.ToUpper(strings.TrimSpace(t.Role))
		if role == "" {
			role = "UNKNOWN"
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	text := sb.String()
	if maxChars > 0 {
		if runes := []rune(text); len(runes) > maxChars {
			return string(runes[:maxChars]) + TruncationMarker
		}
	}
	return text
}
