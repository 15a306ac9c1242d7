package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rcliao/tiermem/internal/model"
)

// Export is a portable dump of all three tiers. Vectors are not exported;
// they depend on the embedder and are recomputed on import.
type Export struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exported_at"`
	CoreFacts  []model.CoreFact  `json:"core_facts"`
	Knowledge  []model.Knowledge `json:"knowledge"`
	Episodes   []model.Episode   `json:"episodes"`
}

// ImportCounts reports what Import stored.
type ImportCounts struct {
	CoreFacts       int `json:"core_facts"`
	Knowledge       int `json:"knowledge"`
	Episodes        int `json:"episodes"`
	SkippedEpisodes int `json:"skipped_episodes"`
}

// ExportAll returns every record of every tier.
func (s *SQLiteStore) ExportAll(ctx context.Context) (*Export, error) {
	facts, err := s.ListCoreFacts(ctx)
	if err != nil {
		return nil, err
	}
	knowledge, err := s.ListKnowledge(ctx, ListParams{})
	if err != nil {
		return nil, err
	}
	episodes, err := s.ListEpisodes(ctx, 0)
	if err != nil {
		return nil, err
	}
	return &Export{
		Version:    FormatVersion,
		ExportedAt: s.now(),
		CoreFacts:  facts,
		Knowledge:  knowledge,
		Episodes:   episodes,
	}, nil
}

// Import stores the records of an export as new rows. Episodes whose
// session already has one are skipped. embed, when non-nil, supplies
// vectors for knowledge snippets.
func (s *SQLiteStore) Import(ctx context.Context, ex *Export, embed func(ctx context.Context, text string) []float32) (ImportCounts, error) {
	var c ImportCounts
	if ex == nil {
		return c, nil
	}
	if ex.Version > FormatVersion {
		return c, fmt.Errorf("import: export version %d is newer than %d", ex.Version, FormatVersion)
	}

	for _, f := range ex.CoreFacts {
		added, err := s.AddCoreFact(ctx, f.Content, f.Category, f.Importance)
		if err != nil {
			return c, err
		}
		if !f.Active {
			if _, err := s.SetCoreFactActive(ctx, added.ID, false); err != nil {
				return c, err
			}
		}
		c.CoreFacts++
	}

	for _, k := range ex.Knowledge {
		p := KnowledgeParams{
			Content:    k.Content,
			Category:   k.Category,
			Importance: k.Importance,
			Source:     k.Source,
			Tags:       k.Tags,
			SessionID:  k.SessionID,
		}
		if embed != nil {
			p.Embedding = embed(ctx, k.Content)
		}
		if _, err := s.AddKnowledge(ctx, p); err != nil {
			return c, err
		}
		c.Knowledge++
	}

	for _, e := range ex.Episodes {
		_, err := s.AddEpisode(ctx, EpisodeParams{
			SessionID:    e.SessionID,
			Summary:      e.Summary,
			Topics:       e.Topics,
			Takeaways:    e.Takeaways,
			MessageCount: e.MessageCount,
			StartedAt:    e.StartedAt,
			EndedAt:      e.EndedAt,
		})
		if errors.Is(err, ErrEpisodeExists) {
			c.SkippedEpisodes++
			continue
		}
		if err != nil {
			return c, err
		}
		c.Episodes++
	}
	return c, nil
}
