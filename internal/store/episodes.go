package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/tiermem/internal/model"
)

const episodeColumns = `id, session_id, summary, topics, takeaways, message_count, started_at, ended_at, created_at`

// AddEpisode records the summary of a finished session. A session can only
// have one episode.
func (s *SQLiteStore) AddEpisode(ctx context.Context, p EpisodeParams) (*model.Episode, error) {
	if strings.TrimSpace(p.SessionID) == "" {
		return nil, fmt.Errorf("add episode: session id is required")
	}
	if strings.TrimSpace(p.Summary) == "" {
		return nil, fmt.Errorf("add episode: summary is required")
	}

	e := &model.Episode{
		ID:           s.NewID(),
		SessionID:    p.SessionID,
		Summary:      p.Summary,
		Topics:       nonNil(p.Topics),
		Takeaways:    nonNil(p.Takeaways),
		MessageCount: p.MessageCount,
		StartedAt:    p.StartedAt,
		EndedAt:      p.EndedAt,
		CreatedAt:    s.now(),
	}
	topics, _ := json.Marshal(e.Topics)
	takeaways, _ := json.Marshal(e.Takeaways)

	err := s.withRetry(ctx, "add episode", func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO episodes (`+episodeColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.SessionID, e.Summary, string(topics), string(takeaways), e.MessageCount,
			nullTime(e.StartedAt), nullTime(e.EndedAt), formatTime(e.CreatedAt))
		return err
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("add episode %s: %w", p.SessionID, ErrEpisodeExists)
		}
		return nil, fmt.Errorf("add episode: %w", err)
	}
	return e, nil
}

// GetEpisodeBySession returns the episode recorded for a session.
func (s *SQLiteStore) GetEpisodeBySession(ctx context.Context, sessionID string) (*model.Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE session_id = ?`, sessionID)
	e, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return &e, nil
}

// ListEpisodes returns episodes newest first. A limit of 0 returns all.
func (s *SQLiteStore) ListEpisodes(ctx context.Context, limit int) ([]model.Episode, error) {
	query := `SELECT ` + episodeColumns + ` FROM episodes ORDER BY created_at DESC, id DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var out []model.Episode
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEpisodes returns the number of recorded episodes.
func (s *SQLiteStore) CountEpisodes(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count episodes: %w", err)
	}
	return n, nil
}

func scanEpisode(sc scanner) (model.Episode, error) {
	var e model.Episode
	var topics, takeaways, startedAt, endedAt sql.NullString
	var createdAt string
	err := sc.Scan(&e.ID, &e.SessionID, &e.Summary, &topics, &takeaways, &e.MessageCount,
		&startedAt, &endedAt, &createdAt)
	if err != nil {
		return e, err
	}
	if topics.Valid {
		json.Unmarshal([]byte(topics.String), &e.Topics)
	}
	if takeaways.Valid {
		json.Unmarshal([]byte(takeaways.String), &e.Takeaways)
	}
	if startedAt.Valid {
		e.StartedAt = parseTime(startedAt.String)
	}
	if endedAt.Valid {
		e.EndedAt = parseTime(endedAt.String)
	}
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
