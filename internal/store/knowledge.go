package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rcliao/tiermem/internal/embedding"
	"github.com/rcliao/tiermem/internal/model"
)

const knowledgeColumns = `k.id, k.content, k.category, k.importance, k.source, k.tags, k.session_id,
	k.embedding, k.access_count, k.created_at, k.updated_at`

// AddKnowledge stores a knowledge snippet. The full-text index is updated
// by trigger in the same statement.
func (s *SQLiteStore) AddKnowledge(ctx context.Context, p KnowledgeParams) (*model.Knowledge, error) {
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return nil, fmt.Errorf("add knowledge: content is required")
	}
	if !model.ValidCategories[p.Category] {
		return nil, fmt.Errorf("add knowledge: invalid category %q", p.Category)
	}
	source := p.Source
	if source == "" {
		source = model.SourceExplicit
	}
	if !model.ValidSources[source] {
		return nil, fmt.Errorf("add knowledge: invalid source %q", source)
	}
	if len(p.Embedding) > 0 && s.opts.EmbeddingDims > 0 && len(p.Embedding) != s.opts.EmbeddingDims {
		return nil, fmt.Errorf("add knowledge: %w: got %d, want %d",
			embedding.ErrDimensionMismatch, len(p.Embedding), s.opts.EmbeddingDims)
	}

	var tagsJSON *string
	if len(p.Tags) > 0 {
		b, _ := json.Marshal(p.Tags)
		t := string(b)
		tagsJSON = &t
	}
	var sessionID *string
	if p.SessionID != "" {
		sessionID = &p.SessionID
	}

	now := s.now()
	k := &model.Knowledge{
		Content:    content,
		Category:   p.Category,
		Importance: model.ClampImportance(p.Importance),
		Source:     source,
		Tags:       p.Tags,
		SessionID:  p.SessionID,
		Embedding:  p.Embedding,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.withRetry(ctx, "add knowledge", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO knowledge (content, category, importance, source, tags, session_id, embedding,
			                       access_count, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
			k.Content, string(k.Category), k.Importance, string(k.Source), tagsJSON, sessionID,
			encodeVector(k.Embedding), formatTime(now), formatTime(now))
		if err != nil {
			return err
		}
		k.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add knowledge: %w", err)
	}
	return k, nil
}

// GetKnowledge returns a snippet by id.
func (s *SQLiteStore) GetKnowledge(ctx context.Context, id int64) (*model.Knowledge, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+knowledgeColumns+` FROM knowledge k WHERE k.id = ?`, id)
	k, err := scanKnowledge(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get knowledge: %w", err)
	}
	return &k, nil
}

// ListKnowledge returns snippets newest first.
func (s *SQLiteStore) ListKnowledge(ctx context.Context, p ListParams) ([]model.Knowledge, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge k`
	var args []interface{}
	if p.Category != "" {
		query += ` WHERE k.category = ?`
		args = append(args, string(p.Category))
	}
	query += ` ORDER BY k.created_at DESC, k.id DESC`
	if p.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, p.Limit)
	}
	return s.queryKnowledge(ctx, query, args...)
}

// ListEmbeddedKnowledge returns every snippet that carries a vector.
func (s *SQLiteStore) ListEmbeddedKnowledge(ctx context.Context, category model.Category) ([]model.Knowledge, error) {
	query := `SELECT ` + knowledgeColumns + ` FROM knowledge k WHERE k.embedding IS NOT NULL`
	var args []interface{}
	if category != "" {
		query += ` AND k.category = ?`
		args = append(args, string(category))
	}
	return s.queryKnowledge(ctx, query+` ORDER BY k.id`, args...)
}

// CountEmbeddedKnowledge returns the number of snippets with a vector.
func (s *SQLiteStore) CountEmbeddedKnowledge(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge WHERE embedding IS NOT NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embedded knowledge: %w", err)
	}
	return n, nil
}

// SearchKnowledgeFTS runs a full-text query over snippet content. Terms are
// OR-ed; the score is the negated BM25 rank so higher is better.
func (s *SQLiteStore) SearchKnowledgeFTS(ctx context.Context, text string, category model.Category, limit int) ([]KeywordHit, error) {
	match := MatchQuery(text, "OR")
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT ` + knowledgeColumns + `, -bm25(knowledge_fts) AS score
		FROM knowledge_fts
		JOIN knowledge k ON k.id = knowledge_fts.rowid
		WHERE knowledge_fts MATCH ?`
	args := []interface{}{match}
	if category != "" {
		query += ` AND k.category = ?`
		args = append(args, string(category))
	}
	query += ` ORDER BY score DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()

	var hits []KeywordHit
	for rows.Next() {
		var h KeywordHit
		k, err := scanKnowledge(scoreScanner{rows, &h.Score})
		if err != nil {
			return nil, err
		}
		h.Knowledge = k
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteKnowledge removes a snippet by id.
func (s *SQLiteStore) DeleteKnowledge(ctx context.Context, id int64) (bool, error) {
	return s.execAffected(ctx, "delete knowledge", `DELETE FROM knowledge WHERE id = ?`, id)
}

// DeleteKnowledgeMatching removes every snippet containing all terms of the
// query and returns how many were removed.
func (s *SQLiteStore) DeleteKnowledgeMatching(ctx context.Context, text string) (int, error) {
	match := MatchQuery(text, "AND")
	if match == "" {
		return 0, nil
	}
	var n int64
	err := s.withRetry(ctx, "delete knowledge matching", func() error {
		res, err := s.db.ExecContext(ctx, `
			DELETE FROM knowledge WHERE id IN (
				SELECT rowid FROM knowledge_fts WHERE knowledge_fts MATCH ?
			)`, match)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete knowledge matching: %w", err)
	}
	return int(n), nil
}

// TouchKnowledge increments access_count and refreshes updated_at for each
// id in one transaction. It returns the timestamp written.
func (s *SQLiteStore) TouchKnowledge(ctx context.Context, ids []int64) (time.Time, error) {
	now := s.now()
	if len(ids) == 0 {
		return now, nil
	}
	err := s.withRetry(ctx, "touch knowledge", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx,
			`UPDATE knowledge SET access_count = access_count + 1, updated_at = ? WHERE id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		ts := formatTime(now)
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, ts, id); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return now, fmt.Errorf("touch knowledge: %w", err)
	}
	return now, nil
}

func (s *SQLiteStore) queryKnowledge(ctx context.Context, query string, args ...interface{}) ([]model.Knowledge, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query knowledge: %w", err)
	}
	defer rows.Close()

	var out []model.Knowledge
	for rows.Next() {
		k, err := scanKnowledge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// MatchQuery turns free text into an FTS5 query of quoted terms joined by
// op ("OR" or "AND"). Punctuation never reaches the FTS parser.
func MatchQuery(text, op string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(fields) == 0 {
		return ""
	}
	terms := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " "+op+" ")
}

// scoreScanner appends a trailing score column to a knowledge row scan.
type scoreScanner struct {
	rows  *sql.Rows
	score *float64
}

func (s scoreScanner) Scan(dest ...interface{}) error {
	return s.rows.Scan(append(dest, s.score)...)
}

func scanKnowledge(sc scanner) (model.Knowledge, error) {
	var k model.Knowledge
	var category, source, createdAt, updatedAt string
	var tagsJSON, sessionID sql.NullString
	var blob []byte

	err := sc.Scan(&k.ID, &k.Content, &category, &k.Importance, &source, &tagsJSON, &sessionID,
		&blob, &k.AccessCount, &createdAt, &updatedAt)
	if err != nil {
		return k, err
	}

	k.Category = model.Category(category)
	k.Source = model.Source(source)
	if tagsJSON.Valid {
		json.Unmarshal([]byte(tagsJSON.String), &k.Tags)
	}
	k.SessionID = sessionID.String
	k.CreatedAt = parseTime(createdAt)
	k.UpdatedAt = parseTime(updatedAt)
	if k.Embedding, err = decodeVector(blob); err != nil {
		return k, fmt.Errorf("knowledge %d: %w", k.ID, err)
	}
	return k, nil
}
