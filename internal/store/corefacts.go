package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/rcliao/tiermem/internal/model"
)

const coreFactColumns = `id, content, category, importance, created_at, updated_at, active`

// AddCoreFact stores a new active core fact.
func (s *SQLiteStore) AddCoreFact(ctx context.Context, content string, category model.Category, importance float64) (*model.CoreFact, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("add core fact: content is required")
	}
	if !model.ValidCategories[category] {
		return nil, fmt.Errorf("add core fact: invalid category %q", category)
	}

	now := s.now()
	f := &model.CoreFact{
		Content:    content,
		Category:   category,
		Importance: model.ClampImportance(importance),
		CreatedAt:  now,
		UpdatedAt:  now,
		Active:     true,
	}

	err := s.withRetry(ctx, "add core fact", func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO core_facts (content, category, importance, created_at, updated_at, active)
			VALUES (?, ?, ?, ?, ?, 1)`,
			f.Content, string(f.Category), f.Importance, formatTime(now), formatTime(now))
		if err != nil {
			return err
		}
		f.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add core fact: %w", err)
	}
	return f, nil
}

// GetCoreFact returns a core fact by id, active or not.
func (s *SQLiteStore) GetCoreFact(ctx context.Context, id int64) (*model.CoreFact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+coreFactColumns+` FROM core_facts WHERE id = ?`, id)
	f, err := scanCoreFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get core fact: %w", err)
	}
	return &f, nil
}

// ListActiveCoreFacts returns active facts by importance, then age, then id.
func (s *SQLiteStore) ListActiveCoreFacts(ctx context.Context) ([]model.CoreFact, error) {
	return s.listCoreFacts(ctx, `WHERE active = 1 ORDER BY importance DESC, created_at ASC, id ASC`)
}

// ListCoreFacts returns every fact, inactive ones included.
func (s *SQLiteStore) ListCoreFacts(ctx context.Context) ([]model.CoreFact, error) {
	return s.listCoreFacts(ctx, `ORDER BY active DESC, importance DESC, created_at ASC, id ASC`)
}

func (s *SQLiteStore) listCoreFacts(ctx context.Context, clause string) ([]model.CoreFact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+coreFactColumns+` FROM core_facts `+clause)
	if err != nil {
		return nil, fmt.Errorf("list core facts: %w", err)
	}
	defer rows.Close()

	var facts []model.CoreFact
	for rows.Next() {
		f, err := scanCoreFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// UpdateCoreFact applies a partial update. It reports false when the fact
// does not exist or the update sets no fields.
func (s *SQLiteStore) UpdateCoreFact(ctx context.Context, id int64, u CoreFactUpdate) (bool, error) {
	if u.Empty() {
		return false, nil
	}

	var sets []string
	var args []interface{}
	if u.Content != nil {
		c := strings.TrimSpace(*u.Content)
		if c == "" {
			return false, fmt.Errorf("update core fact: content cannot be empty")
		}
		sets = append(sets, "content = ?")
		args = append(args, c)
	}
	if u.Category != nil {
		if !model.ValidCategories[*u.Category] {
			return false, fmt.Errorf("update core fact: invalid category %q", *u.Category)
		}
		sets = append(sets, "category = ?")
		args = append(args, string(*u.Category))
	}
	if u.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, model.ClampImportance(*u.Importance))
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, formatTime(s.now()), id)

	return s.execAffected(ctx, "update core fact",
		`UPDATE core_facts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
}

// SetCoreFactActive soft-deletes or revives a fact.
func (s *SQLiteStore) SetCoreFactActive(ctx context.Context, id int64, active bool) (bool, error) {
	flag := 0
	if active {
		flag = 1
	}
	return s.execAffected(ctx, "set core fact active",
		`UPDATE core_facts SET active = ?, updated_at = ? WHERE id = ?`, flag, formatTime(s.now()), id)
}

// DeleteCoreFact removes a fact permanently.
func (s *SQLiteStore) DeleteCoreFact(ctx context.Context, id int64) (bool, error) {
	return s.execAffected(ctx, "delete core fact", `DELETE FROM core_facts WHERE id = ?`, id)
}

// execAffected runs a write and reports whether any row changed.
func (s *SQLiteStore) execAffected(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	var n int64
	err := s.withRetry(ctx, op, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

func scanCoreFact(sc scanner) (model.CoreFact, error) {
	var f model.CoreFact
	var category, createdAt, updatedAt string
	var active int
	if err := sc.Scan(&f.ID, &f.Content, &category, &f.Importance, &createdAt, &updatedAt, &active); err != nil {
		return f, err
	}
	f.Category = model.Category(category)
	f.CreatedAt = parseTime(createdAt)
	f.UpdatedAt = parseTime(updatedAt)
	f.Active = active == 1
	return f, nil
}
