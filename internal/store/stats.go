package store

import (
	"context"
	"os"
)

// Stats holds database statistics.
type Stats struct {
	DBPath            string         `json:"db_path"`
	DBSizeBytes       int64          `json:"db_size_bytes"`
	FormatVersion     int            `json:"format_version"`
	CoreFacts         int            `json:"core_facts"`
	ActiveCoreFacts   int            `json:"active_core_facts"`
	Knowledge         int            `json:"knowledge"`
	EmbeddedKnowledge int            `json:"embedded_knowledge"`
	Episodes          int            `json:"episodes"`
	ByCategory        map[string]int `json:"knowledge_by_category"`
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path, FormatVersion: FormatVersion, ByCategory: map[string]int{}}

	if info, err := os.Stat(s.path); err == nil {
		st.DBSizeBytes = info.Size()
	}

	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM core_facts`).Scan(&st.CoreFacts)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM core_facts WHERE active = 1`).Scan(&st.ActiveCoreFacts)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge`).Scan(&st.Knowledge)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM knowledge WHERE embedding IS NOT NULL`).Scan(&st.EmbeddedKnowledge)
	s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&st.Episodes)

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS cnt
		FROM knowledge GROUP BY category ORDER BY cnt DESC`)
	if err != nil {
		return st, err
	}
	defer rows.Close()

	for rows.Next() {
		var category string
		var n int
		rows.Scan(&category, &n)
		st.ByCategory[category] = n
	}

	return st, rows.Err()
}
