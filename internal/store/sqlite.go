package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// FormatVersion is the on-disk schema version recorded in backups.
const FormatVersion = 1

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements the persisted store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	opts   Options
	logger *slog.Logger

	writes atomic.Int64

	idMu    sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// Open opens or creates a SQLite database at the given path and migrates it.
func Open(dbPath string, opts Options) (*SQLiteStore, error) {
	opts = opts.withDefaults()

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(" +
		fmt.Sprint(opts.BusyTimeout.Milliseconds()) + ")"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		path:    dbPath,
		opts:    opts,
		logger:  opts.Logger,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Writes returns the number of committed write operations since Open.
func (s *SQLiteStore) Writes() int64 { return s.writes.Load() }

// NewID returns a new monotonic ULID string.
func (s *SQLiteStore) NewID() string {
	s.idMu.Lock()
	defer s.idMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.opts.Now()), s.entropy).String()
}

func (s *SQLiteStore) now() time.Time { return s.opts.Now().UTC() }

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS core_facts (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		content     TEXT NOT NULL,
		category    TEXT NOT NULL,
		importance  REAL NOT NULL DEFAULT 0.5,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		active      INTEGER NOT NULL DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_core_facts_active ON core_facts(active, importance DESC, created_at);

	CREATE TABLE IF NOT EXISTS knowledge (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		content      TEXT NOT NULL,
		category     TEXT NOT NULL,
		importance   REAL NOT NULL DEFAULT 0.5,
		source       TEXT NOT NULL DEFAULT 'explicit',
		tags         TEXT,
		session_id   TEXT,
		embedding    BLOB,
		access_count INTEGER NOT NULL DEFAULT 0,
		created_at   TEXT NOT NULL,
		updated_at   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge(category);
	CREATE INDEX IF NOT EXISTS idx_knowledge_session ON knowledge(session_id);

	CREATE VIRTUAL TABLE IF NOT EXISTS knowledge_fts USING fts5(
		content,
		content=knowledge,
		content_rowid=id,
		tokenize='porter unicode61'
	);

	CREATE TRIGGER IF NOT EXISTS knowledge_ai AFTER INSERT ON knowledge BEGIN
		INSERT INTO knowledge_fts(rowid, content) VALUES (new.id, new.content);
	END;
	CREATE TRIGGER IF NOT EXISTS knowledge_ad AFTER DELETE ON knowledge BEGIN
		INSERT INTO knowledge_fts(knowledge_fts, rowid, content) VALUES ('delete', old.id, old.content);
	END;
	CREATE TRIGGER IF NOT EXISTS knowledge_au AFTER UPDATE OF content ON knowledge BEGIN
		INSERT INTO knowledge_fts(knowledge_fts, rowid, content) VALUES ('delete', old.id, old.content);
		INSERT INTO knowledge_fts(rowid, content) VALUES (new.id, new.content);
	END;

	CREATE TABLE IF NOT EXISTS episodes (
		id            TEXT PRIMARY KEY,
		session_id    TEXT NOT NULL UNIQUE,
		summary       TEXT NOT NULL,
		topics        TEXT,
		takeaways     TEXT,
		message_count INTEGER NOT NULL DEFAULT 0,
		started_at    TEXT,
		ended_at      TEXT,
		created_at    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_created ON episodes(created_at DESC);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(`INSERT OR IGNORE INTO schema_meta (key, value) VALUES ('format_version', ?)`,
		fmt.Sprint(FormatVersion))
	return err
}

// withRetry runs a write, retrying on lock contention with a linearly
// increasing delay. It gives up after MaxRetries attempts with ErrBusy.
func (s *SQLiteStore) withRetry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			s.writes.Add(1)
			return nil
		}
		if !isBusy(err) {
			return err
		}
		if attempt >= s.opts.MaxRetries {
			s.logger.Warn("store write gave up on lock contention", "op", op, "attempts", attempt)
			return fmt.Errorf("%s: %w after %d attempts: %v", op, ErrBusy, attempt, err)
		}
		delay := s.opts.RetryDelay * time.Duration(attempt)
		s.logger.Debug("store busy, retrying", "op", op, "attempt", attempt, "delay_ms", delay.Milliseconds())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func isBusy(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code() & 0xff
		return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// Checkpoint folds the write-ahead log into the main database file so a
// plain file copy captures every committed write.
func (s *SQLiteStore) Checkpoint(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(v string) time.Time {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, v)
	}
	return t
}

func nullTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	v := formatTime(t)
	return &v
}
