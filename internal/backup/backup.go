// Package backup snapshots the memory database file and enforces retention.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/tiermem/internal/model"
	"github.com/rcliao/tiermem/internal/store"
)

const (
	backupPrefix     = "memory_backup_"
	preRestorePrefix = "pre_restore_"
	fileTimeFormat   = "20060102T150405.000000000Z"
)

// Defaults for Config.
const (
	DefaultMaxAge   = 7 * 24 * time.Hour
	DefaultMaxCount = 10
	DefaultInterval = 24 * time.Hour
)

// Config configures a Manager.
type Config struct {
	StorePath string
	Dir       string
	MaxAge    time.Duration
	MaxCount  int
	Interval  time.Duration

	// Checkpoint, when set, is called before copying so the snapshot holds
	// every committed write.
	Checkpoint func(ctx context.Context) error

	Now    func() time.Time
	Logger *slog.Logger
}

// Manager creates, lists, restores and prunes store snapshots.
type Manager struct {
	cfg    Config
	logger *slog.Logger
	mu     sync.Mutex

	lastPreRestore string
}

// NewManager creates a Manager. Dir defaults to a "backups" directory next
// to the store file.
func NewManager(cfg Config) *Manager {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(filepath.Dir(cfg.StorePath), "backups")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = DefaultMaxCount
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{cfg: cfg, logger: cfg.Logger}
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.cfg.Dir }

// CreateBackup snapshots the store file. It returns nil when there is no
// store file yet.
func (m *Manager) CreateBackup(ctx context.Context) (*model.BackupRecord, error) {
	if _, err := os.Stat(m.cfg.StorePath); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if m.cfg.Checkpoint != nil {
		if err := m.cfg.Checkpoint(ctx); err != nil {
			m.logger.Warn("wal checkpoint before backup failed", "error", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rec, err := m.snapshot(backupPrefix)
	if err != nil {
		return nil, err
	}
	m.logger.Info("backup created", "file", rec.Filename, "size", rec.Size)

	if n, err := m.cleanupLocked(); err != nil {
		m.logger.Warn("backup retention failed", "error", err)
	} else if n > 0 {
		m.logger.Info("old backups removed", "count", n)
	}
	return rec, nil
}

// snapshot copies the store file to <prefix><timestamp>.db and writes its
// sidecar. The snapshot is removed if the sidecar cannot be written.
func (m *Manager) snapshot(prefix string) (*model.BackupRecord, error) {
	if err := os.MkdirAll(m.cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	ts := m.cfg.Now().UTC()
	name := prefix + ts.Format(fileTimeFormat) + ".db"
	dst := filepath.Join(m.cfg.Dir, name)

	size, err := copyFile(m.cfg.StorePath, dst)
	if err != nil {
		return nil, fmt.Errorf("copy store: %w", err)
	}

	rec := &model.BackupRecord{
		Filename:  name,
		Timestamp: ts,
		Size:      size,
		Version:   store.FormatVersion,
	}
	data, _ := json.MarshalIndent(rec, "", "  ")
	if err := os.WriteFile(sidecarPath(dst), data, 0o644); err != nil {
		os.Remove(dst)
		return nil, fmt.Errorf("write backup metadata: %w", err)
	}
	return rec, nil
}

// ListBackups returns every snapshot that has a readable sidecar, newest
// first. A missing backup directory yields an empty list.
func (m *Manager) ListBackups() ([]model.BackupRecord, error) {
	entries, err := os.ReadDir(m.cfg.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var records []model.BackupRecord
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") || !isSnapshotName(name) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.cfg.Dir, name))
		if err != nil {
			continue
		}
		var rec model.BackupRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			m.logger.Warn("skipping unreadable backup metadata", "file", name, "error", err)
			continue
		}
		if _, err := os.Stat(filepath.Join(m.cfg.Dir, rec.Filename)); err != nil {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// CleanupOldBackups deletes snapshots older than MaxAge or beyond the
// newest MaxCount. It returns how many were removed.
func (m *Manager) CleanupOldBackups() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cleanupLocked()
}

func (m *Manager) cleanupLocked() (int, error) {
	records, err := m.ListBackups()
	if err != nil {
		return 0, err
	}
	cutoff := m.cfg.Now().Add(-m.cfg.MaxAge)
	removed := 0
	for i, rec := range records {
		if i < m.cfg.MaxCount && !rec.Timestamp.Before(cutoff) {
			continue
		}
		path := filepath.Join(m.cfg.Dir, rec.Filename)
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove backup %s: %w", rec.Filename, err)
		}
		os.Remove(sidecarPath(path))
		removed++
	}
	return removed, nil
}

// RestoreFromBackup copies a snapshot over the store file. The store must
// be closed by the caller. The current store is first saved as a
// pre_restore snapshot, which UndoRestore puts back. It reports false when
// filename is not a listed backup.
func (m *Manager) RestoreFromBackup(ctx context.Context, filename string) (bool, error) {
	if filename == "" || filename != filepath.Base(filename) ||
		strings.ContainsAny(filename, `/\`) || filename == "." || filename == ".." {
		return false, fmt.Errorf("restore: invalid backup name %q", filename)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	src := filepath.Join(m.cfg.Dir, filename)
	if !m.isListed(src) {
		m.logger.Warn("restore skipped, not a backup", "file", filename)
		return false, nil
	}
	if err := checkDatabaseFile(src); err != nil {
		return false, fmt.Errorf("restore %s: %w", filename, err)
	}

	m.lastPreRestore = ""
	if _, err := os.Stat(m.cfg.StorePath); err == nil {
		if rec, err := m.snapshot(preRestorePrefix); err != nil {
			m.logger.Warn("pre-restore snapshot failed", "error", err)
		} else {
			m.lastPreRestore = rec.Filename
			m.logger.Info("pre-restore snapshot saved", "file", rec.Filename)
		}
	}

	if err := m.replaceStore(src); err != nil {
		return false, fmt.Errorf("restore %s: %w", filename, err)
	}
	m.logger.Info("store restored", "from", filename)
	return true, nil
}

// UndoRestore puts back the pre_restore snapshot taken by the last
// successful RestoreFromBackup. It reports false when there is none.
func (m *Manager) UndoRestore(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastPreRestore == "" {
		return false, nil
	}
	name := m.lastPreRestore
	if err := m.replaceStore(filepath.Join(m.cfg.Dir, name)); err != nil {
		return false, fmt.Errorf("undo restore from %s: %w", name, err)
	}
	m.lastPreRestore = ""
	m.logger.Warn("restore rolled back", "from", name)
	return true, nil
}

// isListed reports whether path is a snapshot ListBackups would return:
// a prefixed .db file with a readable sidecar naming it.
func (m *Manager) isListed(path string) bool {
	name := filepath.Base(path)
	if !isSnapshotName(name) || !strings.HasSuffix(name, ".db") {
		return false
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		return false
	}
	data, err := os.ReadFile(sidecarPath(path))
	if err != nil {
		return false
	}
	var rec model.BackupRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return false
	}
	return rec.Filename == name
}

// replaceStore copies src over the store file and drops stale journals.
func (m *Manager) replaceStore(src string) error {
	if err := os.MkdirAll(filepath.Dir(m.cfg.StorePath), 0o755); err != nil {
		return err
	}
	if _, err := copyFile(src, m.cfg.StorePath); err != nil {
		return err
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		if err := os.Remove(m.cfg.StorePath + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn("remove stale journal", "file", m.cfg.StorePath+suffix, "error", err)
		}
	}
	return nil
}

// sqliteHeader opens every SQLite database file.
const sqliteHeader = "SQLite format 3\x00"

// ErrNotDatabase is returned when a snapshot does not hold a SQLite database.
var ErrNotDatabase = errors.New("backup: not a database file")

func checkDatabaseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	buf := make([]byte, len(sqliteHeader))
	if _, err := io.ReadFull(f, buf); err != nil || string(buf) != sqliteHeader {
		return ErrNotDatabase
	}
	return nil
}

// CheckAndBackup creates a backup unless the newest regular backup is
// younger than Interval. It returns nil when no backup was needed.
func (m *Manager) CheckAndBackup(ctx context.Context) (*model.BackupRecord, error) {
	records, err := m.ListBackups()
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if !strings.HasPrefix(rec.Filename, backupPrefix) {
			continue
		}
		if m.cfg.Now().Sub(rec.Timestamp) < m.cfg.Interval {
			return nil, nil
		}
		break
	}
	return m.CreateBackup(ctx)
}

func isSnapshotName(name string) bool {
	return strings.HasPrefix(name, backupPrefix) || strings.HasPrefix(name, preRestorePrefix)
}

func sidecarPath(snapshot string) string {
	return strings.TrimSuffix(snapshot, ".db") + ".json"
}

// copyFile copies src to dst through a temp file in dst's directory and
// renames it into place.
func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-"+filepath.Base(dst)+"-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, in)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, err
	}
	return n, nil
}
