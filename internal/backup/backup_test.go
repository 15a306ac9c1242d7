package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Snapshot contents carry the SQLite header so restores accept them.
const (
	storeV1 = sqliteHeader + "store-v1"
	storeV2 = sqliteHeader + "store-v2"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestManager(t *testing.T, clock *fakeClock, mutate func(*Config)) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "memory.db")
	require.NoError(t, os.WriteFile(storePath, []byte(storeV1), 0o644))

	cfg := Config{StorePath: storePath, Now: clock.Now}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewManager(cfg), storePath
}

func TestCreateBackup_WritesSnapshotAndSidecar(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	checkpoints := 0
	m, _ := newTestManager(t, clock, func(c *Config) {
		c.Checkpoint = func(context.Context) error { checkpoints++; return nil }
	})

	rec, err := m.CreateBackup(context.Background())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, strings.HasPrefix(rec.Filename, "memory_backup_"))
	assert.Equal(t, int64(len(storeV1)), rec.Size)
	assert.Equal(t, 1, checkpoints)

	data, err := os.ReadFile(filepath.Join(m.Dir(), rec.Filename))
	require.NoError(t, err)
	assert.Equal(t, storeV1, string(data))
	assert.FileExists(t, filepath.Join(m.Dir(), strings.TrimSuffix(rec.Filename, ".db")+".json"))

	list, err := m.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.Filename, list[0].Filename)
	assert.True(t, rec.Timestamp.Equal(list[0].Timestamp))
}

func TestCreateBackup_NoStoreFile(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(Config{StorePath: filepath.Join(dir, "missing.db")})

	rec, err := m.CreateBackup(context.Background())
	require.NoError(t, err)
	assert.Nil(t, rec)

	list, err := m.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateBackup_CheckpointFailureIsNotFatal(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	m, _ := newTestManager(t, clock, func(c *Config) {
		c.Checkpoint = func(context.Context) error { return errors.New("locked") }
	})
	rec, err := m.CreateBackup(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestRetention_TwelveDailyBackups(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, clock, nil)

	var names []string
	for i := 0; i < 12; i++ {
		rec, err := m.CreateBackup(context.Background())
		require.NoError(t, err)
		names = append(names, rec.Filename)
		clock.t = clock.t.Add(24 * time.Hour)
	}

	list, err := m.ListBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(list), 10)

	for _, old := range names[:2] {
		assert.NoFileExists(t, filepath.Join(m.Dir(), old))
		for _, rec := range list {
			assert.NotEqual(t, old, rec.Filename)
		}
	}
	assert.Equal(t, names[11], list[0].Filename, "newest first")
}

func TestRetention_CountCap(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, clock, func(c *Config) { c.MaxAge = 90 * 24 * time.Hour })

	var names []string
	for i := 0; i < 12; i++ {
		rec, err := m.CreateBackup(context.Background())
		require.NoError(t, err)
		names = append(names, rec.Filename)
		clock.t = clock.t.Add(time.Hour)
	}

	list, err := m.ListBackups()
	require.NoError(t, err)
	require.Len(t, list, 10)
	assert.Equal(t, names[2], list[len(list)-1].Filename)
}

func TestRestoreFromBackup(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	m, storePath := newTestManager(t, clock, nil)
	ctx := context.Background()

	rec, err := m.CreateBackup(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(storePath, []byte(storeV2), 0o644))
	require.NoError(t, os.WriteFile(storePath+"-wal", []byte("stale"), 0o644))
	clock.t = clock.t.Add(time.Minute)

	ok, err := m.RestoreFromBackup(ctx, rec.Filename)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, storeV1, string(data))
	assert.NoFileExists(t, storePath+"-wal")

	matches, err := filepath.Glob(filepath.Join(m.Dir(), "pre_restore_*.db"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	pre, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, storeV2, string(pre))
}

func TestRestoreFromBackup_MissingAndInvalid(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	m, _ := newTestManager(t, clock, nil)
	ctx := context.Background()

	ok, err := m.RestoreFromBackup(ctx, "memory_backup_nope.db")
	require.NoError(t, err)
	assert.False(t, ok)

	for _, bad := range []string{"../memory.db", "sub/file.db", `sub\file.db`, "..", ""} {
		ok, err := m.RestoreFromBackup(ctx, bad)
		assert.Error(t, err, bad)
		assert.False(t, ok, bad)
	}
}

func TestRestoreFromBackup_OnlyListedSnapshots(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	m, storePath := newTestManager(t, clock, nil)
	ctx := context.Background()

	rec, err := m.CreateBackup(ctx)
	require.NoError(t, err)
	base := strings.TrimSuffix(rec.Filename, ".db")
	require.NoError(t, os.WriteFile(storePath, []byte(storeV2), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "stray.db"), []byte(storeV1), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), ".tmp-memory.db-123"), []byte(storeV1), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "memory_backup_nosidecar.db"), []byte(storeV1), 0o644))

	for _, name := range []string{base + ".json", "stray.db", ".tmp-memory.db-123", "memory_backup_nosidecar.db"} {
		ok, err := m.RestoreFromBackup(ctx, name)
		require.NoError(t, err, name)
		assert.False(t, ok, name)
	}

	data, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, storeV2, string(data), "store untouched")
	matches, err := filepath.Glob(filepath.Join(m.Dir(), "pre_restore_*.db"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRestoreFromBackup_RejectsNonDatabase(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	m, storePath := newTestManager(t, clock, nil)
	ctx := context.Background()

	rec, err := m.CreateBackup(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), rec.Filename), []byte("garbage"), 0o644))
	require.NoError(t, os.WriteFile(storePath, []byte(storeV2), 0o644))

	ok, err := m.RestoreFromBackup(ctx, rec.Filename)
	assert.ErrorIs(t, err, ErrNotDatabase)
	assert.False(t, ok)

	data, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, storeV2, string(data))
}

func TestUndoRestore(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	m, storePath := newTestManager(t, clock, nil)
	ctx := context.Background()

	ok, err := m.UndoRestore(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "nothing to undo")

	rec, err := m.CreateBackup(ctx)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(storePath, []byte(storeV2), 0o644))
	clock.t = clock.t.Add(time.Minute)

	ok, err = m.RestoreFromBackup(ctx, rec.Filename)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, os.WriteFile(storePath+"-wal", []byte("stale"), 0o644))

	ok, err = m.UndoRestore(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	data, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, storeV2, string(data))
	assert.NoFileExists(t, storePath+"-wal")

	ok, err = m.UndoRestore(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "undo is one-shot")
}

func TestCheckAndBackup_RespectsInterval(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, clock, nil)
	ctx := context.Background()

	rec, err := m.CheckAndBackup(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec, "first check backs up")

	clock.t = clock.t.Add(23 * time.Hour)
	rec, err = m.CheckAndBackup(ctx)
	require.NoError(t, err)
	assert.Nil(t, rec, "fresh backup exists")

	clock.t = clock.t.Add(2 * time.Hour)
	rec, err = m.CheckAndBackup(ctx)
	require.NoError(t, err)
	assert.NotNil(t, rec, "backup is stale")
}

func TestCheckAndBackup_IgnoresPreRestoreSnapshots(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, clock, nil)

	m.mu.Lock()
	_, err := m.snapshot(preRestorePrefix)
	m.mu.Unlock()
	require.NoError(t, err)

	rec, err := m.CheckAndBackup(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestListBackups_IgnoresOrphans(t *testing.T) {
	clock := &fakeClock{t: time.Now().UTC()}
	m, _ := newTestManager(t, clock, nil)

	require.NoError(t, os.MkdirAll(m.Dir(), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "memory_backup_orphan.db"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "notes.json"), []byte("{}"), 0o644))

	list, err := m.ListBackups()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestScheduler_CoalescesAndDrainsOnClose(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	m, _ := newTestManager(t, clock, nil)

	s := NewScheduler(m, nil)
	for i := 0; i < 50; i++ {
		s.Notify()
	}
	s.Close()
	s.Notify()

	list, err := m.ListBackups()
	require.NoError(t, err)
	assert.Len(t, list, 1, "interval gate keeps repeated signals to one backup")
}
