package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromPath_CreatesDefaultFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(home, ".tiermem", "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.FileExists(t, path)

	assert.Equal(t, filepath.Join(home, ".tiermem", "memory.db"), cfg.Store.Path)
	assert.Equal(t, 5, cfg.Store.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Store.RetryDelay)
	assert.Equal(t, 24*time.Hour, cfg.Backup.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.Backup.MaxAge)
	assert.Equal(t, 10, cfg.Backup.MaxCount)
	assert.True(t, cfg.Backup.Auto)
	assert.Equal(t, "local", cfg.Embedding.Provider)
	assert.Equal(t, 384, cfg.Embedding.Dims)
	assert.Equal(t, 1.0, cfg.Retrieval.KeywordFloor)
	assert.Equal(t, 0.5, cfg.Retrieval.SpecificKeywordFloor)
	assert.Equal(t, 12000, cfg.Reflection.MaxChars)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel())

	// A second load reads the file it just wrote.
	again, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadFromPath_FileValuesAndDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `store:
  path: /data/agent/memory.db
  retry_delay: 10ms
retrieval:
  keyword_floor: 2.5
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/agent/memory.db", cfg.Store.Path)
	assert.Equal(t, 10*time.Millisecond, cfg.Store.RetryDelay)
	assert.Equal(t, 5, cfg.Store.MaxRetries, "missing keys fall back to defaults")
	assert.Equal(t, 2.5, cfg.Retrieval.KeywordFloor)
	assert.Equal(t, 0.5, cfg.Retrieval.SpecificKeywordFloor)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel())
}

func TestLoadFromPath_ZeroKeywordFloor(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := "retrieval:\n  keyword_floor: 0\n  specific_keyword_floor: 0\n"
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Retrieval.KeywordFloor)
	assert.Equal(t, 0.0, cfg.Retrieval.SpecificKeywordFloor)
}

func TestLoadFromPath_EnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("TIERMEM_EMBEDDING_PROVIDER", "none")
	t.Setenv("TIERMEM_BACKUP_MAX_COUNT", "3")
	t.Setenv("TIERMEM_STORE_PATH", "~/elsewhere/memory.db")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Embedding.Provider)
	assert.Equal(t, 3, cfg.Backup.MaxCount)
	home, _ := os.UserHomeDir()
	assert.Equal(t, filepath.Join(home, "elsewhere", "memory.db"), cfg.Store.Path)
}

func TestLoadFromPath_Invalid(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm:\n  provider: carrier-pigeon\n"), 0o600))

	_, err := LoadFromPath(path)
	assert.ErrorContains(t, err, "carrier-pigeon")

	require.NoError(t, os.WriteFile(path, []byte("store: [not, a, map\n"), 0o600))
	_, err = LoadFromPath(path)
	assert.Error(t, err)
}

func TestExpandPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	assert.Equal(t, filepath.Join(home, "x", "y.db"), ExpandPath("~/x/y.db"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "~user/path", ExpandPath("~user/path"))
	assert.Equal(t, "", ExpandPath(""))
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"Warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), in)
	}
}

func TestSetupLoggerWithWriters(t *testing.T) {
	var stderr, file bytes.Buffer
	logger := SetupLoggerWithWriters(&stderr, &file, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Info("backup created", "file", "memory_backup_x.db")

	assert.NotContains(t, stderr.String(), "hidden")
	assert.Contains(t, stderr.String(), "backup created")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(file.Bytes()), &rec))
	assert.Equal(t, "backup created", rec["msg"])
	assert.Equal(t, "memory_backup_x.db", rec["file"])
}

func TestSetupLogger_File(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "tiermem.log")
	logger, cleanup := SetupLogger(logFile, slog.LevelWarn)
	logger.Warn("degraded", "reason", "embedder offline")
	require.NoError(t, cleanup())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"degraded"`))

	logger, cleanup = SetupLogger("", slog.LevelInfo)
	assert.NotNil(t, logger)
	assert.NoError(t, cleanup())
}
