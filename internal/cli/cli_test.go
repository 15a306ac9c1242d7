package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rcliao/tiermem/internal/memory"
	"github.com/rcliao/tiermem/internal/model"
	"github.com/rcliao/tiermem/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	cfgPath := filepath.Join(dir, "config.yaml")
	yml := "store:\n" +
		"  path: " + filepath.Join(dir, "memory.db") + "\n" +
		"  retry_delay: 1ms\n" +
		"backup:\n" +
		"  dir: " + filepath.Join(dir, "backups") + "\n" +
		"  auto: false\n" +
		"embedding:\n" +
		"  provider: local\n" +
		"logging:\n" +
		"  level: error\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(yml), 0o600))
	return cfgPath
}

func execute(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetIn(strings.NewReader(""))
	RootCmd.SetArgs(append([]string{"--config", cfgPath, "--format", "json"}, args...))
	require.NoError(t, RootCmd.Execute())
	return out.String()
}

func TestCLI_StoreFactPromptStats(t *testing.T) {
	cfgPath := writeTestConfig(t)

	var stored memory.Stored
	out := execute(t, cfgPath, "store", "--tags", "ops, deploys", "Deploys go through the staging cluster first")
	require.NoError(t, json.Unmarshal([]byte(out), &stored))
	assert.Equal(t, int64(1), stored.ID)
	assert.False(t, stored.CoreFact)
	assert.True(t, stored.Embedded)

	var fact model.CoreFact
	out = execute(t, cfgPath, "fact", "add", "--category", "identity", "The user's name is Ada")
	require.NoError(t, json.Unmarshal([]byte(out), &fact))
	assert.Equal(t, model.CategoryIdentity, fact.Category)
	assert.True(t, fact.Active)

	out = execute(t, cfgPath, "prompt", "You are a helpful assistant.")
	assert.Equal(t, "# Core Memory\n\n## Identity\n- The user's name is Ada\n\nYou are a helpful assistant.", out)

	var items []model.Knowledge
	out = execute(t, cfgPath, "list")
	require.NoError(t, json.Unmarshal([]byte(out), &items))
	require.Len(t, items, 1)
	assert.Equal(t, []string{"ops", "deploys"}, items[0].Tags)

	var stats map[string]interface{}
	out = execute(t, cfgPath, "stats")
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.EqualValues(t, 1, stats["core_facts"])
	assert.EqualValues(t, 1, stats["knowledge"])
	assert.EqualValues(t, 1, stats["embedded_knowledge"])
	assert.Equal(t, true, stats["embeddings_enabled"])
}

func TestCLI_FactLifecycleAndExport(t *testing.T) {
	cfgPath := writeTestConfig(t)

	execute(t, cfgPath, "fact", "add", "--category", "preference", "Prefers short answers")
	out := execute(t, cfgPath, "fact", "deactivate", "1")
	assert.JSONEq(t, `{"ok":true,"id":1}`, out)

	var facts []model.CoreFact
	require.NoError(t, json.Unmarshal([]byte(execute(t, cfgPath, "fact", "list")), &facts))
	assert.Empty(t, facts)
	require.NoError(t, json.Unmarshal([]byte(execute(t, cfgPath, "fact", "list", "--all")), &facts))
	require.Len(t, facts, 1)
	assert.False(t, facts[0].Active)

	out = execute(t, cfgPath, "fact", "delete", "1")
	assert.JSONEq(t, `{"ok":true,"id":1}`, out)
	out = execute(t, cfgPath, "fact", "delete", "1")
	assert.JSONEq(t, `{"ok":false,"id":1}`, out)

	execute(t, cfgPath, "store", "Grocery list includes apples and bread")
	var ex store.Export
	require.NoError(t, json.Unmarshal([]byte(execute(t, cfgPath, "export")), &ex))
	assert.Empty(t, ex.CoreFacts)
	require.Len(t, ex.Knowledge, 1)
	assert.Equal(t, "Grocery list includes apples and bread", ex.Knowledge[0].Content)
}

func TestCLI_BackupCreateAndList(t *testing.T) {
	cfgPath := writeTestConfig(t)
	execute(t, cfgPath, "store", "Weekly standup happens on Monday morning")

	var rec model.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(execute(t, cfgPath, "backup", "create")), &rec))
	assert.True(t, strings.HasPrefix(rec.Filename, "memory_backup_"))

	var records []model.BackupRecord
	require.NoError(t, json.Unmarshal([]byte(execute(t, cfgPath, "backup", "list")), &records))
	require.Len(t, records, 1)
	assert.Equal(t, rec.Filename, records[0].Filename)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, parseTags(" a, ,b ,"))
	assert.Nil(t, parseTags(""))

	c, err := parseCategory("Technical")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryTechnical, c)

	c, err = parseCategory("")
	require.NoError(t, err)
	assert.Equal(t, model.Category(""), c)

	_, err = parseCategory("gossip")
	assert.Error(t, err)
}
