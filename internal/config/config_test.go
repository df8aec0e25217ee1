package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[llm]
provider = "openai"
model = "gpt-4o-mini"

[generation]
panel_retries = 4

[[canon.exclusive]]
a = "sky_sealed"
b = "sky_torn"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.Generation.PanelRetries)
	// untouched defaults survive
	assert.Equal(t, 2, cfg.Generation.ScriptSchemaRetries)
	assert.Equal(t, 0.75, cfg.Moderation.Image.Accept)
	assert.Equal(t, 50.0, cfg.Auditor.Threshold)
	require.Len(t, cfg.Canon.Exclusive, 1)
	assert.Equal(t, "sky_torn", cfg.Canon.Exclusive[0].B)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
[neo4j]
uri = "bolt://file:7687"
`)
	t.Setenv("NEO4J_URI", "bolt://env:7687")
	t.Setenv("LLM_PROVIDER", "claude")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "bolt://env:7687", cfg.Neo4j.URI)
	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.Equal(t, "neo4j", cfg.Neo4j.User)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Moderation.Image = Thresholds{Accept: 0.4, Review: 0.6}
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.LLM.Provider = "parrot"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Generation.PanelRetries = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Canon.Exclusive = []ExclusivePair{{A: "x", B: "x"}}
	assert.Error(t, cfg.Validate())
}

func TestModerationKey(t *testing.T) {
	cfg := Default()
	cfg.LLM.Provider, cfg.LLM.APIKey = "claude", "sk-ant-llm"
	cfg.Image.Provider, cfg.Image.APIKey = "openai", "sk-image"
	cfg.Moderation.TextClassifier = "openai"
	assert.Equal(t, "sk-image", cfg.ModerationKey(), "never the key of a non-openai llm")
	require.NoError(t, cfg.Validate())

	cfg.Moderation.APIKey = "sk-moderation"
	assert.Equal(t, "sk-moderation", cfg.ModerationKey())

	cfg.Moderation.APIKey, cfg.Image.APIKey = "", ""
	assert.Empty(t, cfg.ModerationKey())
	assert.Error(t, cfg.Validate())

	cfg.LLM.Provider, cfg.LLM.APIKey = "openai", "sk-llm"
	assert.Equal(t, "sk-llm", cfg.ModerationKey())
}

func TestLoadModerationKeyFromEnv(t *testing.T) {
	path := writeConfig(t, `
[moderation]
text_classifier = "openai"
`)
	t.Setenv("MODERATION_API_KEY", "sk-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.ModerationKey())
}

func TestDurations(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 60*time.Second, cfg.Generation.CallTimeout())
	assert.Equal(t, 30*24*time.Hour, cfg.Generation.HistoryWindow())
	assert.Equal(t, 30*24*time.Hour, cfg.Storylets.Window())
	assert.Equal(t, time.UTC, cfg.Generation.Location())

	cfg.Generation.Timezone = "Not/AZone"
	assert.Equal(t, time.UTC, cfg.Generation.Location())
}
