package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 0.60, cfg.Fusion.SemanticWeight)
	assert.Equal(t, 0.15, cfg.Fusion.KeywordWeight)
	assert.Equal(t, 0.15, cfg.Fusion.RecencyWeight)
	assert.Equal(t, 0.10, cfg.Fusion.ImportanceWeight)
	assert.Equal(t, 30.0, cfg.Fusion.RecencyHalfLifeDays)
	assert.Equal(t, 1.2, cfg.Lexical.K1)
	assert.Equal(t, 0.75, cfg.Lexical.B)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_ProjectConfigOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, ".oc-memory.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
fusion:
  semantic_weight: 0.5
  keyword_weight: 0.2
  recency_weight: 0.2
  importance_weight: 0.1
store:
  backend: badger
`), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Fusion.SemanticWeight)
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".oc-memory.yaml"), []byte("store:\n  backend: sqlite\n"), 0644))
	t.Setenv("OCMEMORY_STORE_BACKEND", "badger")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.Store.Backend)
}

func TestValidate_RejectsBadWeightSum(t *testing.T) {
	cfg := NewConfig()
	cfg.Fusion.SemanticWeight = 0.9
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownBackend(t *testing.T) {
	cfg := NewConfig()
	cfg.Store.Backend = "postgres"
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownTransport(t *testing.T) {
	cfg := NewConfig()
	cfg.Server.Transport = "grpc"
	assert.Error(t, cfg.Validate())
}

func TestWriteYAML_RoundTrips(t *testing.T) {
	cfg := NewConfig()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.WriteYAML(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "semantic_weight")
}

func TestJanitorDurations_FallsBackOnParseFailure(t *testing.T) {
	cfg := NewConfig()
	cfg.Janitor.Interval = "not-a-duration"
	tick, _, _ := cfg.JanitorDurations()
	assert.Equal(t, "1m0s", tick.String())
}
