package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtime.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTestConfig(t, `
[general]
state_db = "test.db"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "test.db", cfg.General.StateDB)
	require.Equal(t, 30e9, float64(cfg.General.TickInterval.Duration))
	require.Equal(t, 12, cfg.Budgets.RequestedBrainEvents)
	require.Equal(t, 6, cfg.Budgets.RequestedWorkerEvents)
	require.Contains(t, cfg.Safety.ImmutablePaths, "run.ps1")
}

func TestLoadRejectsMissingStateDB(t *testing.T) {
	path := writeTestConfig(t, `
[general]
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsOutOfRangeBudget(t *testing.T) {
	path := writeTestConfig(t, `
[general]
state_db = "test.db"
[budgets]
requested_brain_events = 500
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestCloneIsIndependent(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)
	clone := cfg.Clone()
	clone.Safety.ImmutablePaths[0] = "mutated"
	require.NotEqual(t, cfg.Safety.ImmutablePaths[0], clone.Safety.ImmutablePaths[0])
}

func TestLoadLLMConfigMissingFileReturnsEmpty(t *testing.T) {
	cfg := LoadLLMConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.NotNil(t, cfg)
	require.Empty(t, cfg.ProviderGroups)
}

func TestLoadLLMConfigParsesProviderGroups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "llm_config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"provider_groups": {"fast_chain": [{"name": "p1"}]},
		"api_live_enabled": true
	}`), 0o644))
	cfg := LoadLLMConfig(path)
	require.True(t, cfg.APILiveEnabled)
	require.Len(t, cfg.ProviderGroups["fast_chain"], 1)
}
