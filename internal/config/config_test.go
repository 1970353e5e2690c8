package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default("")
	assert.Equal(t, ".neuroforge", cfg.DataDir)
	assert.Equal(t, filepath.Join(".neuroforge", "executions.db"), cfg.DBPath)
	assert.Equal(t, filepath.Join(".neuroforge", "tools"), cfg.ToolsDir)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.ForgeEnabled)
	assert.True(t, cfg.Autonomous.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "local", cfg.LLM.Model)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  model: gpt-4o-mini
  timeout: 30s
autonomous:
  enabled: false
monitor:
  regression_threshold: 0.25
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.False(t, cfg.Autonomous.Enabled)
	assert.Equal(t, 0.25, cfg.Monitor.RegressionThreshold)

	// Untouched fields keep defaults.
	assert.Equal(t, "http://localhost:8080/v1", cfg.LLM.BaseURL)
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [not a map"), 0644))

	_, err := Load(path)
	require.Error(t, err)
	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "file", cfgErr.Field)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLLMModel, "override-model")
	t.Setenv(EnvLLMAPIKey, "sk-test")
	t.Setenv(EnvLogLevel, "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "override-model", cfg.LLM.Model)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestEnvDataDirReroots(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvDataDir, dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, filepath.Join(dir, "executions.db"), cfg.DBPath)
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"llm.base_url", func(c *Config) { c.LLM.BaseURL = "" }},
		{"llm.model", func(c *Config) { c.LLM.Model = "" }},
		{"llm.timeout", func(c *Config) { c.LLM.Timeout = 0 }},
		{"autonomous.improvement_threshold", func(c *Config) { c.Autonomous.ImprovementThreshold = 1.5 }},
		{"monitor.baseline_window_days", func(c *Config) { c.Monitor.BaselineWindowDays = 0 }},
		{"logging.level", func(c *Config) { c.Logging.Level = "loud" }},
	}
	for _, tc := range cases {
		t.Run(tc.field, func(t *testing.T) {
			cfg := Default("")
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	cfg := Default(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, cfg.EnsureDirs())
	for _, dir := range []string{cfg.DataDir, cfg.ToolsDir, cfg.BackupDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
