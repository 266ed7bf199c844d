package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 8000, cfg.Gateway.Port)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Gateway.Port = 0 }},
		{"port too large", func(c *Config) { c.Gateway.Port = 70000 }},
		{"unknown provider", func(c *Config) { c.AI.Provider = "skynet" }},
		{"empty model", func(c *Config) { c.AI.Model = "" }},
		{"bad max tokens", func(c *Config) { c.AI.MaxTokens = 0 }},
		{"negative replay buffer", func(c *Config) { c.Sessions.ReplayBuffer = -1 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Gateway, cfg.Gateway)
	assert.NotEmpty(t, cfg.DataDir)
	assert.NotEmpty(t, cfg.Sessions.Dir)
	assert.NotEmpty(t, cfg.Plans.DBPath)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"gateway":{"host":"0.0.0.0","port":9001},"ai":{"provider":"openai","model":"gpt-4o"}}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Gateway.Host)
	assert.Equal(t, 9001, cfg.Gateway.Port)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)

	// Unset fields keep their defaults.
	assert.Equal(t, 8192, cfg.AI.MaxTokens)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	loader := NewLoader(path)

	cfg := DefaultConfig()
	cfg.Gateway.Port = 9999
	cfg.WorkspacePath = "/tmp/ws"
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, loaded.Gateway.Port)
	assert.Equal(t, "/tmp/ws", loaded.WorkspacePath)
}

func TestResolvePathsDerivesFromDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data/agent"
	require.NoError(t, cfg.ResolvePaths())

	assert.Equal(t, filepath.Join("/data/agent", "workspace"), cfg.WorkspacePath)
	assert.Equal(t, filepath.Join("/data/agent", "sessions"), cfg.Sessions.Dir)
	assert.Equal(t, filepath.Join("/data/agent", "plans.db"), cfg.Plans.DBPath)
	assert.Equal(t, filepath.Join("/data/agent", "ii-agent.log"), cfg.Logging.File)
}
