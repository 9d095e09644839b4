package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Learning.Enabled)
	assert.InDelta(t, 0.75, cfg.Learning.MinConfidence, 1e-9)
	assert.InDelta(t, 0.10, cfg.Learning.BoostApprove, 1e-9)
	assert.InDelta(t, 0.05, cfg.Learning.BoostEdit, 1e-9)
	assert.InDelta(t, 0.15, cfg.Learning.PenaltyReject, 1e-9)
	assert.Equal(t, 5*time.Minute, cfg.Implicit.Window)
	assert.Equal(t, 3, cfg.Implicit.MaxMessages)
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
server:
  port: 9090
learning:
  enabled: true
  min_confidence: 0.8
  learn_from_edits: false
implicit:
  window: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(yamlBody), 0o600))

	t.Setenv("KB_MIN_CONFIDENCE", "0.9")
	t.Setenv("DATABASE_URL", "sqlite:/tmp/test-kb.db")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 0.9, cfg.Learning.MinConfidence, 1e-9)
	assert.False(t, cfg.Learning.LearnFromEdits)
	assert.Equal(t, 10*time.Minute, cfg.Implicit.Window)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/test-kb.db", cfg.DatabaseDSN())
}

func TestLoad_DotEnvFileNextToConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 8100\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("KB_ENABLED=false\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("KB_ENABLED") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Learning.Enabled)
}

func TestLoad_AdminKeysEnableAuth(t *testing.T) {
	t.Setenv("ADMIN_API_KEYS", "alpha, beta,,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, []string{"alpha", "beta"}, cfg.Auth.APIKeys)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"bad cache", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"confidence out of range", func(c *Config) { c.Learning.MinConfidence = 1.5 }},
		{"bad mode", func(c *Config) { c.Learning.AutoReplyMode = "always" }},
		{"neutral after bound", func(c *Config) { c.Implicit.NeutralAfter = 4 }},
		{"bad llm provider", func(c *Config) { c.LLM.Provider = "openai" }},
		{"auth without keys", func(c *Config) { c.Auth.Enabled = true }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
