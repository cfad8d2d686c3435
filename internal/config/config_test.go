package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
	assert.Equal(t, 5*time.Minute, cfg.LLM.Timeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NotEmpty(t, cfg.Tools.ChemistryEndpoint)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromPath_CreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	// A default file should have been written.
	_, err = os.Stat(path)
	require.NoError(t, err)

	assert.Equal(t, Default().LLM.Model, cfg.LLM.Model)
	assert.Equal(t, Default().LLM.Endpoint, cfg.LLM.Endpoint)
}

func TestLoadFromPath_ReadsExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	custom := Default()
	custom.LLM.Model = "gemini-2.5-pro"
	custom.Logging.Level = "debug"
	require.NoError(t, custom.SaveToPath(path))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	t.Setenv("CONVERSE_LLM_API_KEY", "env-secret")

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.LLM.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(c *Config) {}, false},
		{"empty endpoint", func(c *Config) { c.LLM.Endpoint = "" }, true},
		{"empty model", func(c *Config) { c.LLM.Model = "" }, true},
		{"zero timeout", func(c *Config) { c.LLM.Timeout = 0 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"zero url cap", func(c *Config) { c.Tools.MaxURLContentBytes = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
