package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LINE_ACCESS_TOKEN", "token")
	t.Setenv("LINE_CHANNEL_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultGeminiModel, cfg.Gemini.Model)
	assert.Equal(t, 5, cfg.Dispatch.Workers)
	assert.Equal(t, 8000, cfg.History.MaxTokens)
	assert.Equal(t, 2, cfg.History.EstimateMultiplier)
	assert.Equal(t, "token", cfg.Line.AccessToken)
	assert.Equal(t, "key", cfg.Gemini.APIKey)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	t.Setenv("LINE_ACCESS_TOKEN", "env-token")
	t.Setenv("LINE_CHANNEL_SECRET", "")
	t.Setenv("GEMINI_API_KEY", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
[line]
access_token = "file-token"
channel_secret = "file-secret"

[gemini]
api_key = "file-key"
model = "gemini-1.5-pro"

[dispatch]
workers = 3

[history]
max_tokens = 1234
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file for credentials.
	assert.Equal(t, "env-token", cfg.Line.AccessToken)
	assert.Equal(t, "file-secret", cfg.Line.ChannelSecret)
	assert.Equal(t, "file-key", cfg.Gemini.APIKey)
	assert.Equal(t, "gemini-1.5-pro", cfg.Gemini.Model)
	assert.Equal(t, 3, cfg.Dispatch.Workers)
	assert.Equal(t, 1234, cfg.History.MaxTokens)
	// Untouched sections keep defaults.
	assert.Equal(t, 64, cfg.Dispatch.QueueSize)
}

func TestLoadMissingCredentials(t *testing.T) {
	t.Setenv("LINE_ACCESS_TOKEN", "")
	t.Setenv("LINE_CHANNEL_SECRET", "")
	t.Setenv("GEMINI_API_KEY", "")

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveBudget(t *testing.T) {
	t.Setenv("LINE_ACCESS_TOKEN", "token")
	t.Setenv("LINE_CHANNEL_SECRET", "secret")
	t.Setenv("GEMINI_API_KEY", "key")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[history]\nmax_tokens = 0\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}
