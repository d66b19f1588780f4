package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:11434/v1/chat/completions", cfg.CompletionsURL)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "carechat.db", cfg.DatabasePath)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.False(t, cfg.Debug)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
completions_url: https://api.example.com/v1/chat/completions
public_key: pk-test
model: gpt-4o
database_path: /data/chat.db
listen_addr: ":9090"
debug: true
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1/chat/completions", cfg.CompletionsURL)
	assert.Equal(t, "pk-test", cfg.PublicKey)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, "/data/chat.db", cfg.DatabasePath)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.True(t, cfg.Debug)
	// Fields the file omits keep their defaults.
	assert.Equal(t, "uploads", cfg.UploadDir)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: gpt-4o\n"), 0644))

	t.Setenv("CARECHAT_MODEL", "llama3")
	t.Setenv("CARECHAT_PUBLIC_KEY", "pk-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3", cfg.Model)
	assert.Equal(t, "pk-env", cfg.PublicKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model: [unclosed"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}
