package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ProviderAnthropic, cfg.Agent.Provider)
	assert.Equal(t, DefaultMaxAttempts, cfg.Debug.MaxAttempts)
	assert.Equal(t, SandboxLocal, cfg.Sandbox.Kind)
	assert.Equal(t, []string{"python", "connector.py"}, cfg.Sandbox.Command)
	assert.Equal(t, DefaultSandboxTimeout, cfg.Sandbox.Timeout())
}

func TestLoadAppliesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
agent:
  provider: ollama
  model: qwen2.5-coder:14b
debug:
  max_attempts: 5
  auto: true
sandbox:
  kind: docker
  image: python:3.11
  timeout_seconds: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ProviderOllama, cfg.Agent.Provider)
	assert.Equal(t, "qwen2.5-coder:14b", cfg.Agent.Model)
	assert.True(t, cfg.Debug.Auto)
	assert.Equal(t, 5, cfg.Debug.MaxAttempts)
	assert.Equal(t, SandboxDocker, cfg.Sandbox.Kind)
	assert.Equal(t, "python:3.11", cfg.Sandbox.Image)
	assert.Equal(t, 30, cfg.Sandbox.TimeoutSeconds)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("agent:\n  provider: watson\n"), 0644))

	_, err := Load(path)
	assert.ErrorContains(t, err, "unknown agent provider")
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	store := OpenCredentialStore(dir)
	store.Set("PG_CONN_STRING", "postgres://u:p@host/db")
	store.Set("API_TOKEN", "tok-123")
	require.NoError(t, store.Save("hunter2"))
	assert.True(t, store.Exists())

	reopened := OpenCredentialStore(dir)
	require.NoError(t, reopened.Unlock("hunter2"))

	got, err := reopened.Get("PG_CONN_STRING")
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@host/db", got)
	assert.Equal(t, []string{"API_TOKEN", "PG_CONN_STRING"}, reopened.Names())
	assert.Equal(t, []string{"API_TOKEN=tok-123", "PG_CONN_STRING=postgres://u:p@host/db"}, reopened.EnvSlice())
}

func TestCredentialStoreWrongPassword(t *testing.T) {
	dir := t.TempDir()

	store := OpenCredentialStore(dir)
	store.Set("K", "v")
	require.NoError(t, store.Save("right"))

	reopened := OpenCredentialStore(dir)
	err := reopened.Unlock("wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestCredentialEnvFallback(t *testing.T) {
	t.Setenv("ONLY_IN_ENV", "from-env")

	store := OpenCredentialStore(t.TempDir())
	got, err := store.Get("ONLY_IN_ENV")
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	_, err = store.Get("NOWHERE_AT_ALL")
	assert.Error(t, err)
}
