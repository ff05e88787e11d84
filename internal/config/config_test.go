package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/config"
)

func TestLoadRequiresAnthropicAPIKey(t *testing.T) {
	_, err := config.Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}

func TestLoadAppliesEnvOverridesOnTopOfDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("WORKER_CONCURRENCY", "9")
	t.Setenv("BUS_SNAPSHOT_TTL", "2h")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "sk-test-key", cfg.Anthropic.APIKey)
	assert.Equal(t, 9, cfg.Worker.Concurrency)
	assert.Equal(t, 2*time.Hour, cfg.Bus.SnapshotTTL)
	assert.Equal(t, ":8080", cfg.Server.Addr) // untouched default
}

func TestLoadYAMLOverlayThenEnvTakesPrecedence(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")
	t.Setenv("SERVER_ADDR", ":9999")

	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":7000\"\nworker:\n  concurrency: 2\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr, "env must win over yaml overlay")
	assert.Equal(t, 2, cfg.Worker.Concurrency, "yaml overlay applies where env doesn't override")
}

func TestLoadMissingYAMLFileIsNotAnError(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	_, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.NoError(t, err)
}

func TestLoadMalformedYAMLIsAnError(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-test-key")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid yaml"), 0o644))

	_, err := config.Load(path)
	assert.Error(t, err)
}
