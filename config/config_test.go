package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simarena.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "bandit", cfg.Server.Game)
	assert.Equal(t, 7000, cfg.Server.StartPort)
	assert.False(t, cfg.Server.AllowExternal)
	assert.Zero(t, cfg.Server.ReadTimeout)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.NoError(t, Validate(cfg))
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		require.NoError(t, err)
		assert.Equal(t, Defaults(), cfg)
	})

	t.Run("empty path yields defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "bandit", cfg.Server.Game)
	})

	t.Run("yaml overrides defaults", func(t *testing.T) {
		path := writeConfig(t, `
server:
  game: coingame
  start_port: 9100
  agents: [red, blue]
  seed: 42
  max_steps: 500
  read_timeout: 2s
logger:
  level: debug
  console: false
`)

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "coingame", cfg.Server.Game)
		assert.Equal(t, 9100, cfg.Server.StartPort)
		assert.Equal(t, []string{"red", "blue"}, cfg.Server.Agents)
		assert.Equal(t, int64(42), cfg.Server.Seed)
		assert.Equal(t, uint64(500), cfg.Server.MaxSteps)
		assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, "debug", cfg.Logger.Level)
		assert.False(t, cfg.Logger.Console)
		assert.Equal(t, 10, cfg.Server.BindAttempts)
	})

	t.Run("env overrides file", func(t *testing.T) {
		path := writeConfig(t, "server:\n  start_port: 9100\n")
		t.Setenv("SIMARENA_START_PORT", "9200")
		t.Setenv("SIMARENA_GAME", "coingame")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 9200, cfg.Server.StartPort)
		assert.Equal(t, "coingame", cfg.Server.Game)
		assert.Equal(t, "coingame", cfg.Agent.Game)
	})

	t.Run("bad env value", func(t *testing.T) {
		t.Setenv("SIMARENA_ALLOW_EXTERNAL", "sometimes")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		_, err := Load(writeConfig(t, "server: [unterminated"))
		assert.Error(t, err)
	})

	t.Run("invalid values are all reported", func(t *testing.T) {
		path := writeConfig(t, `
server:
  start_port: 70000
  agents: [a, a]
logger:
  level: loud
`)

		_, err := Load(path)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
		assert.Len(t, ve.Errors, 3)
		assert.Contains(t, err.Error(), "start_port")
		assert.Contains(t, err.Error(), "duplicates")
		assert.Contains(t, err.Error(), "loud")
	})
}
