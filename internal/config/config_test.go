package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:8420", cfg.Server.Listen)
	assert.Equal(t, 5000, cfg.Terminal.BufferLines)
	assert.Equal(t, 5000, cfg.Terminal.ReadyTimeoutMs)
	assert.Equal(t, "claude", cfg.Agent.Command)
	assert.NotEmpty(t, cfg.Agent.Args)
	require.NotNil(t, cfg.Watch.Enabled)
	assert.True(t, *cfg.Watch.Enabled)
	assert.NotEmpty(t, cfg.Storage.StateDir)
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  listen: "0.0.0.0:9000"
terminal:
  shell: /bin/zsh
  buffer_lines: 200
agent:
  command: mytool
  args: ["--stream"]
watch:
  enabled: false
storage:
  state_dir: /tmp/deckd-test
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Listen)
	assert.Equal(t, "/bin/zsh", cfg.Terminal.Shell)
	assert.Equal(t, 200, cfg.Terminal.BufferLines)
	assert.Equal(t, "mytool", cfg.Agent.Command)
	assert.Equal(t, []string{"--stream"}, cfg.Agent.Args)
	require.NotNil(t, cfg.Watch.Enabled)
	assert.False(t, *cfg.Watch.Enabled)
	assert.Equal(t, "/tmp/deckd-test", cfg.Storage.StateDir)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestTokenEnvOverride(t *testing.T) {
	t.Setenv("DECKD_TOKEN", "from-env")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Server.Token)
}
