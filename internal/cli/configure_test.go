package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/internal/config"
)

func TestConfigureCommand(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	cfgPath := filepath.Join(dir, "toolgate.json")

	// data dir, port, mail, search, log level
	input := dataDir + "\n9090\ny\nn\ndebug\n"
	out, err := run(t, input, "init", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration saved to: "+cfgPath)
	assert.Contains(t, out, "Credentials template written to")

	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, dataDir, cfg.DataDir)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Providers.Mail.Enabled)
	assert.False(t, cfg.Providers.Search.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)

	data, err := os.ReadFile(cfg.Credentials.File)
	require.NoError(t, err)
	assert.Contains(t, string(data), "connections: []")

	// A second run keeps the existing credentials file.
	require.NoError(t, os.WriteFile(cfg.Credentials.File, []byte("connections: []\n"), 0o600))
	out, err = run(t, input, "configure", "--config", cfgPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "Credentials template written to")
}

func TestConfigureCommand_EndOfInput(t *testing.T) {
	_, err := run(t, "", "init", "--config", filepath.Join(t.TempDir(), "toolgate.json"))
	assert.ErrorContains(t, err, "configuration failed")
}
