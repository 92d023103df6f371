package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWizard_Run(t *testing.T) {
	dir := t.TempDir()
	input := strings.Join([]string{
		dir,
		"abc",   // rejected port
		"9090",
		"",      // mail: default yes
		"y",     // search
		"",      // empty endpoint rejected
		"https://search.example.com/api",
		"trace", // rejected level
		"debug",
	}, "\n") + "\n"

	var out bytes.Buffer
	cfg, err := NewWizard(strings.NewReader(input), &out).Run()
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Providers.Mail.Enabled)
	assert.True(t, cfg.Providers.Search.Enabled)
	assert.Equal(t, "https://search.example.com/api", cfg.Providers.Search.Endpoint)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, filepath.Join(dir, "audit.db"), cfg.Audit.Path)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 3, strings.Count(out.String(), "Error:"))
}

func TestWizard_EndOfInput(t *testing.T) {
	_, err := NewWizard(strings.NewReader(""), &bytes.Buffer{}).Run()
	assert.Error(t, err)
}
