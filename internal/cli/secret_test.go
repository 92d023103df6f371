package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/pkg/credential"
)

func TestSecretKeygenAndSeal(t *testing.T) {
	out, err := run(t, "", "secret", "keygen")
	require.NoError(t, err)
	raw := strings.TrimSpace(out)
	key, err := credential.ParseKey(raw)
	require.NoError(t, err)

	path, cfg := writeConfig(t, nil)
	t.Setenv(cfg.Credentials.KeyEnv, raw)

	out, err = run(t, "hunter2\n", "secret", "seal", "--config", path)
	require.NoError(t, err)
	sealed := strings.TrimSpace(out)
	assert.True(t, strings.HasPrefix(sealed, "enc:"))

	plain, err := credential.OpenSecret(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestSecretSeal_Errors(t *testing.T) {
	path, cfg := writeConfig(t, nil)

	t.Setenv(cfg.Credentials.KeyEnv, "")
	_, err := run(t, "x\n", "secret", "seal", "--config", path)
	assert.ErrorContains(t, err, "keygen")

	t.Setenv(cfg.Credentials.KeyEnv, strings.Repeat("a", 64))
	_, err = run(t, "\n", "secret", "seal", "--config", path)
	assert.ErrorContains(t, err, "empty")
}
