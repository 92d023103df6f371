package credential

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolgate/pkg/permission"
)

const testCredentialsYAML = `
connections:
  - id: C1
    provider: mail
    secret: smtp-secret
    metadata:
      host: smtp.example.com
      from: bot@example.com
    grants:
      - agent: A1
        scopes: [mail.send]
        granted_by: admin
      - agent: A2
        scopes: []
      - agent: A3
        scopes: [mail.send]
        active: false
  - id: C2
    provider: search
    secret: search-key
    expires_at: 2001-01-01T00:00:00Z
    grants:
      - agent: A1
        scopes: [search.query]
`

func writeCredentials(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestFileResolver_Resolve(t *testing.T) {
	path := writeCredentials(t, t.TempDir(), testCredentialsYAML)
	r, err := NewFileResolver(path, FileOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()

	cred, err := r.Resolve(ctx, "A1", "C1")
	require.NoError(t, err)
	assert.Equal(t, "smtp-secret", cred.Secret)
	assert.Equal(t, "mail", cred.ProviderID)
	assert.Equal(t, "smtp.example.com", cred.Metadata["host"])
	assert.True(t, cred.GrantedScopes.Contains(permission.ScopeMailSend))
	assert.True(t, cred.Active)
	assert.Equal(t, "admin", cred.GrantedBy)

	_, err = r.Resolve(ctx, "A9", "C1")
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	_, err = r.Resolve(ctx, "A1", "C2")
	assert.ErrorIs(t, err, ErrCredentialExpired)
}

func TestFileResolver_Grant(t *testing.T) {
	path := writeCredentials(t, t.TempDir(), testCredentialsYAML)
	r, err := NewFileResolver(path, FileOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()

	g, err := r.Grant(ctx, "A2", "C1")
	require.NoError(t, err)
	assert.Equal(t, 0, g.GrantedScopes.Len())
	assert.True(t, g.Active)

	g, err = r.Grant(ctx, "A3", "C1")
	require.NoError(t, err)
	assert.False(t, g.Active)

	// Expired credentials still expose their grant; expiry is enforced at resolve time.
	g, err = r.Grant(ctx, "A1", "C2")
	require.NoError(t, err)
	assert.True(t, g.GrantedScopes.Contains(permission.ScopeSearchQuery))

	_, err = r.Grant(ctx, "A1", "C9")
	assert.ErrorIs(t, err, permission.ErrGrantNotFound)
}

func TestFileResolver_HasConnection(t *testing.T) {
	path := writeCredentials(t, t.TempDir(), testCredentialsYAML)
	r, err := NewFileResolver(path, FileOptions{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer r.Close()

	assert.True(t, r.HasConnection("mail", "C1"))
	assert.False(t, r.HasConnection("search", "C1"))
	assert.False(t, r.HasConnection("mail", "C9"))
}

func TestFileResolver_SealedSecret(t *testing.T) {
	key := testKey(t)
	sealed, err := SealSecret(key, "top-secret")
	require.NoError(t, err)

	content := "connections:\n  - id: C1\n    provider: mail\n    secret: \"" + sealed + "\"\n    grants:\n      - agent: A1\n        scopes: [mail.send]\n"
	path := writeCredentials(t, t.TempDir(), content)

	_, err = NewFileResolver(path, FileOptions{Logger: zerolog.Nop()})
	assert.ErrorIs(t, err, ErrDecrypt)

	r, err := NewFileResolver(path, FileOptions{Key: key, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer r.Close()

	cred, err := r.Resolve(context.Background(), "A1", "C1")
	require.NoError(t, err)
	assert.Equal(t, "top-secret", cred.Secret)
}

func TestFileResolver_InvalidFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "bad yaml", content: "connections: [::"},
		{name: "missing id", content: "connections:\n  - provider: mail\n"},
		{name: "duplicate id", content: "connections:\n  - id: C1\n  - id: C1\n"},
		{name: "bad scope", content: "connections:\n  - id: C1\n    grants:\n      - agent: A1\n        scopes: [\"Mail Send\"]\n"},
		{name: "bad expiry", content: "connections:\n  - id: C1\n    expires_at: tomorrow\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCredentials(t, t.TempDir(), tt.content)
			_, err := NewFileResolver(path, FileOptions{Logger: zerolog.Nop()})
			assert.Error(t, err)
		})
	}
}

func TestFileResolver_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeCredentials(t, dir, testCredentialsYAML)

	var reloads atomic.Int32
	r, err := NewFileResolver(path, FileOptions{
		Logger:   zerolog.Nop(),
		Debounce: 10 * time.Millisecond,
		OnReload: func() { reloads.Add(1) },
	})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, r.Watch())

	updated := "connections:\n  - id: C1\n    provider: mail\n    secret: rotated\n    grants:\n      - agent: A1\n        scopes: [mail.send, mail.read]\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0600))

	assert.Eventually(t, func() bool {
		cred, err := r.Resolve(context.Background(), "A1", "C1")
		return err == nil && cred.Secret == "rotated"
	}, 2*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, reloads.Load(), int32(1))
}

func TestStaticResolver(t *testing.T) {
	r := NewStaticResolver(
		Credential{AgentID: "A1", ConnectionID: "C1", ProviderID: "mail", Secret: "s", Active: true,
			GrantedScopes: permission.NewScopeSet(permission.ScopeMailSend)},
		Credential{AgentID: "A1", ConnectionID: "C2", ExpiresAt: time.Now().Add(-time.Minute)},
	)
	ctx := context.Background()

	cred, err := r.Resolve(ctx, "A1", "C1")
	require.NoError(t, err)
	assert.Equal(t, "s", cred.Secret)

	_, err = r.Resolve(ctx, "A1", "C2")
	assert.ErrorIs(t, err, ErrCredentialExpired)

	g, err := r.Grant(ctx, "A1", "C1")
	require.NoError(t, err)
	assert.True(t, g.Active)

	r.Delete("A1", "C1")
	_, err = r.Resolve(ctx, "A1", "C1")
	assert.ErrorIs(t, err, ErrCredentialNotFound)
	_, err = r.Grant(ctx, "A1", "C1")
	assert.ErrorIs(t, err, permission.ErrGrantNotFound)

	assert.True(t, r.HasConnection("anything", "C2"))
}
