// Package credential resolves the decrypted secret and granted scopes of an agent's connection.
//
// Credential storage and token refresh live outside this module. The Resolver
// interface is the only contract the dispatcher relies on; FileResolver and
// StaticResolver are bundled implementations for single-node deployments and tests.
package credential

import (
	"context"
	"errors"
	"time"

	"github.com/harun/toolgate/pkg/permission"
)

var (
	// ErrCredentialNotFound is returned when no credential exists for (agent, connection).
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrCredentialExpired is returned when the credential exists but is past its expiry.
	ErrCredentialExpired = errors.New("credential expired")
)

// Credential is the resolved secret material of one agent on one connection.
type Credential struct {
	AgentID       string
	ConnectionID  string
	ProviderID    string
	Secret        string
	GrantedScopes permission.ScopeSet
	Active        bool
	GrantedBy     string
	ExpiresAt     time.Time
	Metadata      map[string]string
}

// Expired reports whether the credential has an expiry that is not after now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// Grant returns the permission grant view of the credential.
func (c Credential) Grant() permission.Grant {
	return permission.Grant{
		AgentID:       c.AgentID,
		ConnectionID:  c.ConnectionID,
		GrantedScopes: c.GrantedScopes,
		Active:        c.Active,
		GrantedBy:     c.GrantedBy,
	}
}

// Resolver supplies credentials to the dispatcher.
type Resolver interface {
	Resolve(ctx context.Context, agentID, connectionID string) (Credential, error)
}

// ConnectionChecker reports whether a connection belongs to a provider.
type ConnectionChecker interface {
	HasConnection(providerID, connectionID string) bool
}

type credentialKey struct {
	agentID      string
	connectionID string
}
