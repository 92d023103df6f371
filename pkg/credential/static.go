package credential

import (
	"context"
	"sync"
	"time"

	"github.com/harun/toolgate/pkg/permission"
)

// StaticResolver is an in-memory Resolver. It also serves as a permission.GrantSource.
type StaticResolver struct {
	mu    sync.RWMutex
	creds map[credentialKey]Credential
	now   func() time.Time
}

// NewStaticResolver creates a resolver pre-populated with creds.
func NewStaticResolver(creds ...Credential) *StaticResolver {
	r := &StaticResolver{
		creds: make(map[credentialKey]Credential, len(creds)),
		now:   time.Now,
	}
	for _, c := range creds {
		r.Put(c)
	}
	return r
}

// Put stores or replaces a credential.
func (r *StaticResolver) Put(c Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[credentialKey{c.AgentID, c.ConnectionID}] = c
}

// Delete removes a credential.
func (r *StaticResolver) Delete(agentID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, credentialKey{agentID, connectionID})
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(_ context.Context, agentID, connectionID string) (Credential, error) {
	r.mu.RLock()
	c, ok := r.creds[credentialKey{agentID, connectionID}]
	r.mu.RUnlock()
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	if c.Expired(r.now()) {
		return Credential{}, ErrCredentialExpired
	}
	return c, nil
}

// Grant implements permission.GrantSource.
func (r *StaticResolver) Grant(_ context.Context, agentID, connectionID string) (permission.Grant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.creds[credentialKey{agentID, connectionID}]
	if !ok {
		return permission.Grant{}, permission.ErrGrantNotFound
	}
	return c.Grant(), nil
}

// HasConnection implements ConnectionChecker.
func (r *StaticResolver) HasConnection(providerID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k, c := range r.creds {
		if k.connectionID == connectionID && (c.ProviderID == "" || c.ProviderID == providerID) {
			return true
		}
	}
	return false
}
