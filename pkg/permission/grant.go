package permission

import (
	"context"
	"errors"
)

var (
	// ErrGrantNotFound is returned by a GrantSource when no grant exists for the pair.
	ErrGrantNotFound = errors.New("permission grant not found")

	// ErrPermissionDenied is the terminal error for a denied call.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidScope is returned for malformed scope tokens.
	ErrInvalidScope = errors.New("invalid scope")
)

// Grant is the set of scopes an agent holds on one connection.
// Grants are owned by the authorization subsystem and are read-only here.
type Grant struct {
	AgentID       string   `json:"agent_id"`
	ConnectionID  string   `json:"connection_id"`
	GrantedScopes ScopeSet `json:"granted_scopes"`
	Active        bool     `json:"is_active"`
	GrantedBy     string   `json:"granted_by,omitempty"`
}

// GrantSource looks up the current grant for an (agent, connection) pair.
type GrantSource interface {
	Grant(ctx context.Context, agentID, connectionID string) (Grant, error)
}

// GrantSourceFunc adapts a function to GrantSource.
type GrantSourceFunc func(ctx context.Context, agentID, connectionID string) (Grant, error)

// Grant implements GrantSource.
func (f GrantSourceFunc) Grant(ctx context.Context, agentID, connectionID string) (Grant, error) {
	return f(ctx, agentID, connectionID)
}
