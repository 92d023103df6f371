// Package provider defines the contract every capability provider implements
// and the registry the dispatcher resolves tool names against.
//
// Tool names have the form "<provider_id>.<action>". The registry splits on
// the first dot; everything after it belongs to the provider.
package provider

import (
	"context"
	"encoding/json"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/permission"
)

// ToolDefinition describes one invocable capability.
type ToolDefinition struct {
	Name            string              `json:"name"`
	ProviderID      string              `json:"provider_id"`
	Description     string              `json:"description"`
	ParameterSchema json.RawMessage     `json:"parameter_schema,omitempty"`
	RequiredScopes  permission.ScopeSet `json:"required_scopes"`
}

// Result is the successful output of a provider call.
type Result struct {
	Data     any               `json:"data,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Provider is a capability back-end.
//
// ListTools may fail with ErrProviderUnavailable or ErrInvalidConnection.
// Execute may fail with ErrInvalidArguments, ErrProviderError or ErrTimeout,
// and must honour ctx cancellation.
type Provider interface {
	ID() string
	ListTools(ctx context.Context, connectionID string) ([]ToolDefinition, error)
	Execute(ctx context.Context, toolName string, args map[string]any, cred credential.Credential) (Result, error)
}

// Closer is implemented by providers holding connections that must be released at shutdown.
type Closer interface {
	Close() error
}

// FindTool returns the definition named name, if present.
func FindTool(defs []ToolDefinition, name string) (ToolDefinition, bool) {
	for _, d := range defs {
		if d.Name == name {
			return d, true
		}
	}
	return ToolDefinition{}, false
}
