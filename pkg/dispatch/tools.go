package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/provider"
)

// ToolView is a discovered tool as seen by one agent.
type ToolView struct {
	provider.ToolDefinition
	// Permitted is set when an agent was given and reports whether its grant covers the tool.
	Permitted *bool `json:"permitted,omitempty"`
}

// ProviderTools groups the tools one provider exposes on a connection.
type ProviderTools struct {
	ProviderID string     `json:"provider_id"`
	Tools      []ToolView `json:"tools"`
	Error      *ErrorInfo `json:"error,omitempty"`
}

// ListTools discovers the tools of every provider serving connectionID.
// Providers known not to own the connection are skipped. When agentID is not
// empty each tool is annotated with whether the agent may call it.
func (m *Manager) ListTools(ctx context.Context, agentID, connectionID string) []ProviderTools {
	var ids []string
	checker, _ := m.creds.(credential.ConnectionChecker)
	for _, id := range m.registry.IDs() {
		if checker != nil && !checker.HasConnection(id, connectionID) {
			continue
		}
		ids = append(ids, id)
	}

	out := make([]ProviderTools, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if m.cfg.MaxParallel > 0 {
		g.SetLimit(m.cfg.MaxParallel)
	}
	for i, id := range ids {
		g.Go(func() error {
			out[i] = m.providerTools(gctx, id, agentID, connectionID)
			return nil
		})
	}
	_ = g.Wait()

	return out
}

func (m *Manager) providerTools(ctx context.Context, providerID, agentID, connectionID string) ProviderTools {
	pt := ProviderTools{ProviderID: providerID, Tools: []ToolView{}}

	p, ok := m.registry.Get(providerID)
	if !ok {
		kind := KindToolNotFound
		pt.Error = &ErrorInfo{Kind: kind, Message: kind.Message(), Retryable: kind.Retryable()}
		return pt
	}

	defs, err := m.discover(ctx, p, connectionID)
	if err != nil {
		kind := Classify(err)
		pt.Error = &ErrorInfo{Kind: kind, Message: m.message(kind, err), Retryable: kind.Retryable()}
		return pt
	}

	for _, def := range defs {
		view := ToolView{ToolDefinition: def}
		if agentID != "" {
			allowed := m.validator.Check(ctx, agentID, def.RequiredScopes, connectionID).Allowed
			view.Permitted = &allowed
		}
		pt.Tools = append(pt.Tools, view)
	}
	return pt
}

// InvalidateProvider drops every cached tool list of providerID so the next
// call rediscovers its schema. It returns the number of dropped entries.
func (m *Manager) InvalidateProvider(providerID string) int {
	n := m.cache.InvalidateProvider(providerID)
	m.logger.Info().
		Str("provider_id", providerID).
		Int("entries", n).
		Msg("Tool cache invalidated")
	return n
}
