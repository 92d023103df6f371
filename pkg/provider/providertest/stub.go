// Package providertest provides an instrumented provider for tests.
package providertest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harun/toolgate/pkg/credential"
	"github.com/harun/toolgate/pkg/provider"
)

// ExecuteFunc produces the outcome of one call.
type ExecuteFunc func(ctx context.Context, toolName string, args map[string]any, cred credential.Credential) (provider.Result, error)

// Stub is a provider whose tools and behavior are set by the test.
// It counts calls and records the highest overlap of identical calls.
type Stub struct {
	id    string
	tools []provider.ToolDefinition

	// Delay is slept before Execute returns, honoring ctx.
	Delay time.Duration
	// ExecuteFn overrides the default echo behavior.
	ExecuteFn ExecuteFunc
	// ListErr is returned from ListTools when set.
	ListErr error

	listCalls atomic.Int64
	execCalls atomic.Int64

	mu         sync.Mutex
	running    map[string]int
	maxOverlap int
	calls      []Call
}

// Call is one recorded Execute invocation.
type Call struct {
	ToolName     string
	Args         map[string]any
	ConnectionID string
}

// NewStub creates a stub exposing tools under id.
func NewStub(id string, tools ...provider.ToolDefinition) *Stub {
	for i := range tools {
		if tools[i].ProviderID == "" {
			tools[i].ProviderID = id
		}
	}
	return &Stub{id: id, tools: tools, running: make(map[string]int)}
}

// ID implements provider.Provider.
func (s *Stub) ID() string { return s.id }

// ListTools implements provider.Provider.
func (s *Stub) ListTools(ctx context.Context, _ string) ([]provider.ToolDefinition, error) {
	s.listCalls.Add(1)
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]provider.ToolDefinition, len(s.tools))
	copy(out, s.tools)
	return out, nil
}

// Execute implements provider.Provider.
func (s *Stub) Execute(ctx context.Context, toolName string, args map[string]any, cred credential.Credential) (provider.Result, error) {
	s.execCalls.Add(1)

	key := callKey(toolName, args, cred.ConnectionID)
	s.mu.Lock()
	s.calls = append(s.calls, Call{ToolName: toolName, Args: args, ConnectionID: cred.ConnectionID})
	s.running[key]++
	if s.running[key] > s.maxOverlap {
		s.maxOverlap = s.running[key]
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running[key]--
		s.mu.Unlock()
	}()

	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return provider.Result{}, ctx.Err()
		}
	}

	if s.ExecuteFn != nil {
		return s.ExecuteFn(ctx, toolName, args, cred)
	}
	return provider.Result{Data: map[string]any{"tool": toolName, "args": args}}, nil
}

// ExecuteCalls returns how many times Execute ran.
func (s *Stub) ExecuteCalls() int64 { return s.execCalls.Load() }

// ListCalls returns how many times ListTools ran.
func (s *Stub) ListCalls() int64 { return s.listCalls.Load() }

// MaxOverlap returns the highest number of identical calls that ran at once.
func (s *Stub) MaxOverlap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxOverlap
}

// Calls returns a copy of the recorded calls.
func (s *Stub) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

func callKey(toolName string, args map[string]any, connectionID string) string {
	b, _ := json.Marshal(args)
	return fmt.Sprintf("%s|%s|%s", toolName, connectionID, b)
}
