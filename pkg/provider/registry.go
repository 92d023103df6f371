package provider

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry holds the providers known to the dispatcher, keyed by id.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p. Ids must be unique and must not contain a dot.
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	id := p.ID()
	if id == "" || strings.Contains(id, ".") {
		return fmt.Errorf("invalid provider id %q", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, id)
	}
	r.providers[id] = p
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(p Provider) {
	if err := r.Register(p); err != nil {
		panic(err)
	}
}

// Get returns the provider registered under id.
func (r *Registry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// IDs returns the registered provider ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Resolve finds the provider owning toolName.
func (r *Registry) Resolve(toolName string) (Provider, string, error) {
	providerID, action, ok := SplitToolName(toolName)
	if !ok {
		return nil, "", fmt.Errorf("%w: malformed tool name %q", ErrToolNotFound, toolName)
	}
	p, found := r.Get(providerID)
	if !found {
		return nil, "", fmt.Errorf("%w: unknown provider %q", ErrToolNotFound, providerID)
	}
	return p, action, nil
}

// Close closes every provider that implements Closer and returns the first error.
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var first error
	for _, p := range r.providers {
		if c, ok := p.(Closer); ok {
			if err := c.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// SplitToolName splits "provider.action" on the first dot.
func SplitToolName(toolName string) (providerID, action string, ok bool) {
	providerID, action, ok = strings.Cut(toolName, ".")
	if !ok || providerID == "" || action == "" {
		return "", "", false
	}
	return providerID, action, true
}
