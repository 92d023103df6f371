// Package toolcache keeps discovered tool definitions for a bounded time.
//
// Entries are keyed by provider id and connection id. At most one discovery
// runs per key at a time; concurrent callers share its result. Expired entries
// are never served, and a failed discovery leaves nothing behind.
package toolcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/harun/toolgate/internal/metrics"
	"github.com/harun/toolgate/pkg/provider"
)

// DefaultTTL is used when Options.TTL is zero.
const DefaultTTL = 5 * time.Minute

// FetchFunc performs a discovery call.
type FetchFunc func(ctx context.Context) ([]provider.ToolDefinition, error)

// Entry is one cached discovery result.
type Entry struct {
	ProviderID   string
	ConnectionID string
	Tools        []provider.ToolDefinition
	FetchedAt    time.Time
	ExpiresAt    time.Time
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Fetches int64 `json:"fetches"`
	Entries int   `json:"entries"`
}

// Options configures a Cache.
type Options struct {
	TTL time.Duration
	// FetchTimeout bounds a shared discovery call. Zero means no extra bound.
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
	// Now overrides the clock in tests.
	Now func() time.Time
}

type key struct {
	providerID   string
	connectionID string
}

func (k key) String() string { return k.providerID + "|" + k.connectionID }

// Cache is a TTL cache of tool definitions with per-key single-flight fetching.
type Cache struct {
	opts  Options
	now   func() time.Time
	group singleflight.Group

	mu       sync.RWMutex
	entries  map[key]Entry
	keyGen   map[key]uint64
	provGen  map[string]uint64
	inflight map[key]int

	hits    atomic.Int64
	misses  atomic.Int64
	fetches atomic.Int64
}

// New creates a cache.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache{
		opts:     opts,
		now:      now,
		entries:  make(map[key]Entry),
		keyGen:   make(map[key]uint64),
		provGen:  make(map[string]uint64),
		inflight: make(map[key]int),
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.opts.TTL }

// GetOrFetch returns the cached tools for (providerID, connectionID), calling
// fetch when the entry is absent or expired.
func (c *Cache) GetOrFetch(ctx context.Context, providerID, connectionID string, fetch FetchFunc) ([]provider.ToolDefinition, error) {
	k := key{providerID, connectionID}

	if tools, ok := c.lookup(k); ok {
		c.hits.Add(1)
		c.opts.Metrics.CacheLookup(providerID, true)
		return tools, nil
	}
	c.misses.Add(1)
	c.opts.Metrics.CacheLookup(providerID, false)

	ch := c.group.DoChan(k.String(), func() (any, error) {
		// Another flight may have filled the entry while we were queued.
		if tools, ok := c.lookup(k); ok {
			return tools, nil
		}
		return c.fetch(ctx, k, fetch)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]provider.ToolDefinition)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) fetch(ctx context.Context, k key, fetch FetchFunc) ([]provider.ToolDefinition, error) {
	c.mu.Lock()
	startKeyGen, startProvGen := c.keyGen[k], c.provGen[k.providerID]
	c.inflight[k]++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight[k]--; c.inflight[k] <= 0 {
			delete(c.inflight, k)
		}
		c.mu.Unlock()
	}()

	// The flight is shared, so it must not die with the caller that started it.
	fetchCtx := context.WithoutCancel(ctx)
	if c.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, c.opts.FetchTimeout)
		defer cancel()
	}

	c.fetches.Add(1)
	tools, err := fetch(fetchCtx)
	c.opts.Metrics.CacheFetch(k.providerID, err)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		delete(c.entries, k)
		if errors.Is(err, context.DeadlineExceeded) && c.opts.FetchTimeout > 0 {
			return nil, errors.Join(provider.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	// An invalidation during the fetch means the result may describe the old schema.
	if c.keyGen[k] == startKeyGen && c.provGen[k.providerID] == startProvGen {
		now := c.now()
		c.entries[k] = Entry{
			ProviderID:   k.providerID,
			ConnectionID: k.connectionID,
			Tools:        clone(tools),
			FetchedAt:    now,
			ExpiresAt:    now.Add(c.opts.TTL),
		}
	}
	return clone(tools), nil
}

func (c *Cache) lookup(k key) ([]provider.ToolDefinition, bool) {
	c.mu.RLock()
	e, ok := c.entries[k]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.ExpiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[k]; still && cur.ExpiresAt.Equal(e.ExpiresAt) {
			delete(c.entries, k)
		}
		c.mu.Unlock()
		return nil, false
	}
	return clone(e.Tools), true
}

// Invalidate drops the entry for one key. A fetch already running for the key
// still answers its callers but its result is not stored.
func (c *Cache) Invalidate(providerID, connectionID string) {
	k := key{providerID, connectionID}
	c.mu.Lock()
	delete(c.entries, k)
	c.keyGen[k]++
	c.mu.Unlock()
	c.group.Forget(k.String())
}

// InvalidateProvider drops every entry of providerID.
func (c *Cache) InvalidateProvider(providerID string) int {
	c.mu.Lock()
	removed := 0
	var forget []key
	for k := range c.entries {
		if k.providerID == providerID {
			delete(c.entries, k)
			removed++
		}
	}
	for k := range c.inflight {
		if k.providerID == providerID {
			forget = append(forget, k)
		}
	}
	c.provGen[providerID]++
	c.mu.Unlock()

	for _, k := range forget {
		c.group.Forget(k.String())
	}
	return removed
}

// Prune removes expired entries and returns how many were dropped.
func (c *Cache) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.ExpiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet pruned.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Fetches: c.fetches.Load(),
		Entries: c.Len(),
	}
}

func clone(tools []provider.ToolDefinition) []provider.ToolDefinition {
	if tools == nil {
		return nil
	}
	out := make([]provider.ToolDefinition, len(tools))
	copy(out, tools)
	return out
}
