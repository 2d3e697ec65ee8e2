// Package store is the persistence collaborator at the edge of the
// engine: a TTL-evicting key-value cache of discovered identity pairs.
// The mining core never serializes its own maps; this package listens
// on the event boundary, remembers what was discovered, and hands a
// snapshot back to pre-seed the next session's map.
package store

import (
	"context"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tapminer/tapminer/pkg/dispatch"
	"github.com/tapminer/tapminer/pkg/jsonutil"
)

// Defaults for the identity cache.
const (
	DefaultSize = 4096
	DefaultTTL  = 24 * time.Hour
)

// IdentityCache caches username/id pairs with LRU + TTL eviction.
// It implements dispatch.Hook, consuming debounced discovery batches.
type IdentityCache struct {
	cache *expirable.LRU[string, string]
}

// NewIdentityCache creates a cache. Zero size or ttl use the defaults.
func NewIdentityCache(size int, ttl time.Duration) *IdentityCache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &IdentityCache{cache: expirable.NewLRU[string, string](size, nil, ttl)}
}

// EventTypes limits the hook to discovery batches.
func (c *IdentityCache) EventTypes() []dispatch.EventType {
	return []dispatch.EventType{dispatch.EventIdentitiesDiscovered}
}

// OnEvent records every pair in a discovery batch.
func (c *IdentityCache) OnEvent(_ context.Context, event dispatch.Event) error {
	if e, ok := event.(*dispatch.IdentitiesEvent); ok {
		for username, id := range e.Pairs {
			c.cache.Add(username, id)
		}
	}
	return nil
}

// Get returns the cached id for username.
func (c *IdentityCache) Get(username string) (string, bool) {
	return c.cache.Get(username)
}

// Put inserts a pair directly, outside the event path.
func (c *IdentityCache) Put(username, id string) {
	c.cache.Add(username, id)
}

// Len returns the number of live entries.
func (c *IdentityCache) Len() int {
	return c.cache.Len()
}

// Snapshot returns the live pairs, suitable for engine pre-seeding.
func (c *IdentityCache) Snapshot() map[string]string {
	out := make(map[string]string, c.cache.Len())
	for _, username := range c.cache.Keys() {
		if id, ok := c.cache.Peek(username); ok {
			out[username] = id
		}
	}
	return out
}

// Save writes the live pairs to path as JSON. TTLs are not persisted;
// reloaded entries restart their clocks, which errs toward keeping
// data slightly longer rather than losing it.
func (c *IdentityCache) Save(path string) error {
	data, err := jsonutil.Marshal(c.Snapshot())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Load merges pairs from a file written by Save. A missing file is not
// an error; a fresh install simply has nothing cached yet.
func (c *IdentityCache) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var pairs map[string]string
	if err := jsonutil.Unmarshal(data, &pairs); err != nil {
		return err
	}
	for username, id := range pairs {
		c.cache.Add(username, id)
	}
	return nil
}
