// Package cache wraps the in-process expiring key-value store used for
// compiled machines, instance snapshots, and ephemeral entity state. Every
// entry is advisory except ephemeral entity state, whose loss makes the
// entity's current state unrecoverable outside the transition ledger.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is an expiring in-process key-value cache.
type Cache struct {
	store *gocache.Cache
	ttl   time.Duration
}

// New creates a cache whose entries expire after ttl.
func New(ttl time.Duration) *Cache {
	return &Cache{
		store: gocache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Get returns the entry for key, if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	return c.store.Get(key)
}

// Set stores value under key with the cache's default TTL, refreshing the
// expiry of an existing entry.
func (c *Cache) Set(key string, value any) {
	c.store.Set(key, value, gocache.DefaultExpiration)
}

// Delete removes the entry for key.
func (c *Cache) Delete(key string) {
	c.store.Delete(key)
}

// TTL returns the cache's default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}
