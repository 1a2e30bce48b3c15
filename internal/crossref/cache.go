// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package crossref

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/pdiddy/doi-recovery/pkg/types"
)

// Cache keeps lookup results in memory so repeated queries within a run
// cost no quota.
type Cache struct {
	cache *gocache.Cache
}

// NewCache creates a cache whose entries expire after ttl.
func NewCache(ttl time.Duration) *Cache {
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Cache{cache: gocache.New(ttl, cleanup)}
}

func cacheKey(q types.LookupQuery) string {
	sum := sha256.Sum256([]byte(q.Key()))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached result for q.
func (c *Cache) Get(q types.LookupQuery) (types.LookupResult, bool) {
	if val, found := c.cache.Get(cacheKey(q)); found {
		return val.(types.LookupResult), true
	}
	return types.LookupResult{}, false
}

// Set stores the result for q with the default TTL.
func (c *Cache) Set(q types.LookupQuery, res types.LookupResult) {
	c.cache.SetDefault(cacheKey(q), res)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	return c.cache.ItemCount()
}
