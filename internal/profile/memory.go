package profile

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	ttl   time.Duration
	clock clock.Clock

	mu    sync.Mutex
	items map[string]Profile
}

// NewMemoryCache creates a cache. A zero ttl uses DefaultTTL, a nil clock the wall clock.
func NewMemoryCache(ttl time.Duration, clk clock.Clock) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryCache{ttl: ttl, clock: clk, items: make(map[string]Profile)}
}

func (c *MemoryCache) expired(p Profile) bool {
	return c.clock.Since(p.CachedAt) > c.ttl
}

// Get drops the entry if it has expired.
func (c *MemoryCache) Get(_ context.Context, pubkey string) (*Profile, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.items[pubkey]
	if !ok {
		return nil, false, nil
	}
	if c.expired(p) {
		delete(c.items, pubkey)
		return nil, false, nil
	}
	return &p, true, nil
}

// Set stamps the profile with the current time.
func (c *MemoryCache) Set(_ context.Context, p *Profile) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *p
	cp.CachedAt = c.clock.Now()
	c.items[p.Pubkey] = cp
	return nil
}

func (c *MemoryCache) ClearExpired(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for pk, p := range c.items {
		if c.expired(p) {
			delete(c.items, pk)
			n++
		}
	}
	return n, nil
}

func (c *MemoryCache) ClearAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
	return nil
}

func (c *MemoryCache) Size(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items), nil
}
