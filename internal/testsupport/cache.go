package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/publishq/internal/cache"
)

// MemoryCache is a cache.Cache held in a map, with expiry checked on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry

	// PingErr, when set, is returned by Ping.
	PingErr error
	Now     func() time.Time
}

type cacheEntry struct {
	value   []byte
	counter int64
	expires time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]cacheEntry), Now: time.Now}
}

var _ cache.Cache = (*MemoryCache)(nil)

func (c *MemoryCache) live(key string) (cacheEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if !e.expires.IsZero() && !c.Now().Before(e.expires) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := cacheEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.Now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Ping(_ context.Context) error { return c.PingErr }

// IncrWithExpiry starts a fixed window on the first increment.
func (c *MemoryCache) IncrWithExpiry(_ context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		e = cacheEntry{expires: c.Now().Add(expiry)}
	}
	e.counter++
	c.entries[key] = e
	return e.counter, nil
}

func (c *MemoryCache) TTL(_ context.Context, key string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok || e.expires.IsZero() {
		return 0, nil
	}
	return e.expires.Sub(c.Now()), nil
}
