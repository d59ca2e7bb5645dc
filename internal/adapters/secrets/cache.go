package secrets

import (
	"sync"
	"time"

	"github.com/kevin07696/settlement-service/internal/adapters/ports"
)

// secretCache is a small TTL cache shared by the remote backends
type secretCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	now     func() time.Time
	ttl     time.Duration
	enabled bool
}

type cacheEntry struct {
	secret    *ports.Secret
	expiresAt time.Time
}

func newSecretCache(enabled bool, ttl time.Duration) *secretCache {
	return &secretCache{
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
		ttl:     ttl,
		enabled: enabled && ttl > 0,
	}
}

func (c *secretCache) get(path string) *ports.Secret {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[path]
	if !ok {
		return nil
	}
	if c.now().After(entry.expiresAt) {
		delete(c.entries, path)
		return nil
	}
	return entry.secret
}

func (c *secretCache) set(path string, secret *ports.Secret) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[path] = &cacheEntry{secret: secret, expiresAt: c.now().Add(c.ttl)}
}

func (c *secretCache) invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
