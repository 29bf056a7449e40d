package topic

import (
	"context"
	"sync"
	"time"
)

// capabilityCache remembers per-destination topic support so the router does
// not hit the remote API on every delivery. Entries expire after a TTL; the
// cache is process-local and safe to lose on restart.
type capabilityCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[int64]capEntry
}

type capEntry struct {
	supported bool
	expires   time.Time
}

func newCapabilityCache(ttl time.Duration) *capabilityCache {
	return &capabilityCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[int64]capEntry),
	}
}

// getOrProbe returns the cached capability or runs probe and caches its
// result. Probe errors are not cached.
func (c *capabilityCache) getOrProbe(ctx context.Context, destinationID int64, probe func(context.Context) (bool, error)) (bool, error) {
	c.mu.Lock()
	if e, ok := c.entries[destinationID]; ok && c.now().Before(e.expires) {
		c.mu.Unlock()
		return e.supported, nil
	}
	c.mu.Unlock()

	supported, err := probe(ctx)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	c.entries[destinationID] = capEntry{supported: supported, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return supported, nil
}
