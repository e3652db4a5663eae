package phases

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache wraps a Resolver with a process-wide TTL. Concurrent lookups of the
// same label set share one call. Failures are not cached.
type Cache struct {
	next Resolver
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	items map[string]cacheEntry
}

type cacheEntry struct {
	ids     map[string]string
	expires time.Time
}

func NewCache(next Resolver, ttl time.Duration) *Cache {
	return &Cache{
		next:  next,
		ttl:   ttl,
		now:   time.Now,
		items: make(map[string]cacheEntry),
	}
}

func (c *Cache) Resolve(ctx context.Context, labels []string) (map[string]string, error) {
	labels = Normalize(labels)
	key := strings.Join(labels, "\x00")

	c.mu.Lock()
	e, ok := c.items[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return copyIDs(e.ids), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		ids, err := c.next.Resolve(ctx, labels)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.items[key] = cacheEntry{ids: ids, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return copyIDs(v.(map[string]string)), nil
}

// Invalidate drops every cached entry.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.items = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func copyIDs(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
