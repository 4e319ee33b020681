package storage

import (
	"context"
	"sync"
	"time"
)

// BodyCache adapts a KV with a fixed TTL to the byte-cache shape used by the
// VAST resolver.
type BodyCache struct {
	KV  KV
	TTL time.Duration
}

func (c *BodyCache) Get(ctx context.Context, key string) ([]byte, bool) {
	body, err := c.KV.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return body, true
}

func (c *BodyCache) Set(ctx context.Context, key string, body []byte) {
	_ = c.KV.Put(ctx, key, body, c.TTL)
}

// TTLCache is a small in-process cache with per-entry expiry. It backs the
// channel-config cache (5s TTL); entries are revalidated lazily.
type TTLCache[V any] struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]ttlEntry[V]
	now     func() time.Time
}

type ttlEntry[V any] struct {
	value     V
	expiresAt time.Time
}

func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{ttl: ttl, entries: make(map[string]ttlEntry[V]), now: time.Now}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	c.entries[key] = ttlEntry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops one entry, used when a config change signal arrives.
func (c *TTLCache[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}
