// Package storage defines the persistence interfaces of the splicer and
// their implementations: a durable key-value store (badger), a filesystem
// object store, redis and in-memory queues, and small TTL caches.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned for missing keys and objects.
var ErrNotFound = errors.New("storage: not found")

// KV is a low-latency durable key-value store. A zero ttl means no expiry.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ObjectStore holds larger immutable blobs: slate pods, ad pod descriptors,
// transcoded rendition manifests.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Queue is an at-least-once message queue. Consume returns up to max
// messages; an empty slice means the topic is drained.
type Queue interface {
	Enqueue(ctx context.Context, topic string, msg []byte) error
	Consume(ctx context.Context, topic string, max int) ([][]byte, error)
}
