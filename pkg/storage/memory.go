package storage

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryKV is a map-backed KV with TTL support, for tests and single-node
// setups without persistence requirements.
type MemoryKV struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{entries: make(map[string]memEntry), now: time.Now}
}

func (m *MemoryKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || (!e.expiresAt.IsZero() && m.now().After(e.expiresAt)) {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (m *MemoryKV) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Close() error { return nil }

// MemoryObjectStore is a map-backed object store for tests.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte)}
}

func (m *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	body, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

func (m *MemoryObjectStore) Put(_ context.Context, key string, body []byte) error {
	m.mu.Lock()
	m.objects[key] = append([]byte(nil), body...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// MemoryQueue is a per-topic FIFO queue for tests.
type MemoryQueue struct {
	mu     sync.Mutex
	topics map[string][][]byte
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{topics: make(map[string][][]byte)}
}

func (q *MemoryQueue) Enqueue(_ context.Context, topic string, msg []byte) error {
	q.mu.Lock()
	q.topics[topic] = append(q.topics[topic], append([]byte(nil), msg...))
	q.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Consume(_ context.Context, topic string, max int) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	pending := q.topics[topic]
	if len(pending) == 0 {
		return nil, nil
	}
	n := max
	if n > len(pending) {
		n = len(pending)
	}
	batch := pending[:n]
	q.topics[topic] = pending[n:]
	return batch, nil
}

// Len reports the number of pending messages on a topic.
func (q *MemoryQueue) Len(topic string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.topics[topic])
}
