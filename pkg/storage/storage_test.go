package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerKVRoundTrip(t *testing.T) {
	kv, err := OpenBadger("")
	require.NoError(t, err)
	defer kv.Close()
	ctx := context.Background()

	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put(ctx, "k", []byte("v"), 0))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerKVTTLExpiry(t *testing.T) {
	kv, err := OpenBadger("")
	require.NoError(t, err)
	defer kv.Close()
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "short", []byte("v"), 50*time.Millisecond))
	_, err = kv.Get(ctx, "short")
	require.NoError(t, err)

	time.Sleep(80 * time.Millisecond)
	_, err = kv.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryKVTTL(t *testing.T) {
	kv := NewMemoryKV()
	now := time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, kv.Put(ctx, "k", []byte("v"), time.Second))
	_, err := kv.Get(ctx, "k")
	require.NoError(t, err)

	now = now.Add(2 * time.Second)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSObjectStore(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "pods/slate/pod.json", []byte(`{}`)))
	require.NoError(t, store.Put(ctx, "pods/promo/pod.json", []byte(`{}`)))

	body, err := store.Get(ctx, "pods/slate/pod.json")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), body)

	_, err = store.Get(ctx, "pods/missing/pod.json")
	assert.ErrorIs(t, err, ErrNotFound)

	keys, err := store.List(ctx, "pods/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pods/slate/pod.json", "pods/promo/pod.json"}, keys)
}

func TestFSObjectStoreRejectsEscapingKeys(t *testing.T) {
	store, err := NewFSObjectStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, key := range []string{"../outside", "/abs/path", "a/../../b"} {
		_, err := store.Get(ctx, key)
		assert.Error(t, err, key)
	}
}

func TestRedisQueueFIFO(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := NewRedisQueue(client)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "beacons", []byte("m1")))
	require.NoError(t, q.Enqueue(ctx, "beacons", []byte("m2")))
	require.NoError(t, q.Enqueue(ctx, "beacons", []byte("m3")))

	batch, err := q.Consume(ctx, "beacons", 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, []byte("m1"), batch[0])
	assert.Equal(t, []byte("m2"), batch[1])

	batch, err = q.Consume(ctx, "beacons", 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, []byte("m3"), batch[0])

	batch, err = q.Consume(ctx, "beacons", 10)
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "t", []byte("a")))
	require.NoError(t, q.Enqueue(ctx, "t", []byte("b")))
	assert.Equal(t, 2, q.Len("t"))

	batch, err := q.Consume(ctx, "t", 1)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, []byte("a"), batch[0])
	assert.Equal(t, 1, q.Len("t"))
}

func TestTTLCache(t *testing.T) {
	c := NewTTLCache[string](5 * time.Second)
	now := time.Date(2025, 11, 12, 10, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, ok := c.Get("ch")
	assert.False(t, ok)

	c.Set("ch", "config")
	got, ok := c.Get("ch")
	require.True(t, ok)
	assert.Equal(t, "config", got)

	now = now.Add(6 * time.Second)
	_, ok = c.Get("ch")
	assert.False(t, ok)

	c.Set("ch", "v2")
	c.Invalidate("ch")
	_, ok = c.Get("ch")
	assert.False(t, ok)
}

func TestRedisKV(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	kv := NewRedisKV(client)
	ctx := context.Background()

	_, err := kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Put(ctx, "k", []byte("v"), time.Minute))
	got, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	mr.FastForward(2 * time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}
