package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a list-backed queue: LPUSH to enqueue, RPOP batches to
// consume, preserving FIFO order.
type RedisQueue struct {
	client redis.UniversalClient
}

func NewRedisQueue(client redis.UniversalClient) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, topic string, msg []byte) error {
	return q.client.LPush(ctx, topic, msg).Err()
}

func (q *RedisQueue) Consume(ctx context.Context, topic string, max int) ([][]byte, error) {
	var batch [][]byte
	for len(batch) < max {
		val, err := q.client.RPop(ctx, topic).Bytes()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return batch, err
		}
		batch = append(batch, val)
	}
	return batch, nil
}

// RedisKV backs cross-instance caches (parsed VAST bodies) where TTL
// eviction must be shared between nodes.
type RedisKV struct {
	client redis.UniversalClient
}

func NewRedisKV(client redis.UniversalClient) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return val, err
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisKV) Close() error {
	return r.client.Close()
}
