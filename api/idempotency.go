package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyHeader = "Idempotency-Key"
	pendingMarker     = "pending"
)

// Deduper remembers which create requests were already handled so a retried
// submit answers with the first result instead of creating a second task.
type Deduper interface {
	// Claim records key for owner. When the key was seen before it returns
	// the result stored for it, or "" while the first request is running.
	Claim(ctx context.Context, owner, key string) (claimed bool, result string, err error)
	// Complete stores the result of the request that claimed key.
	Complete(ctx context.Context, owner, key, result string) error
	// Release forgets key after a failed create so the client may retry.
	Release(ctx context.Context, owner, key string) error
}

// RedisDeduper stores idempotency keys in Redis so all instances agree.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(owner, key string) string {
	return fmt.Sprintf("idem:%s:%s", owner, key)
}

func (r *RedisDeduper) Claim(ctx context.Context, owner, key string) (bool, string, error) {
	k := r.key(owner, key)
	ok, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil || ok {
		return ok, "", err
	}
	val, err := r.client.Get(ctx, k).Result()
	if err == redis.Nil {
		// Expired between the two calls; treat as in flight.
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	if val == pendingMarker {
		return false, "", nil
	}
	return false, val, nil
}

func (r *RedisDeduper) Complete(ctx context.Context, owner, key, result string) error {
	return r.client.Set(ctx, r.key(owner, key), result, r.ttl).Err()
}

func (r *RedisDeduper) Release(ctx context.Context, owner, key string) error {
	return r.client.Del(ctx, r.key(owner, key)).Err()
}
