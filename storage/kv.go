package storage

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const maxUpdateAttempts = 10

// ErrUpdateConflict is returned when a key kept changing under Update.
var ErrUpdateConflict = errors.New("too many concurrent updates")

// KV is a small string key-value store scoped to one installation.
type KV struct {
	client    *redis.Client
	namespace string
}

// NewKV returns a KV whose keys are stored under namespace.
func NewKV(client *redis.Client, namespace string) *KV {
	return &KV{client: client, namespace: namespace}
}

func (k *KV) key(key string) string {
	return k.namespace + ":" + key
}

// GetString returns the value stored under key and whether it was present.
func (k *KV) GetString(ctx context.Context, key string) (string, bool, error) {
	val, err := k.client.Get(ctx, k.key(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Set overwrites the value stored under key.
func (k *KV) Set(ctx context.Context, key, value string) error {
	return k.client.Set(ctx, k.key(key), value, 0).Err()
}

// Update replaces the value under key with fn applied to the current value.
// The write is dropped and fn called again when the key changes in between.
func (k *KV) Update(ctx context.Context, key string, fn func(current string, found bool) (string, error)) error {
	full := k.key(key)
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, full).Result()
		found := err == nil
		if err != nil && err != redis.Nil {
			return err
		}
		next, err := fn(current, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, full, next, 0)
			return nil
		})
		return err
	}
	for i := 0; i < maxUpdateAttempts; i++ {
		err := k.client.Watch(ctx, txf, full)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return ErrUpdateConflict
}
