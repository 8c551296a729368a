package storage

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const installationOwnerPrefix = "installation-owner:"

// Installations records which user registered each device installation.
type Installations struct {
	redis *redis.Client
}

// NewInstallations returns an Installations stored in rc.
func NewInstallations(rc *redis.Client) *Installations {
	return &Installations{redis: rc}
}

// Claim binds installationID to owner on first use. It reports whether owner
// is the one the installation is bound to.
func (i *Installations) Claim(ctx context.Context, owner, installationID string) (bool, error) {
	key := installationOwnerPrefix + installationID
	ok, err := i.redis.SetNX(ctx, key, owner, 0).Result()
	if err != nil || ok {
		return ok, err
	}
	bound, err := i.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return bound == owner, nil
}

// KV returns the topic state of one installation, scoped to its owner.
func (i *Installations) KV(owner, installationID string) *KV {
	return NewKV(i.redis, "installation:"+owner+":"+installationID)
}
