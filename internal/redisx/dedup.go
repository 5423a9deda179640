package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which events a service already handled.
type Dedup struct {
	Redis   *redis.Client
	Service string
	TTL     time.Duration
}

// Seen marks id as handled and reports whether it had been marked before.
func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	ok, err := d.Redis.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), 1, ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget drops the mark so a failed handler can run again on redelivery.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.Redis.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
