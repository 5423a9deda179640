package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// OrderCache keeps read-through snapshots of orders. Postgres stays the
// source of truth; every entry expires after TTL.
type OrderCache struct {
	Redis *redis.Client
	TTL   time.Duration

	sfg singleflight.Group
}

func (c *OrderCache) ttl() time.Duration {
	if c.TTL <= 0 {
		return TTLOrderCache
	}
	return c.TTL
}

func (c *OrderCache) Put(ctx context.Context, o orders.Order) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return c.Redis.Set(ctx, fmt.Sprintf(KeyOrder, o.ID), b, c.ttl()).Err()
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.Redis.Del(ctx, fmt.Sprintf(KeyOrder, orderID)).Err()
}

// Get returns the cached order or loads it once per key, however many
// callers miss at the same time. A broken cache falls back to load.
func (c *OrderCache) Get(ctx context.Context, orderID string, load func(ctx context.Context) (orders.Order, error)) (orders.Order, error) {
	v, err, _ := c.sfg.Do(orderID, func() (any, error) {
		b, err := c.Redis.Get(ctx, fmt.Sprintf(KeyOrder, orderID)).Bytes()
		if err == nil {
			var o orders.Order
			if err := json.Unmarshal(b, &o); err == nil {
				return o, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			// cache down: serve from the store
			return load(ctx)
		}

		o, err := load(ctx)
		if err != nil {
			return orders.Order{}, err
		}
		_ = c.Put(ctx, o)
		return o, nil
	})
	if err != nil {
		return orders.Order{}, err
	}
	return v.(orders.Order), nil
}
