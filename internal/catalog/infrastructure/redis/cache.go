// Package redis caches catalog snapshots in front of the postgres reader.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tableserve/fulfillment/internal/catalog/domain"
)

// Reader is the source the cache fronts.
type Reader interface {
	Product(ctx context.Context, productID string) (domain.ProductSnapshot, error)
}

// Cache serves snapshots from Redis and falls back to the inner reader.
// Cache errors degrade to reads from the source rather than failing the
// request; not-found is never cached.
type Cache struct {
	log   *slog.Logger
	rdb   *redis.Client
	inner Reader
	ttl   time.Duration
}

func NewCache(log *slog.Logger, rdb *redis.Client, inner Reader, ttl time.Duration) *Cache {
	return &Cache{log: log, rdb: rdb, inner: inner, ttl: ttl}
}

func (c *Cache) Product(ctx context.Context, productID string) (domain.ProductSnapshot, error) {
	key := "catalog:product:" + productID

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var snap domain.ProductSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return snap, nil
		}
		c.log.Warn("corrupt snapshot in cache, refetching", "key", key)
	} else if !errors.Is(err, redis.Nil) {
		c.log.Warn("snapshot cache read failed", "key", key, "error", err)
	}

	snap, err := c.inner.Product(ctx, productID)
	if err != nil {
		return domain.ProductSnapshot{}, err
	}

	if raw, err := json.Marshal(snap); err == nil {
		if err := c.rdb.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			c.log.Warn("snapshot cache write failed", "key", key, "error", err)
		}
	}
	return snap, nil
}
