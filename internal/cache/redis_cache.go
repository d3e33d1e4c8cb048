// Package cache holds the optional Redis layer in front of product search.
// A counter-server deployment with several terminals hitting one store gets
// repeated identical lookups; the cache absorbs them. Single-terminal setups
// run the no-op implementation.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tokosync/terminal/internal/domain"
)

// SearchCache sits in front of Store.SearchProducts. Results are advisory;
// a miss or an error simply falls through to the store.
type SearchCache interface {
	Get(ctx context.Context, key string) ([]domain.Product, bool, error)
	Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error

	// InvalidateTenant drops every cached search for the tenant. Called
	// after any write that changes product rows.
	InvalidateTenant(ctx context.Context, tenantID string) error

	Close() error
}

// SearchKey builds the cache key for one tenant-scoped query.
func SearchKey(tenantID, query string) string {
	return "search:" + tenantID + ":" + strings.ToLower(strings.TrimSpace(query))
}

type RedisSearchCache struct {
	client *redis.Client
}

func NewRedisSearchCache(addr string, password string, db int) *RedisSearchCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisSearchCache{client: client}
}

func (c *RedisSearchCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSearchCache) Close() error {
	return c.client.Close()
}

func (c *RedisSearchCache) Get(ctx context.Context, key string) ([]domain.Product, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var products []domain.Product
	if err := json.Unmarshal([]byte(val), &products); err != nil {
		return nil, false, err
	}
	return products, true, nil
}

func (c *RedisSearchCache) Set(ctx context.Context, key string, products []domain.Product, ttl time.Duration) error {
	payload, err := json.Marshal(products)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, payload, ttl).Err()
}

func (c *RedisSearchCache) InvalidateTenant(ctx context.Context, tenantID string) error {
	iter := c.client.Scan(ctx, 0, SearchKey(tenantID, "")+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// NoopSearchCache is used when no Redis address is configured.
type NoopSearchCache struct{}

func (NoopSearchCache) Get(context.Context, string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopSearchCache) Set(context.Context, string, []domain.Product, time.Duration) error {
	return nil
}

func (NoopSearchCache) InvalidateTenant(context.Context, string) error { return nil }

func (NoopSearchCache) Close() error { return nil }
