package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const catalogKey = "vendor:services"

// Client caches the vendor service catalog. The catalog is ephemeral by
// design; a short TTL keeps rates fresh while absorbing the refetch per
// quote and per order.
type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewClient creates a new Redis client for catalog caching.
func NewClient(addr, password string, db int, ttl time.Duration) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}

// GetCatalog returns the cached catalog payload, or false on a miss. A nil
// client always misses, so caching stays optional.
func (c *Client) GetCatalog(ctx context.Context) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	payload, err := c.rdb.Get(ctx, catalogKey).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// SetCatalog stores the catalog payload with the configured TTL.
func (c *Client) SetCatalog(ctx context.Context, payload []byte) error {
	if c == nil {
		return nil
	}
	return c.rdb.Set(ctx, catalogKey, payload, c.ttl).Err()
}

// InvalidateCatalog drops the cached catalog.
func (c *Client) InvalidateCatalog(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Del(ctx, catalogKey).Err()
}
