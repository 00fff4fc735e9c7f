// Package cache wraps the Redis client used for DarkAuth's short-lived,
// single-consumer state: OPAQUE login-session intermediates.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/puzed/darkauth-sub006/internal/config"
)

// Client is a thin wrapper over *redis.Client exposing only the
// get-delete-once / set-with-ttl operations DarkAuth's ephemeral state
// needs.
type Client struct {
	rdb *redis.Client
}

// Open connects to Redis and verifies connectivity with a PING.
func Open(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// SetTTL stores value under key with the given expiry, overwriting any
// existing value.
func (c *Client) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// GetDel atomically fetches and removes key, giving single-consumer
// semantics: a concurrent caller racing for the same key sees a miss. It
// returns ok=false on a miss, never an error, so callers can treat "already
// consumed" and "never existed" identically.
func (c *Client) GetDel(ctx context.Context, key string) (value []byte, ok bool, err error) {
	v, err := c.rdb.GetDel(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis getdel %s: %w", key, err)
	}
	return v, true, nil
}
