package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/restore_stock.lua
var restoreStockScript string

//go:embed scripts/promote_delayed.lua
var promoteDelayedScript string

//go:embed scripts/cancel_delayed.lua
var cancelDelayedScript string

type Client struct {
	rdb           *redis.Client
	restoreScript *redis.Script
	promoteScript *redis.Script
	cancelScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
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

	return &Client{
		rdb:           rdb,
		restoreScript: redis.NewScript(restoreStockScript),
		promoteScript: redis.NewScript(promoteDelayedScript),
		cancelScript:  redis.NewScript(cancelDelayedScript),
	}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// RestoreStock adds quantity back to a cached variant's available count.
// Returns false when the variant is not cached.
func (c *Client) RestoreStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	key := fmt.Sprintf("inventory:%d", variantID)

	result, err := c.restoreScript.Run(ctx, c.rdb, []string{key}, quantity).Result()
	if err != nil {
		return false, fmt.Errorf("restore stock script failed: %w", err)
	}

	restored, ok := result.(int64)
	if !ok {
		return false, fmt.Errorf("unexpected script result type")
	}

	return restored == 1, nil
}

// MarkProcessed records key with a TTL. It returns false when the key was
// already recorded.
func (c *Client) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("idempotency:%s", key), "1", ttl).Result()
}

// ClearProcessed removes a key recorded by MarkProcessed
func (c *Client) ClearProcessed(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("idempotency:%s", key)).Err()
}
