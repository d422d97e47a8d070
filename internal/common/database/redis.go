// internal/common/database/redis.go
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/Daily-Wins/dw-chromegpt/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the Redis client used for credential settings and progress pub/sub.
type RedisClient struct {
	Client redis.UniversalClient
}

// NewRedis creates a new Redis client
func NewRedis(cfg config.RedisConfig) (*RedisClient, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
	return &RedisClient{Client: rdb}, nil
}

// WrapRedis adapts an existing client, e.g. one pointed at miniredis or redismock.
func WrapRedis(c redis.UniversalClient) *RedisClient {
	return &RedisClient{Client: c}
}

func (c *RedisClient) Ping(ctx context.Context) error {
	if err := c.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

func (c *RedisClient) Close() error {
	if c.Client != nil {
		return c.Client.Close()
	}
	return nil
}

// HGetAll reads a hash; a missing key yields an empty map.
func (c *RedisClient) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return c.Client.HGetAll(ctx, key).Result()
}

// HSet writes hash fields.
func (c *RedisClient) HSet(ctx context.Context, key string, values map[string]string) error {
	args := make([]interface{}, 0, len(values)*2)
	for k, v := range values {
		args = append(args, k, v)
	}
	return c.Client.HSet(ctx, key, args...).Err()
}

func (c *RedisClient) Del(ctx context.Context, keys ...string) error {
	return c.Client.Del(ctx, keys...).Err()
}

// Publish sends payload on channel and returns the number of receivers.
func (c *RedisClient) Publish(ctx context.Context, channel string, payload interface{}) (int64, error) {
	return c.Client.Publish(ctx, channel, payload).Result()
}

// Subscribe opens a pub/sub subscription. Callers close it.
func (c *RedisClient) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.Client.Subscribe(ctx, channels...)
}
