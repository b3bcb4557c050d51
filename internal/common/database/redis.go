// internal/common/database/redis.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"comfyui-workers/internal/common/config"

	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Pop when the blocking wait ends without a job.
var ErrQueueEmpty = errors.New("queue empty")

// RedisClient wraps the Redis client used by the job queue intake.
type RedisClient struct {
	Client *redis.Client
}

func NewRedis(cfg config.RedisConfig) *RedisClient {
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

	return &RedisClient{Client: rdb}
}

// NewRedisFromClient wraps an existing client (tests, shared pools).
func NewRedisFromClient(rdb *redis.Client) *RedisClient {
	return &RedisClient{Client: rdb}
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

// Pop blocks up to timeout for the next payload on the list at key.
func (c *RedisClient) Pop(ctx context.Context, key string, timeout time.Duration) (string, error) {
	res, err := c.Client.BRPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrQueueEmpty
	}
	if err != nil {
		return "", fmt.Errorf("brpop %s: %w", key, err)
	}
	// BRPop replies [key, value]
	if len(res) < 2 {
		return "", ErrQueueEmpty
	}
	return res[1], nil
}

// Push appends payload to the list at key.
func (c *RedisClient) Push(ctx context.Context, key string, payload interface{}) error {
	if err := c.Client.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (c *RedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Client.Set(ctx, key, value, expiration).Err()
}
