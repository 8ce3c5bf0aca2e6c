package replicator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient is a thin wrapper over go-redis, trimmed to the handful
// of operations the replicator actually calls: HSet/Publish for
// republishing inbound SDTL payloads, BRPop for draining the outbound
// command queue. Grounded on pkg/redis/client.go, which wraps
// the full surface the BLE service used (GetInt, GetStateString,
// HDel, LPush, ...); none of those have an SDTL-replication use, so
// they are not carried forward.
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient connects to Redis, mirroring pkg/redis/client.go's
// New (ping on connect, fail fast if unreachable).
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("replicator: connect to redis: %w", err)
	}

	return &RedisClient{client: client, ctx: ctx}, nil
}

// WriteAndPublish writes a hash field and publishes the field name on
// the hash's key channel, mirroring WriteAndPublishString.
func (c *RedisClient) WriteAndPublish(key, field string, value []byte) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, field)
	_, err := pipe.Exec(c.ctx)
	return err
}

// BRPop blocks (timeout 0 means indefinitely) waiting for a value on
// a Redis list, mirroring pkg/redis/client.go's BRPop.
func (c *RedisClient) BRPop(timeout time.Duration, key string) ([]string, error) {
	result, err := c.client.BRPop(c.ctx, timeout, key).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		log.Printf("replicator: BRPOP on %s: %v", key, err)
		return nil, err
	}
	if len(result) != 2 {
		return nil, fmt.Errorf("replicator: unexpected BRPOP result %v", result)
	}
	return result, nil
}

// Close closes the underlying client.
func (c *RedisClient) Close() error {
	return c.client.Close()
}
