package autoapprove

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "recruiter-loop:autoapprove:"

// reserveScript increments KEYS[1] only while it is below ARGV[1] and keeps it for ARGV[2] seconds.
var reserveScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current >= tonumber(ARGV[1]) then
  return {0, current}
end
current = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, current}
`)

// RedisCounter shares the daily counters between replicas.
type RedisCounter struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCounter connects to addr and checks the connection.
func NewRedisCounter(ctx context.Context, addr, password string, db int) (*RedisCounter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &RedisCounter{client: client, ttl: 48 * time.Hour}, nil
}

// Close releases the connection pool.
func (c *RedisCounter) Close() error {
	return c.client.Close()
}

func redisKey(tenantID string, day time.Time) string {
	return keyPrefix + DayKey(day) + ":" + tenantID
}

func (c *RedisCounter) Reserve(ctx context.Context, tenantID string, day time.Time, limit int) (bool, int, error) {
	res, err := reserveScript.Run(ctx, c.client, []string{redisKey(tenantID, day)}, limit, int(c.ttl.Seconds())).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("reserve auto-approval slot: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("reserve auto-approval slot: unexpected reply %v", res)
	}
	return res[0] == 1, int(res[1]), nil
}

func (c *RedisCounter) Count(ctx context.Context, tenantID string, day time.Time) (int, error) {
	n, err := c.client.Get(ctx, redisKey(tenantID, day)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read auto-approval count: %w", err)
	}
	return n, nil
}

func (c *RedisCounter) Reset(ctx context.Context, tenantID string, day time.Time) error {
	if tenantID != "" {
		return c.client.Del(ctx, redisKey(tenantID, day)).Err()
	}

	iter := c.client.Scan(ctx, 0, keyPrefix+DayKey(day)+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan auto-approval counters: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
