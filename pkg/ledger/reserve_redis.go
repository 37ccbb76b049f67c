package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reserver coordinates transaction-count capacity across service instances
// whose stores cannot serialize reservations themselves. Completed spends
// keep their slot; failed spends release it.
type Reserver interface {
	Reserve(ctx context.Context, mandateID string, limit int, ttl time.Duration) (bool, error)
	Release(ctx context.Context, mandateID string) error
}

// redisReserveScript atomically claims one capacity slot.
// KEYS[1] = capacity key
// ARGV[1] = limit (max slots)
// ARGV[2] = ttl seconds
var redisReserveScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local used = tonumber(redis.call("GET", key) or "0")
if used >= limit then
    return 0
end

redis.call("INCR", key)
if ttl > 0 then
    redis.call("EXPIRE", key, ttl)
end
return 1
`)

// redisReleaseScript returns a slot, never going below zero.
var redisReleaseScript = redis.NewScript(`
local key = KEYS[1]
local used = tonumber(redis.call("GET", key) or "0")
if used > 0 then
    redis.call("DECR", key)
end
return used
`)

// RedisReserver implements Reserver on Redis via atomic Lua scripts.
type RedisReserver struct {
	client *redis.Client
}

// NewRedisReserver creates a reserver backed by Redis.
func NewRedisReserver(addr, password string, db int) *RedisReserver {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisReserver{client: rdb}
}

// NewRedisReserverWithClient wraps an existing client (tests).
func NewRedisReserverWithClient(client *redis.Client) *RedisReserver {
	return &RedisReserver{client: client}
}

func capacityKey(mandateID string) string {
	return fmt.Sprintf("mandate_capacity:%s", mandateID)
}

func (r *RedisReserver) Reserve(ctx context.Context, mandateID string, limit int, ttl time.Duration) (bool, error) {
	res, err := redisReserveScript.Run(ctx, r.client,
		[]string{capacityKey(mandateID)}, limit, int(ttl.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("redis reserve: %w", err)
	}
	return res == 1, nil
}

func (r *RedisReserver) Release(ctx context.Context, mandateID string) error {
	if err := redisReleaseScript.Run(ctx, r.client, []string{capacityKey(mandateID)}).Err(); err != nil {
		return fmt.Errorf("redis release: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (r *RedisReserver) Close() error {
	return r.client.Close()
}
