// redis_store.go — go-redis v9 adapter implementing the ratelimit.Store
// interface. The bucket step runs as a single Lua script so concurrent
// requests for the same client never interleave refill and spend.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// tokenBucketScript refills by elapsed wall time, spends cost when covered,
// and persists {tokens, ts} with the idle TTL — all atomically.
// Replies are [allowed, tokens]; Redis truncates Lua numbers to integers,
// which is exactly the floor the caller wants for the Remaining header.
var tokenBucketScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_per_second = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local data = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(data[1])
local ts = tonumber(data[2])

if tokens == nil or ts == nil then
  tokens = capacity
  ts = now
end

local delta = now - ts
if delta < 0 then delta = 0 end
tokens = math.min(capacity, tokens + (delta * refill_per_second))

local allowed = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now)
redis.call('EXPIRE', key, ttl)

return {allowed, tokens}
`)

// RedisStore wraps a go-redis client and satisfies the Store interface.
type RedisStore struct {
	c *goredis.Client
}

// NewRedisStore creates a RedisStore from a go-redis Client.
func NewRedisStore(c *goredis.Client) *RedisStore {
	return &RedisStore{c: c}
}

func (s *RedisStore) TakeToken(ctx context.Context, key string, now, capacity, refillPerSecond, cost float64, ttlSeconds int) (bool, float64, error) {
	res, err := tokenBucketScript.Run(ctx, s.c, []string{key},
		now, capacity, refillPerSecond, cost, ttlSeconds).Result()
	if err != nil {
		return false, 0, err
	}
	reply, ok := res.([]interface{})
	if !ok || len(reply) != 2 {
		return false, 0, fmt.Errorf("unexpected token bucket reply: %v", res)
	}
	allowed, _ := reply[0].(int64)
	tokens, _ := reply[1].(int64)
	return allowed == 1, float64(tokens), nil
}

func (s *RedisStore) ResetClient(ctx context.Context, pattern string) (int, error) {
	var deleted int
	var batch []string
	iter := s.c.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= 500 {
			n, err := s.c.Del(ctx, batch...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	if len(batch) > 0 {
		n, err := s.c.Del(ctx, batch...).Result()
		if err != nil {
			return deleted, err
		}
		deleted += int(n)
	}
	return deleted, nil
}

func (s *RedisStore) ClientStats(ctx context.Context, pattern string) (map[string]BucketStat, error) {
	stats := make(map[string]BucketStat)
	iter := s.c.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		endpoint := key[strings.LastIndex(key, ":")+1:]

		tokens, err := s.c.HGet(ctx, key, "tokens").Result()
		if err != nil && err != goredis.Nil {
			return nil, err
		}
		ttl, err := s.c.TTL(ctx, key).Result()
		if err != nil {
			return nil, err
		}

		remaining := 0
		if f, perr := strconv.ParseFloat(tokens, 64); perr == nil {
			remaining = int(f)
		}
		resetIn := int(ttl.Seconds())
		if resetIn < 0 {
			resetIn = 0
		}
		stats[endpoint] = BucketStat{Remaining: remaining, ResetInSeconds: resetIn}
	}
	return stats, iter.Err()
}
