// Package rediscache is the Tier-2 shared cache: a thin wrapper over go-redis
// that stores JSON values, provides the coalescing-lock primitive, and holds
// the proxy failure counters.
//
// Cache errors are never fatal: transport and decode failures are logged and
// surfaced as misses so the orchestrator can fall through to Postgres.
package rediscache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanBatch is the SCAN page size for pattern deletes. SCAN keeps pattern
// deletes incremental; a blocking KEYS sweep is never issued.
const scanBatch = 500

// Cache wraps a go-redis client.
type Cache struct {
	rdb *redis.Client
	log *slog.Logger
}

// New creates a Cache. The client is expected to be connected; call Ping to
// verify before serving traffic.
func New(rdb *redis.Client, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{rdb: rdb, log: log}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get unmarshals the JSON value at key into dest. Returns false on miss,
// decode failure, or transport error (the latter two are logged).
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		c.log.Error("cache get failed", "key", key, "error", err)
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.log.Warn("cache value undecodable", "key", key, "error", err)
		return false
	}
	return true
}

// GetMany fetches keys in a single MGET round-trip and returns the raw JSON
// for each key that was present and decodable. Missing keys are absent from
// the result map.
func (c *Cache) GetMany(ctx context.Context, keys []string) map[string]json.RawMessage {
	if len(keys) == 0 {
		return map[string]json.RawMessage{}
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Error("cache batch get failed", "keys", len(keys), "error", err)
		return map[string]json.RawMessage{}
	}
	out := make(map[string]json.RawMessage, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if !json.Valid([]byte(s)) {
			c.log.Warn("cache value undecodable", "key", keys[i])
			continue
		}
		out[keys[i]] = json.RawMessage(s)
	}
	return out
}

// Set stores value as JSON under key with the given TTL. Best-effort: errors
// are logged and swallowed.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Error("cache set marshal failed", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		c.log.Error("cache set failed", "key", key, "error", err)
	}
}

// Delete removes key and reports whether it existed.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	n, err := c.rdb.Del(ctx, key).Result()
	if err != nil {
		c.log.Error("cache delete failed", "key", key, "error", err)
		return false
	}
	return n > 0
}

// DeletePattern removes every key matching the glob pattern using an
// incremental SCAN, deleting in batches of 500 keys. Returns the number of
// keys deleted.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) int {
	var deleted int
	var batch []string
	iter := c.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanBatch {
			deleted += c.deleteBatch(ctx, batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		c.log.Error("cache scan failed", "pattern", pattern, "error", err)
	}
	if len(batch) > 0 {
		deleted += c.deleteBatch(ctx, batch)
	}
	if deleted > 0 {
		c.log.Info("cache pattern cleared", "pattern", pattern, "deleted", deleted)
	}
	return deleted
}

func (c *Cache) deleteBatch(ctx context.Context, keys []string) int {
	n, err := c.rdb.Del(ctx, keys...).Result()
	if err != nil {
		c.log.Error("cache batch delete failed", "keys", len(keys), "error", err)
		return 0
	}
	return int(n)
}

// Incr atomically adds n to the counter at key and returns the new value.
func (c *Cache) Incr(ctx context.Context, key string, n int64) int64 {
	v, err := c.rdb.IncrBy(ctx, key, n).Result()
	if err != nil {
		c.log.Error("cache incr failed", "key", key, "error", err)
		return 0
	}
	return v
}

// SetIfAbsent atomically stores value under key only when the key does not
// exist (SET NX EX). Returns true when the value was written.
func (c *Cache) SetIfAbsent(ctx context.Context, key string, value any, ttl time.Duration) bool {
	raw, err := json.Marshal(value)
	if err != nil {
		c.log.Error("cache setnx marshal failed", "key", key, "error", err)
		return false
	}
	ok, err := c.rdb.SetNX(ctx, key, raw, ttl).Result()
	if err != nil {
		c.log.Error("cache setnx failed", "key", key, "error", err)
		return false
	}
	return ok
}

// AcquireLock takes the coalescing lock at lockKey for at most ttl.
// The lock is advisory: it expires on its own, so a crashed holder cannot
// wedge cold reads for longer than ttl.
func (c *Cache) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) bool {
	return c.SetIfAbsent(ctx, lockKey, "1", ttl)
}

// ReleaseLock drops the coalescing lock.
func (c *Cache) ReleaseLock(ctx context.Context, lockKey string) bool {
	return c.Delete(ctx, lockKey)
}

// GetString returns the raw string at key. Used for proxy failure bookkeeping
// where values are plain counters and timestamps, not JSON documents.
func (c *Cache) GetString(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false
	}
	if err != nil {
		c.log.Error("cache get failed", "key", key, "error", err)
		return "", false
	}
	return v, true
}

// SetString stores a raw string with TTL (0 = no expiry).
func (c *Cache) SetString(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Error("cache set failed", "key", key, "error", err)
	}
}
