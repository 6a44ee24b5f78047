// Package storage holds the external-collaborator clients reused by the
// additive sidecars (C12 stats persistence, C14 payload offload): Redis
// write-through/rehydrate, ClickHouse snapshot history, Postgres delivery
// audit log, and S3-compatible object storage.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient wraps the go-redis client for the statistics write-through
// and rehydrate operations used by the stats package's Persister.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client from the given URL, e.g.
// "redis://localhost:6379" or "redis://:password@host:6379/0".
func NewRedisClient(ctx context.Context, url string) (*RedisClient, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close releases the underlying Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// Ping verifies connectivity to Redis.
func (r *RedisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Get retrieves a string value by key. Returns redis.Nil error if the key
// does not exist; callers should check with errors.Is(err, redis.Nil).
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", err
	}
	return val, nil
}

// Set stores a value in Redis with the given TTL (0 = no expiry). The value
// is JSON-encoded if it is not already a string or []byte.
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	var data interface{}
	switch v := value.(type) {
	case string:
		data = v
	case []byte:
		data = v
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("redis: marshal value: %w", err)
		}
		data = encoded
	}

	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %q: %w", key, err)
	}
	return nil
}

// Delete removes a key from Redis.
func (r *RedisClient) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: delete %q: %w", key, err)
	}
	return nil
}

// StatsKey builds the key under which a user's counters are write-through
// persisted: "chatrelay:stats:<userID>".
func StatsKey(userID uint64) string {
	return strings.Join([]string{"chatrelay", "stats", fmt.Sprint(userID)}, ":")
}

// ScanStatsKeys returns every key matching the stats namespace, used by
// Rehydrate at startup.
func (r *RedisClient) ScanStatsKeys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, "chatrelay:stats:*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan stats keys: %w", err)
	}
	return keys, nil
}
