package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore is the subset of storage.RedisClient the persister needs. A
// narrow interface keeps this package free of a storage import cycle and
// testable with a fake.
type redisStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	ScanStatsKeys(ctx context.Context) ([]string, error)
}

// RedisPersister implements stats.Persister by write-through/rehydrating
// counters against Redis. A process restart can rehydrate C6 instead of
// starting every counter at zero; the messages themselves remain
// unpersisted (the Non-goal is about message bodies, not counters).
type RedisPersister struct {
	client redisStore
	logger *slog.Logger
}

// NewRedisPersister builds a persister over client.
func NewRedisPersister(client redisStore, logger *slog.Logger) *RedisPersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisPersister{client: client, logger: logger.With("component", "stats.redis")}
}

func statsKey(userID uint64) string {
	return "chatrelay:stats:" + strconv.FormatUint(userID, 10)
}

// WriteThrough persists snap under userID's key. Best-effort: errors are
// logged, never returned, per §7's non-fatal-telemetry classification.
func (p *RedisPersister) WriteThrough(userID uint64, snap Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := p.client.Set(ctx, statsKey(userID), snap, 0); err != nil {
		p.logger.Warn("stats write-through failed", "user_id", userID, "error", err)
	}
}

// Rehydrate scans every persisted stats key and decodes it back into a
// Snapshot map. Redis being unavailable is surfaced as an error so the
// caller can log-and-continue with an empty store, per the startup
// philosophy that a single external collaborator's unavailability must not
// block the relay from serving connections.
func (p *RedisPersister) Rehydrate() (map[uint64]Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys, err := p.client.ScanStatsKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats: rehydrate scan: %w", err)
	}

	out := make(map[uint64]Snapshot, len(keys))
	for _, k := range keys {
		val, err := p.client.Get(ctx, k)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			p.logger.Warn("stats rehydrate get failed", "key", k, "error", err)
			continue
		}
		var snap Snapshot
		if err := json.Unmarshal([]byte(val), &snap); err != nil {
			p.logger.Warn("stats rehydrate decode failed", "key", k, "error", err)
			continue
		}
		out[snap.UserID] = snap
	}
	return out, nil
}
