package storage

import (
	"context"
	"io"
	"time"
)

// RedisCache is the subset of RedisClient the stats persister (C12) and
// general key/value needs depend on.
type RedisCache interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	ScanStatsKeys(ctx context.Context) ([]string, error)
}

// S3Storage is the subset of S3Client the payload-offload sidecar (C14)
// depends on.
type S3Storage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	GenerateKey(digestHex string) string
	Bucket() string
}

// ClickHouseSnapshotter is the subset of ClickHouseClient the stats
// snapshotter (C12) depends on.
type ClickHouseSnapshotter interface {
	Ping(ctx context.Context) error
	InsertStatsSnapshots(ctx context.Context, rows []StatsSnapshotRow) error
	Close() error
}

// PostgresAuditLog is the subset of PostgresClient the notifier's optional
// delivery audit log depends on.
type PostgresAuditLog interface {
	Ping(ctx context.Context) error
	RecordDeliveryAttempt(ctx context.Context, a DeliveryAttempt) error
	RecentFailures(ctx context.Context, limit int) ([]DeliveryAttempt, error)
}
