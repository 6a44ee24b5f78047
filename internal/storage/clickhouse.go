package storage

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// StatsSnapshotRow is a point-in-time copy of one user's statistics
// counters, appended (never mutated) to ClickHouse on a timer for
// historical/analytics queries (C12).
type StatsSnapshotRow struct {
	UserID           uint64
	ConnectCount     int64
	DisconnectCount  int64
	BytesTransferred int64
	Sent             int64
	Received         int64
	SampledAt        int64 // unix seconds
}

// ClickHouseClient wraps a ClickHouse connection pool.
type ClickHouseClient struct {
	conn driver.Conn
}

// NewClickHouseClient creates a new ClickHouse client from the given DSN,
// e.g. "clickhouse://localhost:9000/chatrelay".
func NewClickHouseClient(ctx context.Context, dsn string) (*ClickHouseClient, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: parse dsn: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: open: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse: ping: %w", err)
	}

	return &ClickHouseClient{conn: conn}, nil
}

// Close releases the underlying connection pool.
func (c *ClickHouseClient) Close() error {
	return c.conn.Close()
}

// Ping verifies connectivity to ClickHouse.
func (c *ClickHouseClient) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// InsertStatsSnapshots appends a batch of per-user counter snapshots into
// the stats_snapshots table. Append-only: each call is a new set of rows,
// never an update of prior ones.
func (c *ClickHouseClient) InsertStatsSnapshots(ctx context.Context, rows []StatsSnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO stats_snapshots (
			user_id, connect_count, disconnect_count,
			bytes_transferred, sent, received, sampled_at
		)
	`)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare batch: %w", err)
	}

	for i := range rows {
		r := &rows[i]
		if err := batch.Append(
			r.UserID, r.ConnectCount, r.DisconnectCount,
			r.BytesTransferred, r.Sent, r.Received, r.SampledAt,
		); err != nil {
			return fmt.Errorf("clickhouse: append row %d: %w", i, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send batch: %w", err)
	}
	return nil
}
