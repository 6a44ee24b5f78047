package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IsNotFound returns true if the error indicates a record was not found.
func IsNotFound(err error) bool {
	return err == pgx.ErrNoRows
}

// DeliveryAttempt is one row of the optional notifier delivery audit log
// (C12's Postgres-backed sibling to the Redis/ClickHouse statistics path).
type DeliveryAttempt struct {
	MessageID  string
	TargetType string
	Attempt    int
	Succeeded  bool
	ErrorMsg   string
	AttemptedAt int64
}

// PostgresClient wraps a pgx connection pool. Its only domain
// responsibility is the notifier's optional delivery audit log.
type PostgresClient struct {
	pool *pgxpool.Pool
}

// NewPostgresClient creates a new PostgreSQL client from the given DSN.
func NewPostgresClient(ctx context.Context, dsn string) (*PostgresClient, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresClient{pool: pool}, nil
}

// Close releases all connections in the pool.
func (p *PostgresClient) Close() {
	p.pool.Close()
}

// Ping verifies connectivity to PostgreSQL.
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// RecordDeliveryAttempt appends one row to the notifier_delivery_log table.
// Best-effort: callers treat a failure here as a resource error, never a
// reason to drop or retry the underlying delivery.
func (p *PostgresClient) RecordDeliveryAttempt(ctx context.Context, a DeliveryAttempt) error {
	const q = `INSERT INTO notifier_delivery_log
		(message_id, target_type, attempt, succeeded, error_msg, attempted_at)
		VALUES ($1, $2, $3, $4, $5, to_timestamp($6))`
	_, err := p.pool.Exec(ctx, q, a.MessageID, a.TargetType, a.Attempt, a.Succeeded, a.ErrorMsg, a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("postgres: record delivery attempt: %w", err)
	}
	return nil
}

// RecentFailures returns the most recent failed delivery attempts, newest
// first, for operator inspection.
func (p *PostgresClient) RecentFailures(ctx context.Context, limit int) ([]DeliveryAttempt, error) {
	const q = `SELECT message_id, target_type, attempt, succeeded, error_msg, extract(epoch from attempted_at)::bigint
		FROM notifier_delivery_log
		WHERE succeeded = false
		ORDER BY attempted_at DESC
		LIMIT $1`
	rows, err := p.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent failures: %w", err)
	}
	defer rows.Close()

	var out []DeliveryAttempt
	for rows.Next() {
		var a DeliveryAttempt
		if err := rows.Scan(&a.MessageID, &a.TargetType, &a.Attempt, &a.Succeeded, &a.ErrorMsg, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan delivery attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
