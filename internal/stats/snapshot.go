package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaydev/chatrelay/internal/storage"
)

// snapshotWriter is the subset of storage.ClickHouseClient the snapshotter
// needs.
type snapshotWriter interface {
	InsertStatsSnapshots(ctx context.Context, rows []storage.StatsSnapshotRow) error
}

// Snapshotter periodically appends every known user's current counters to
// ClickHouse for historical graphing (C12). Failure is logged, never fatal,
// never retried — consistent with stats being best-effort telemetry.
type Snapshotter struct {
	store    *Store
	writer   snapshotWriter
	interval time.Duration
	logger   *slog.Logger
}

// NewSnapshotter builds a Snapshotter over store, writing through writer
// every interval.
func NewSnapshotter(store *Store, writer snapshotWriter, interval time.Duration, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{store: store, writer: writer, interval: interval, logger: logger.With("component", "stats.snapshotter")}
}

// Run blocks, writing a snapshot batch on each tick until ctx is canceled.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.snapshotOnce(ctx)
		}
	}
}

func (s *Snapshotter) snapshotOnce(ctx context.Context) {
	all := s.store.All()
	if len(all) == 0 {
		return
	}

	now := time.Now().Unix()
	rows := make([]storage.StatsSnapshotRow, 0, len(all))
	for _, snap := range all {
		rows = append(rows, storage.StatsSnapshotRow{
			UserID:           snap.UserID,
			ConnectCount:     snap.ConnectCount,
			DisconnectCount:  snap.DisconnectCount,
			BytesTransferred: snap.BytesTransferred,
			Sent:             snap.Sent,
			Received:         snap.Received,
			SampledAt:        now,
		})
	}

	if err := s.writer.InsertStatsSnapshots(ctx, rows); err != nil {
		s.logger.Warn("stats snapshot insert failed", "error", err, "rows", len(rows))
	}
}
