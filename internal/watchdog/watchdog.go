// Package watchdog implements the liveness watchdog (C9): a long-lived task
// alternating "close silent connections" and "ping everyone" every tick, so
// every peer gets a full cycle to respond before being classified as
// inactive.
package watchdog

import (
	"context"
	"log/slog"
	"time"
)

// Registry is the subset of the connection registry the watchdog drives.
type Registry interface {
	ReapWithoutPong(status uint16, reason string) int
	Verify(pingOpcode int)
}

// StatusInactive mirrors chat.StatusInactive; duplicated here (not imported)
// to keep this package free of a dependency on the chat core.
const StatusInactive uint16 = 4003

const reapReason = "Dangling connection"

// Watchdog runs the reap-then-verify cycle on a fixed interval.
type Watchdog struct {
	registry   Registry
	interval   time.Duration
	pingOpcode int
	logger     *slog.Logger
}

// New constructs a Watchdog. interval defaults to 60s per §4.7; pingOpcode
// is the WebSocket ping opcode (0x9) supplied by the caller's transport.
func New(registry Registry, interval time.Duration, pingOpcode int, logger *slog.Logger) *Watchdog {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{registry: registry, interval: interval, pingOpcode: pingOpcode, logger: logger.With("component", "watchdog")}
}

// Run blocks, alternating reap and verify every interval, until ctx is
// cancelled. The first tick has nothing to reap since Verify has not yet
// armed the pong-wait table.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.tick()
		}
	}
}

func (w *Watchdog) tick() {
	reaped := w.registry.ReapWithoutPong(StatusInactive, reapReason)
	if reaped > 0 {
		w.logger.Info("reaped silent connections", "count", reaped)
	}
	w.registry.Verify(w.pingOpcode)
}
