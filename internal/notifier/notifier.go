// Package notifier implements the event notifier (C10): a work queue of
// send-status entries drained by background workers, with per-target retry
// and a fallback chain on exhaustion.
package notifier

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/relaydev/chatrelay/internal/message"
	"github.com/relaydev/chatrelay/internal/storage"
	"github.com/relaydev/chatrelay/internal/target"
)

// SendStatus is one target's delivery attempt record for one payload.
type SendStatus struct {
	Target        target.Target
	Payload       *message.Payload
	Attempts      int
	LastAttemptAt time.Time
	FallbackChain []target.Target
}

func (s *SendStatus) ready(retryInterval time.Duration, now time.Time) bool {
	return s.Attempts == 0 || now.Sub(s.LastAttemptAt) >= retryInterval
}

// Config bundles the notifier's configuration-gated behaviors.
type Config struct {
	RetryInterval      time.Duration
	MaxRetries         int
	MaxParallelWorkers int
	SendBotMessages    bool
	IgnoreTypes        map[string]bool
}

// AuditLogger is the optional sidecar recording every delivery attempt
// to a durable audit log. A nil AuditLogger disables the sidecar.
type AuditLogger interface {
	RecordDeliveryAttempt(ctx context.Context, a storage.DeliveryAttempt) error
}

// Notifier is the C10 background delivery pipeline.
type Notifier struct {
	cfg       Config
	primaries []target.Target
	audit     AuditLogger
	logger    *slog.Logger

	mu    sync.Mutex
	queue []*SendStatus

	wake chan struct{}
}

// New constructs a Notifier with the given primary targets (one send-status
// entry is created per primary target per ingress payload). audit may be
// nil to disable the delivery audit log sidecar.
func New(primaries []target.Target, audit AuditLogger, cfg Config, logger *slog.Logger) *Notifier {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.MaxParallelWorkers < 1 {
		cfg.MaxParallelWorkers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Notifier{
		cfg:       cfg,
		primaries: primaries,
		audit:     audit,
		logger:    logger.With("component", "notifier"),
		wake:      make(chan struct{}, 1),
	}
}

// signal wakes a blocked Run loop without blocking the caller; a queue that
// is already "known non-empty" collapses multiple signals into one wakeup.
func (n *Notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Enqueue applies the ingress filter (bot-origin, ignore-list) and, for each
// configured primary target, pushes a fresh send-status entry onto the
// queue.
func (n *Notifier) Enqueue(payload *message.Payload) {
	if payload.IsFromBot() && !n.cfg.SendBotMessages {
		return
	}
	if n.cfg.IgnoreTypes[payload.Type()] {
		return
	}

	n.mu.Lock()
	for _, t := range n.primaries {
		n.queue = append(n.queue, &SendStatus{
			Target:        t,
			Payload:       payload,
			FallbackChain: append([]target.Target(nil), t.Fallbacks()...),
		})
	}
	n.mu.Unlock()
	n.signal()
}

// Run drains the queue in batches of at most MaxParallelWorkers, spawning a
// goroutine per ready entry, until stop is closed. Each drain waits for all
// goroutines of its batch to finish before the next drain starts. Workers
// that fail but have retries remaining are re-enqueued; entries not yet due
// are re-enqueued unchanged. The wait is bounded by RetryInterval even
// without an explicit signal, so retry latency stays bounded.
func (n *Notifier) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(n.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-n.wake:
			n.drainAndDispatch()
		case <-ticker.C:
			n.drainAndDispatch()
		}
	}
}

func (n *Notifier) drainAndDispatch() {
	batch := n.drain(n.cfg.MaxParallelWorkers)
	if len(batch) == 0 {
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, entry := range batch {
		if !entry.ready(n.cfg.RetryInterval, now) {
			n.requeue(entry)
			continue
		}

		wg.Add(1)
		go func(e *SendStatus) {
			defer wg.Done()
			n.dispatch(e)
		}(entry)
	}
	wg.Wait()
}

func (n *Notifier) drain(max int) []*SendStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.queue) == 0 {
		return nil
	}
	if max > len(n.queue) {
		max = len(n.queue)
	}
	batch := n.queue[:max]
	n.queue = n.queue[max:]
	return batch
}

func (n *Notifier) requeue(entry *SendStatus) {
	n.mu.Lock()
	n.queue = append(n.queue, entry)
	n.mu.Unlock()
}

func (n *Notifier) dispatch(entry *SendStatus) {
	ok, errMsg := entry.Target.Send(entry.Payload)
	n.recordAttempt(entry, ok, errMsg)
	if ok {
		n.logger.Debug("delivered", "target", entry.Target.Type(), "message_id", entry.Payload.ID().String())
		return
	}

	n.logger.Warn("delivery failed", "target", entry.Target.Type(), "error", errMsg, "attempts", entry.Attempts+1)

	if entry.Attempts+1 < n.cfg.MaxRetries {
		entry.Attempts++
		entry.LastAttemptAt = time.Now()
		n.requeue(entry)
		return
	}

	n.fallback(entry)
}

// recordAttempt writes one row to the optional audit log sidecar. Best
// effort and asynchronous: a logging failure never affects delivery.
func (n *Notifier) recordAttempt(entry *SendStatus, ok bool, errMsg string) {
	if n.audit == nil {
		return
	}
	attempt := storage.DeliveryAttempt{
		MessageID:   entry.Payload.ID().String(),
		TargetType:  entry.Target.Type(),
		Attempt:     entry.Attempts + 1,
		Succeeded:   ok,
		ErrorMsg:    errMsg,
		AttemptedAt: time.Now().Unix(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := n.audit.RecordDeliveryAttempt(ctx, attempt); err != nil {
			n.logger.Warn("audit log write failed", "error", err)
		}
	}()
}

// fallback pops the head of entry's fallback chain and re-enqueues with
// attempts reset; each primary's chain is traversed at most once since the
// chain only shrinks. An exhausted chain drops the payload for this target.
func (n *Notifier) fallback(entry *SendStatus) {
	if len(entry.FallbackChain) == 0 {
		n.logger.Warn("fallback chain exhausted, dropping", "target", entry.Target.Type(), "message_id", entry.Payload.ID().String())
		return
	}

	next := entry.FallbackChain[0]
	entry.Target = next
	entry.FallbackChain = entry.FallbackChain[1:]
	entry.Attempts = 0
	entry.LastAttemptAt = time.Time{}
	n.requeue(entry)
}

// Len reports the current queue depth, for tests and diagnostics.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.queue)
}
