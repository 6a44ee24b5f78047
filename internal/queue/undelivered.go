// Package queue implements the per-recipient undelivered queue (C5): a FIFO
// of payloads awaiting a user's next connection, gated by a single
// enable/disable switch.
package queue

import (
	"sync"

	"github.com/relaydev/chatrelay/internal/message"
)

// Undelivered holds one FIFO per user. Bounded only by memory.
type Undelivered struct {
	enabled bool

	mu    sync.Mutex
	queue map[uint64][]*message.Payload
}

// New constructs an Undelivered queue. When enabled is false, Enqueue is a
// no-op (callers are expected to log the drop themselves).
func New(enabled bool) *Undelivered {
	return &Undelivered{enabled: enabled, queue: make(map[uint64][]*message.Payload)}
}

// Enabled reports whether the queue is accepting entries.
func (u *Undelivered) Enabled() bool {
	return u.enabled
}

// Enqueue appends a payload (already rewritten to recipients=[user]) to
// user's queue. No-op if disabled.
func (u *Undelivered) Enqueue(user uint64, p *message.Payload) {
	if !u.enabled {
		return
	}
	u.mu.Lock()
	u.queue[user] = append(u.queue[user], p)
	u.mu.Unlock()
}

// Len returns the number of queued payloads for user.
func (u *Undelivered) Len(user uint64) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.queue[user])
}

// Drain removes and returns all queued payloads for user, in enqueue order,
// clearing the queue. The caller (chat core) is responsible for re-sending
// each one via a regular send, which may itself re-enqueue.
func (u *Undelivered) Drain(user uint64) []*message.Payload {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.queue[user]
	delete(u.queue, user)
	return out
}
