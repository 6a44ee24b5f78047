// Package registry implements the connection registry (C3): the
// {user -> {connection-id -> connection}} map plus the pong-wait table used
// by the watchdog. Sharded by hash(user-id) to reduce lock contention per
// the design notes' preferred second pass over a single reentrant lock.
package registry

import (
	"sync"
	"sync/atomic"
	"time"
)

// Conn is the subset of a WebSocket connection the registry needs. Gorilla's
// *websocket.Conn satisfies this directly; tests use a fake.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Connection is the registry's owned record: (user-id, connection-id,
// transport handle, last-pong-at). Destroyed on close.
type Connection struct {
	UserID   uint64
	ConnID   uint64
	Conn     Conn

	mu         sync.Mutex
	lastPongAt time.Time
}

func (c *Connection) touchPong() {
	c.mu.Lock()
	c.lastPongAt = time.Now()
	c.mu.Unlock()
}

// LastPongAt returns the last time a pong was recorded for this connection.
func (c *Connection) LastPongAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPongAt
}

const shardCount = 16

type shard struct {
	mu    sync.RWMutex
	users map[uint64]map[uint64]*Connection
}

// Registry is the sharded connection table. The zero value is not usable;
// construct with New.
type Registry struct {
	shards  [shardCount]*shard
	nextID  atomic.Uint64

	pongMu  sync.Mutex
	pongTbl map[uint64]*pongEntry // conn-id -> entry
}

type pongEntry struct {
	userID   uint64
	conn     *Connection
	received atomic.Bool
}

// New constructs an empty Registry.
func New() *Registry {
	r := &Registry{
		pongTbl: make(map[uint64]*pongEntry),
	}
	for i := range r.shards {
		r.shards[i] = &shard{users: make(map[uint64]map[uint64]*Connection)}
	}
	return r
}

func (r *Registry) shardFor(userID uint64) *shard {
	return r.shards[userID%shardCount]
}

// Add inserts a connection for userID, assigning a fresh process-unique
// connection id. This is the only way to enter the registry.
func (r *Registry) Add(userID uint64, conn Conn) *Connection {
	id := r.nextID.Add(1)
	c := &Connection{UserID: userID, ConnID: id, Conn: conn, lastPongAt: time.Now()}

	s := r.shardFor(userID)
	s.mu.Lock()
	m, ok := s.users[userID]
	if !ok {
		m = make(map[uint64]*Connection)
		s.users[userID] = m
	}
	m[id] = c
	s.mu.Unlock()

	return c
}

// Remove deletes the connection (userID, connID) if present. Idempotent.
func (r *Registry) Remove(userID, connID uint64) {
	s := r.shardFor(userID)
	s.mu.Lock()
	if m, ok := s.users[userID]; ok {
		delete(m, connID)
		if len(m) == 0 {
			delete(s.users, userID)
		}
	}
	s.mu.Unlock()

	r.pongMu.Lock()
	delete(r.pongTbl, connID)
	r.pongMu.Unlock()
}

// RemoveConn removes a connection by its own record, looking up its owning
// shard via UserID. Idempotent.
func (r *Registry) RemoveConn(c *Connection) {
	r.Remove(c.UserID, c.ConnID)
}

// Count returns the number of live connections for userID.
func (r *Registry) Count(userID uint64) int {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID])
}

// AllUsers returns every user id with at least one live connection.
func (r *Registry) AllUsers() []uint64 {
	var out []uint64
	for _, s := range r.shards {
		s.mu.RLock()
		for u := range s.users {
			out = append(out, u)
		}
		s.mu.RUnlock()
	}
	return out
}

// Get returns a snapshot slice of userID's live connections.
func (r *Registry) Get(userID uint64) []*Connection {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.users[userID]
	out := make([]*Connection, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

// ForEach copies userID's connections under the shard lock, releases the
// lock, then visits the copy; visit does not run under the lock, so
// connections added or removed during the iteration are not reflected in
// it. visit receives a stable index for logging purposes. If a connection slot is nil
// it is removed and onMissing is invoked instead of visit.
func (r *Registry) ForEach(userID uint64, visit func(idx int, c *Connection), onMissing func(userID, connID uint64)) {
	s := r.shardFor(userID)
	s.mu.Lock()
	m := s.users[userID]
	type entry struct {
		id uint64
		c  *Connection
	}
	entries := make([]entry, 0, len(m))
	for id, c := range m {
		entries = append(entries, entry{id, c})
	}
	s.mu.Unlock()

	idx := 0
	for _, e := range entries {
		if e.c == nil {
			r.Remove(userID, e.id)
			if onMissing != nil {
				onMissing(userID, e.id)
			}
			continue
		}
		if visit != nil {
			visit(idx, e.c)
		}
		idx++
	}
}

// Verify iterates every connection, sends a ping frame with pingOpcode, and
// on a successful enqueue records the connection in the pong-wait table as
// "waiting" (received=false).
func (r *Registry) Verify(pingOpcode int) {
	r.pongMu.Lock()
	r.pongTbl = make(map[uint64]*pongEntry)
	r.pongMu.Unlock()

	for _, s := range r.shards {
		s.mu.RLock()
		var conns []*Connection
		for _, m := range s.users {
			for _, c := range m {
				conns = append(conns, c)
			}
		}
		s.mu.RUnlock()

		for _, c := range conns {
			if err := c.Conn.WriteControl(pingOpcode, nil, time.Now().Add(10*time.Second)); err != nil {
				continue
			}
			entry := &pongEntry{userID: c.UserID, conn: c}
			r.pongMu.Lock()
			r.pongTbl[c.ConnID] = entry
			r.pongMu.Unlock()
		}
	}
}

// MarkPongReceived sets the pong-wait flag for conn to true.
func (r *Registry) MarkPongReceived(c *Connection) {
	c.touchPong()
	r.pongMu.Lock()
	entry, ok := r.pongTbl[c.ConnID]
	r.pongMu.Unlock()
	if ok {
		entry.received.Store(true)
	}
}

// ReapWithoutPong atomically drains the pong-wait table; every entry whose
// flag remains false is closed with (status, reason) and removed from the
// registry. Returns the count reaped.
func (r *Registry) ReapWithoutPong(status uint16, reason string) int {
	r.pongMu.Lock()
	tbl := r.pongTbl
	r.pongTbl = make(map[uint64]*pongEntry)
	r.pongMu.Unlock()

	reaped := 0
	for connID, entry := range tbl {
		if entry.received.Load() {
			continue
		}
		closeConn(entry.conn.Conn, status, reason)
		r.Remove(entry.userID, connID)
		reaped++
	}
	return reaped
}

func closeConn(c Conn, status uint16, reason string) {
	msg := formatCloseMessage(status, reason)
	_ = c.WriteControl(closeOpcode, msg, time.Now().Add(5*time.Second))
	_ = c.Close()
}

// closeOpcode mirrors gorilla/websocket's CloseMessage opcode (8) without
// importing the package from this otherwise transport-agnostic file.
const closeOpcode = 8

func formatCloseMessage(status uint16, reason string) []byte {
	buf := make([]byte, 2+len(reason))
	buf[0] = byte(status >> 8)
	buf[1] = byte(status)
	copy(buf[2:], reason)
	return buf
}
