// Package stats implements the statistics store (C6): per-user counters
// updated from the send-completion callback, plus two additive sidecars —
// Redis write-through/rehydrate persistence (C12) and a sigma/stddev flood
// detector (C13), both optional and never on the hot path.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// Record holds one user's counters. Individual fields are atomic so a
// reader can snapshot without holding the store's map lock once the record
// exists, per the concurrency model's shared-resource policy.
type Record struct {
	ConnectCount    atomic.Int64
	DisconnectCount atomic.Int64
	BytesTransfer   atomic.Int64
	Sent            atomic.Int64
	Received        atomic.Int64

	mu              sync.Mutex
	lastMessageAt   time.Time
	lastConnectAt   time.Time
	lastDisconnectAt time.Time
}

// Snapshot is an immutable point-in-time copy of a Record, safe to hand to
// callers (REST stats endpoint, ClickHouse snapshot writer) without aliasing
// the live counters.
type Snapshot struct {
	UserID           uint64
	ConnectCount     int64
	DisconnectCount  int64
	BytesTransferred int64
	Sent             int64
	Received         int64
	LastMessageAt    time.Time
	LastConnectAt    time.Time
	LastDisconnectAt time.Time
}

func (r *Record) snapshot(userID uint64) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		UserID:           userID,
		ConnectCount:     r.ConnectCount.Load(),
		DisconnectCount:  r.DisconnectCount.Load(),
		BytesTransferred: r.BytesTransfer.Load(),
		Sent:             r.Sent.Load(),
		Received:         r.Received.Load(),
		LastMessageAt:    r.lastMessageAt,
		LastConnectAt:    r.lastConnectAt,
		LastDisconnectAt: r.lastDisconnectAt,
	}
}

// Persister is implemented by the optional C12 Redis write-through sidecar.
// Store calls it asynchronously and best-effort; a nil Persister disables
// persistence entirely.
type Persister interface {
	WriteThrough(userID uint64, snap Snapshot)
	Rehydrate() (map[uint64]Snapshot, error)
}

// FloodDetector is implemented by the optional C13 sigma/stddev sidecar.
type FloodDetector interface {
	Observe(userID uint64, count int64, window time.Duration)
}

// Store is the statistics map: single lock to create/find a user's record,
// atomic counters thereafter.
type Store struct {
	mu      sync.RWMutex
	records map[uint64]*Record

	persister Persister
	flood     FloodDetector
}

// New constructs an empty Store. persister and flood may be nil to disable
// the corresponding sidecar.
func New(persister Persister, flood FloodDetector) *Store {
	return &Store{records: make(map[uint64]*Record), persister: persister, flood: flood}
}

func (s *Store) recordFor(userID uint64) *Record {
	s.mu.RLock()
	r, ok := s.records[userID]
	s.mu.RUnlock()
	if ok {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[userID]; ok {
		return r
	}
	r = &Record{}
	s.records[userID] = r
	return r
}

// OnConnect bumps connect_count and last_connect_at for userID.
func (s *Store) OnConnect(userID uint64) {
	r := s.recordFor(userID)
	r.ConnectCount.Add(1)
	r.mu.Lock()
	r.lastConnectAt = time.Now()
	r.mu.Unlock()
	s.writeThrough(userID, r)
}

// OnDisconnect bumps disconnect_count and last_disconnect_at for userID.
func (s *Store) OnDisconnect(userID uint64) {
	r := s.recordFor(userID)
	r.DisconnectCount.Add(1)
	r.mu.Lock()
	r.lastDisconnectAt = time.Now()
	r.mu.Unlock()
	s.writeThrough(userID, r)
}

// OnSent bumps sent and bytes_transferred for the sending user. Called once
// per message parsed from a sender's connection (Chat.OnMessage), not once
// per connection delivered.
func (s *Store) OnSent(userID uint64, bytes int) {
	r := s.recordFor(userID)
	r.Sent.Add(1)
	r.BytesTransfer.Add(int64(bytes))
	r.mu.Lock()
	r.lastMessageAt = time.Now()
	r.mu.Unlock()
	s.writeThrough(userID, r)

	if s.flood != nil {
		s.flood.Observe(userID, r.Sent.Load(), time.Minute)
	}
}

// OnReceived increments received for the recipient user. Increments only
// for payloads actually delivered to a connection (per-connection, so a
// payload delivered to two connections of the same user increments twice).
func (s *Store) OnReceived(userID uint64, bytes int) {
	r := s.recordFor(userID)
	r.Received.Add(1)
	r.BytesTransfer.Add(int64(bytes))
	s.writeThrough(userID, r)
}

func (s *Store) writeThrough(userID uint64, r *Record) {
	if s.persister == nil {
		return
	}
	snap := r.snapshot(userID)
	go s.persister.WriteThrough(userID, snap)
}

// Get returns a snapshot for userID, or a zero-valued one if unknown (per
// the REST /stat?id= contract).
func (s *Store) Get(userID uint64) Snapshot {
	s.mu.RLock()
	r, ok := s.records[userID]
	s.mu.RUnlock()
	if !ok {
		return Snapshot{UserID: userID}
	}
	return r.snapshot(userID)
}

// All returns a snapshot of every known user's counters.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, 0, len(s.records))
	for userID, r := range s.records {
		out = append(out, r.snapshot(userID))
	}
	return out
}

// Rehydrate loads persisted counters from the configured Persister (if any)
// into the in-memory map. Called once at startup; a persister error is
// non-fatal — the store simply starts empty. Calling Rehydrate twice with no
// intervening writes must be idempotent (testable property 10).
func (s *Store) Rehydrate() error {
	if s.persister == nil {
		return nil
	}
	snaps, err := s.persister.Rehydrate()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, snap := range snaps {
		r := &Record{}
		r.ConnectCount.Store(snap.ConnectCount)
		r.DisconnectCount.Store(snap.DisconnectCount)
		r.BytesTransfer.Store(snap.BytesTransferred)
		r.Sent.Store(snap.Sent)
		r.Received.Store(snap.Received)
		r.lastMessageAt = snap.LastMessageAt
		r.lastConnectAt = snap.LastConnectAt
		r.lastDisconnectAt = snap.LastDisconnectAt
		s.records[userID] = r
	}
	return nil
}
