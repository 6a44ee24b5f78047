// Package frame implements the fragmented-WebSocket-message reassembler
// (C4). Per the design notes, it is keyed by (user-id, connection-id) rather
// than user-id alone, to avoid a race when one user owns several connections
// that independently begin a fragmented message.
package frame

import (
	"fmt"
	"sync"
)

// OpcodeClass enumerates the frame classes the assembler reacts to, mirrored
// from the underlying WebSocket library's opcodes by the caller.
type OpcodeClass int

const (
	FragmentBegin OpcodeClass = iota
	FragmentContinue
	FragmentEnd
	WholeFrame
	Pong
)

type key struct {
	userID uint64
	connID uint64
}

// Assembler reassembles fragmented text/binary frames per (user, connection)
// and enforces a maximum assembled size.
type Assembler struct {
	maxSize int64

	mu      sync.Mutex
	buffers map[key][]byte
}

// New constructs an Assembler with the given max assembled message size in
// bytes (§4.4: assembled length beyond this closes the connection with
// status 1009).
func New(maxSize int64) *Assembler {
	return &Assembler{maxSize: maxSize, buffers: make(map[key][]byte)}
}

// ErrTooLarge is returned when the assembled buffer would exceed maxSize.
var ErrTooLarge = fmt.Errorf("frame: assembled message exceeds max size")

// Begin clears any existing buffer for (userID, connID) and writes the
// initial fragment payload.
func (a *Assembler) Begin(userID, connID uint64, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{userID, connID}
	if int64(len(payload)) > a.maxSize {
		delete(a.buffers, k)
		return ErrTooLarge
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	a.buffers[k] = buf
	return nil
}

// Continue appends payload to the running buffer for (userID, connID).
func (a *Assembler) Continue(userID, connID uint64, payload []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{userID, connID}
	buf := append(a.buffers[k], payload...)
	if int64(len(buf)) > a.maxSize {
		delete(a.buffers, k)
		return ErrTooLarge
	}
	a.buffers[k] = buf
	return nil
}

// End appends the final fragment, returns the assembled message, and clears
// the buffer.
func (a *Assembler) End(userID, connID uint64, payload []byte) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k := key{userID, connID}
	buf := append(a.buffers[k], payload...)
	delete(a.buffers, k)
	if int64(len(buf)) > a.maxSize {
		return nil, ErrTooLarge
	}
	return buf, nil
}

// Clear discards any in-progress buffer for (userID, connID), e.g. on
// connection close.
func (a *Assembler) Clear(userID, connID uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.buffers, key{userID, connID})
}
