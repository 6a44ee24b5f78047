// Package target implements the pluggable event-target abstraction (C11):
// HTTP postback, message-broker publish, and the content-classifier sidecar
// (C15), all behind one interface so the notifier's dispatch stays a closed
// enum per the design notes.
package target

import (
	"github.com/relaydev/chatrelay/internal/message"
)

// Target is the pluggable delivery sink interface. Send is synchronous from
// the notifier worker's perspective; implementations may block.
type Target interface {
	// Send delivers payload, returning ok=true on success or a human
	// readable error string on failure.
	Send(payload *message.Payload) (ok bool, errMsg string)
	// Type returns a stable identifier used in logs and fallback chains.
	Type() string
	// IsValid reports whether the target passed constructor validation.
	IsValid() bool
	// ErrorMessage explains why IsValid is false, or "" if valid.
	ErrorMessage() string
	// Fallbacks returns the ordered fallback chain declared at configuration
	// time.
	Fallbacks() []Target
}

// baseTarget centralizes the validity/fallback bookkeeping shared by every
// concrete implementation.
type baseTarget struct {
	valid     bool
	errMsg    string
	fallbacks []Target
}

func (b *baseTarget) IsValid() bool          { return b.valid }
func (b *baseTarget) ErrorMessage() string   { return b.errMsg }
func (b *baseTarget) Fallbacks() []Target    { return b.fallbacks }
func (b *baseTarget) SetFallbacks(f []Target) { b.fallbacks = f }
