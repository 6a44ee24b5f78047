package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// BotUser is the reserved user id denoting the synthetic bot participant.
// The bot never owns a connection; messages from or solely to it bypass the
// connection registry entirely.
const BotUser uint64 = 0

// TypeNotificationReceived is the well-known type used for delivery-status
// echoes (see Chat.onMessageSent in the chat package).
const TypeNotificationReceived = "notification_received"

// TypeText and TypeBinary are well-known payload types; the vocabulary is
// otherwise open.
const (
	TypeText   = "text"
	TypeBinary = "binary"
)

// wireEnvelope mirrors the on-the-wire JSON shape.
type wireEnvelope struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Sender     uint64          `json:"sender"`
	Recipients []uint64        `json:"recipients"`
	Text       string          `json:"text,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Timestamp  string          `json:"timestamp,omitempty"`
}

// Payload is a parsed, mutable chat envelope. It caches its serialized wire
// form; any mutator invalidates the cache. Equality between two payloads is
// by ID alone (see Equal).
type Payload struct {
	id         ID
	typ        string
	sender     uint64
	recipients []uint64
	text       string
	data       json.RawMessage
	timestamp  time.Time
	hasExplicitTimestamp bool

	validationErr string

	wireCache []byte
}

// ParseOptions controls parse-time behavior.
type ParseOptions struct {
	// OverrideTimestamp, when true, preserves an explicit "timestamp" field
	// from the input instead of stamping the server's own clock.
	OverrideTimestamp bool
}

// Parse strictly decodes a JSON envelope and validates the invariants from
// the data model: recipients non-empty, sender present, type present, and
// (for type "text") a non-empty text field. On success the returned payload
// has not yet been assigned an id; call AssignID with a Generator.
func Parse(raw []byte, opts ParseOptions) (*Payload, error) {
	var w wireEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("message: strict json decode: %w", err)
	}

	p := &Payload{
		typ:        w.Type,
		sender:     w.Sender,
		recipients: append([]uint64(nil), w.Recipients...),
		text:       w.Text,
		data:       w.Data,
	}

	if opts.OverrideTimestamp && w.Timestamp != "" {
		if t, err := time.Parse(time.RFC3339Nano, w.Timestamp); err == nil {
			p.timestamp = t
			p.hasExplicitTimestamp = true
		}
	}

	if err := p.validate(); err != nil {
		p.validationErr = err.Error()
		return p, err
	}

	var present struct {
		Sender *uint64 `json:"sender"`
	}
	if err := json.Unmarshal(raw, &present); err == nil && present.Sender == nil {
		err := fmt.Errorf("message: sender is required")
		p.validationErr = err.Error()
		return p, err
	}
	return p, nil
}

func (p *Payload) validate() error {
	if p.typ == "" {
		return fmt.Errorf("message: type is required")
	}
	if len(p.recipients) == 0 {
		return fmt.Errorf("message: recipients must be non-empty")
	}
	if p.typ == TypeText && p.text == "" {
		return fmt.Errorf("message: text is required and non-empty for type %q", TypeText)
	}
	return nil
}

// IsValid reports whether the payload passed validation at parse time.
func (p *Payload) IsValid() bool {
	return p.validationErr == ""
}

// Error returns the human-readable validation error, or "" if valid.
func (p *Payload) Error() string {
	return p.validationErr
}

// AssignID stamps the payload with the next id from g, and a server
// timestamp unless an explicit one survived parsing under override mode.
// Invalidates the wire cache.
func (p *Payload) AssignID(g *Generator) {
	p.id = g.Next()
	if !p.hasExplicitTimestamp {
		p.timestamp = time.Now().UTC()
	}
	p.invalidateCache()
}

// ID returns the payload's message id.
func (p *Payload) ID() ID { return p.id }

// Type returns the payload's type string.
func (p *Payload) Type() string { return p.typ }

// TypeIs reports whether the payload's type equals s.
func (p *Payload) TypeIs(s string) bool { return p.typ == s }

// Sender returns the sender user id.
func (p *Payload) Sender() uint64 { return p.sender }

// Recipients returns the recipient list. Callers must not mutate the
// returned slice; use SetRecipients/AddRecipient instead.
func (p *Payload) Recipients() []uint64 { return p.recipients }

// Text returns the text field.
func (p *Payload) Text() string { return p.text }

// Data returns the raw "data" field, or nil if absent.
func (p *Payload) Data() json.RawMessage { return p.data }

// Timestamp returns the assigned or preserved timestamp.
func (p *Payload) Timestamp() time.Time { return p.timestamp }

// IsFromBot reports whether the sender is the bot user (id 0).
func (p *Payload) IsFromBot() bool { return p.sender == BotUser }

// IsForBot reports whether the recipients are exactly [0].
func (p *Payload) IsForBot() bool {
	return len(p.recipients) == 1 && p.recipients[0] == BotUser
}

// SetSender replaces the sender and invalidates the wire cache.
func (p *Payload) SetSender(u uint64) {
	p.sender = u
	p.invalidateCache()
}

// SetRecipients replaces the recipient list wholesale and invalidates the
// wire cache.
func (p *Payload) SetRecipients(r []uint64) {
	p.recipients = append([]uint64(nil), r...)
	p.invalidateCache()
}

// AddRecipient appends one recipient and invalidates the wire cache.
func (p *Payload) AddRecipient(u uint64) {
	p.recipients = append(p.recipients, u)
	p.invalidateCache()
}

// SetData replaces the opaque data field and invalidates the wire cache.
// Used by the payload-offload path (C14) to rewrite oversized data in place.
func (p *Payload) SetData(raw json.RawMessage) {
	p.data = raw
	p.invalidateCache()
}

func (p *Payload) invalidateCache() {
	p.wireCache = nil
}

// ToWire serializes the envelope, caching the result until the next mutator
// call.
func (p *Payload) ToWire() ([]byte, error) {
	if p.wireCache != nil {
		return p.wireCache, nil
	}
	w := wireEnvelope{
		ID:         p.id.String(),
		Type:       p.typ,
		Sender:     p.sender,
		Recipients: p.recipients,
		Text:       p.text,
		Data:       p.data,
	}
	if !p.timestamp.IsZero() {
		w.Timestamp = p.timestamp.Format(time.RFC3339Nano)
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("message: marshal: %w", err)
	}
	p.wireCache = b
	return b, nil
}

// Clone deep-copies the payload (fresh recipient slice, same id and cache
// state cleared) so a fan-out path can rewrite recipients without aliasing
// the original.
func (p *Payload) Clone() *Payload {
	clone := *p
	clone.recipients = append([]uint64(nil), p.recipients...)
	clone.wireCache = nil
	return &clone
}

// Equal compares two payloads by id only, per the data model's equality
// rule.
func (p *Payload) Equal(other *Payload) bool {
	if p == nil || other == nil {
		return p == other
	}
	return p.id == other.id
}

// MakeDeliveryStatus builds the notification_received envelope sent back to
// the original sender after a successful per-connection delivery.
func MakeDeliveryStatus(g *Generator, to uint64) *Payload {
	p := &Payload{
		typ:        TypeNotificationReceived,
		sender:     BotUser,
		recipients: []uint64{to},
	}
	p.AssignID(g)
	return p
}

// New constructs a payload directly (bypassing Parse) for server-originated
// messages such as the content classifier's content_flag events. No
// validation is run; call Validate to check the invariants.
func New(typ string, sender uint64, recipients []uint64, text string, data json.RawMessage) *Payload {
	return &Payload{
		typ:        typ,
		sender:     sender,
		recipients: append([]uint64(nil), recipients...),
		text:       text,
		data:       data,
	}
}

// Validate re-runs the §3 invariant checks, useful for payloads constructed
// via New rather than Parse.
func (p *Payload) Validate() error {
	if err := p.validate(); err != nil {
		p.validationErr = err.Error()
		return err
	}
	p.validationErr = ""
	return nil
}
