// Package chat implements the chat core (C8): the single fan-out entry
// point that orchestrates the connection registry, frame assembler,
// undelivered queue, statistics store, and event-notifier handoff.
package chat

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/relaydev/chatrelay/internal/auth"
	"github.com/relaydev/chatrelay/internal/frame"
	"github.com/relaydev/chatrelay/internal/message"
	"github.com/relaydev/chatrelay/internal/queue"
	"github.com/relaydev/chatrelay/internal/registry"
	"github.com/relaydev/chatrelay/internal/stats"
)

// Close status codes the core emits, per the external-interface contract.
const (
	StatusNormal            uint16 = 1000
	StatusGoingAway         uint16 = 1001
	StatusMessageTooBig     uint16 = 1009
	StatusInvalidQuery      uint16 = 4000
	StatusInvalidPayload    uint16 = 4001
	StatusUnauthorized      uint16 = 4002
	StatusInactive          uint16 = 4003
)

// Offloader is the optional C14 hook: given a payload, it may rewrite the
// payload's data field in place (oversized data replaced by a reference)
// and returns it unchanged on any failure or no-op case.
type Offloader interface {
	MaybeOffload(p *message.Payload) *message.Payload
}

// Config bundles the configuration-gated behaviors of the chat core.
type Config struct {
	EnableDeliveryStatus bool
	EnableSendBack       bool
	IgnoredSendBackTypes map[string]bool
}

// Chat orchestrates C2-C7 behind the single send() entry point described by
// the component design.
type Chat struct {
	registry    *registry.Registry
	assembler   *frame.Assembler
	undelivered *queue.Undelivered
	stats       *stats.Store
	authn       auth.Authenticator
	generator   *message.Generator
	offload     Offloader
	notify      func(*message.Payload)
	cfg         Config
	logger      *slog.Logger

	mu              sync.RWMutex
	messageListeners []func(*message.Payload)
	stopListeners    []func(*registry.Connection, uint16, string)
}

// New constructs a Chat core. notify hands a payload to the event notifier's
// ingress (C10); it must not block the caller for long since it runs inline
// with send().
func New(reg *registry.Registry, asm *frame.Assembler, undel *queue.Undelivered, st *stats.Store, authn auth.Authenticator, gen *message.Generator, offload Offloader, notify func(*message.Payload), cfg Config, logger *slog.Logger) *Chat {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chat{
		registry:    reg,
		assembler:   asm,
		undelivered: undel,
		stats:       st,
		authn:       authn,
		generator:   gen,
		offload:     offload,
		notify:      notify,
		cfg:         cfg,
		logger:      logger.With("component", "chat"),
	}
}

// AddMessageListener registers fn to be called once per send() call, before
// notifier handoff, for every payload that passes through this core.
func (c *Chat) AddMessageListener(fn func(*message.Payload)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messageListeners = append(c.messageListeners, fn)
}

// AddStopListener registers fn to be called on every disconnection.
func (c *Chat) AddStopListener(fn func(*registry.Connection, uint16, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopListeners = append(c.stopListeners, fn)
}

func (c *Chat) fireMessageListeners(p *message.Payload) {
	c.mu.RLock()
	listeners := append([]func(*message.Payload){}, c.messageListeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(p)
	}
}

func (c *Chat) fireStopListeners(conn *registry.Connection, status uint16, reason string) {
	c.mu.RLock()
	listeners := append([]func(*registry.Connection, uint16, string){}, c.stopListeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(conn, status, reason)
	}
}

// Send is the single fan-out entry point (§4.5).
func (c *Chat) Send(payload *message.Payload) {
	if c.offload != nil {
		payload = c.offload.MaybeOffload(payload)
	}

	if payload.IsForBot() {
		c.notifyListeners(payload)
		return
	}

	c.notifyListeners(payload)

	for _, u := range payload.Recipients() {
		if u == message.BotUser {
			continue
		}
		c.deliverToUser(u, payload, true)
	}
}

func (c *Chat) notifyListeners(payload *message.Payload) {
	c.fireMessageListeners(payload)
	if c.notify != nil {
		c.notify(payload)
	}
}

// deliverToUser delivers payload to every live connection of u.
// emitDeliveryStatus gates whether a successful or failed delivery may
// produce a notification_received echo back to the sender (§4.5): ordinary
// fan-out passes true, while the send-back-to-sender path (SendTo) passes
// false so that echoing a message to its own sender never itself generates
// a delivery-status notification.
func (c *Chat) deliverToUser(u uint64, payload *message.Payload, emitDeliveryStatus bool) {
	if c.registry.Count(u) == 0 {
		c.recordUndeliverable(u, payload, emitDeliveryStatus)
		return
	}

	wire, err := payload.ToWire()
	if err != nil {
		c.logger.Error("serialize for fan-out failed", "error", err)
		c.recordUndeliverable(u, payload, emitDeliveryStatus)
		return
	}

	c.registry.ForEach(u, func(_ int, conn *registry.Connection) {
		c.sendToConnection(conn, payload, wire, emitDeliveryStatus)
	}, func(userID, connID uint64) {
		c.logger.Warn("dropped missing connection slot", "user", userID, "conn", connID)
	})
}

// textMessageOpcode mirrors gorilla/websocket's TextMessage opcode (1)
// without importing the package from this transport-agnostic file.
const textMessageOpcode = 1

func (c *Chat) sendToConnection(conn *registry.Connection, payload *message.Payload, wire []byte, emitDeliveryStatus bool) {
	err := conn.Conn.WriteMessage(textMessageOpcode, wire)
	if err != nil {
		if isBrokenPipe(err) {
			c.registry.RemoveConn(conn)
		}
		c.recordUndeliverable(conn.UserID, payload, emitDeliveryStatus)
		return
	}

	if c.stats != nil {
		c.stats.OnReceived(conn.UserID, len(wire))
	}

	clone := payload.Clone()
	clone.SetRecipients([]uint64{conn.UserID})
	c.onMessageSent(clone, len(wire), true, emitDeliveryStatus)
}

func (c *Chat) onMessageSent(payload *message.Payload, _ int, delivered bool, emitDeliveryStatus bool) {
	if !delivered || !emitDeliveryStatus {
		return
	}
	if c.cfg.EnableDeliveryStatus && !payload.TypeIs(message.TypeNotificationReceived) {
		status := message.MakeDeliveryStatus(c.generator, payload.Sender())
		c.Send(status)
	}
}

func (c *Chat) recordUndeliverable(u uint64, payload *message.Payload, emitDeliveryStatus bool) {
	clone := payload.Clone()
	clone.SetRecipients([]uint64{u})
	if c.undelivered != nil && c.undelivered.Enabled() {
		c.undelivered.Enqueue(u, clone)
	} else {
		c.logger.Info("dropped undeliverable payload", "user", u, "type", payload.Type())
	}
	c.onMessageSent(clone, 0, false, emitDeliveryStatus)
}

// SendTo fans out to a single user, bypassing the recipient list on payload.
// Used by the send-back-to-sender feature. Per §4.5 this echo never itself
// generates a delivery-status notification, regardless of cfg.EnableDeliveryStatus.
func (c *Chat) SendTo(u uint64, payload *message.Payload) {
	clone := payload.Clone()
	clone.SetRecipients([]uint64{u})
	c.deliverToUser(u, clone, false)
}

// OnMessage is the ingress glue from the WS endpoint: route the frame
// through the assembler (for fragmented messages) and, once a complete
// message is available, parse and send it.
func (c *Chat) OnMessage(conn *registry.Connection, opcode frame.OpcodeClass, raw []byte) error {
	var assembled []byte
	switch opcode {
	case frame.FragmentBegin:
		return c.assembler.Begin(conn.UserID, conn.ConnID, raw)
	case frame.FragmentContinue:
		return c.assembler.Continue(conn.UserID, conn.ConnID, raw)
	case frame.FragmentEnd:
		a, err := c.assembler.End(conn.UserID, conn.ConnID, raw)
		if err != nil {
			return err
		}
		assembled = a
	case frame.WholeFrame:
		assembled = raw
	case frame.Pong:
		c.registry.MarkPongReceived(conn)
		return nil
	default:
		return fmt.Errorf("chat: unknown opcode class %v", opcode)
	}

	payload, err := message.Parse(assembled, message.ParseOptions{})
	if err != nil {
		return err
	}
	payload.AssignID(c.generator)

	if c.stats != nil {
		c.stats.OnSent(payload.Sender(), len(assembled))
	}

	if c.cfg.EnableSendBack && !c.cfg.IgnoredSendBackTypes[payload.Type()] && !payload.IsForBot() {
		c.SendTo(payload.Sender(), payload)
	}

	c.Send(payload)
	return nil
}

// OnConnected authenticates and registers a new connection, draining any
// queued undelivered messages for the user on success.
func (c *Chat) OnConnected(r *http.Request, conn registry.Conn) (*registry.Connection, uint16, string) {
	idStr := r.URL.Query().Get("id")
	userID, err := strconv.ParseUint(idStr, 10, 64)
	if idStr == "" || err != nil {
		return nil, StatusInvalidQuery, "missing or non-numeric id"
	}

	if !c.authn.Validate(r) {
		return nil, StatusUnauthorized, "authentication failed"
	}

	registered := c.registry.Add(userID, conn)
	if c.stats != nil {
		c.stats.OnConnect(userID)
	}

	if c.undelivered != nil {
		for _, p := range c.undelivered.Drain(userID) {
			c.Send(p)
		}
	}

	return registered, 0, ""
}

// OnDisconnected bumps statistics and removes the connection from the
// registry, then clears any in-progress frame buffer.
func (c *Chat) OnDisconnected(conn *registry.Connection, status uint16, reason string) {
	c.registry.RemoveConn(conn)
	c.assembler.Clear(conn.UserID, conn.ConnID)
	if c.stats != nil {
		c.stats.OnDisconnect(conn.UserID)
	}
	c.fireStopListeners(conn, status, reason)
}

func isBrokenPipe(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset")
}
