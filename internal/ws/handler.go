// Package ws implements the external WebSocket endpoint (§6): it upgrades
// incoming HTTP requests, wraps the resulting connection to satisfy the
// connection registry's transport interface, and drives the chat core's
// on_connected/on_message/on_disconnected lifecycle.
package ws

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydev/chatrelay/internal/chat"
	"github.com/relaydev/chatrelay/internal/frame"
	"github.com/relaydev/chatrelay/internal/registry"
)

// readChunkSize bounds how much of one WS message is pulled into memory at
// a time before being handed to the frame assembler (C4). gorilla/websocket
// already reassembles WS-level fragmentation inside NextReader, so without
// this chunking every message would always look like a single WholeFrame to
// the assembler; reading the message's own reader in fixed-size chunks and
// driving Begin/Continue/End off those chunk boundaries is what actually
// exercises C4 against real connections instead of only synthetic opcodes
// in tests.
const readChunkSize = 32 * 1024

const writeControlDeadline = 5 * time.Second

// Handler upgrades HTTP requests matching the configured endpoint into chat
// connections.
type Handler struct {
	chat           *chat.Chat
	upgrader       websocket.Upgrader
	maxMessageSize int64
	logger         *slog.Logger
}

// New constructs a Handler. maxMessageSize bounds a single assembled message
// (§4.4); origins lists allowed CORS origins for the upgrade handshake, "*"
// permits all.
func New(c *chat.Chat, maxMessageSize int64, origins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	allowAll := false
	originSet := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = struct{}{}
	}

	return &Handler{
		chat: c,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := originSet[origin]
				return ok
			},
		},
		maxMessageSize: maxMessageSize,
		logger:         logger.With("component", "ws"),
	}
}

// ServeHTTP upgrades the connection and runs its read loop until the peer
// disconnects or a protocol violation closes it. Per §6, protocol errors
// (missing id, failed auth, oversized frame) are reported as WebSocket close
// codes rather than HTTP statuses, since the upgrade has already completed
// by the time these are detected.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	conn := &wsConn{conn: raw}
	raw.SetReadLimit(h.maxMessageSize)

	registered, status, reason := h.chat.OnConnected(r, conn)
	if status != 0 {
		conn.closeWith(status, reason)
		return
	}

	raw.SetPongHandler(func(string) error {
		_ = h.chat.OnMessage(registered, frame.Pong, nil)
		return nil
	})

	h.readLoop(registered, conn)
}

func (h *Handler) readLoop(registered *registry.Connection, conn *wsConn) {
	status, reason := chat.StatusNormal, "connection closed"
	defer func() {
		conn.closeWith(status, reason)
		h.chat.OnDisconnected(registered, status, reason)
	}()

	for {
		messageType, r, err := conn.conn.NextReader()
		if err != nil {
			status, reason = closeStatusFromErr(err)
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if err := h.readFrames(registered, r); err != nil {
			if err == frame.ErrTooLarge {
				status, reason = chat.StatusMessageTooBig, "message exceeds max size"
			} else if err == websocket.ErrReadLimit {
				status, reason = chat.StatusMessageTooBig, "message exceeds max size"
			} else {
				status, reason = chat.StatusInvalidPayload, "invalid payload"
			}
			return
		}
	}
}

// readFrames pulls one WS message out of r in readChunkSize pieces and
// drives it through the chat core's frame opcodes. A message that fits in
// a single chunk goes through as WholeFrame; anything longer is split into
// a genuine Begin/Continue/End sequence against the frame assembler (C4).
func (h *Handler) readFrames(registered *registry.Connection, r io.Reader) error {
	buf := make([]byte, readChunkSize)
	n, err := io.ReadFull(r, buf)
	switch err {
	case nil:
		// Buffer filled exactly; more data may follow, so this is at least
		// the first fragment of a larger message.
	case io.EOF:
		return h.chat.OnMessage(registered, frame.WholeFrame, nil)
	case io.ErrUnexpectedEOF:
		return h.chat.OnMessage(registered, frame.WholeFrame, buf[:n])
	default:
		return err
	}

	if err := h.chat.OnMessage(registered, frame.FragmentBegin, buf[:n]); err != nil {
		return err
	}

	for {
		buf = make([]byte, readChunkSize)
		n, err = io.ReadFull(r, buf)
		switch err {
		case nil:
			if err := h.chat.OnMessage(registered, frame.FragmentContinue, buf[:n]); err != nil {
				return err
			}
		case io.EOF, io.ErrUnexpectedEOF:
			return h.chat.OnMessage(registered, frame.FragmentEnd, buf[:n])
		default:
			return err
		}
	}
}

func closeStatusFromErr(err error) (uint16, string) {
	if err == websocket.ErrReadLimit {
		return chat.StatusMessageTooBig, "message exceeds max size"
	}
	if websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		return chat.StatusMessageTooBig, "message exceeds max size"
	}
	if websocket.IsCloseError(err, websocket.CloseGoingAway) {
		return chat.StatusGoingAway, "client going away"
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		return chat.StatusNormal, "client closed"
	}
	return chat.StatusNormal, "connection closed"
}

// wsConn wraps a gorilla/websocket connection with a write mutex so it
// satisfies registry.Conn safely: gorilla permits at most one concurrent
// writer, but the chat core's fan-out path and the watchdog's ping sweep
// may both write to the same connection from different goroutines.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeControlDeadline))
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) WriteControl(messageType int, data []byte, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(messageType, data, deadline)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) closeWith(status uint16, reason string) {
	msg := websocket.FormatCloseMessage(int(status), reason)
	_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeControlDeadline))
	_ = c.Close()
}
