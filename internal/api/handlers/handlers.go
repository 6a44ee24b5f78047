// Package handlers implements the REST control surface's HTTP handlers
// (§6): statistics dumps, online checks, and server-side message
// injection. The WebSocket endpoint itself lives in internal/ws.
package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/relaydev/chatrelay/internal/api"
	"github.com/relaydev/chatrelay/internal/chat"
	"github.com/relaydev/chatrelay/internal/message"
	"github.com/relaydev/chatrelay/internal/registry"
	"github.com/relaydev/chatrelay/internal/stats"
)

// statBody is the wire shape of a single user's statistics, exposed by both
// GET /stats and GET /stat.
type statBody struct {
	UserID           uint64 `json:"userId"`
	ConnectCount     int64  `json:"connectCount"`
	DisconnectCount  int64  `json:"disconnectCount"`
	BytesTransferred int64  `json:"bytesTransferred"`
	Sent             int64  `json:"sent"`
	Received         int64  `json:"received"`
}

func toBody(s stats.Snapshot) statBody {
	return statBody{
		UserID:           s.UserID,
		ConnectCount:     s.ConnectCount,
		DisconnectCount:  s.DisconnectCount,
		BytesTransferred: s.BytesTransferred,
		Sent:             s.Sent,
		Received:         s.Received,
	}
}

// Handlers bundles the dependencies the REST surface needs: the statistics
// store (C6), the connection registry (C3) for online checks, the chat
// core (C8) for message injection, and a message id generator for
// REST-originated payloads.
type Handlers struct {
	Stats    *stats.Store
	Registry *registry.Registry
	Chat     *chat.Chat
	Gen      *message.Generator
	Logger   *slog.Logger
}

// New constructs a Handlers bundle.
func New(st *stats.Store, reg *registry.Registry, c *chat.Chat, gen *message.Generator, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{Stats: st, Registry: reg, Chat: c, Gen: gen, Logger: logger.With("component", "api")}
}

// ListStats handles GET /stats: dumps the statistics map.
func (h *Handlers) ListStats(w http.ResponseWriter, r *http.Request) {
	snaps := h.Stats.All()
	out := make([]statBody, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toBody(s))
	}
	api.JSON(w, http.StatusOK, out)
}

// Stat handles GET /stat?id=<u>: statistics for one user, zero-valued if
// unknown.
func (h *Handlers) Stat(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, err.Error())
		return
	}
	api.JSON(w, http.StatusOK, toBody(h.Stats.Get(id)))
}

// CheckOnline handles GET /check-online?id=<u>: {isOnline: bool}.
func (h *Handlers) CheckOnline(w http.ResponseWriter, r *http.Request) {
	id, err := parseUserID(r)
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, err.Error())
		return
	}
	api.JSON(w, http.StatusOK, map[string]bool{"isOnline": h.Registry.Count(id) > 0})
}

// SendMessage handles POST /send-message: body is a payload JSON envelope.
// Refuses bot-addressed payloads; on success the message is handed to the
// chat core's fan-out and the call responds 202 Accepted without waiting
// for delivery.
func (h *Handlers) SendMessage(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, "failed to read request body")
		return
	}

	payload, err := message.Parse(raw, message.ParseOptions{})
	if err != nil {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, err.Error())
		return
	}
	if payload.IsForBot() {
		api.Error(w, http.StatusBadRequest, api.ErrCodeInvalidRequest, "cannot inject a bot-addressed message")
		return
	}

	payload.AssignID(h.Gen)
	h.Chat.Send(payload)

	api.JSON(w, http.StatusAccepted, map[string]string{"id": payload.ID().String()})
}

// Status handles HEAD /status: liveness probe.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

var errInvalidID = errors.New("id query parameter must be a non-negative integer")

func parseUserID(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if raw == "" || err != nil {
		return 0, errInvalidID
	}
	return id, nil
}
