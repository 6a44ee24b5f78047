package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/relaydev/chatrelay/internal/api/middleware"
)

// RouterConfig holds the dependencies required to build the REST control
// surface's router (§6). The WebSocket endpoint, when configured, is
// mounted on the same router and passes through the same middleware chain.
type RouterConfig struct {
	// AllowedOrigins for CORS. Use ["*"] during development.
	AllowedOrigins []string

	// ListStatsHandler serves GET /stats.
	ListStatsHandler http.HandlerFunc
	// StatHandler serves GET /stat?id=<u>.
	StatHandler http.HandlerFunc
	// CheckOnlineHandler serves GET /check-online?id=<u>.
	CheckOnlineHandler http.HandlerFunc
	// SendMessageHandler serves POST /send-message.
	SendMessageHandler http.HandlerFunc
	// StatusHandler serves HEAD /status.
	StatusHandler http.HandlerFunc

	// WSHandler, when set, is mounted at WSPath (default "/chat") behind the
	// same global middleware as the REST routes; the WebSocket upgrade
	// handshake additionally runs its own origin check.
	WSHandler http.Handler
	WSPath    string
}

// NewRouter builds the REST control surface's *mux.Router with the
// middleware chain applied. Per §6 this surface has no authentication of
// its own: it is a server-side control plane rather than a per-user
// endpoint, and is expected to sit behind network-level access control.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()

	// ---- Global middleware (applied to every route) -----------------------
	// Order matters: outermost runs first.
	r.Use(middleware.RecoveryMiddleware)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.BodyLimitMiddleware)

	r.Handle("/stats", handlerOrStub(cfg.ListStatsHandler)).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/stat", handlerOrStub(cfg.StatHandler)).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/check-online", handlerOrStub(cfg.CheckOnlineHandler)).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/send-message", handlerOrStub(cfg.SendMessageHandler)).Methods(http.MethodPost, http.MethodOptions)
	r.Handle("/status", handlerOrStub(cfg.StatusHandler)).Methods(http.MethodHead)

	if cfg.WSHandler != nil {
		path := cfg.WSPath
		if path == "" {
			path = "/chat"
		}
		r.Handle(path, cfg.WSHandler)
	}

	return r
}

// handlerOrStub returns the provided handler if non-nil, otherwise a stub
// that responds with 501 Not Implemented.
func handlerOrStub(h http.HandlerFunc) http.Handler {
	if h != nil {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Error(w, http.StatusNotImplemented, "not_implemented", "this endpoint is not yet implemented")
	})
}
