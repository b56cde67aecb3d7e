// Package server exposes HTTP handlers: the WebSocket line endpoint and the
// health check.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/linechat/internal/transport"
)

// Handlers serves the HTTP side-channel of a Server.
type Handlers struct {
	server   *Server
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates the HTTP handlers for s.
func NewHandlers(s *Server) *Handlers {
	policy := newOriginPolicy(s.cfg.AllowedOrigins, s.logger)
	return &Handlers{
		server: s,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.checkOrigin,
		},
		logger: s.logger,
	}
}

// WebSocket upgrades the request and runs the chat protocol over it, one
// line per text message. It blocks until the connection ends.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "err", err)
		return
	}

	h.server.ServeConn(transport.NewWebSocketConn(conn, r.RemoteAddr, h.server.cfg.MaxLineSize))
}

// Health reports that the server is up along with its session count.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "linechat server is running (%d sessions)", h.server.registry.Len())
}
