// Package server wires HTTP handlers into a chi router for the linechat
// side-channel.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SetupRoutes returns the router for the HTTP side-channel: health check,
// Prometheus metrics, and the WebSocket endpoint.
func SetupRoutes(s *Server) http.Handler {
	h := NewHandlers(s)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/", h.Health)
	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	r.Get("/ws", h.WebSocket)
	return r
}
