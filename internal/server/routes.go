package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all routes.
func (s *Server) setupRoutes() {
	r := s.router

	// MCP transport
	r.Get("/sse", s.handleSSE)
	r.Post("/message", s.handleMessage)

	// Viewer side of the surface bridge
	r.Route("/surface/{name}", func(r chi.Router) {
		r.Get("/", s.viewSurface)
		r.Get("/events", s.surfaceEvents)
		r.Post("/state", s.reportState)
	})

	// Plain uploads into the shared surface directory
	r.Post("/upload", s.handleUpload)
	r.Get("/upload/{filename}", s.handleGetUpload)

	r.Get("/health", s.handleHealth)
}
