// Package server provides the HTTP transport for poptoggle: the SSE session
// endpoint, the routed message endpoint, viewer pages, and uploads.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/kelnishi/mcp-poptoggle/internal/config"
	"github.com/kelnishi/mcp-poptoggle/internal/event"
	"github.com/kelnishi/mcp-poptoggle/internal/registry"
	"github.com/kelnishi/mcp-poptoggle/internal/surface"
	"github.com/kelnishi/mcp-poptoggle/pkg/mcpserver/popup"
)

// Server is the HTTP server.
type Server struct {
	config  *config.Config
	router  *chi.Mux
	httpSrv *http.Server

	reg    *registry.Registry
	store  *surface.Store
	bridge *surface.ViewerBridge
	bus    *event.Bus
	mcp    *mcpserver.MCPServer
}

// New creates a new Server instance and wires the event bus to the resource
// listing and session broadcasts.
func New(cfg *config.Config, store *surface.Store, bridge *surface.ViewerBridge, bus *event.Bus, mcp *mcpserver.MCPServer) *Server {
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
		reg:    registry.New(),
		store:  store,
		bridge: bridge,
		bus:    bus,
		mcp:    mcp,
	}

	// Content persisted -> re-derive the resource listing, then tell every
	// open session to re-list. Subscribers run synchronously on PublishSync,
	// so persistence always precedes the broadcast.
	bus.Subscribe(event.SurfaceSaved, func(e event.Event) {
		popup.SyncResources(s.mcp, s.store)
		s.reg.Broadcast(listChangedNotification())
	})
	// Content removed -> drop any cached live state so a recreated surface
	// starts clean, reconcile the listing, then broadcast.
	bus.Subscribe(event.SurfaceRemoved, func(e event.Event) {
		if d, ok := e.Data.(event.SurfaceData); ok {
			s.bridge.Forget(d.Name)
		}
		popup.SyncResources(s.mcp, s.store)
		s.reg.Broadcast(listChangedNotification())
	})

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Registry returns the connection registry, exposed for tests.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Router returns the chi router, exposed for tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Session-Id", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.config.Hostname, s.config.Port),
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// No write timeout; SSE connections stay open until disconnect.
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// listChangedNotification tells hosts their resource listing is stale. It
// signals "re-list now", not "the list was already updated when you read
// this"; in practice persistence happens before it is sent.
func listChangedNotification() mcp.JSONRPCNotification {
	return mcp.JSONRPCNotification{
		JSONRPC: mcp.JSONRPC_VERSION,
		Notification: mcp.Notification{
			Method: "notifications/resources/list_changed",
		},
	}
}
