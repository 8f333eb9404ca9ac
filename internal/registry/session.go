package registry

import (
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// Session is one open SSE connection and its routing identity. It implements
// mcp-go's server.ClientSession so server-initiated notifications reach the
// owning stream.
type Session struct {
	id            string
	created       time.Time
	notifications chan mcp.JSONRPCNotification
	initialized   atomic.Bool
}

// SessionID returns the session's routing identity.
func (s *Session) SessionID() string {
	return s.id
}

// Created returns when the session was registered.
func (s *Session) Created() time.Time {
	return s.created
}

// NotificationChannel returns the channel notifications are queued on.
func (s *Session) NotificationChannel() chan<- mcp.JSONRPCNotification {
	return s.notifications
}

// Notifications returns the receive side, consumed by the SSE writer.
func (s *Session) Notifications() <-chan mcp.JSONRPCNotification {
	return s.notifications
}

// Initialize marks the session as having completed the MCP handshake.
func (s *Session) Initialize() {
	s.initialized.Store(true)
}

// Initialized reports whether the MCP handshake completed.
func (s *Session) Initialized() bool {
	return s.initialized.Load()
}
